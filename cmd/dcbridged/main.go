// Command dcbridged is the reference embedder for the dispatcher: a
// single net.ListenPacket("udp4", ...) read loop feeding Dispatcher.HandleUDP,
// a ticker driving Update between reads, and periodic metrics logging. It is
// the one place in this repository allowed to use goroutines and locking
// freely — the engine itself stays single-threaded and non-blocking.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bridgefall/dcbridge/commons/logger"
	"github.com/bridgefall/dcbridge/config"
	"github.com/bridgefall/dcbridge/internal/addrutil"
	"github.com/bridgefall/dcbridge/internal/engine"
	"github.com/bridgefall/dcbridge/ratelimiter"
)

const (
	maxDatagramSize = 1500
	tickInterval    = 50 * time.Millisecond
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger.Setup(cfg.LogLevel)
	log := logger.ForComponent("dcbridged")

	conn, err := net.ListenPacket("udp4", net.JoinHostPort(cfg.Host, cfg.Port))
	if err != nil {
		log.Error("listen failed", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	d := engine.New(cfg, logger.ForComponent("engine"))
	if err := d.Init(); err != nil {
		log.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	d.SetOnError(func(description string) {
		log.Warn("engine error", "description", description)
	})
	d.SetWriteUDP(func(data []byte, peer *engine.Peer) {
		addr := addrutilToUDPAddr(peer.Address())
		if _, err := conn.WriteTo(data, addr); err != nil {
			log.Debug("write failed", "peer", addr, "err", err)
		}
	})

	var limiter ratelimiter.Ratelimiter
	limiter.Init(cfg.FloodGuardPPS*4, cfg.FloodGuardBurst*4)
	defer limiter.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("dcbridged listening", "addr", conn.LocalAddr(), "fingerprint", d.Fingerprint())

	httpServer := newSignalingServer(cfg, d, log)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("signaling server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	readLoop(ctx, conn, &limiter, d, cfg, log)
}

// newSignalingServer exposes ExchangeSDP over a single HTTP endpoint: a
// POST of the raw offer SDP to /offer returns the raw answer SDP, or a 4xx
// for a malformed offer and a 503 once the peer pool is full. This is the
// minimal transport needed to drive the engine end to end; the wire
// protocol itself is UDP, handled entirely by readLoop.
func newSignalingServer(cfg config.Config, d *engine.Dispatcher, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/offer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, err := d.ExchangeSDP(string(body))
		switch {
		case err == nil:
			w.Header().Set("Content-Type", "application/sdp")
			_, _ = w.Write([]byte(result.Answer))
		case errors.Is(err, engine.ErrInvalidSDP):
			w.WriteHeader(http.StatusBadRequest)
		case errors.Is(err, engine.ErrMaxPeers):
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			log.Warn("offer exchange failed", "err", err)
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	return &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, signalingPort(cfg)),
		Handler: mux,
	}
}

// signalingPort offsets the signaling HTTP port from the UDP data port by
// one, so a single -port flag configures both without colliding.
func signalingPort(cfg config.Config) string {
	n, err := portNumber(cfg.Port)
	if err != nil {
		return "5001"
	}
	return fmt.Sprintf("%d", n+1)
}

func portNumber(port string) (int, error) {
	var n int
	_, err := fmt.Sscanf(port, "%d", &n)
	return n, err
}

// readLoop owns the raw socket: it reads datagrams, applies the outer
// flood guard, hands surviving ones to the dispatcher, and drives Update
// on a ticker between reads so peers age and heartbeat even when idle.
func readLoop(ctx context.Context, conn net.PacketConn, limiter *ratelimiter.Ratelimiter, d *engine.Dispatcher, cfg config.Config, log *slog.Logger) {
	buf := make([]byte, maxDatagramSize)
	deadline := time.Now().Add(tickInterval)
	_ = conn.SetReadDeadline(deadline)

	metricsTicker := time.NewTicker(cfg.MetricsInterval.Duration)
	defer metricsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return
		case <-metricsTicker.C:
			logMetrics(d, log)
		default:
		}

		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				drainEvents(d, log)
				deadline = time.Now().Add(tickInterval)
				_ = conn.SetReadDeadline(deadline)
				continue
			}
			log.Warn("read failed", "err", err)
			continue
		}

		udpAddr, ok := from.(*net.UDPAddr)
		if !ok {
			continue
		}
		if ap, ok := netip.AddrFromSlice(udpAddr.IP.To4()); ok && !limiter.Allow(ap) {
			continue
		}

		d.HandleUDP(udpAddrToAddrutil(udpAddr), buf[:n])
	}
}

// drainEvents pumps Dispatcher.Update until it reports no pending event,
// logging each one; this is also what runs the periodic tick (heartbeats,
// TTL aging, flood-guard refill) once the event queue is empty.
func drainEvents(d *engine.Dispatcher, log *slog.Logger) {
	var ev engine.Event
	for d.Update(&ev) {
		switch ev.Kind {
		case engine.EventClientJoin:
			log.Info("data channel open", "peer", ev.Peer.Address())
		case engine.EventClientLeave:
			log.Info("peer left", "peer", ev.Peer.Address())
		case engine.EventTextData, engine.EventBinaryData:
			log.Debug("data channel message", "peer", ev.Peer.Address(), "bytes", len(ev.Data))
		}
	}
}

func logMetrics(d *engine.Dispatcher, log *slog.Logger) {
	m := d.Metrics()
	log.Info("metrics",
		"peers_active", m.PeersActive.Load(),
		"peers_accepted", m.PeersAccepted.Load(),
		"peers_rejected", m.PeersRejected.Load(),
		"stun_requests", m.STUNRequestsSeen.Load(),
		"stun_auth_failures", m.STUNAuthFailures.Load(),
		"stun_flood_dropped", m.STUNFloodDropped.Load(),
		"sctp_chunks_in", m.SCTPChunksIn.Load(),
		"sctp_chunks_out", m.SCTPChunksOut.Load(),
		"text_messages_in", m.TextMessagesIn.Load(),
		"binary_messages_in", m.BinaryMessagesIn.Load(),
		"events_dropped", m.EventsDropped.Load(),
	)
}

func udpAddrToAddrutil(addr *net.UDPAddr) addrutil.Addr {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return addrutil.Addr{}
	}
	return addrutil.Addr{
		Host: binary.BigEndian.Uint32(ip4),
		Port: uint16(addr.Port),
	}
}

func addrutilToUDPAddr(a addrutil.Addr) *net.UDPAddr {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, a.Host)
	return &net.UDPAddr{IP: ip, Port: int(a.Port)}
}
