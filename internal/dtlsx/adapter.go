// Package dtlsx adapts pion/dtls, an inherently blocking library, to the
// engine's non-blocking, single-goroutine contract. Each peer gets one
// Adapter, which runs the handshake and post-handshake record-layer loop
// on a dedicated goroutine talking to one end of an in-memory net.Pipe;
// the engine drives the other end synchronously, so the blocking library
// never blocks the engine's own tick.
package dtlsx

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v3"
	"github.com/pion/dtls/v3/pkg/crypto/elliptic"
)

// ErrHandshakeNotDone is returned by WritePlaintext when called before the
// DTLS handshake has completed.
var ErrHandshakeNotDone = errors.New("dtlsx: handshake not done")

// ErrWriteQueueFull is returned by WritePlaintext when the peer's outbound
// queue hasn't drained fast enough. It should never happen in practice —
// the write loop only blocks waiting for DrainEgress, which the engine
// calls every tick — but WritePlaintext cannot itself block the engine.
var ErrWriteQueueFull = errors.New("dtlsx: outbound queue full")

// ioDeadline bounds every Feed/DrainEgress call against the pipe, so a
// stalled or exiting peer goroutine can never make the engine's tick
// block.
const ioDeadline = 2 * time.Millisecond

const maxDatagramSize = 1500
const plaintextQueueDepth = 64
const outboundQueueDepth = 64

// Context holds the process-wide DTLS identity and logging bridge shared
// by every peer's Adapter. Built once at startup.
type Context struct {
	cert          tls.Certificate
	fingerprint   string
	loggerFactory *slogLoggerFactoryHandle
}

type slogLoggerFactoryHandle struct {
	logger *slog.Logger
}

// NewContext generates a fresh self-signed certificate and wires a
// pion/logging bridge onto logger.
func NewContext(logger *slog.Logger) (*Context, error) {
	cert, fingerprint, err := generateCertificate()
	if err != nil {
		return nil, err
	}
	return &Context{
		cert:          cert,
		fingerprint:   fingerprint,
		loggerFactory: &slogLoggerFactoryHandle{logger: logger},
	}, nil
}

// Fingerprint returns the colon-hex SHA-256 fingerprint of this server's
// DTLS certificate, for embedding in answer SDP.
func (c *Context) Fingerprint() string {
	return c.fingerprint
}

// Adapter wraps one peer's DTLS server connection.
type Adapter struct {
	engineConn net.Conn // engine-facing half of the pipe
	plaintext  chan []byte
	outbound   chan []byte

	mu             sync.Mutex
	dtlsConn       *dtls.Conn
	handshakeDone  bool
	closed         bool
	outboundClosed bool

	logger *slog.Logger
}

// NewAdapter starts a DTLS server handshake for one peer. The handshake
// and subsequent record reads run on a dedicated goroutine; the returned
// Adapter's methods are all safe to call from the engine's own goroutine
// without blocking it.
func NewAdapter(ctx *Context, peerLabel string) *Adapter {
	engineEnd, dtlsEnd := net.Pipe()

	a := &Adapter{
		engineConn: engineEnd,
		plaintext:  make(chan []byte, plaintextQueueDepth),
		outbound:   make(chan []byte, outboundQueueDepth),
		logger:     ctx.loggerFactory.logger.With("peer", peerLabel),
	}

	config := &dtls.Config{
		Certificates:       []tls.Certificate{ctx.cert},
		InsecureSkipVerify: true,
		// Pin the key exchange to P-256: pion/dtls generates a fresh ECDHE
		// key pair per handshake for any curve in this list, so restricting
		// it to one curve is what makes that single-use property load-
		// bearing instead of incidental. No SessionStore is configured,
		// which keeps session-ticket resumption off — every handshake
		// negotiates fresh key material.
		EllipticCurves: []elliptic.Curve{elliptic.P256},
		LoggerFactory:  newLoggerFactory(ctx.loggerFactory.logger),
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), 30*time.Second)
		},
	}

	go a.run(dtlsEnd, config)
	return a
}

func (a *Adapter) run(conn net.Conn, config *dtls.Config) {
	dconn, err := dtls.Server(conn, config)
	if err != nil {
		a.logger.Debug("dtls handshake failed", "error", err)
		a.markClosed()
		return
	}

	a.mu.Lock()
	a.dtlsConn = dconn
	a.handshakeDone = true
	a.mu.Unlock()
	a.logger.Debug("dtls handshake complete")

	go a.writeLoop(dconn)

	buf := make([]byte, maxDatagramSize)
	for {
		n, err := dconn.Read(buf)
		if err != nil {
			a.logger.Debug("dtls read loop exiting", "error", err)
			a.markClosed()
			return
		}
		frame := append([]byte(nil), buf[:n]...)
		select {
		case a.plaintext <- frame:
		default:
			// Engine hasn't drained fast enough; drop rather than block
			// the read loop or grow without bound.
		}
	}
}

// writeLoop is the sole writer of dconn, draining Adapter.outbound. It
// runs on its own goroutine so that a blocking dconn.Write — which, on a
// net.Pipe, only returns once the engine's DrainEgress reads the
// resulting ciphertext — never stalls the goroutine accepting new
// plaintext via WritePlaintext, let alone the engine's own tick.
func (a *Adapter) writeLoop(dconn *dtls.Conn) {
	for data := range a.outbound {
		if _, err := dconn.Write(data); err != nil {
			a.logger.Debug("dtls write loop exiting", "error", err)
			return
		}
	}
}

func (a *Adapter) markClosed() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// Feed writes one inbound ciphertext datagram into the pipe for the DTLS
// goroutine to consume. If the goroutine isn't ready within ioDeadline
// (e.g. it has exited), the datagram is dropped.
func (a *Adapter) Feed(ciphertext []byte) {
	_ = a.engineConn.SetWriteDeadline(time.Now().Add(ioDeadline))
	_, _ = a.engineConn.Write(ciphertext)
}

// DrainEgress reads every ciphertext frame the DTLS goroutine has queued
// (handshake flights or encrypted application data) and invokes write
// for each, until the pipe has nothing more to offer within ioDeadline.
func (a *Adapter) DrainEgress(write func([]byte)) {
	buf := make([]byte, maxDatagramSize)
	for {
		_ = a.engineConn.SetReadDeadline(time.Now().Add(ioDeadline))
		n, err := a.engineConn.Read(buf)
		if err != nil {
			return
		}
		write(append([]byte(nil), buf[:n]...))
	}
}

// ReadPlaintext returns one decrypted SCTP packet produced by the
// handshake-complete read loop, or ok=false if none is queued.
func (a *Adapter) ReadPlaintext() ([]byte, bool) {
	select {
	case b := <-a.plaintext:
		return b, true
	default:
		return nil, false
	}
}

// WritePlaintext queues one SCTP packet for encryption and transmission.
// It returns ErrHandshakeNotDone if called before HandshakeDone, and
// never blocks: the actual encrypting write happens on the adapter's
// writer goroutine, with the resulting ciphertext picked up by the next
// DrainEgress call.
func (a *Adapter) WritePlaintext(data []byte) error {
	if !a.HandshakeDone() {
		return ErrHandshakeNotDone
	}
	a.mu.Lock()
	if a.outboundClosed {
		a.mu.Unlock()
		return ErrHandshakeNotDone
	}
	a.mu.Unlock()
	select {
	case a.outbound <- append([]byte(nil), data...):
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// HandshakeDone reports whether the DTLS handshake has completed.
func (a *Adapter) HandshakeDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handshakeDone
}

// Closed reports whether the peer-side goroutine has exited, whether
// from a handshake failure or a connection error.
func (a *Adapter) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close tears down the adapter's side of the pipe, which unblocks and
// terminates the peer goroutine's next Read or Write, and closes the
// outbound queue so writeLoop — if it was ever started — returns.
func (a *Adapter) Close() error {
	a.mu.Lock()
	conn := a.dtlsConn
	alreadyClosed := a.outboundClosed
	a.outboundClosed = true
	a.mu.Unlock()
	if !alreadyClosed {
		close(a.outbound)
	}
	if conn != nil {
		_ = conn.Close()
	}
	return a.engineConn.Close()
}
