// Package engine implements the peer state machine and UDP dispatcher:
// the single-threaded core that turns raw datagrams into STUN bindings,
// DTLS sessions, SCTP associations, and data-channel events. See the
// package-level docs on Dispatcher for the entry points an embedder
// drives.
package engine

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bridgefall/dcbridge/commons/metrics"
	"github.com/bridgefall/dcbridge/config"
	"github.com/bridgefall/dcbridge/internal/addrutil"
	"github.com/bridgefall/dcbridge/internal/arena"
	"github.com/bridgefall/dcbridge/internal/dcep"
	"github.com/bridgefall/dcbridge/internal/dtlsx"
	"github.com/bridgefall/dcbridge/internal/floodguard"
	"github.com/bridgefall/dcbridge/internal/pool"
	"github.com/bridgefall/dcbridge/internal/queue"
	"github.com/bridgefall/dcbridge/internal/sctp"
	"github.com/bridgefall/dcbridge/internal/sdp"
	"github.com/bridgefall/dcbridge/internal/stun"
)

// maxDrainPerDatagram bounds how many decrypted SCTP packets a single
// inbound datagram's processing will pull off the DTLS adapter, so one
// burst can never stall forward progress on every other peer.
const maxDrainPerDatagram = 8

// floodGuardIdleTTL is how long an untouched flood-guard bucket survives
// before Update's tick branch evicts it.
const floodGuardIdleTTL = 60.0

// Dispatcher owns the fixed peer pool, its address and credential
// indices, the pending event queue, the DTLS identity shared by every
// peer, and the pre-authentication flood guard. It is driven entirely by
// one logical caller goroutine; see the concurrency notes in the package
// this type's methods are documented against.
type Dispatcher struct {
	cfg config.Config

	pool      *pool.Pool[Peer]
	addrIndex map[addrutil.Addr]int32
	credIndex map[credKey]int32

	events *queue.Ring[Event]
	arena  *arena.Arena

	dtlsCtx   *dtlsx.Context
	cookieKey []byte
	guard     *floodguard.Guard

	writeUDP func(data []byte, peer *Peer)
	onError  func(description string)

	lastNow float64
	nowFunc func() float64

	// onChunksSent observes every chunk set handed to sendChunks before it
	// attempts the (possibly still-handshaking) DTLS write. Tests override
	// it to assert on outbound SCTP traffic without driving a real
	// handshake; production leaves it a no-op.
	onChunksSent func(peer *Peer, chunks []sctp.Chunk)

	logger  *slog.Logger
	metrics *metrics.DCBridgeMetrics
}

// New constructs a Dispatcher from cfg. It never fails on its own; any
// crypto setup failure is reported through Init.
func New(cfg config.Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:          cfg,
		logger:       logger,
		metrics:      metrics.NewDCBridgeMetrics(),
		writeUDP:     func([]byte, *Peer) {},
		onError:      func(string) {},
		nowFunc:      addrutil.NowSeconds,
		onChunksSent: func(*Peer, []sctp.Chunk) {},
	}
}

// SetWriteUDP installs the callback invoked synchronously for every
// outbound datagram.
func (d *Dispatcher) SetWriteUDP(f func(data []byte, peer *Peer)) {
	if f == nil {
		f = func([]byte, *Peer) {}
	}
	d.writeUDP = f
}

// SetOnError installs the callback invoked for recoverable faults.
func (d *Dispatcher) SetOnError(f func(description string)) {
	if f == nil {
		f = func(string) {}
	}
	d.onError = f
}

// Metrics returns the dispatcher's metrics set, for an embedder's
// periodic logging loop.
func (d *Dispatcher) Metrics() *metrics.DCBridgeMetrics {
	return d.metrics
}

// Init allocates the peer pool, generates the process-wide DTLS identity
// and cookie key, and prepares the flood guard. It must be called before
// any other method. Returns ErrCryptoInit if certificate or key
// generation fails.
func (d *Dispatcher) Init() error {
	d.pool = pool.New[Peer](d.cfg.MaxPeers)
	d.addrIndex = make(map[addrutil.Addr]int32, d.cfg.MaxPeers)
	d.credIndex = make(map[credKey]int32, d.cfg.MaxPeers)
	d.events = queue.New[Event](256)
	d.arena = arena.New(arena.DefaultSize)
	d.guard = floodguard.New(d.cfg.FloodGuardPPS, d.cfg.FloodGuardBurst, d.cfg.MaxPeers*4)

	dtlsCtx, err := dtlsx.NewContext(d.logger.With("component", "dtls"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoInit, err)
	}
	d.dtlsCtx = dtlsCtx

	cookieKey, err := sctp.NewCookieKey()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCryptoInit, err)
	}
	d.cookieKey = cookieKey

	d.lastNow = d.nowFunc()
	return nil
}

// Fingerprint returns this server's DTLS certificate fingerprint, as
// embedded in every answer SDP.
func (d *Dispatcher) Fingerprint() string {
	return d.dtlsCtx.Fingerprint()
}

// ExchangeSDP parses offer, allocates a peer slot, starts its DTLS
// handshake, and synthesizes an answer. The answer string is a view into
// the per-tick arena and must be copied before the next Update call that
// finds the event queue empty.
func (d *Dispatcher) ExchangeSDP(offer string) (Result, error) {
	fields, err := sdp.ParseOffer(offer)
	if err != nil {
		return Result{Status: StatusInvalidSDP}, ErrInvalidSDP
	}

	idx, peer, ok := d.pool.Acquire()
	if !ok {
		d.metrics.PeersRejected.Add(1)
		return Result{Status: StatusMaxPeers}, ErrMaxPeers
	}

	serverUfrag, err := addrutil.RandomASCII(4)
	if err != nil {
		d.pool.Release(idx)
		return Result{}, fmt.Errorf("engine: generate ufrag: %w", err)
	}
	serverPassword, err := addrutil.RandomASCII(24)
	if err != nil {
		d.pool.Release(idx)
		return Result{}, fmt.Errorf("engine: generate password: %w", err)
	}

	peer.slot = idx
	peer.serverUfrag = serverUfrag
	peer.serverPassword = serverPassword
	peer.remoteUfrag = fields.Ufrag
	peer.remotePassword = fields.Password
	peer.state = StateDTLSHandshake
	peer.dtls = dtlsx.NewAdapter(d.dtlsCtx, fmt.Sprintf("slot-%d", idx))
	peer.localTSN = 1
	peer.ttlSeconds = ttlReset
	peer.nextHeartbeatSeconds = heartbeatReset
	peer.joinedAt = d.nowFunc()

	d.credIndex[credKey{serverUfrag, fields.Ufrag}] = idx

	answer, err := sdp.GenerateAnswer(sdp.AnswerParams{
		Fingerprint:    d.dtlsCtx.Fingerprint(),
		Host:           d.cfg.Host,
		Port:           portOrZero(d.cfg.Port),
		ServerUfrag:    serverUfrag,
		ServerPassword: serverPassword,
	})
	if err != nil {
		return Result{}, fmt.Errorf("engine: generate answer: %w", err)
	}

	arenaAnswer, ok := d.arena.Copy([]byte(answer))
	if !ok {
		d.onError(ErrQueueFull.Error())
		return Result{Status: StatusSuccess, Peer: peer, Answer: answer}, nil
	}

	d.metrics.PeersAccepted.Add(1)
	d.metrics.PeersActive.Set(int64(d.pool.Len()))
	return Result{Status: StatusSuccess, Peer: peer, Answer: string(arenaAnswer)}, nil
}

func portOrZero(port string) int {
	n, err := sdp.ParsePort(port)
	if err != nil {
		return 0
	}
	return n
}

// HandleUDP routes one inbound datagram from addr. It never blocks and
// never returns an error: malformed or unroutable datagrams are dropped
// silently, per the error handling design.
func (d *Dispatcher) HandleUDP(addr addrutil.Addr, data []byte) {
	if req, err := stun.ParseBindingRequest(data); err == nil {
		d.handleSTUN(addr, req)
		return
	}

	idx, ok := d.addrIndex[addr]
	if !ok {
		return
	}
	peer := d.pool.Get(idx)
	if !d.pool.InUse(idx) || peer.state == StateWaitingRemoval {
		return
	}

	peer.dtls.Feed(data)
	peer.dtls.DrainEgress(func(b []byte) { d.writeUDP(b, peer) })

	if !peer.dtls.HandshakeDone() {
		return
	}

	for i := 0; i < maxDrainPerDatagram; i++ {
		plaintext, ok := peer.dtls.ReadPlaintext()
		if !ok {
			break
		}
		d.handleSCTPPacket(peer, plaintext)
	}
}

func (d *Dispatcher) handleSTUN(addr addrutil.Addr, req *stun.Request) {
	if _, bound := d.addrIndex[addr]; !bound {
		if !d.guard.Allow(addr) {
			d.metrics.STUNFloodDropped.Add(1)
			return
		}
	}
	d.metrics.STUNRequestsSeen.Add(1)

	idx, ok := d.credIndex[credKey{req.ServerUfrag, req.RemoteUfrag}]
	if !ok {
		return
	}
	peer := d.pool.Get(idx)
	if !d.pool.InUse(idx) || peer.state == StateWaitingRemoval {
		return
	}

	if req.HasMessageIntegrity() && !req.VerifyMessageIntegrity([]byte(peer.serverPassword)) {
		d.metrics.STUNAuthFailures.Add(1)
		return
	}

	if peer.address != addr {
		delete(d.addrIndex, peer.address)
		peer.address = addr
		peer.localSCTPPort = addr.Port
		d.addrIndex[addr] = idx
	}
	peer.ttlSeconds = ttlReset

	resp := stun.BuildBindingSuccess(req.TransactionID, addr.Host, addr.Port, []byte(peer.serverPassword))
	d.writeUDP(resp, peer)
}

func (d *Dispatcher) handleSCTPPacket(peer *Peer, plaintext []byte) {
	pkt, ok := sctp.Parse(plaintext)
	if !ok {
		return
	}
	if peer.remoteSCTPPort == 0 {
		peer.remoteSCTPPort = pkt.SourcePort
	}

	for _, chunk := range pkt.Chunks {
		switch chunk.Type {
		case sctp.ChunkInit:
			d.handleInit(peer, chunk)
			return // stop processing further chunks in this packet

		case sctp.ChunkCookieEcho:
			sctp.VerifyCookie(d.cookieKey, chunk.Value) // best-effort; see package docs
			if peer.state < StateSCTPEstablished {
				peer.state = StateSCTPEstablished
			}
			d.sendChunks(peer, sctp.BuildCookieAck())

		case sctp.ChunkData:
			data, ok := sctp.ParseData(chunk.Value)
			if !ok {
				continue
			}
			if data.TSN > peer.remoteTSN {
				peer.remoteTSN = data.TSN
			}
			peer.ttlSeconds = ttlReset
			d.metrics.SCTPChunksIn.Add(1)
			d.routeData(peer, data)
			d.sendChunks(peer, sctp.BuildSack(peer.remoteTSN))

		case sctp.ChunkHeartbeat:
			peer.ttlSeconds = ttlReset
			d.sendChunks(peer, sctp.BuildHeartbeatAck(chunk.Value))

		case sctp.ChunkHeartbeatAck:
			peer.ttlSeconds = ttlReset

		case sctp.ChunkSack:
			info, ok := sctp.ParseSack(chunk.Value)
			if ok && info.GapAckBlocks > 0 {
				d.sendChunks(peer, sctp.BuildForwardTSN(peer.localTSN))
			}

		case sctp.ChunkAbort:
			peer.state = StateWaitingRemoval

		case sctp.ChunkShutdown:
			d.sendChunks(peer, sctp.BuildShutdownAck())
			peer.state = StateWaitingRemoval
		}
	}
}

func (d *Dispatcher) handleInit(peer *Peer, chunk sctp.Chunk) {
	params, ok := sctp.ParseInit(chunk.Value)
	if !ok {
		return
	}

	tag, err := addrutil.RandomUint32()
	if err != nil {
		d.onError(fmt.Sprintf("engine: generate initiate tag: %v", err))
		return
	}
	peer.verificationTag = tag
	peer.remoteTSN = params.InitialTSN - 1

	cookie, err := sctp.MakeCookie(d.cookieKey, tag, params.InitialTSN, d.nowFunc())
	if err != nil {
		d.onError(fmt.Sprintf("engine: make state cookie: %v", err))
		return
	}

	ackParams := sctp.InitParams{
		InitiateTag:      tag,
		AdvertisedWindow: 1024 * 1024,
		OutboundStreams:  params.InboundStreams,
		InboundStreams:   params.OutboundStreams,
		InitialTSN:       peer.localTSN,
	}
	d.sendChunks(peer, sctp.BuildInitAck(ackParams, cookie))
}

func (d *Dispatcher) routeData(peer *Peer, data sctp.DataChunk) {
	switch data.PPID {
	case dcep.PPIDControl:
		if dcep.IsOpen(data.Payload) {
			d.sendChunks(peer, sctp.BuildData(peer.nextTSN(), 0, 0, dcep.PPIDControl, dcep.BuildAck()))
			if peer.state != StateDataChannelOpen {
				peer.state = StateDataChannelOpen
				if !peer.handshakeSampled {
					peer.handshakeSampled = true
					elapsed := d.nowFunc() - peer.joinedAt
					d.metrics.ObserveHandshake(secondsToDuration(elapsed))
				}
				d.enqueue(Event{Kind: EventClientJoin, Peer: peer})
			}
		}

	case dcep.PPIDString:
		d.metrics.TextMessagesIn.Add(1)
		if buf, ok := d.arena.Copy(data.Payload); ok {
			d.enqueue(Event{Kind: EventTextData, Peer: peer, Data: buf})
		} else {
			d.onError(ErrQueueFull.Error())
		}

	case dcep.PPIDBinary:
		d.metrics.BinaryMessagesIn.Add(1)
		if buf, ok := d.arena.Copy(data.Payload); ok {
			d.enqueue(Event{Kind: EventBinaryData, Peer: peer, Data: buf})
		} else {
			d.onError(ErrQueueFull.Error())
		}
	}
}

func (p *Peer) nextTSN() uint32 {
	tsn := p.localTSN
	p.localTSN++
	return tsn
}

func (d *Dispatcher) sendChunks(peer *Peer, chunks ...sctp.Chunk) {
	d.metrics.SCTPChunksOut.Add(int64(len(chunks)))
	d.onChunksSent(peer, chunks)
	wire := sctp.Serialize(peer.localSCTPPort, peer.remoteSCTPPort, peer.verificationTag, chunks)
	if err := peer.dtls.WritePlaintext(wire); err != nil {
		return
	}
	peer.dtls.DrainEgress(func(b []byte) { d.writeUDP(b, peer) })
}

func (d *Dispatcher) enqueue(ev Event) {
	if !d.events.Push(ev) {
		d.metrics.EventsDropped.Add(1)
		d.onError(ErrQueueFull.Error())
	}
}

// SendText sends data as a DOMString (PPID 50) data channel message.
func (d *Dispatcher) SendText(peer *Peer, data []byte) error {
	return d.send(peer, dcep.PPIDString, data)
}

// SendBinary sends data as a binary (PPID 51) data channel message.
func (d *Dispatcher) SendBinary(peer *Peer, data []byte) error {
	return d.send(peer, dcep.PPIDBinary, data)
}

func (d *Dispatcher) send(peer *Peer, ppid uint32, data []byte) error {
	if peer.state != StateDataChannelOpen {
		return ErrNotConnected
	}
	d.sendChunks(peer, sctp.BuildData(peer.nextTSN(), 0, 0, ppid, data))
	return nil
}

// RemovePeer tears down peer immediately: best-effort SHUTDOWN, DTLS
// teardown, and return of the slot to the pool. It always emits exactly
// one ClientLeave event first.
func (d *Dispatcher) RemovePeer(peer *Peer) {
	if peer == nil || !d.pool.InUse(peer.slot) {
		return
	}
	d.enqueue(Event{Kind: EventClientLeave, Peer: peer})
	d.teardown(peer)
}

func (d *Dispatcher) teardown(peer *Peer) {
	if peer.state != StateDead {
		d.sendChunks(peer, sctp.BuildShutdown(peer.remoteTSN))
	}
	if peer.dtls != nil {
		_ = peer.dtls.Close()
	}
	delete(d.credIndex, credKey{peer.serverUfrag, peer.remoteUfrag})
	if !peer.address.IsZero() {
		delete(d.addrIndex, peer.address)
	}
	peer.state = StateDead
	d.pool.Release(peer.slot)
	d.metrics.PeersActive.Set(int64(d.pool.Len()))
}

// Update drains one pending event into ev and returns true, or — when the
// queue is empty — performs one tick (heartbeats, TTL aging, flood-guard
// refill/eviction, arena reset) and returns false. The embedder pattern is
// `for dispatcher.Update(&e) { handle(e) }` once per poll iteration.
func (d *Dispatcher) Update(ev *Event) bool {
	if next, ok := d.events.Pop(); ok {
		*ev = next
		return true
	}
	d.tick()
	return false
}

func (d *Dispatcher) tick() {
	now := d.nowFunc()
	dt := now - d.lastNow
	d.lastNow = now

	d.guard.Tick(dt, floodGuardIdleTTL)

	var toRemove []*Peer
	d.pool.Each(func(idx int32, peer *Peer) {
		if peer.state == StateWaitingRemoval {
			toRemove = append(toRemove, peer)
			return
		}

		peer.ttlSeconds -= dt
		peer.nextHeartbeatSeconds -= dt
		if peer.nextHeartbeatSeconds <= 0 {
			d.sendChunks(peer, sctp.BuildHeartbeat(heartbeatInfo(now)))
			peer.nextHeartbeatSeconds = heartbeatReset
		} else {
			peer.dtls.DrainEgress(func(b []byte) { d.writeUDP(b, peer) })
		}

		if peer.ttlSeconds <= 0 {
			toRemove = append(toRemove, peer)
		}
	})

	for _, peer := range toRemove {
		d.RemovePeer(peer)
	}

	d.arena.Reset()
}

func heartbeatInfo(now float64) []byte {
	bits := math.Float64bits(now)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds * float64(time.Second))
}
