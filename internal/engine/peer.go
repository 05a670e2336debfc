package engine

import (
	"github.com/bridgefall/dcbridge/internal/addrutil"
	"github.com/bridgefall/dcbridge/internal/dtlsx"
)

// State is a peer's position in its lifecycle. States only move forward
// except for the transitions to WaitingRemoval and Dead, per the data
// model's monotonicity invariant.
type State int

const (
	StateDead State = iota
	StateDTLSHandshake
	StateSCTPEstablished
	StateDataChannelOpen
	StateWaitingRemoval
)

func (s State) String() string {
	switch s {
	case StateDead:
		return "dead"
	case StateDTLSHandshake:
		return "dtls_handshake"
	case StateSCTPEstablished:
		return "sctp_established"
	case StateDataChannelOpen:
		return "data_channel_open"
	case StateWaitingRemoval:
		return "waiting_removal"
	default:
		return "unknown"
	}
}

const (
	ttlReset       = 8.0
	heartbeatReset = 4.0
)

// credKey indexes peers by the (server ufrag, remote ufrag) pair a STUN
// binding-request's USERNAME attribute carries.
type credKey struct {
	serverUfrag string
	remoteUfrag string
}

// Peer represents one prospective or established data-channel
// association. It is a plain value type living in the dispatcher's fixed
// pool; callers only ever see it through a *Peer handle that stays valid
// for the peer's lifetime in its slot.
type Peer struct {
	slot int32

	address addrutil.Addr

	serverUfrag    string
	serverPassword string
	remoteUfrag    string
	remotePassword string

	state State
	dtls  *dtlsx.Adapter

	localSCTPPort   uint16
	remoteSCTPPort  uint16
	verificationTag uint32
	remoteTSN       uint32
	localTSN        uint32

	ttlSeconds           float64
	nextHeartbeatSeconds float64

	joinedAt         float64
	handshakeSampled bool

	// UserData is an opaque caller-owned value the embedder may attach to
	// a peer at ExchangeSDP time and read back off any event's Peer.
	UserData interface{}
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() State { return p.state }

// Address returns the peer's bound UDP address. It is the zero Addr
// until a matching STUN binding-request has arrived.
func (p *Peer) Address() addrutil.Addr { return p.address }

// ServerUfrag returns this server's locally generated ICE username
// fragment for this peer.
func (p *Peer) ServerUfrag() string { return p.serverUfrag }
