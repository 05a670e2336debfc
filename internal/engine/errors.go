package engine

import "errors"

// Sentinel errors, all errors.Is-comparable as required by the external
// interface contract. Malformed packets and datagrams from unrecognized
// peers are never surfaced as errors — they are dropped silently, per
// the "never remove a peer over a malformed datagram" rule.
var (
	// ErrInvalidSDP means ExchangeSDP's offer lacked ice-ufrag/ice-pwd.
	ErrInvalidSDP = errors.New("engine: invalid offer sdp")
	// ErrMaxPeers means the peer pool is exhausted.
	ErrMaxPeers = errors.New("engine: max peers reached")
	// ErrCryptoInit means Init failed to set up the DTLS identity or
	// cookie key. This is the one fatal error: the dispatcher cannot run.
	ErrCryptoInit = errors.New("engine: crypto initialization failed")
	// ErrQueueFull means the pending event queue dropped an event;
	// reported via the OnError callback, not returned to a caller.
	ErrQueueFull = errors.New("engine: event queue full")
	// ErrNotConnected means SendText/SendBinary was called for a peer not
	// in DataChannelOpen.
	ErrNotConnected = errors.New("engine: peer not connected")
)
