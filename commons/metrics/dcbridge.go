package metrics

import "time"

// DCBridgeMetrics collects the counters the dispatcher and peer engine
// update on the hot path. A nil *DCBridgeMetrics is valid to call methods
// on via the helper functions below, so callers never need a nil check.
type DCBridgeMetrics struct {
	PeersActive       Gauge
	PeersAccepted     Counter
	PeersRejected     Counter // MaxPeers exhaustion
	InvalidOffers     Counter
	EventsDropped     Counter
	STUNRequestsSeen  Counter
	STUNAuthFailures  Counter
	STUNFloodDropped  Counter
	DTLSHandshakes    Counter
	DTLSHandshakeOK   Counter
	SCTPChunksIn      Counter
	SCTPChunksOut     Counter
	SCTPPacketsBadCRC Counter
	DataChannelsOpen  Counter
	TextMessagesIn    Counter
	BinaryMessagesIn  Counter
	HandshakeLatency  *LatencySampler
}

// NewDCBridgeMetrics allocates a ready-to-use metrics set.
func NewDCBridgeMetrics() *DCBridgeMetrics {
	return &DCBridgeMetrics{
		HandshakeLatency: NewLatencySampler(256),
	}
}

// ObserveHandshake records the time from offer/answer exchange to the
// data channel reaching the open state.
func (m *DCBridgeMetrics) ObserveHandshake(d time.Duration) {
	if m == nil {
		return
	}
	m.HandshakeLatency.Add(d)
}
