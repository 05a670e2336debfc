// Package dcep implements the small slice of the Data Channel
// Establishment Protocol (draft-ietf-rtcweb-data-protocol) this server
// needs: recognizing an inbound OPEN message and producing the ACK that
// completes the handshake. Channel type, priority, and label negotiation
// are accepted but not acted on — every channel this server serves
// behaves the same way (unreliable, unordered).
package dcep

// Payload protocol identifiers carried in the SCTP DATA chunk's PPID
// field, as assigned for WebRTC data channels.
const (
	PPIDString = 50
	PPIDBinary = 51
	PPIDControl = 53
)

// DCEP message types (the first byte of a PPIDControl payload).
const (
	messageTypeOpen = 0x03
	messageTypeAck  = 0x02
)

// IsOpen reports whether payload is a DCEP OPEN message.
func IsOpen(payload []byte) bool {
	return len(payload) >= 1 && payload[0] == messageTypeOpen
}

// IsAck reports whether payload is a DCEP ACK message.
func IsAck(payload []byte) bool {
	return len(payload) >= 1 && payload[0] == messageTypeAck
}

// BuildAck serializes the one-byte DCEP ACK message sent in response to an
// OPEN.
func BuildAck() []byte {
	return []byte{messageTypeAck}
}

// Channel type field values from an OPEN message, preserved for callers
// that want to log them; this server does not branch on them.
const (
	ChannelReliable                = 0x00
	ChannelPartialReliableRexmit   = 0x01
	ChannelPartialReliableTimed    = 0x02
	ChannelReliableUnordered       = 0x80
	ChannelPartialReliableRexmitUnordered = 0x81
	ChannelPartialReliableTimedUnordered  = 0x82
)

const openFixedLen = 12

// OpenInfo is what this server bothers to pull out of an OPEN message:
// the channel type and label, for logging. Reliability parameters and
// priority are parsed but otherwise unused.
type OpenInfo struct {
	ChannelType uint8
	Priority    uint16
	Reliability uint32
	Label       string
}

// ParseOpen decodes a DCEP OPEN message. ok=false if payload is too short
// or not actually an OPEN message.
func ParseOpen(payload []byte) (OpenInfo, bool) {
	if !IsOpen(payload) || len(payload) < openFixedLen {
		return OpenInfo{}, false
	}
	channelType := payload[1]
	priority := be16(payload[2:4])
	reliability := be32(payload[4:8])
	labelLen := int(be16(payload[8:10]))
	protocolLen := int(be16(payload[10:12]))

	labelStart := openFixedLen
	labelEnd := labelStart + labelLen
	if labelEnd+protocolLen > len(payload) {
		return OpenInfo{}, false
	}

	return OpenInfo{
		ChannelType: channelType,
		Priority:    priority,
		Reliability: reliability,
		Label:       string(payload[labelStart:labelEnd]),
	}, true
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
