// Package sctp implements just enough of RFC 4960 to run a single
// unreliable-unordered association per peer: the common packet header,
// INIT/INIT-ACK/COOKIE-ECHO/COOKIE-ACK handshake chunks, DATA/SACK,
// HEARTBEAT/HEARTBEAT-ACK, SHUTDOWN/ABORT, and FORWARD-TSN. Streams,
// retransmission, congestion control, and ordered delivery are out of
// scope — every data channel this server serves is unreliable-unordered.
package sctp

import (
	"hash/crc32"
)

// kDefaultBufferSpace is the advertised receiver window this server puts
// in every INIT-ACK and SACK. Named to match the constant it mirrors in
// the browser-side SCTP stacks this server talks to.
const kDefaultBufferSpace = 1024 * 1024

// Chunk types this codec understands. Anything else is parsed generically
// (type/flags/value preserved) but never specially interpreted.
const (
	ChunkData        = 0
	ChunkInit        = 1
	ChunkInitAck     = 2
	ChunkSack        = 3
	ChunkHeartbeat   = 4
	ChunkHeartbeatAck = 5
	ChunkAbort       = 6
	ChunkShutdown    = 7
	ChunkShutdownAck = 8
	ChunkCookieEcho  = 10
	ChunkCookieAck   = 11
	ChunkForwardTSN  = 192
)

// DATA chunk flags: the server always marks every fragment as a complete,
// unordered message, since no data channel here ever fragments or orders.
const (
	FlagUnordered = 0x04
	FlagBegin     = 0x02
	FlagEnd       = 0x01

	completeUnreliableFlags = FlagUnordered | FlagBegin | FlagEnd
)

const commonHeaderLen = 12

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// Packet is a parsed SCTP packet: the common header fields plus its chunks
// in wire order.
type Packet struct {
	SourcePort      uint16
	DestinationPort uint16
	VerificationTag uint32
	Chunks          []Chunk
}

// Chunk is a generically parsed chunk: its type, flags, and raw value
// (the bytes after the 4-byte chunk header, excluding padding).
type Chunk struct {
	Type  uint8
	Flags uint8
	Value []byte
}

// maxChunksPerPacket bounds how many chunks Parse will walk per datagram,
// so a malformed or adversarial packet cannot force unbounded work.
const maxChunksPerPacket = 8

// Parse validates the CRC32c checksum and total length of data and splits
// it into a Packet. It returns ok=false (with a nil packet) on any
// malformed input: short header, length mismatch, bad checksum, or a
// chunk whose declared length runs past the packet.
func Parse(data []byte) (pkt *Packet, ok bool) {
	if len(data) < commonHeaderLen {
		return nil, false
	}

	checksum := le32(data[8:12])
	shadow := make([]byte, len(data))
	copy(shadow, data)
	shadow[8], shadow[9], shadow[10], shadow[11] = 0, 0, 0, 0
	if crc32.Checksum(shadow, castagnoliTable) != checksum {
		return nil, false
	}

	p := &Packet{
		SourcePort:      be16(data[0:2]),
		DestinationPort: be16(data[2:4]),
		VerificationTag: be32(data[4:8]),
	}

	off := commonHeaderLen
	for off+4 <= len(data) && len(p.Chunks) < maxChunksPerPacket {
		ctype := data[off]
		cflags := data[off+1]
		clen := int(be16(data[off+2 : off+4]))
		if clen < 4 || off+clen > len(data) {
			return nil, false
		}
		value := append([]byte(nil), data[off+4:off+clen]...)
		p.Chunks = append(p.Chunks, Chunk{Type: ctype, Flags: cflags, Value: value})
		off += (clen + 3) &^ 3
	}
	if off != len(data) {
		return nil, false
	}

	return p, true
}

// Serialize encodes a packet header and chunks, computing and embedding
// the CRC32c checksum over the result with the checksum field zeroed.
func Serialize(srcPort, dstPort uint16, verificationTag uint32, chunks []Chunk) []byte {
	size := commonHeaderLen
	for _, c := range chunks {
		size += (4 + len(c.Value) + 3) &^ 3
	}

	buf := make([]byte, commonHeaderLen, size)
	putBE16(buf[0:2], srcPort)
	putBE16(buf[2:4], dstPort)
	putBE32(buf[4:8], verificationTag)
	// buf[8:12] (checksum) left zero for now.

	for _, c := range chunks {
		chdr := [4]byte{c.Type, c.Flags, 0, 0}
		putBE16(chdr[2:4], uint16(4+len(c.Value)))
		buf = append(buf, chdr[:]...)
		buf = append(buf, c.Value...)
		padLen := (4 - len(c.Value)%4) % 4
		for i := 0; i < padLen; i++ {
			buf = append(buf, 0)
		}
	}

	sum := crc32.Checksum(buf, castagnoliTable)
	le32put(buf[8:12], sum)
	return buf
}

// InitParams is the parameter set this server reads from an INIT chunk and
// writes into an INIT-ACK.
type InitParams struct {
	InitiateTag       uint32
	AdvertisedWindow  uint32
	OutboundStreams   uint16
	InboundStreams    uint16
	InitialTSN        uint32
}

const initFixedLen = 16 // tag(4) + a_rwnd(4) + outbound(2) + inbound(2) + initial tsn(4)

// ParseInit decodes the fixed fields of an INIT or INIT-ACK chunk value.
// Variable-length parameters (if any) are ignored; this server never
// negotiates extensions.
func ParseInit(value []byte) (InitParams, bool) {
	if len(value) < initFixedLen {
		return InitParams{}, false
	}
	return InitParams{
		InitiateTag:      be32(value[0:4]),
		AdvertisedWindow: be32(value[4:8]),
		OutboundStreams:  be16(value[8:10]),
		InboundStreams:   be16(value[10:12]),
		InitialTSN:       be32(value[12:16]),
	}, true
}

// BuildInit serializes an INIT chunk (used if this server ever needed to
// initiate; kept symmetric with BuildInitAck for testability).
func BuildInit(p InitParams) Chunk {
	return Chunk{Type: ChunkInit, Value: serializeInitFixed(p)}
}

// BuildInitAck serializes an INIT-ACK chunk value followed by a single
// opaque state-cookie parameter (type 0x0007) carrying cookie.
func BuildInitAck(p InitParams, cookie []byte) Chunk {
	value := serializeInitFixed(p)
	cookieParam := make([]byte, 4+len(cookie))
	putBE16(cookieParam[0:2], 0x0007)
	putBE16(cookieParam[2:4], uint16(4+len(cookie)))
	copy(cookieParam[4:], cookie)
	padLen := (4 - len(cookieParam)%4) % 4
	value = append(value, cookieParam...)
	for i := 0; i < padLen; i++ {
		value = append(value, 0)
	}
	return Chunk{Type: ChunkInitAck, Value: value}
}

func serializeInitFixed(p InitParams) []byte {
	value := make([]byte, initFixedLen)
	putBE32(value[0:4], p.InitiateTag)
	putBE32(value[4:8], p.AdvertisedWindow)
	putBE16(value[8:10], p.OutboundStreams)
	putBE16(value[10:12], p.InboundStreams)
	putBE32(value[12:16], p.InitialTSN)
	return value
}

// StateCookie extracts the opaque state-cookie parameter from an INIT-ACK
// chunk value, if present.
func StateCookie(initAckValue []byte) ([]byte, bool) {
	if len(initAckValue) < initFixedLen {
		return nil, false
	}
	off := initFixedLen
	for off+4 <= len(initAckValue) {
		ptype := be16(initAckValue[off : off+2])
		plen := int(be16(initAckValue[off+2 : off+4]))
		if plen < 4 || off+plen > len(initAckValue) {
			return nil, false
		}
		if ptype == 0x0007 {
			return initAckValue[off+4 : off+plen], true
		}
		off += (plen + 3) &^ 3
	}
	return nil, false
}

// DataChunk is a parsed DATA chunk's fixed fields plus payload.
type DataChunk struct {
	TSN             uint32
	StreamID        uint16
	StreamSeq       uint16
	PPID            uint32
	Payload         []byte
}

const dataFixedLen = 12

// ParseData decodes a DATA chunk value.
func ParseData(value []byte) (DataChunk, bool) {
	if len(value) < dataFixedLen {
		return DataChunk{}, false
	}
	return DataChunk{
		TSN:       be32(value[0:4]),
		StreamID:  be16(value[4:6]),
		StreamSeq: be16(value[6:8]),
		PPID:      be32(value[8:12]),
		Payload:   append([]byte(nil), value[dataFixedLen:]...),
	}, true
}

// BuildData serializes a DATA chunk carrying payload with the
// complete-unreliable flag set (BEGIN|END|UNORDERED).
func BuildData(tsn uint32, streamID, streamSeq uint16, ppid uint32, payload []byte) Chunk {
	value := make([]byte, dataFixedLen+len(payload))
	putBE32(value[0:4], tsn)
	putBE16(value[4:6], streamID)
	putBE16(value[6:8], streamSeq)
	putBE32(value[8:12], ppid)
	copy(value[dataFixedLen:], payload)
	return Chunk{Type: ChunkData, Flags: completeUnreliableFlags, Value: value}
}

// BuildSack serializes a SACK chunk acking cumulativeTSN with a fixed
// advertised window, no gap-ack blocks, and no duplicate TSNs.
func BuildSack(cumulativeTSN uint32) Chunk {
	value := make([]byte, 12)
	putBE32(value[0:4], cumulativeTSN)
	putBE32(value[4:8], kDefaultBufferSpace)
	// gap-ack-block count (2 bytes) and duplicate-TSN count (2 bytes) both
	// zero, already the zero value.
	return Chunk{Type: ChunkSack, Value: value}
}

// SackInfo is a parsed SACK's fixed fields. GapAckBlocks is read only to
// decide whether the peer is asking for retransmission; this server never
// retransmits (the channel is unreliable), so it responds to any nonzero
// count with a FORWARD-TSN instead of resending data.
type SackInfo struct {
	CumulativeTSN    uint32
	AdvertisedWindow uint32
	GapAckBlocks     uint16
	DuplicateTSNs    uint16
}

// ParseSack decodes a SACK chunk's fixed fields.
func ParseSack(value []byte) (SackInfo, bool) {
	if len(value) < 12 {
		return SackInfo{}, false
	}
	return SackInfo{
		CumulativeTSN:    be32(value[0:4]),
		AdvertisedWindow: be32(value[4:8]),
		GapAckBlocks:     be16(value[8:10]),
		DuplicateTSNs:    be16(value[10:12]),
	}, true
}

// BuildHeartbeat wraps an opaque heartbeat-info blob in a HEARTBEAT chunk.
func BuildHeartbeat(info []byte) Chunk {
	param := make([]byte, 4+len(info))
	putBE16(param[0:2], 0x0001)
	putBE16(param[2:4], uint16(4+len(info)))
	copy(param[4:], info)
	return Chunk{Type: ChunkHeartbeat, Value: param}
}

// BuildHeartbeatAck echoes the heartbeat-info parameter verbatim, as
// required by RFC 4960 §8.3.
func BuildHeartbeatAck(heartbeatValue []byte) Chunk {
	return Chunk{Type: ChunkHeartbeatAck, Value: append([]byte(nil), heartbeatValue...)}
}

// BuildShutdown serializes a SHUTDOWN chunk acking cumulativeTSN.
func BuildShutdown(cumulativeTSN uint32) Chunk {
	value := make([]byte, 4)
	putBE32(value, cumulativeTSN)
	return Chunk{Type: ChunkShutdown, Value: value}
}

// BuildShutdownAck serializes an empty SHUTDOWN-ACK chunk, sent in
// best-effort response to a SHUTDOWN before the peer is torn down.
func BuildShutdownAck() Chunk {
	return Chunk{Type: ChunkShutdownAck, Value: nil}
}

// BuildAbort serializes an empty ABORT chunk (no error-cause parameters).
func BuildAbort() Chunk {
	return Chunk{Type: ChunkAbort, Value: nil}
}

// BuildCookieAck serializes an empty COOKIE-ACK chunk.
func BuildCookieAck() Chunk {
	return Chunk{Type: ChunkCookieAck, Value: nil}
}

// BuildForwardTSN serializes a FORWARD-TSN chunk with no stream-skip
// entries (this server never leaves a stream with an unassembled gap,
// since every message is a single unordered fragment).
func BuildForwardTSN(newCumulativeTSN uint32) Chunk {
	value := make([]byte, 4)
	putBE32(value, newCumulativeTSN)
	return Chunk{Type: ChunkForwardTSN, Value: value}
}

// ParseForwardTSN decodes a FORWARD-TSN chunk's new cumulative TSN.
func ParseForwardTSN(value []byte) (uint32, bool) {
	if len(value) < 4 {
		return 0, false
	}
	return be32(value[0:4]), true
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func putBE16(b []byte, v uint16) { b[0] = byte(v >> 8); b[1] = byte(v) }
func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// le32 reads the checksum field, which RFC 4960 specifies is transmitted
// in little-endian order unlike every other SCTP field.
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le32put(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
