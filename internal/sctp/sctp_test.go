package sctp

import (
	"bytes"
	"testing"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	chunks := []Chunk{
		BuildData(1, 0, 0, 51, []byte("hello")),
		BuildSack(1),
		BuildHeartbeat([]byte("ping")),
		BuildHeartbeatAck([]byte("ping")),
		BuildShutdown(1),
		BuildAbort(),
		BuildCookieAck(),
		BuildForwardTSN(2),
	}

	wire := Serialize(5000, 5000, 0xCAFEBABE, chunks)

	pkt, ok := Parse(wire)
	if !ok {
		t.Fatalf("Parse: not ok")
	}
	if pkt.SourcePort != 5000 || pkt.DestinationPort != 5000 {
		t.Errorf("ports = %d/%d, want 5000/5000", pkt.SourcePort, pkt.DestinationPort)
	}
	if pkt.VerificationTag != 0xCAFEBABE {
		t.Errorf("tag = %#x, want 0xCAFEBABE", pkt.VerificationTag)
	}
	if len(pkt.Chunks) != len(chunks) {
		t.Fatalf("chunks = %d, want %d", len(pkt.Chunks), len(chunks))
	}
	for i, c := range chunks {
		got := pkt.Chunks[i]
		if got.Type != c.Type {
			t.Errorf("chunk %d type = %d, want %d", i, got.Type, c.Type)
		}
		if !bytes.Equal(got.Value, c.Value) {
			t.Errorf("chunk %d value = %v, want %v", i, got.Value, c.Value)
		}
	}
}

func TestParseRejectsBadChecksum(t *testing.T) {
	wire := Serialize(1, 2, 3, []Chunk{BuildCookieAck()})
	wire[8] ^= 0xFF // corrupt the checksum field
	if _, ok := Parse(wire); ok {
		t.Fatalf("Parse succeeded on corrupted checksum")
	}
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	wire := Serialize(1, 2, 3, []Chunk{BuildCookieAck()})
	truncated := wire[:len(wire)-1]
	if _, ok := Parse(truncated); ok {
		t.Fatalf("Parse succeeded on truncated packet")
	}
}

func TestParseRejectsShortHeader(t *testing.T) {
	if _, ok := Parse([]byte{1, 2, 3}); ok {
		t.Fatalf("Parse succeeded on short header")
	}
}

func TestInitAckStateCookieRoundTrip(t *testing.T) {
	params := InitParams{
		InitiateTag:      42,
		AdvertisedWindow: kDefaultBufferSpace,
		OutboundStreams:  1,
		InboundStreams:   1,
		InitialTSN:       100,
	}
	key, err := NewCookieKey()
	if err != nil {
		t.Fatalf("NewCookieKey: %v", err)
	}
	cookie, err := MakeCookie(key, params.InitiateTag, params.InitialTSN, 123.456)
	if err != nil {
		t.Fatalf("MakeCookie: %v", err)
	}

	initAck := BuildInitAck(params, cookie)
	gotParams, ok := ParseInit(initAck.Value)
	if !ok {
		t.Fatalf("ParseInit: not ok")
	}
	if gotParams != params {
		t.Errorf("params = %+v, want %+v", gotParams, params)
	}

	gotCookie, ok := StateCookie(initAck.Value)
	if !ok {
		t.Fatalf("StateCookie: not ok")
	}
	tag, tsn, issuedAt, ok := VerifyCookie(key, gotCookie)
	if !ok {
		t.Fatalf("VerifyCookie: not ok")
	}
	if tag != params.InitiateTag || tsn != params.InitialTSN || issuedAt != 123.456 {
		t.Errorf("cookie fields = (%d, %d, %f), want (%d, %d, 123.456)", tag, tsn, issuedAt, params.InitiateTag, params.InitialTSN)
	}
}

func TestVerifyCookieRejectsWrongKey(t *testing.T) {
	key, _ := NewCookieKey()
	otherKey, _ := NewCookieKey()
	cookie, err := MakeCookie(key, 1, 2, 3)
	if err != nil {
		t.Fatalf("MakeCookie: %v", err)
	}
	if _, _, _, ok := VerifyCookie(otherKey, cookie); ok {
		t.Fatalf("VerifyCookie succeeded with wrong key")
	}
}

func TestVerifyCookieRejectsTruncated(t *testing.T) {
	key, _ := NewCookieKey()
	cookie, _ := MakeCookie(key, 1, 2, 3)
	if _, _, _, ok := VerifyCookie(key, cookie[:len(cookie)-40]); ok {
		t.Fatalf("VerifyCookie succeeded on truncated cookie")
	}
}

func TestParseDataRoundTrip(t *testing.T) {
	chunk := BuildData(7, 3, 9, 51, []byte("payload"))
	data, ok := ParseData(chunk.Value)
	if !ok {
		t.Fatalf("ParseData: not ok")
	}
	if data.TSN != 7 || data.StreamID != 3 || data.StreamSeq != 9 || data.PPID != 51 {
		t.Errorf("data fields = %+v, want TSN=7 StreamID=3 StreamSeq=9 PPID=51", data)
	}
	if !bytes.Equal(data.Payload, []byte("payload")) {
		t.Errorf("payload = %q, want %q", data.Payload, "payload")
	}
	if chunk.Flags != completeUnreliableFlags {
		t.Errorf("flags = %#x, want %#x", chunk.Flags, completeUnreliableFlags)
	}
}

func TestParseSackRoundTrip(t *testing.T) {
	chunk := BuildSack(99)
	info, ok := ParseSack(chunk.Value)
	if !ok {
		t.Fatalf("ParseSack: not ok")
	}
	if info.CumulativeTSN != 99 {
		t.Errorf("CumulativeTSN = %d, want 99", info.CumulativeTSN)
	}
	if info.AdvertisedWindow != kDefaultBufferSpace {
		t.Errorf("AdvertisedWindow = %d, want %d", info.AdvertisedWindow, kDefaultBufferSpace)
	}
}

func TestParseForwardTSN(t *testing.T) {
	chunk := BuildForwardTSN(55)
	tsn, ok := ParseForwardTSN(chunk.Value)
	if !ok {
		t.Fatalf("ParseForwardTSN: not ok")
	}
	if tsn != 55 {
		t.Errorf("tsn = %d, want 55", tsn)
	}
}
