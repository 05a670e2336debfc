package stun

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"
	"testing"
)

func buildBindingRequest(t *testing.T, username string, withIntegrity bool, key []byte) ([]byte, [TransactionIDLen]byte) {
	t.Helper()

	var txID [TransactionIDLen]byte
	for i := range txID {
		txID[i] = byte(i + 1)
	}

	body := appendAttr(nil, attrUsername, []byte(username))

	header := make([]byte, headerLen)
	binary.BigEndian.PutUint16(header[0:2], bindingRequestType)
	binary.BigEndian.PutUint32(header[4:8], magicCookie)
	copy(header[8:20], txID[:])

	if withIntegrity {
		provisionalLen := uint16(len(body) + 4 + 20)
		binary.BigEndian.PutUint16(header[2:4], provisionalLen)
		signed := append(append([]byte{}, header...), body...)
		h := hmac.New(sha1.New, key)
		h.Write(signed)
		body = appendAttr(body, attrMessageIntegrity, h.Sum(nil))
	}

	binary.BigEndian.PutUint16(header[2:4], uint16(len(body)))
	return append(header, body...), txID
}

func TestParseBindingRequestExtractsUsername(t *testing.T) {
	msg, txID := buildBindingRequest(t, "serverUfrag:remoteUfrag", false, nil)

	req, err := ParseBindingRequest(msg)
	if err != nil {
		t.Fatalf("ParseBindingRequest: %v", err)
	}
	if req.ServerUfrag != "serverUfrag" || req.RemoteUfrag != "remoteUfrag" {
		t.Errorf("ufrags = %q/%q, want serverUfrag/remoteUfrag", req.ServerUfrag, req.RemoteUfrag)
	}
	if req.TransactionID != txID {
		t.Errorf("transaction id mismatch")
	}
	if req.HasMessageIntegrity() {
		t.Errorf("HasMessageIntegrity() = true, want false")
	}
}

func TestParseBindingRequestMissingUsername(t *testing.T) {
	var txID [TransactionIDLen]byte
	header := make([]byte, headerLen)
	binary.BigEndian.PutUint16(header[0:2], bindingRequestType)
	binary.BigEndian.PutUint32(header[4:8], magicCookie)
	copy(header[8:20], txID[:])
	binary.BigEndian.PutUint16(header[2:4], 0)

	if _, err := ParseBindingRequest(header); err != ErrNoUsername {
		t.Fatalf("err = %v, want ErrNoUsername", err)
	}
}

func TestParseBindingRequestNotSTUN(t *testing.T) {
	if _, err := ParseBindingRequest([]byte{1, 2, 3}); err != ErrNotSTUN {
		t.Fatalf("err = %v, want ErrNotSTUN", err)
	}
	garbage := make([]byte, 20)
	if _, err := ParseBindingRequest(garbage); err != ErrNotSTUN {
		t.Fatalf("err = %v, want ErrNotSTUN", err)
	}
}

func TestVerifyMessageIntegrityAcceptsValid(t *testing.T) {
	key := []byte("serverPasswordKey")
	msg, _ := buildBindingRequest(t, "serverUfrag:remoteUfrag", true, key)

	req, err := ParseBindingRequest(msg)
	if err != nil {
		t.Fatalf("ParseBindingRequest: %v", err)
	}
	if !req.HasMessageIntegrity() {
		t.Fatalf("HasMessageIntegrity() = false, want true")
	}
	if !req.VerifyMessageIntegrity(key) {
		t.Errorf("VerifyMessageIntegrity() = false, want true")
	}
}

func TestVerifyMessageIntegrityRejectsWrongKey(t *testing.T) {
	key := []byte("serverPasswordKey")
	msg, _ := buildBindingRequest(t, "serverUfrag:remoteUfrag", true, key)

	req, err := ParseBindingRequest(msg)
	if err != nil {
		t.Fatalf("ParseBindingRequest: %v", err)
	}
	if req.VerifyMessageIntegrity([]byte("wrongKey")) {
		t.Errorf("VerifyMessageIntegrity() = true, want false")
	}
}

func TestVerifyMessageIntegrityAcceptsAbsent(t *testing.T) {
	msg, _ := buildBindingRequest(t, "serverUfrag:remoteUfrag", false, nil)
	req, err := ParseBindingRequest(msg)
	if err != nil {
		t.Fatalf("ParseBindingRequest: %v", err)
	}
	if !req.VerifyMessageIntegrity([]byte("anyKey")) {
		t.Errorf("VerifyMessageIntegrity() = false, want true (absent is accepted)")
	}
}

func TestBuildBindingSuccessRoundTrip(t *testing.T) {
	var txID [TransactionIDLen]byte
	for i := range txID {
		txID[i] = byte(10 + i)
	}
	key := []byte("serverPasswordKey")
	host := uint32(0xC0A80001) // 192.168.0.1
	port := uint16(54321)

	msg := BuildBindingSuccess(txID, host, port, key)

	if len(msg) < headerLen {
		t.Fatalf("message too short: %d bytes", len(msg))
	}
	msgType := binary.BigEndian.Uint16(msg[0:2])
	if msgType != bindingSuccessType {
		t.Errorf("type = %#x, want %#x", msgType, bindingSuccessType)
	}
	cookie := binary.BigEndian.Uint32(msg[4:8])
	if cookie != magicCookie {
		t.Errorf("cookie = %#x, want %#x", cookie, magicCookie)
	}
	var gotTxID [TransactionIDLen]byte
	copy(gotTxID[:], msg[8:20])
	if gotTxID != txID {
		t.Errorf("transaction id mismatch")
	}

	msgLen := binary.BigEndian.Uint16(msg[2:4])
	if int(msgLen)+headerLen != len(msg) {
		t.Errorf("declared length %d + header != actual %d", msgLen, len(msg))
	}

	fp := crc32.ChecksumIEEE(msg[:len(msg)-8]) ^ fingerprintXOR
	gotFP := binary.BigEndian.Uint32(msg[len(msg)-4:])
	if fp != gotFP {
		t.Errorf("fingerprint = %#x, want %#x", gotFP, fp)
	}
}
