// Package stun implements just enough of RFC 5389 to authenticate an ICE
// connectivity check and answer it: parsing a binding-request with a
// USERNAME attribute, and serializing a binding-success with
// XOR-MAPPED-ADDRESS, MESSAGE-INTEGRITY, and FINGERPRINT. It intentionally
// does not implement the rest of the STUN method/attribute space.
package stun

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"strings"
)

const (
	magicCookie  uint32 = 0x2112A442
	fingerprintXOR uint32 = 0x5354554E
	xorPortMagic uint16 = 0x2112

	headerLen = 20

	attrUsername        = 0x0006
	attrMessageIntegrity = 0x0008
	attrFingerprint      = 0x8028
	attrXORMappedAddress = 0x0020

	classMask  = 0x0110
	methodMask = 0x3EEF

	bindingRequestType = 0x0001
	bindingSuccessType = 0x0101

	familyIPv4 = 0x01

	// TransactionIDLen is the length of a STUN transaction ID in bytes.
	TransactionIDLen = 12
)

var (
	// ErrNotSTUN indicates the datagram is not a well-formed STUN message
	// (wrong length, bad magic cookie, or truncated attributes). The
	// dispatcher treats this as "try DTLS instead", not an error.
	ErrNotSTUN = errors.New("stun: not a stun message")
	// ErrNoUsername indicates a binding-request with no USERNAME attribute.
	ErrNoUsername = errors.New("stun: missing username attribute")
)

// Request is a parsed binding-request.
type Request struct {
	TransactionID  [TransactionIDLen]byte
	ServerUfrag    string
	RemoteUfrag    string
	messageIntegrityOffset int // offset of the MESSAGE-INTEGRITY attribute value, -1 if absent
	raw            []byte
}

// ParseBindingRequest parses a STUN binding-request out of data. It returns
// ErrNotSTUN if data is not a STUN message at all (the caller should then
// try DTLS), and ErrNoUsername if it is STUN but lacks a USERNAME.
func ParseBindingRequest(data []byte) (*Request, error) {
	if len(data) < headerLen {
		return nil, ErrNotSTUN
	}
	msgType := binary.BigEndian.Uint16(data[0:2])
	msgLen := binary.BigEndian.Uint16(data[2:4])
	cookie := binary.BigEndian.Uint32(data[4:8])
	if cookie != magicCookie {
		return nil, ErrNotSTUN
	}
	if msgType != bindingRequestType {
		return nil, ErrNotSTUN
	}
	if int(msgLen)+headerLen > len(data) {
		return nil, ErrNotSTUN
	}

	req := &Request{raw: data, messageIntegrityOffset: -1}
	copy(req.TransactionID[:], data[8:20])

	body := data[headerLen : headerLen+int(msgLen)]
	off := 0
	haveUsername := false
	for off+4 <= len(body) {
		attrType := binary.BigEndian.Uint16(body[off : off+2])
		attrLen := int(binary.BigEndian.Uint16(body[off+2 : off+4]))
		valStart := off + 4
		valEnd := valStart + attrLen
		if valEnd > len(body) {
			break
		}
		switch attrType {
		case attrUsername:
			user := string(body[valStart:valEnd])
			parts := strings.SplitN(user, ":", 2)
			if len(parts) != 2 {
				return nil, ErrNoUsername
			}
			req.ServerUfrag = parts[0]
			req.RemoteUfrag = parts[1]
			haveUsername = true
		case attrMessageIntegrity:
			req.messageIntegrityOffset = headerLen + valStart
		}
		// Attributes are padded to a 4-byte boundary; the padding is not
		// part of attrLen.
		off = valStart + ((attrLen + 3) &^ 3)
	}

	if !haveUsername {
		return nil, ErrNoUsername
	}
	return req, nil
}

// VerifyMessageIntegrity validates the request's MESSAGE-INTEGRITY
// attribute (if present) against key. It returns true if there is no
// MESSAGE-INTEGRITY attribute to verify, per the spec's "accept but do not
// require" rule — callers that want to enforce it should check for
// presence themselves via HasMessageIntegrity.
func (r *Request) VerifyMessageIntegrity(key []byte) bool {
	if r.messageIntegrityOffset < 0 {
		return true
	}
	if r.messageIntegrityOffset+20 > len(r.raw) {
		return false
	}
	// Recompute length-up-to-and-including MESSAGE-INTEGRITY, matching how
	// a real client would have built the field when it signed the message.
	provisionalLen := uint16(r.messageIntegrityOffset + 20 - headerLen)
	shadow := make([]byte, r.messageIntegrityOffset)
	copy(shadow, r.raw[:r.messageIntegrityOffset])
	binary.BigEndian.PutUint16(shadow[2:4], provisionalLen)

	mac := hmac.New(sha1.New, key)
	mac.Write(shadow)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, r.raw[r.messageIntegrityOffset:r.messageIntegrityOffset+20])
}

// HasMessageIntegrity reports whether the request carried a
// MESSAGE-INTEGRITY attribute at all.
func (r *Request) HasMessageIntegrity() bool {
	return r.messageIntegrityOffset >= 0
}

// BuildBindingSuccess serializes a binding-success response mirroring
// transactionID, with an XOR-MAPPED-ADDRESS for (host, port), signed with
// MESSAGE-INTEGRITY using key and terminated with FINGERPRINT.
func BuildBindingSuccess(transactionID [TransactionIDLen]byte, host uint32, port uint16, key []byte) []byte {
	// Header + XOR-MAPPED-ADDRESS(12) + MESSAGE-INTEGRITY header+value(24).
	body := make([]byte, 0, 12+24)

	xorAddr := make([]byte, 8)
	xorAddr[1] = familyIPv4
	binary.BigEndian.PutUint16(xorAddr[2:4], port^xorPortMagic)
	binary.BigEndian.PutUint32(xorAddr[4:8], host^magicCookie)
	body = appendAttr(body, attrXORMappedAddress, xorAddr)

	// Append a placeholder MESSAGE-INTEGRITY with the length field already
	// provisionally set to cover the integrity attribute itself.
	msgLenWithIntegrity := uint16(len(body) + 4 + 20)
	header := make([]byte, headerLen)
	binary.BigEndian.PutUint16(header[0:2], bindingSuccessType)
	binary.BigEndian.PutUint16(header[2:4], msgLenWithIntegrity)
	binary.BigEndian.PutUint32(header[4:8], magicCookie)
	copy(header[8:20], transactionID[:])

	signed := append(append([]byte{}, header...), body...)
	mac := hmac.New(sha1.New, key)
	mac.Write(signed)
	integrity := mac.Sum(nil)
	body = appendAttr(body, attrMessageIntegrity, integrity)

	// Now append FINGERPRINT, which covers everything before it including
	// a length field that also accounts for FINGERPRINT's own 8 bytes.
	finalLen := uint16(len(body) + 8)
	binary.BigEndian.PutUint16(header[2:4], finalLen)
	msg := append(append([]byte{}, header...), body...)

	fp := crc32.ChecksumIEEE(msg) ^ fingerprintXOR
	fpAttr := make([]byte, 4)
	binary.BigEndian.PutUint32(fpAttr, fp)
	msg = appendAttr(msg, attrFingerprint, fpAttr)

	return msg
}

func appendAttr(buf []byte, attrType uint16, value []byte) []byte {
	header := make([]byte, 4)
	binary.BigEndian.PutUint16(header[0:2], attrType)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(value)))
	buf = append(buf, header...)
	buf = append(buf, value...)
	padLen := (4 - len(value)%4) % 4
	for i := 0; i < padLen; i++ {
		buf = append(buf, 0)
	}
	return buf
}
