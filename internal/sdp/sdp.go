// Package sdp implements the minimal offer/answer surface this server
// needs: pulling ICE credentials out of an offer, and synthesizing a
// single-media-section answer advertising this server's DTLS fingerprint,
// ICE credentials, and one host candidate.
package sdp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bridgefall/dcbridge/internal/addrutil"
)

// ErrInvalidSDP is returned when the offer is missing a required ICE
// attribute.
var ErrInvalidSDP = errors.New("sdp: missing ice-ufrag or ice-pwd")

// OfferFields holds the ICE credentials extracted from a remote offer.
type OfferFields struct {
	Ufrag    string
	Password string
}

// ParseOffer scans offer line by line for a=ice-ufrag and a=ice-pwd.
// Every other line is ignored; this is not a general SDP parser.
func ParseOffer(offer string) (OfferFields, error) {
	var fields OfferFields
	for _, line := range strings.Split(offer, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "a=ice-ufrag:"):
			fields.Ufrag = strings.TrimPrefix(line, "a=ice-ufrag:")
		case strings.HasPrefix(line, "a=ice-pwd:"):
			fields.Password = strings.TrimPrefix(line, "a=ice-pwd:")
		}
	}
	if fields.Ufrag == "" || fields.Password == "" {
		return OfferFields{}, ErrInvalidSDP
	}
	return fields, nil
}

// AnswerParams bundles what's needed to synthesize an answer.
type AnswerParams struct {
	Fingerprint    string // e.g. "AB:CD:..." SHA-256 hex-colon form
	Host           string
	Port           int
	ServerUfrag    string
	ServerPassword string
}

// GenerateAnswer synthesizes a minimal DTLS/SCTP answer SDP.
func GenerateAnswer(p AnswerParams) (string, error) {
	sessionID, err := addrutil.RandomUint32()
	if err != nil {
		return "", fmt.Errorf("sdp: generate session id: %w", err)
	}

	var b strings.Builder
	b.WriteString("v=0\r\n")
	fmt.Fprintf(&b, "o=- %d 2 IN IP4 %s\r\n", sessionID, p.Host)
	b.WriteString("s=-\r\n")
	fmt.Fprintf(&b, "t=0 0\r\n")
	fmt.Fprintf(&b, "m=application %d DTLS/SCTP 5000\r\n", p.Port)
	fmt.Fprintf(&b, "c=IN IP4 %s\r\n", p.Host)
	fmt.Fprintf(&b, "a=ice-ufrag:%s\r\n", p.ServerUfrag)
	fmt.Fprintf(&b, "a=ice-pwd:%s\r\n", p.ServerPassword)
	fmt.Fprintf(&b, "a=fingerprint:sha-256 %s\r\n", p.Fingerprint)
	b.WriteString("a=setup:passive\r\n")
	b.WriteString("a=mid:data\r\n")
	b.WriteString("a=sctpmap:5000 webrtc-datachannel 1024\r\n")
	fmt.Fprintf(&b, "a=candidate:1 1 UDP 2130706431 %s %d typ host\r\n", p.Host, p.Port)

	return b.String(), nil
}

// ParsePort is a small helper for callers that carry the port as a string
// (as the dispatcher config does) but need it numerically for the
// candidate line and SCTP port mirroring.
func ParsePort(s string) (int, error) {
	return strconv.Atoi(s)
}
