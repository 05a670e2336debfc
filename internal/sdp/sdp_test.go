package sdp

import (
	"strings"
	"testing"
)

const sampleOffer = "v=0\r\n" +
	"o=- 123456 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=application 9 DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:remoteUfrag\r\n" +
	"a=ice-pwd:remotePasswordIsLongEnough\r\n" +
	"a=fingerprint:sha-256 AB:CD:EF\r\n" +
	"a=setup:actpass\r\n"

func TestParseOfferExtractsCredentials(t *testing.T) {
	fields, err := ParseOffer(sampleOffer)
	if err != nil {
		t.Fatalf("ParseOffer: %v", err)
	}
	if fields.Ufrag != "remoteUfrag" {
		t.Errorf("Ufrag = %q, want remoteUfrag", fields.Ufrag)
	}
	if fields.Password != "remotePasswordIsLongEnough" {
		t.Errorf("Password = %q, want remotePasswordIsLongEnough", fields.Password)
	}
}

func TestParseOfferMissingUfrag(t *testing.T) {
	offer := "v=0\r\na=ice-pwd:onlyPassword\r\n"
	if _, err := ParseOffer(offer); err != ErrInvalidSDP {
		t.Fatalf("ParseOffer() err = %v, want ErrInvalidSDP", err)
	}
}

func TestParseOfferMissingPassword(t *testing.T) {
	offer := "v=0\r\na=ice-ufrag:onlyUfrag\r\n"
	if _, err := ParseOffer(offer); err != ErrInvalidSDP {
		t.Fatalf("ParseOffer() err = %v, want ErrInvalidSDP", err)
	}
}

func TestGenerateAnswerContainsRequiredLines(t *testing.T) {
	answer, err := GenerateAnswer(AnswerParams{
		Fingerprint:    "AA:BB:CC",
		Host:           "203.0.113.5",
		Port:           54321,
		ServerUfrag:    "srvUfrag",
		ServerPassword: "srvPassword",
	})
	if err != nil {
		t.Fatalf("GenerateAnswer: %v", err)
	}

	required := []string{
		"v=0\r\n",
		"a=ice-ufrag:srvUfrag\r\n",
		"a=ice-pwd:srvPassword\r\n",
		"a=fingerprint:sha-256 AA:BB:CC\r\n",
		"a=setup:passive\r\n",
		"a=sctpmap:5000 webrtc-datachannel 1024\r\n",
	}
	for _, want := range required {
		if !strings.Contains(answer, want) {
			t.Errorf("answer missing line %q\nfull answer:\n%s", want, answer)
		}
	}
}
