// Package addrutil provides the small time/randomness/address primitives
// the rest of the engine is built on: a monotonic clock, cryptographically
// strong byte/ASCII generation for ICE credentials and SCTP tags, and the
// IPv4 host+port tuple peers are keyed by.
package addrutil

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/randutil"
)

// Addr is an IPv4 host (network byte order, as a uint32) and UDP port pair.
// It is comparable and usable as a map key, which is how the dispatcher
// indexes bound peers.
type Addr struct {
	Host uint32
	Port uint16
}

// String renders the address in dotted-quad:port form, for logging.
func (a Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d",
		byte(a.Host>>24), byte(a.Host>>16), byte(a.Host>>8), byte(a.Host),
		a.Port)
}

// IsZero reports whether the address is unset (a peer with no bound
// address never matches an inbound datagram, by invariant).
func (a Addr) IsZero() bool {
	return a.Host == 0 && a.Port == 0
}

var processStart = time.Now()

// NowSeconds returns monotonic seconds since process start as a float64.
// It is never derived from wall-clock time, so NTP adjustments cannot move
// a peer's TTL or heartbeat countdown backwards.
func NowSeconds() float64 {
	return time.Since(processStart).Seconds()
}

// RandomBytes fills n cryptographically strong random bytes. Used for
// verification tags, SCTP initiate tags, and cookie MAC keys.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("random bytes: %w", err)
	}
	return buf, nil
}

// RandomUint32 returns a cryptographically strong random uint32, suitable
// for an SCTP verification tag or initiate tag.
func RandomUint32() (uint32, error) {
	buf, err := RandomBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// credentialCharset matches what pion/ice uses to mint local ufrag/password
// pairs, so the credentials this server hands out are statistically
// indistinguishable from what a browser's own ICE agent would generate.
const credentialCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomASCII returns n printable, short-term-credential-safe ASCII bytes.
func RandomASCII(n int) (string, error) {
	return randutil.GenerateCryptoRandomString(n, credentialCharset)
}
