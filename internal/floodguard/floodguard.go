// Package floodguard implements a per-source-address token bucket for
// pre-authentication STUN traffic. It is a synchronous, single-goroutine
// adaptation of the corpus's concurrency-safe rate limiter: the engine
// already runs a periodic tick, so bucket refill and eviction of idle
// entries piggy-back on that tick instead of a dedicated timer goroutine
// and mutex.
package floodguard

// bucket is one source address's token-bucket state.
type bucket struct {
	tokens    float64
	idleFor   float64 // seconds since this bucket was last touched by Allow
}

// Guard rate-limits by an arbitrary comparable key (the dispatcher uses
// addrutil.Addr). It is not safe for concurrent use — by design, it is
// only ever touched by the dispatcher's single goroutine.
type Guard struct {
	buckets  map[any]*bucket
	pps      float64
	burst    float64
	maxEntries int
}

// New creates a guard allowing pps tokens/second refill up to burst
// tokens, with its entry table capped at maxEntries (the dispatcher
// passes MaxPeers*4, per the design).
func New(pps, burst, maxEntries int) *Guard {
	if pps <= 0 {
		pps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	if maxEntries <= 0 {
		maxEntries = 64
	}
	return &Guard{
		buckets:    make(map[any]*bucket),
		pps:        float64(pps),
		burst:      float64(burst),
		maxEntries: maxEntries,
	}
}

// Allow consumes one token for key if available, creating a full bucket
// for a never-seen key (space permitting). It returns false if the
// bucket is empty or the table is full and key is unknown.
func (g *Guard) Allow(key any) bool {
	b, ok := g.buckets[key]
	if !ok {
		if len(g.buckets) >= g.maxEntries {
			return false
		}
		b = &bucket{tokens: g.burst}
		g.buckets[key] = b
	}
	b.idleFor = 0
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tick refills every bucket by pps*dt tokens (capped at burst) and evicts
// entries that have sat unused past idleTTL seconds, keeping the guard's
// own memory bounded without a background goroutine.
func (g *Guard) Tick(dt, idleTTL float64) {
	for key, b := range g.buckets {
		b.tokens += g.pps * dt
		if b.tokens > g.burst {
			b.tokens = g.burst
		}
		b.idleFor += dt
		if b.idleFor >= idleTTL {
			delete(g.buckets, key)
		}
	}
}

// Len returns the number of tracked addresses, for metrics/testing.
func (g *Guard) Len() int {
	return len(g.buckets)
}
