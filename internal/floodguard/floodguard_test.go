package floodguard

import "testing"

func TestAllowConsumesBurst(t *testing.T) {
	g := New(1, 3, 16)
	key := "1.2.3.4:5678"
	for i := 0; i < 3; i++ {
		if !g.Allow(key) {
			t.Fatalf("Allow() = false on burst token %d, want true", i)
		}
	}
	if g.Allow(key) {
		t.Fatalf("Allow() = true after burst exhausted, want false")
	}
}

func TestTickRefills(t *testing.T) {
	g := New(2, 2, 16)
	key := "1.2.3.4:5678"
	g.Allow(key)
	g.Allow(key)
	if g.Allow(key) {
		t.Fatalf("Allow() = true with no tokens left")
	}
	g.Tick(1.0, 1000) // 2 pps * 1s = 2 tokens back, well under idleTTL
	if !g.Allow(key) {
		t.Fatalf("Allow() = false after refill tick")
	}
}

func TestTickEvictsIdleEntries(t *testing.T) {
	g := New(1, 1, 16)
	key := "1.2.3.4:5678"
	g.Allow(key)
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	g.Tick(10, 5) // idleFor exceeds idleTTL of 5
	if g.Len() != 0 {
		t.Fatalf("Len() = %d after idle tick, want 0 (evicted)", g.Len())
	}
}

func TestMaxEntriesCapsTable(t *testing.T) {
	g := New(1, 1, 2)
	if !g.Allow("a") || !g.Allow("b") {
		t.Fatalf("expected first two distinct keys to be allowed")
	}
	if g.Allow("c") {
		t.Fatalf("Allow() = true for a third distinct key beyond maxEntries, want false")
	}
}
