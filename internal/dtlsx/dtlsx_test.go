package dtlsx

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewContextProducesFingerprint(t *testing.T) {
	ctx, err := NewContext(testLogger())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	fp := ctx.Fingerprint()
	if fp == "" {
		t.Fatalf("Fingerprint() is empty")
	}
	if !strings.Contains(fp, ":") {
		t.Errorf("Fingerprint() = %q, want colon-separated hex", fp)
	}
	parts := strings.Split(fp, ":")
	if len(parts) != 32 {
		t.Errorf("Fingerprint() has %d octets, want 32 (sha-256)", len(parts))
	}
}

func TestNewContextFingerprintsDiffer(t *testing.T) {
	ctxA, err := NewContext(testLogger())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	ctxB, err := NewContext(testLogger())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	if ctxA.Fingerprint() == ctxB.Fingerprint() {
		t.Errorf("two fresh contexts produced the same fingerprint")
	}
}

func TestAdapterWritePlaintextBeforeHandshake(t *testing.T) {
	ctx, err := NewContext(testLogger())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	a := NewAdapter(ctx, "test-peer")
	defer a.Close()

	if a.HandshakeDone() {
		t.Fatalf("HandshakeDone() = true immediately after construction")
	}
	if err := a.WritePlaintext([]byte("hello")); err != ErrHandshakeNotDone {
		t.Errorf("WritePlaintext() err = %v, want ErrHandshakeNotDone", err)
	}
}

func TestAdapterDrainEgressProducesClientHello(t *testing.T) {
	ctx, err := NewContext(testLogger())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	a := NewAdapter(ctx, "test-peer")
	defer a.Close()

	// A DTLS server doesn't speak first; DrainEgress should simply return
	// having read nothing until a ClientHello is fed in.
	var frames [][]byte
	a.DrainEgress(func(b []byte) { frames = append(frames, b) })
	if len(frames) != 0 {
		t.Errorf("got %d egress frames before any input, want 0", len(frames))
	}
}

func TestAdapterCloseUnblocksGoroutine(t *testing.T) {
	ctx, err := NewContext(testLogger())
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	a := NewAdapter(ctx, "test-peer")
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !a.Closed() {
		if time.Now().After(deadline) {
			t.Fatalf("adapter goroutine did not observe Close within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}
