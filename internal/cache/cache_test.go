package cache

import (
	"testing"
	"time"
)

func TestKeyNormalizesInput(t *testing.T) {
	a := Key("analyze", "The  WiFi is down", "general")
	b := Key("analyze", "the wifi is down", "general")
	if a != b {
		t.Fatalf("expected normalized inputs to share a key:\n%s\n%s", a, b)
	}

	c := Key("analyze", "the wifi is down", "inquiry")
	if a == c {
		t.Fatalf("expected differing kind to produce a different key")
	}
	d := Key("propose_topic", "the wifi is down", "general")
	if a == d {
		t.Fatalf("expected differing operation to produce a different key")
	}
}

func TestMemoryGetSetAndExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }

	if _, ok := m.Get("k"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	m.Set("k", "v", time.Hour)
	if v, ok := m.Get("k"); !ok || v != "v" {
		t.Fatalf("expected hit, got %q ok=%v", v, ok)
	}

	now = now.Add(2 * time.Hour)
	if _, ok := m.Get("k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}
