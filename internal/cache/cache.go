package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// Cache stores prior model outputs keyed by content hash. An out-of-process
// implementation can be substituted without touching pipeline logic.
type Cache interface {
	Get(key string) (string, bool)
	Set(key, value string, ttl time.Duration)
}

// Key builds a content-addressed cache key from an operation tag and its
// normalized inputs. Normalization lowercases, trims, and collapses internal
// whitespace so trivially reformatted inputs hit the same entry.
func Key(operation string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(operation))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(normalize(p)))
	}
	return operation + ":" + hex.EncodeToString(h.Sum(nil))
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Cache. Concurrent reads and writes are safe;
// last-writer-wins on a racing key is acceptable since results for identical
// input are equivalent.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time // test hook
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		// Re-check under the write lock in case the key was refreshed.
		if cur, ok := m.entries[key]; ok && m.now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return "", false
	}
	return e.value, true
}

func (m *Memory) Set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
}
