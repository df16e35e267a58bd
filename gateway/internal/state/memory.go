package state

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"path"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero value means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryBackend is the default in-process Backend: a concurrent map
// with a background sweep for TTL eviction. No suitable third-party
// KV/cache library in the example corpus covers this narrow a need
// (atomic increment + compare-and-swap over arbitrary byte values),
// so this is one of the few components built on the standard library
// alone.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string]entry

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewMemoryBackend creates a backend and starts its background sweep
// goroutine. Call Close to stop the sweep.
func NewMemoryBackend(sweepInterval time.Duration) *MemoryBackend {
	if sweepInterval <= 0 {
		sweepInterval = 30 * time.Second
	}
	b := &MemoryBackend{
		data:          make(map[string]entry),
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
	go b.sweepLoop()
	return b
}

func (b *MemoryBackend) sweepLoop() {
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for k, e := range b.data {
				if e.expired(now) {
					delete(b.data, k)
				}
			}
			b.mu.Unlock()
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (b *MemoryBackend) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = entry{value: cloneBytes(value), expiresAt: expiryFor(ttl)}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

// Increment is atomic under b.mu: the read-modify-write happens
// inside a single critical section, satisfying §4.7's "atomic against
// concurrent callers" contract.
func (b *MemoryBackend) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var cur int64
	if e, ok := b.data[key]; ok && !e.expired(time.Now()) {
		v, err := decodeInt64(e.value)
		if err != nil {
			return 0, err
		}
		cur = v
	}
	cur += delta
	b.data[key] = entry{value: encodeInt64(cur), expiresAt: expiryFor(ttl)}
	return cur, nil
}

func (b *MemoryBackend) CompareAndSwap(_ context.Context, key string, expected, newValue []byte) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.data[key]
	if ok && e.expired(time.Now()) {
		ok = false
	}
	curMatches := (!ok && expected == nil) || (ok && bytes.Equal(e.value, expected))
	if !curMatches {
		return false, nil
	}
	ttl := time.Duration(0)
	if ok && !e.expiresAt.IsZero() {
		ttl = time.Until(e.expiresAt)
	}
	b.data[key] = entry{value: cloneBytes(newValue), expiresAt: expiryFor(ttl)}
	return true, nil
}

func (b *MemoryBackend) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.data[key]
	if !ok || e.expired(time.Now()) {
		return false, nil
	}
	e.expiresAt = expiryFor(ttl)
	b.data[key] = e
	return true, nil
}

func (b *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	var out []string
	for k, e := range b.data {
		if e.expired(now) {
			continue
		}
		if pattern == "" || pattern == "*" {
			out = append(out, k)
			continue
		}
		matched, err := path.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		if matched {
			out = append(out, k)
		}
	}
	return out, nil
}

func (b *MemoryBackend) MGet(_ context.Context, keys []string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if e, ok := b.data[k]; ok && !e.expired(now) {
			out[k] = cloneBytes(e.value)
		}
	}
	return out, nil
}

func (b *MemoryBackend) MSet(_ context.Context, values map[string][]byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp := expiryFor(ttl)
	for k, v := range values {
		b.data[k] = entry{value: cloneBytes(v), expiresAt: exp}
	}
	return nil
}

func (b *MemoryBackend) MDel(_ context.Context, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.data, k)
	}
	return nil
}

func (b *MemoryBackend) Flush(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = make(map[string]entry)
	return nil
}

func (b *MemoryBackend) HealthCheck(_ context.Context) error { return nil }

func expiryFor(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("value is not a counter")
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}
