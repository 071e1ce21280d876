package cache

import (
	"context"
	"sync"
	"time"
)

// Memory implements Backend in process memory. It backs tests and
// single-node deployments where running Redis is not worth it.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	subs    map[string][]*memSub
}

var _ Backend = (*Memory)(nil)

type memEntry struct {
	value     string
	counter   int64
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memEntry),
		subs:    make(map[string][]*memSub),
	}
}

func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.live(key)
	e.counter++
	m.entries[key] = e
	return e.counter, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil
	}
	e.expiresAt = time.Now().Add(ttl)
	m.entries[key] = e
	return nil
}

func (m *Memory) Publish(_ context.Context, channel, payload string) error {
	m.mu.Lock()
	subs := make([]*memSub, len(m.subs[channel]))
	copy(subs, m.subs[channel])
	m.mu.Unlock()

	for _, s := range subs {
		s.deliver(payload)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &memSub{
		backend: m,
		channel: channel,
		msgs:    make(chan string, 64),
	}
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.mu.Unlock()
	return sub, nil
}

func (m *Memory) Close() error { return nil }

type memSub struct {
	backend *Memory
	channel string
	msgs    chan string

	mu     sync.Mutex
	closed bool
}

func (s *memSub) deliver(payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.msgs <- payload:
	default: // slow subscriber, drop rather than block the publisher
	}
}

func (s *memSub) Messages() <-chan string { return s.msgs }

func (s *memSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.msgs)
	s.mu.Unlock()

	b := s.backend
	b.mu.Lock()
	subs := b.subs[s.channel]
	for i, sub := range subs {
		if sub == s {
			b.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	return nil
}
