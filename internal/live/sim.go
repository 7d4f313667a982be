package live

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/restore"
)

type simItem struct {
	value     capture.Value
	connected bool
	readOnly  bool
}

// Sim is an in-memory live layer. Unknown items are reported as not connected.
type Sim struct {
	mu    sync.RWMutex
	items map[string]*simItem

	// Latency delays every read and write
	Latency time.Duration
}

// NewSim returns an empty simulator.
func NewSim() *Sim {
	return &Sim{items: make(map[string]*simItem)}
}

// Define registers connected items that hold no value yet. Existing items are kept.
func (s *Sim) Define(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		if _, ok := s.items[name]; !ok {
			s.items[name] = &simItem{value: capture.Value{Kind: capture.KindNone}, connected: true}
		}
	}
}

// Set stores a value for name, defining it as connected if needed.
func (s *Sim) Set(name string, v capture.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[name]
	if !ok {
		it = &simItem{connected: true}
		s.items[name] = it
	}
	it.value = v
}

// SetConnected changes the connection state of a defined item.
func (s *Sim) SetConnected(name string, connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[name]; ok {
		it.connected = connected
	}
}

// SetReadOnly makes writes to name fail with an access error.
func (s *Sim) SetReadOnly(name string, readOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[name]; ok {
		it.readOnly = readOnly
	}
}

// Value returns the current value of name.
func (s *Sim) Value(name string) (capture.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[name]
	if !ok {
		return capture.Value{}, false
	}
	return it.value, true
}

// IsConnected implements restore.Live.
func (s *Sim) IsConnected(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[name]
	return ok && it.connected
}

// Write implements restore.Live.
func (s *Sim) Write(ctx context.Context, name string, v capture.Value) restore.ItemStatus {
	if !s.delay(ctx) {
		return restore.ItemAccessError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[name]
	if !ok || !it.connected || it.readOnly {
		return restore.ItemAccessError
	}
	if !compatible(it.value, v) {
		return restore.ItemTypeError
	}
	it.value = v
	return restore.ItemOK
}

// Read returns the current value of a connected item.
func (s *Sim) Read(ctx context.Context, name string) (capture.Value, restore.ItemStatus) {
	if !s.delay(ctx) {
		return capture.Value{}, restore.ItemAccessError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[name]
	if !ok || !it.connected {
		return capture.Value{}, restore.ItemDisconnected
	}
	return it.value, restore.ItemOK
}

// Close is a no-op.
func (s *Sim) Close() error { return nil }

func (s *Sim) delay(ctx context.Context) bool {
	if s.Latency <= 0 {
		return true
	}
	t := time.NewTimer(s.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
