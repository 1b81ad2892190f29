package storage

import (
	"context"
	"slices"
	"sync"

	"github.com/raterudder/homedash/pkg/types"
)

// MemoryProvider keeps everything in process memory. Nothing survives a
// restart.
type MemoryProvider struct {
	mu       sync.Mutex
	settings types.Settings
	version  int
	topics   []string
}

// NewMemory returns an empty memory provider.
func NewMemory() *MemoryProvider {
	return &MemoryProvider{}
}

// GetSettings implements Database.
func (m *MemoryProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, m.version, nil
}

// SetSettings implements Database.
func (m *MemoryProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.version = version
	return nil
}

// GetTopics implements Database.
func (m *MemoryProvider) GetTopics(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.topics), nil
}

// SetTopics implements Database.
func (m *MemoryProvider) SetTopics(ctx context.Context, topics []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = slices.Clone(topics)
	return nil
}

// Close implements Database.
func (m *MemoryProvider) Close() error {
	return nil
}
