package attachment

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryStorage keeps objects in process. Used for local runs without an
// object store and in tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: map[string][]byte{}}
}

func (m *MemoryStorage) Put(_ context.Context, key string, body io.ReadSeeker, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return fmt.Sprintf("memory://%s?expires=%d", key, int64(ttl/time.Second)), nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Object returns a stored object's bytes.
func (m *MemoryStorage) Object(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	return data, ok
}

// MemoryMetadata is an in-process MetadataStore.
type MemoryMetadata struct {
	mu   sync.RWMutex
	rows map[string]Attachment
}

func NewMemoryMetadata() *MemoryMetadata {
	return &MemoryMetadata{rows: map[string]Attachment{}}
}

func (m *MemoryMetadata) InsertAttachment(_ context.Context, a Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[a.ID] = a
	return nil
}

func (m *MemoryMetadata) AttachmentsBySummary(_ context.Context, summaryID string) ([]Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Attachment
	for _, a := range m.rows {
		if a.SummaryID == summaryID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
