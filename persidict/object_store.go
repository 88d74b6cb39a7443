package persidict

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// ObjectStore is the narrow contract a remote bucket must satisfy.
// Names are '/'-separated object keys.
type ObjectStore interface {
	// Put uploads size bytes read from body.
	Put(ctx context.Context, name string, body io.Reader, size int64) error
	// Get downloads the object into dst. It returns ErrNotFound if absent.
	Get(ctx context.Context, name string, dst *os.File) error
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	// List returns every object name starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// MemStore is an in-process ObjectStore, used by tests and dry runs.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	puts    int
	gets    int
}

var _ ObjectStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{objects: map[string][]byte{}}
}

func (m *MemStore) Put(_ context.Context, name string, body io.Reader, _ int64) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = b
	m.puts++
	return nil
}

func (m *MemStore) Get(_ context.Context, name string, dst *os.File) error {
	m.mu.Lock()
	b, ok := m.objects[name]
	m.gets++
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: object %s", ErrNotFound, name)
	}
	_, err := io.Copy(dst, bytes.NewReader(b))
	return err
}

func (m *MemStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; !ok {
		return fmt.Errorf("%w: object %s", ErrNotFound, name)
	}
	delete(m.objects, name)
	return nil
}

func (m *MemStore) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *MemStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for name := range m.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Stats reports how many uploads and downloads the store served.
func (m *MemStore) Stats() (puts, gets int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts, m.gets
}
