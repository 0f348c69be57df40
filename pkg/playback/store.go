package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ErrArtifactNotFound is returned by Get for unknown ids.
var ErrArtifactNotFound = errors.New("playback: artifact not found")

// ArtifactStore keeps finalized turn audio and returns a URL for it.
type ArtifactStore interface {
	Put(a *Artifact) (url string, err error)
}

// MemoryStore keeps the most recent artifacts in memory. URLs are relative
// paths served by the web layer.
type MemoryStore struct {
	prefix string
	limit  int

	mu    sync.RWMutex
	items map[string]*Artifact
	order []string
}

// NewMemoryStore creates a store that keeps at most limit artifacts and
// builds URLs as prefix + id.
func NewMemoryStore(prefix string, limit int) *MemoryStore {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryStore{
		prefix: prefix,
		limit:  limit,
		items:  make(map[string]*Artifact),
	}
}

// Put stores a, evicting the oldest artifact when full.
func (m *MemoryStore) Put(a *Artifact) (string, error) {
	if a == nil {
		return "", errors.New("playback: nil artifact")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[a.ID]; !ok {
		m.order = append(m.order, a.ID)
	}
	m.items[a.ID] = a
	for len(m.order) > m.limit {
		delete(m.items, m.order[0])
		m.order = m.order[1:]
	}
	return m.prefix + a.ID, nil
}

// Get returns the artifact with id.
func (m *MemoryStore) Get(id string) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[id]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return a, nil
}

// Len returns the number of stored artifacts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// DirStore writes artifacts as .wav files under a directory. Put returns
// the file URL at once and writes in the background, so callers on a
// latency-sensitive goroutine never wait on the disk. Each file appears
// atomically once written.
type DirStore struct {
	dir    string
	logger *slog.Logger

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewDirStore creates dir if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("playback: create artifact dir: %w", err)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return &DirStore{
		dir:    dir,
		logger: slog.Default().With("component", "playback.dirstore"),
	}, nil
}

// Put queues a for <dir>/<id>.wav and returns its file URL.
func (d *DirStore) Put(a *Artifact) (string, error) {
	if a == nil {
		return "", errors.New("playback: nil artifact")
	}
	path := filepath.Join(d.dir, a.ID+".wav")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := writeFile(path, a.WAV); err != nil {
			d.logger.Warn("write turn recording", "path", path, "error", err)
			d.mu.Lock()
			d.errs = append(d.errs, err)
			d.mu.Unlock()
		}
	}()
	return "file://" + filepath.ToSlash(path), nil
}

// Wait blocks until queued writes finish and returns their failures.
func (d *DirStore) Wait() error {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	err := errors.Join(d.errs...)
	d.errs = nil
	return err
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("playback: write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("playback: write artifact: %w", err)
	}
	return nil
}

var (
	_ ArtifactStore = (*MemoryStore)(nil)
	_ ArtifactStore = (*DirStore)(nil)
)
