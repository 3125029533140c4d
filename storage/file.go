package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scrivenerlabs/scrivener/capability"
	"github.com/scrivenerlabs/scrivener/memory"
)

// watchDebounce is how long the watcher waits for more filesystem events
// before checking the snapshot.
const watchDebounce = 200 * time.Millisecond

// FileStore persists the registry as an indented JSON snapshot at a fixed
// path. Saves go through a temp file and rename so readers never see a
// half-written snapshot.
type FileStore struct {
	path   string
	logger *slog.Logger

	// lastHash tracks the snapshot content this process wrote or read,
	// so Watch only signals edits made by someone else.
	hashMu   sync.Mutex
	lastHash string
}

// NewFileStore creates a file-backed registry store at path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file yields a fresh empty registry.
func (s *FileStore) Load(ctx context.Context) (*capability.Registry, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return capability.NewRegistry(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	reg := capability.NewRegistry()
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", s.path, err)
	}

	s.setLastHash(data)
	return reg, nil
}

// Save writes the registry atomically.
func (s *FileStore) Save(ctx context.Context, reg *capability.Registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	s.setLastHash(data)
	s.logger.Debug("saved registry snapshot", "path", s.path, "bytes", len(data))
	return nil
}

// Close is a no-op; the store holds no open resources.
func (s *FileStore) Close() error {
	return nil
}

// Watch signals on the returned channel when someone else edits the
// snapshot file. The process's own saves are filtered out by content hash.
// The channel closes when the context is done.
func (s *FileStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	changes := make(chan struct{}, 1)
	go s.watchLoop(ctx, watcher, changes)
	return changes, nil
}

// watchLoop debounces filesystem events and signals when the snapshot's
// content no longer matches what this process last wrote.
func (s *FileStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- struct{}) {
	defer watcher.Close()
	defer close(changes)

	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	dirty := false
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) == filepath.Clean(s.path) {
				dirty = true
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("snapshot watcher error", "error", err)

		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if s.snapshotChanged() {
				select {
				case changes <- struct{}{}:
				default:
				}
			}
		}
	}
}

// snapshotChanged reports whether the file on disk differs from the last
// content this process saved or loaded.
func (s *FileStore) snapshotChanged() bool {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	return s.hashOf(data) != s.currentHash()
}

func (s *FileStore) setLastHash(data []byte) {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	s.lastHash = s.hashOf(data)
}

func (s *FileStore) currentHash() string {
	s.hashMu.Lock()
	defer s.hashMu.Unlock()
	return s.lastHash
}

func (s *FileStore) hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryFile persists the agent's memory system as its own JSON snapshot,
// with the same atomic-write behavior as FileStore.
type MemoryFile struct {
	path string
}

// NewMemoryFile creates a file-backed memory snapshot at path.
func NewMemoryFile(path string) *MemoryFile {
	return &MemoryFile{path: path}
}

// Load reads the memory snapshot. A missing file yields a fresh system.
func (f *MemoryFile) Load(ctx context.Context) (*memory.System, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return memory.NewSystem(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory snapshot: %w", err)
	}

	sys := memory.NewSystem(0)
	if err := json.Unmarshal(data, sys); err != nil {
		return nil, fmt.Errorf("parse memory snapshot %s: %w", f.path, err)
	}
	return sys, nil
}

// Save writes the memory system atomically.
func (f *MemoryFile) Save(ctx context.Context, sys *memory.System) error {
	data, err := json.MarshalIndent(sys, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal memory: %w", err)
	}
	if err := writeAtomic(f.path, data); err != nil {
		return fmt.Errorf("write memory snapshot: %w", err)
	}
	return nil
}

// writeAtomic writes data to path through a temp file in the same
// directory, so a crash mid-write leaves the previous snapshot intact.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
