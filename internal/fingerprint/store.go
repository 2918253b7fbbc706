package fingerprint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
)

// Entry is the persisted cache record for one task: the last known digest
// plus the output paths that existed when it was recorded.
type Entry struct {
	Digest     string    `json:"digest"`
	Outputs    []string  `json:"outputs"`
	RecordedAt time.Time `json:"recorded_at"`
}

// storeFile is the on-disk layout. Unknown or missing entries are cache
// misses, never fatal, so the version field only gates future layout
// changes.
type storeFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

const storeVersion = 1

// Store is the per-project cache record. It is read once at the start of a
// run, updated in memory as tasks complete successfully, and flushed to
// durable storage at the end of the run. Updates are serialized by an
// internal mutex so parallel tasks finishing near-simultaneously never lose
// writes; batching the disk write until run end sidesteps per-write
// locking, accepting that a crash mid-run loses that run's updates.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]Entry
	dirty   bool
	logger  *log.Logger
}

// StorePath returns the cache file location for a project root: a file
// under the user cache directory keyed by a hash of the absolute root path,
// so unrelated projects never share records.
func StorePath(projectRoot string) (string, error) {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return "", fmt.Errorf("resolving project root: %w", err)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating user cache dir: %w", err)
	}
	name := fmt.Sprintf("%016x.json", xxhash.Sum64String(abs))
	return filepath.Join(base, "stride", name), nil
}

// OpenStore loads the cache record for a project root. Load is best-effort:
// an unreadable or corrupt store is logged and treated as empty, degrading
// to always-stale behavior rather than failing the run. The logger may be
// nil.
func OpenStore(projectRoot string, logger *log.Logger) *Store {
	s := &Store{entries: make(map[string]Entry), logger: logger}

	path, err := StorePath(projectRoot)
	if err != nil {
		s.warn("cache disabled", "error", err)
		return s
	}
	s.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.warn("cache unreadable, starting empty", "path", path, "error", err)
		}
		return s
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil || f.Entries == nil {
		s.warn("cache corrupt, starting empty", "path", path, "error", err)
		return s
	}
	s.entries = f.Entries
	return s
}

// OpenStoreAt is OpenStore with an explicit file path, used in tests and by
// the --cache-file override.
func OpenStoreAt(path string, logger *log.Logger) *Store {
	s := &Store{entries: make(map[string]Entry), path: path, logger: logger}
	data, err := os.ReadFile(path)
	if err != nil {
		return s
	}
	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil || f.Entries == nil {
		s.warn("cache corrupt, starting empty", "path", path, "error", err)
		return s
	}
	s.entries = f.Entries
	return s
}

// Get returns the entry recorded for a task name.
func (s *Store) Get(task string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[task]
	return e, ok
}

// Put records an entry for a task name. The write becomes durable on the
// next Flush.
func (s *Store) Put(task string, entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[task] = entry
	s.dirty = true
}

// Flush writes the record to disk using a temp-file-then-rename so a
// concurrent reader never observes a partial file. A failed flush is
// returned for logging but must not fail the run.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty || s.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp cache file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("renaming cache file to %q: %w", s.path, err)
	}

	s.dirty = false
	return nil
}

func (s *Store) warn(msg string, kvs ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kvs...)
	}
}
