package resume

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"torrentd/internal/domain"
)

// Store keeps resume payloads as one file per torrent under a single
// directory, named <info-hash>.fastresume. When the directory cannot be
// created the store degrades: writes are skipped with a warning and reads
// report nothing, but the rest of the application keeps running.
type Store struct {
	dir string
	log *slog.Logger

	mu       sync.Mutex
	ready    bool
	degraded bool
}

func NewStore(dir string, log *slog.Logger) *Store {
	return &Store{dir: dir, log: log}
}

// ensureDir creates the directory on first use. Failure flips the store
// into degraded mode once and is not retried.
func (s *Store) ensureDir() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return true
	}
	if s.degraded {
		return false
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.degraded = true
		s.log.Warn("resume store unavailable, resume data will not be persisted",
			slog.String("dir", s.dir),
			slog.String("error", err.Error()))
		return false
	}
	s.ready = true
	return true
}

// Degraded reports whether the store gave up on its directory.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) path(hash domain.InfoHash) string {
	return filepath.Join(s.dir, string(hash)+".fastresume")
}

// Save writes the resume blob atomically via a temp file and rename so a
// crash mid-write never leaves a truncated blob behind.
func (s *Store) Save(hash domain.InfoHash, data []byte) error {
	if !s.ensureDir() {
		return nil
	}
	tmp, err := os.CreateTemp(s.dir, string(hash)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create resume temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write resume data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close resume temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(hash)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename resume file: %w", err)
	}
	return nil
}

// Load returns the stored blob byte for byte, or (nil, nil) when none exists.
func (s *Store) Load(hash domain.InfoHash) ([]byte, error) {
	if !s.ensureDir() {
		return nil, nil
	}
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read resume data: %w", err)
	}
	return data, nil
}

// Delete removes the blob for hash. Missing files are fine.
func (s *Store) Delete(hash domain.InfoHash) error {
	if !s.ensureDir() {
		return nil
	}
	if err := os.Remove(s.path(hash)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete resume data: %w", err)
	}
	return nil
}
