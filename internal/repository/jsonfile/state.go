package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"torrentd/internal/domain"
)

// StateRepository keeps the application state as a single pretty-printed
// JSON file. Writes go through a temp file and rename so a crash never
// leaves a half-written document.
type StateRepository struct {
	path string
}

func NewStateRepository(path string) *StateRepository {
	return &StateRepository{path: path}
}

func (r *StateRepository) Load(_ context.Context) (domain.AppState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.AppState{}, nil
		}
		return domain.AppState{}, fmt.Errorf("read state file: %w", err)
	}
	var state domain.AppState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.AppState{}, fmt.Errorf("decode state file: %w", err)
	}
	return state, nil
}

func (r *StateRepository) Save(_ context.Context, state domain.AppState) error {
	if state.Torrents == nil {
		state.Torrents = []domain.TorrentStateEntry{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create state temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
