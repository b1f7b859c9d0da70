package ports

import (
	"context"

	"torrentd/internal/domain"
)

// StateRepository persists the application state document used to replay
// torrents at startup.
type StateRepository interface {
	// Load reads the last saved state. A missing document returns an empty
	// state, not an error.
	Load(ctx context.Context) (domain.AppState, error)

	// Save atomically replaces the state document.
	Save(ctx context.Context, state domain.AppState) error
}

// ResumeStore persists per-torrent resume payloads keyed by info-hash.
type ResumeStore interface {
	// Save writes the resume blob for hash, replacing any previous one.
	Save(hash domain.InfoHash, data []byte) error

	// Load reads the resume blob for hash. Missing blobs return (nil, nil).
	Load(hash domain.InfoHash) ([]byte, error)

	// Delete removes the resume blob for hash. Missing blobs are not an
	// error.
	Delete(hash domain.InfoHash) error
}
