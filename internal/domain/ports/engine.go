package ports

import (
	"context"

	"torrentd/internal/domain"
)

// Engine is the BitTorrent engine boundary. Implementations own the native
// session and expose torrents through opaque handles.
type Engine interface {
	// AddTorrent registers the torrent described by spec and returns its
	// handle. Adding an already-tracked torrent returns the existing handle.
	AddTorrent(ctx context.Context, spec domain.AddSpec) (Handle, error)

	// RemoveTorrent drops the torrent from the session. When deleteFiles is
	// set the downloaded payload is removed from disk as well.
	RemoveTorrent(h Handle, deleteFiles bool) error

	// PopAlerts drains and returns the pending engine events. The returned
	// slice is owned by the caller.
	PopAlerts() []domain.Alert

	// ApplySetting applies a single session setting. A rejected key returns
	// an error without affecting other settings.
	ApplySetting(key string, value any) error

	// Settings reports the effective session settings as the engine sees
	// them, which may differ from what was last requested.
	Settings() domain.SettingsMap

	Close() error
}

// Handle is a live reference to one torrent inside the engine. Handles go
// invalid once the torrent is removed; every method tolerates that and
// reports domain.ErrHandleInvalid where a result is expected.
type Handle interface {
	InfoHash() domain.InfoHash
	Valid() bool
	Name() string

	// Status reads the raw transfer counters. Zero value with
	// domain.ErrHandleInvalid after removal.
	Status() (domain.HandleStatus, error)

	// Metadata returns the torrent's file layout once known. The bool is
	// false while metadata is still being fetched.
	Metadata() (domain.Metadata, bool)

	// Pause stops transfers and detaches the torrent from automatic
	// management so the engine will not restart it.
	Pause() error

	// Resume re-enables transfers, restores automatic management and
	// reannounces to trackers and the DHT.
	Resume() error

	// ForceRecheck re-verifies the payload on disk against the piece hashes.
	ForceRecheck() error

	ForceReannounce() error
	ForceDHTAnnounce() error

	// SaveResumeData asks the engine to emit a resume payload. The result
	// arrives later as an AlertResumeDataSaved or AlertResumeDataFailed.
	SaveResumeData() error

	// SetFilePriority changes the download priority of one file.
	// domain.ErrNoMetadata before metadata, domain.ErrInvalidFileIndex when
	// out of range.
	SetFilePriority(index int, prio domain.FilePriority) error

	// FilePriorities returns the current per-file priorities in file order.
	FilePriorities() ([]domain.FilePriority, error)

	// FileProgress returns per-file completion in file order.
	FileProgress() ([]domain.FileStatus, error)

	// Peers summarizes the currently connected peers.
	Peers() []domain.PeerSummary
}
