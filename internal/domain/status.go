package domain

import (
	"math"
	"strconv"
	"time"
)

// TorrentState is the user-facing lifecycle state shown in snapshots.
// When several conditions hold at once the precedence is
// error > fetching-metadata > paused > checking > seeding/downloading.
type TorrentState string

const (
	StateError            TorrentState = "error"
	StateFetchingMetadata TorrentState = "fetching_metadata"
	StatePaused           TorrentState = "paused"
	StateChecking         TorrentState = "checking"
	StateDownloading      TorrentState = "downloading"
	StateSeeding          TorrentState = "seeding"
)

// SnapshotSchemaVersion identifies the StatusSnapshot layout for consumers
// that persist or relay snapshots.
const SnapshotSchemaVersion = 1

// ETASeconds is a duration in seconds where the infinite value means the
// completion time is undefined (idle transfer or nothing left to measure).
// It marshals as -1 so the JSON stays valid.
type ETASeconds float64

func InfiniteETA() ETASeconds { return ETASeconds(math.Inf(1)) }

func (e ETASeconds) IsInfinite() bool { return math.IsInf(float64(e), 1) }

func (e ETASeconds) MarshalJSON() ([]byte, error) {
	if e.IsInfinite() || math.IsNaN(float64(e)) {
		return []byte("-1"), nil
	}
	return []byte(strconv.FormatFloat(float64(e), 'f', -1, 64)), nil
}

func (e *ETASeconds) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	if v < 0 {
		*e = InfiniteETA()
		return nil
	}
	*e = ETASeconds(v)
	return nil
}

// HandleStatus is the raw per-handle status read from the engine adapter.
type HandleStatus struct {
	HasMetadata         bool
	Paused              bool
	Checking            bool
	Progress            float64 // 0..1
	DownloadRate        int64   // bytes/s, protocol + payload
	UploadRate          int64
	PayloadDownloadRate int64 // bytes/s, payload only
	PayloadUploadRate   int64
	Seeds               int
	Peers               int
	TotalSeeds          int
	TotalPeers          int
	TotalBytes          int64
	DoneBytes           int64
	DownloadedBytes     int64 // payload total since add
	UploadedBytes       int64
}

// FileStatus is the per-file projection inside a snapshot.
type FileStatus struct {
	Index      int          `json:"index"`
	Path       string       `json:"path"`
	Length     int64        `json:"length"`
	Downloaded int64        `json:"downloaded"`
	Progress   float64      `json:"progress"` // 0..100
	Priority   FilePriority `json:"priority"`
}

// PeerSummary is the per-peer projection inside a snapshot.
type PeerSummary struct {
	Addr            string `json:"addr"`
	Client          string `json:"client"`
	Network         string `json:"network"` // tcp / utp / webrtc
	Source          string `json:"source,omitempty"`
	DownloadRate    int64  `json:"downloadRate"`
	DownloadedBytes int64  `json:"downloadedBytes"`
	UploadedBytes   int64  `json:"uploadedBytes"`
}

// StatusSnapshot is the derived, UI-ready view of one torrent. It is
// recomputed on every status request and never persisted.
type StatusSnapshot struct {
	SchemaVersion int           `json:"schemaVersion"`
	InfoHash      InfoHash      `json:"infoHash"`
	Name          string        `json:"name"`
	State         TorrentState  `json:"state"`
	SavePath      string        `json:"savePath"`
	Progress      float64       `json:"progress"` // 0..100
	DownloadRate  int64         `json:"downloadRate"`
	UploadRate    int64         `json:"uploadRate"`
	Seeds         int           `json:"seeds"`
	Peers         int           `json:"peers"`
	TotalSeeds    int           `json:"totalSeeds"`
	TotalPeers    int           `json:"totalPeers"`
	TotalBytes    int64         `json:"totalBytes"`
	DoneBytes     int64         `json:"doneBytes"`
	ETA           ETASeconds    `json:"eta"`
	Ratio         float64       `json:"ratio"`
	PieceCount    int           `json:"pieceCount,omitempty"`
	PieceLength   int64         `json:"pieceLength,omitempty"`
	Files         []FileStatus  `json:"files,omitempty"`
	PeerList      []PeerSummary `json:"peerList,omitempty"`
	HasMetadata   bool          `json:"hasMetadata"`
	Completed     bool          `json:"completed"`
	Error         string        `json:"error,omitempty"`
	AddedAt       time.Time     `json:"addedAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// AggregateSnapshot is the global view across all tracked torrents.
type AggregateSnapshot struct {
	Torrents     int       `json:"torrents"`
	DownloadRate int64     `json:"downloadRate"`
	UploadRate   int64     `json:"uploadRate"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ComputeETA returns the estimated seconds to completion. The value is
// infinite whenever the payload rate is zero or nothing remains to download:
// an idle transfer has an undefined completion time, not an imminent one.
func ComputeETA(totalBytes, doneBytes, payloadDownloadRate int64) ETASeconds {
	if payloadDownloadRate <= 0 || doneBytes >= totalBytes {
		return InfiniteETA()
	}
	return ETASeconds(float64(totalBytes-doneBytes) / float64(payloadDownloadRate))
}

// ComputeRatio returns uploaded/downloaded, or 0 before anything was
// downloaded.
func ComputeRatio(uploadedBytes, downloadedBytes int64) float64 {
	if downloadedBytes <= 0 {
		return 0
	}
	return float64(uploadedBytes) / float64(downloadedBytes)
}

// DeriveState applies the snapshot state precedence to the record overlay
// and the raw handle status.
func DeriveState(lastError string, hasMetadata, paused bool, st HandleStatus) TorrentState {
	switch {
	case lastError != "":
		return StateError
	case !hasMetadata:
		return StateFetchingMetadata
	case paused || st.Paused:
		return StatePaused
	case st.Checking:
		return StateChecking
	case st.TotalBytes > 0 && st.DoneBytes >= st.TotalBytes:
		return StateSeeding
	default:
		return StateDownloading
	}
}
