package domain

import (
	"errors"
	"time"
)

// TorrentRecord is the registry's view of one active torrent. One record
// exists per identity hash; it is created on a successful add and deleted on
// remove.
type TorrentRecord struct {
	InfoHash  InfoHash      `json:"infoHash"`
	Source    TorrentSource `json:"source"`
	SavePath  string        `json:"savePath"`
	AddedAt   time.Time     `json:"addedAt"`
	Completed bool          `json:"completed"`
	LastError string        `json:"lastError,omitempty"`
	Metadata  *Metadata     `json:"metadata,omitempty"`
}

// Metadata is the cached content descriptor, populated once and immutable
// afterwards. Absent for magnet links until metadata is fetched.
type Metadata struct {
	PieceCount  int        `json:"pieceCount"`
	PieceLength int64      `json:"pieceLength"`
	Files       []FileInfo `json:"files"`
}

type FileInfo struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Length int64  `json:"length"`
}

// Validate checks domain invariants for TorrentRecord.
func (r TorrentRecord) Validate() error {
	if r.InfoHash == "" {
		return errors.New("infoHash is required")
	}
	if err := r.Source.Validate(); err != nil {
		return err
	}
	if r.SavePath == "" {
		return errors.New("savePath is required")
	}
	return nil
}
