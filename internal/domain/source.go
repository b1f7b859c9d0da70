package domain

import "strings"

// InfoHash is the hex-encoded content identifier assigned by the engine once
// the content descriptor is known.
type InfoHash string

// TorrentSource is the original add-specification for a torrent: exactly one
// of Magnet (a magnet URI) or Torrent (a path to a .torrent file) is set.
type TorrentSource struct {
	Magnet  string `json:"magnet,omitempty"`
	Torrent string `json:"torrent,omitempty"`
}

func (s TorrentSource) IsMagnet() bool {
	return strings.TrimSpace(s.Magnet) != ""
}

// Validate reports whether exactly one source form is present.
func (s TorrentSource) Validate() error {
	hasMagnet := strings.TrimSpace(s.Magnet) != ""
	hasTorrent := strings.TrimSpace(s.Torrent) != ""
	if hasMagnet == hasTorrent {
		return ErrInvalidSource
	}
	return nil
}

// AddSpec is the descriptor handed to the engine adapter when adding a
// torrent. ResumeData is only ever set for file-backed sources; magnet adds
// defer resume application until metadata arrives.
type AddSpec struct {
	Source     TorrentSource
	SavePath   string
	ResumeData []byte
	Completed  bool
}
