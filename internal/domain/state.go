package domain

// AppState is the application state document replayed at startup and written
// at shutdown and after settings changes.
type AppState struct {
	Torrents []TorrentStateEntry `json:"torrents"`
	Settings SettingsMap         `json:"settings,omitempty"`
}

// TorrentStateEntry is the persisted footprint of one tracked torrent: just
// enough to replay the add call with the resume blob loaded from the resume
// store.
type TorrentStateEntry struct {
	Source    TorrentSource `json:"source"`
	SavePath  string        `json:"savePath"`
	InfoHash  InfoHash      `json:"infoHash"`
	Completed bool          `json:"completed"`
}
