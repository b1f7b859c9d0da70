package domain

// AlertKind is the closed enumeration of engine event categories the
// dispatcher consumes. Anything else coming off the engine's queue is
// dropped without error.
type AlertKind string

const (
	AlertMetadataReceived AlertKind = "metadata_received"
	AlertMetadataFailed   AlertKind = "metadata_failed"
	AlertTorrentFinished  AlertKind = "torrent_finished"
	AlertTorrentError     AlertKind = "torrent_error"
	AlertResumeDataSaved  AlertKind = "resume_data_saved"
	AlertResumeDataFailed AlertKind = "resume_data_failed"
)

// Alert is one engine event, carrying only the fields the dispatcher
// actually consumes. Resume payloads arrive either pre-serialized
// (ResumeData) or as a structured map (ResumeFields) that must be
// serialized before writing; at most one of the two is set.
type Alert struct {
	Kind         AlertKind
	InfoHash     InfoHash
	Err          string
	ResumeData   []byte
	ResumeFields map[string]any
}
