package domain

import "errors"

// FilePriority is an ordered enumeration of per-file download priorities.
// The numeric encoding the engine uses underneath is adapter-internal.
type FilePriority string

const (
	PrioritySkip    FilePriority = "skip"
	PriorityNormal  FilePriority = "normal"
	PriorityHigh    FilePriority = "high"
	PriorityMaximal FilePriority = "maximal"
)

var ErrInvalidPriority = errors.New("invalid file priority")

// ParseFilePriority maps the wire representation to a FilePriority.
func ParseFilePriority(raw string) (FilePriority, error) {
	switch FilePriority(raw) {
	case PrioritySkip, PriorityNormal, PriorityHigh, PriorityMaximal:
		return FilePriority(raw), nil
	default:
		return "", ErrInvalidPriority
	}
}
