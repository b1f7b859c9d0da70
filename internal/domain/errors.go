package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNoMetadata       = errors.New("metadata not available")
	ErrInvalidFileIndex = errors.New("invalid file index")
	ErrHandleInvalid    = errors.New("torrent handle invalid")
	ErrInvalidSource    = errors.New("invalid torrent source")
)
