package apihttp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"torrentd/internal/domain"
)

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrHandleInvalid):
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
	case errors.Is(err, domain.ErrInvalidSource):
		writeError(w, http.StatusBadRequest, "invalid_request", "exactly one of magnet or torrent must be set")
	case errors.Is(err, domain.ErrInvalidFileIndex):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file index")
	case errors.Is(err, domain.ErrInvalidPriority):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid priority")
	case errors.Is(err, domain.ErrNoMetadata):
		writeError(w, http.StatusConflict, "no_metadata", "torrent metadata not available yet")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// saveUploadedFile persists an uploaded metainfo file to a temp path the
// engine can read.
func saveUploadedFile(src io.Reader, filename string) (string, error) {
	base := strings.TrimSpace(filename)
	if base == "" {
		base = "torrent"
	}
	base = strings.ReplaceAll(base, string(os.PathSeparator), "_")
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext)
	pattern := prefix + "-*" + ext

	out, err := os.CreateTemp(os.TempDir(), pattern)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return "", err
	}

	return out.Name(), nil
}

// splitTorrentPath splits "/torrents/<id>[/rest...]" into the id and the
// remaining subpath.
func splitTorrentPath(path string) (id string, rest []string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/torrents/"), "/")
	if trimmed == "" {
		return "", nil
	}
	parts := strings.Split(trimmed, "/")
	return parts[0], parts[1:]
}
