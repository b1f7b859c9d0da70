package apihttp

import (
	"encoding/json"
	"net/http"

	"torrentd/internal/domain"
)

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "settings are not available")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.Effective())
	case http.MethodPut:
		var batch domain.SettingsMap
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		if len(batch) == 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "empty settings batch")
			return
		}
		writeJSON(w, http.StatusOK, s.settings.Apply(batch))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
