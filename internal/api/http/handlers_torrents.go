package apihttp

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"torrentd/internal/domain"
)

type addTorrentRequest struct {
	Magnet   string `json:"magnet,omitempty"`
	Torrent  string `json:"torrent,omitempty"`
	SavePath string `json:"savePath,omitempty"`
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.manager.List())
	case http.MethodPost:
		s.handleAddTorrent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	var req addTorrentRequest

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(16 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("torrent")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "torrent file is required")
			return
		}
		defer file.Close()
		path, err := saveUploadedFile(file, header.Filename)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to store uploaded file")
			return
		}
		req.Torrent = path
		req.SavePath = r.FormValue("savePath")
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
	}

	savePath := strings.TrimSpace(req.SavePath)
	if savePath == "" {
		savePath = s.defaultSaveDir
	}

	src := domain.TorrentSource{Magnet: strings.TrimSpace(req.Magnet), Torrent: strings.TrimSpace(req.Torrent)}
	snap, err := s.manager.Add(r.Context(), src, savePath)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleTorrentByID(w http.ResponseWriter, r *http.Request) {
	id, rest := splitTorrentPath(r.URL.Path)
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "torrent id is required")
		return
	}
	hash := domain.InfoHash(id)

	switch {
	case len(rest) == 0:
		s.handleTorrentRoot(w, r, hash)
	case len(rest) == 1 && rest[0] == "pause":
		s.handlePause(w, r, hash)
	case len(rest) == 1 && rest[0] == "resume":
		s.handleResume(w, r, hash)
	case len(rest) == 1 && rest[0] == "recheck":
		s.handleRecheck(w, r, hash)
	case len(rest) == 3 && rest[0] == "files" && rest[2] == "priority":
		s.handleFilePriority(w, r, hash, rest[1])
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
	}
}

func (s *Server) handleTorrentRoot(w http.ResponseWriter, r *http.Request, hash domain.InfoHash) {
	switch r.Method {
	case http.MethodGet:
		snap, err := s.manager.Status(hash)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case http.MethodDelete:
		deleteFiles := r.URL.Query().Get("deleteFiles") == "true"
		if err := s.manager.Remove(r.Context(), hash, deleteFiles); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request, hash domain.InfoHash) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err := s.manager.Pause(hash); err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := s.manager.Status(hash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request, hash domain.InfoHash) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err := s.manager.Resume(hash); err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := s.manager.Status(hash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRecheck(w http.ResponseWriter, r *http.Request, hash domain.InfoHash) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err := s.manager.Recheck(hash); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type filePriorityRequest struct {
	Priority string `json:"priority"`
}

func (s *Server) handleFilePriority(w http.ResponseWriter, r *http.Request, hash domain.InfoHash, rawIndex string) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	index, err := strconv.Atoi(rawIndex)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file index")
		return
	}
	var req filePriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	prio, err := domain.ParseFilePriority(req.Priority)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.manager.SetFilePriority(hash, index, prio); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
