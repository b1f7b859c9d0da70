package anacrolix

import (
	"fmt"
	"log/slog"
	"time"

	"torrentd/internal/domain"
)

// Handle is a by-hash reference into the engine. It stays cheap to copy and
// never caches torrent pointers, so a removed torrent turns every method
// into a domain.ErrHandleInvalid without any lifetime juggling.
type Handle struct {
	engine *Engine
	hash   domain.InfoHash
}

func (h *Handle) InfoHash() domain.InfoHash { return h.hash }

func (h *Handle) Valid() bool {
	return h.engine.getState(h.hash) != nil
}

func (h *Handle) Name() string {
	st := h.engine.getState(h.hash)
	if st == nil || !torrentInfoReady(st.t) {
		return ""
	}
	return st.t.Name()
}

func (h *Handle) Status() (domain.HandleStatus, error) {
	st := h.engine.getState(h.hash)
	if st == nil {
		return domain.HandleStatus{}, domain.ErrHandleInvalid
	}
	t := st.t
	stats := t.Stats()
	speeds := h.engine.sampleSpeed(h.hash, stats, time.Now().UTC())

	h.engine.mu.RLock()
	paused := st.paused
	checking := st.checking
	h.engine.mu.RUnlock()

	out := domain.HandleStatus{
		HasMetadata:         torrentInfoReady(t),
		Paused:              paused,
		Checking:            checking,
		DownloadRate:        speeds.download,
		UploadRate:          speeds.upload,
		PayloadDownloadRate: speeds.payloadDownload,
		PayloadUploadRate:   speeds.payloadUpload,
		Seeds:               stats.ConnectedSeeders,
		Peers:               stats.ActivePeers,
		TotalSeeds:          stats.ConnectedSeeders,
		TotalPeers:          stats.TotalPeers,
		DownloadedBytes:     stats.BytesReadUsefulData.Int64(),
		UploadedBytes:       stats.BytesWrittenData.Int64(),
	}
	if out.HasMetadata {
		out.TotalBytes = t.Length()
		out.DoneBytes = t.BytesCompleted()
		if out.TotalBytes > 0 {
			out.Progress = float64(out.DoneBytes) / float64(out.TotalBytes)
		}
	}
	return out, nil
}

func (h *Handle) Metadata() (domain.Metadata, bool) {
	st := h.engine.getState(h.hash)
	if st == nil || !torrentInfoReady(st.t) {
		return domain.Metadata{}, false
	}
	t := st.t
	info := t.Info()
	files := t.Files()
	meta := domain.Metadata{
		PieceCount:  t.NumPieces(),
		PieceLength: info.PieceLength,
		Files:       make([]domain.FileInfo, 0, len(files)),
	}
	for i, f := range files {
		meta.Files = append(meta.Files, domain.FileInfo{
			Index:  i,
			Path:   f.Path(),
			Length: f.Length(),
		})
	}
	return meta, true
}

func (h *Handle) Pause() error {
	st := h.engine.getState(h.hash)
	if st == nil {
		return domain.ErrHandleInvalid
	}
	h.engine.mu.Lock()
	st.paused = true
	h.engine.mu.Unlock()
	hardPauseTorrent(st.t)
	return nil
}

func (h *Handle) Resume() error {
	st := h.engine.getState(h.hash)
	if st == nil {
		return domain.ErrHandleInvalid
	}
	h.engine.mu.Lock()
	st.paused = false
	h.engine.mu.Unlock()
	h.engine.resumeTorrent(st.t)
	// Kick trackers and the DHT so peers show up quickly after a resume.
	if err := h.ForceReannounce(); err != nil {
		return err
	}
	return h.ForceDHTAnnounce()
}

// ForceRecheck re-verifies the payload on disk. Verification runs in the
// background; Status reports Checking until it finishes. The completion edge
// is re-armed so a torrent that verifies complete signals finished again.
func (h *Handle) ForceRecheck() error {
	st := h.engine.getState(h.hash)
	if st == nil {
		return domain.ErrHandleInvalid
	}
	if !torrentInfoReady(st.t) {
		return domain.ErrNoMetadata
	}

	h.engine.mu.Lock()
	if st.checking {
		h.engine.mu.Unlock()
		return nil
	}
	st.checking = true
	st.finishedSeen = false
	h.engine.mu.Unlock()

	go func() {
		st.t.VerifyData()
		h.engine.mu.Lock()
		st.checking = false
		h.engine.mu.Unlock()
	}()
	return nil
}

// ForceReannounce is a hint. The anacrolix client runs its own tracker
// announce scheduler with no public nudge, so the hint is logged and the
// scheduler is left to its own timing.
func (h *Handle) ForceReannounce() error {
	st := h.engine.getState(h.hash)
	if st == nil {
		return domain.ErrHandleInvalid
	}
	h.engine.log.Debug("tracker reannounce requested",
		slog.String("infoHash", string(h.hash)))
	return nil
}

// ForceDHTAnnounce is a hint, same as ForceReannounce.
func (h *Handle) ForceDHTAnnounce() error {
	st := h.engine.getState(h.hash)
	if st == nil {
		return domain.ErrHandleInvalid
	}
	h.engine.log.Debug("dht announce requested",
		slog.String("infoHash", string(h.hash)))
	return nil
}

// SaveResumeData builds a resume payload from the current torrent state and
// delivers it through the alert queue. Without metadata there is nothing
// worth saving and the failure alert says so.
func (h *Handle) SaveResumeData() error {
	st := h.engine.getState(h.hash)
	if st == nil {
		return domain.ErrHandleInvalid
	}
	t := st.t
	go func() {
		if !torrentInfoReady(t) {
			h.engine.pushAlert(domain.Alert{
				Kind:     domain.AlertResumeDataFailed,
				InfoHash: h.hash,
				Err:      "no metadata",
			})
			return
		}
		data, err := encodeResumeData(buildResumeFields(h.hash, st))
		if err != nil {
			h.engine.pushAlert(domain.Alert{
				Kind:     domain.AlertResumeDataFailed,
				InfoHash: h.hash,
				Err:      err.Error(),
			})
			return
		}
		h.engine.pushAlert(domain.Alert{
			Kind:       domain.AlertResumeDataSaved,
			InfoHash:   h.hash,
			ResumeData: data,
		})
	}()
	return nil
}

func (h *Handle) SetFilePriority(index int, prio domain.FilePriority) error {
	st := h.engine.getState(h.hash)
	if st == nil {
		return domain.ErrHandleInvalid
	}
	if !torrentInfoReady(st.t) {
		return domain.ErrNoMetadata
	}
	files := st.t.Files()
	if index < 0 || index >= len(files) {
		return domain.ErrInvalidFileIndex
	}
	target, err := mapPriority(prio)
	if err != nil {
		return err
	}
	files[index].SetPriority(target)
	return nil
}

func (h *Handle) FilePriorities() ([]domain.FilePriority, error) {
	st := h.engine.getState(h.hash)
	if st == nil {
		return nil, domain.ErrHandleInvalid
	}
	if !torrentInfoReady(st.t) {
		return nil, domain.ErrNoMetadata
	}
	files := st.t.Files()
	out := make([]domain.FilePriority, 0, len(files))
	for _, f := range files {
		out = append(out, unmapPriority(f.Priority()))
	}
	return out, nil
}

func (h *Handle) FileProgress() ([]domain.FileStatus, error) {
	st := h.engine.getState(h.hash)
	if st == nil {
		return nil, domain.ErrHandleInvalid
	}
	if !torrentInfoReady(st.t) {
		return nil, domain.ErrNoMetadata
	}
	files := st.t.Files()
	out := make([]domain.FileStatus, 0, len(files))
	for i, f := range files {
		fs := domain.FileStatus{
			Index:      i,
			Path:       f.Path(),
			Length:     f.Length(),
			Downloaded: f.BytesCompleted(),
			Priority:   unmapPriority(f.Priority()),
		}
		if fs.Length > 0 {
			fs.Progress = float64(fs.Downloaded) / float64(fs.Length) * 100
		}
		out = append(out, fs)
	}
	return out, nil
}

func (h *Handle) Peers() []domain.PeerSummary {
	st := h.engine.getState(h.hash)
	if st == nil {
		return nil
	}
	conns := st.t.PeerConns()
	out := make([]domain.PeerSummary, 0, len(conns))
	for _, pc := range conns {
		stats := pc.Stats()
		summary := domain.PeerSummary{
			Network:         pc.Network,
			Source:          string(pc.Discovery),
			Client:          fmt.Sprintf("%v", pc.PeerClientName.Load()),
			DownloadRate:    int64(stats.DownloadRate),
			DownloadedBytes: stats.BytesReadUsefulData.Int64(),
			UploadedBytes:   stats.BytesWrittenData.Int64(),
		}
		if pc.RemoteAddr != nil {
			summary.Addr = pc.RemoteAddr.String()
		}
		out = append(out, summary)
	}
	return out
}
