package client

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
	"torrentd/internal/metrics"
)

const (
	defaultAlertInterval  = 100 * time.Millisecond
	defaultStatusInterval = time.Second
	defaultShutdownGrace  = 2 * time.Second
)

type Config struct {
	AlertInterval  time.Duration
	StatusInterval time.Duration
	// ShutdownGrace is how long Stop keeps draining alerts after requesting
	// resume data for every torrent, so the save results can land on disk.
	ShutdownGrace time.Duration
}

type entry struct {
	record domain.TorrentRecord
	handle ports.Handle
	paused bool
	// recheckOnMetadata defers the disk recheck of a previously-completed
	// magnet add until metadata arrives. Before that there is nothing to
	// verify against.
	recheckOnMetadata bool
}

// Manager owns the torrent registry and runs the alert and status loops. It
// is the single writer of torrent records; the engine is only ever reached
// through the handles stored here.
type Manager struct {
	engine ports.Engine
	resume ports.ResumeStore
	log    *slog.Logger

	alertInterval  time.Duration
	statusInterval time.Duration
	shutdownGrace  time.Duration

	mu      sync.Mutex
	entries map[domain.InfoHash]*entry

	notifyMu  sync.RWMutex
	notifiers []ports.Notifier

	cancel  context.CancelFunc
	done    sync.WaitGroup
	started bool
}

func NewManager(engine ports.Engine, resumeStore ports.ResumeStore, log *slog.Logger, cfg Config) *Manager {
	if cfg.AlertInterval <= 0 {
		cfg.AlertInterval = defaultAlertInterval
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = defaultStatusInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	return &Manager{
		engine:         engine,
		resume:         resumeStore,
		log:            log,
		alertInterval:  cfg.AlertInterval,
		statusInterval: cfg.StatusInterval,
		shutdownGrace:  cfg.ShutdownGrace,
		entries:        make(map[domain.InfoHash]*entry),
	}
}

// Subscribe registers a notifier for push updates. Must be called before
// Start.
func (m *Manager) Subscribe(n ports.Notifier) {
	m.notifyMu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.notifyMu.Unlock()
}

// Start launches the alert dispatcher and the status loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.done.Add(2)
	go func() {
		defer m.done.Done()
		m.runDispatcher(loopCtx)
	}()
	go func() {
		defer m.done.Done()
		m.runStatusLoop(loopCtx)
	}()
}

// Stop requests resume data for every tracked torrent, keeps the alert loop
// draining for the shutdown grace period so the saves land on disk, then
// stops both loops.
func (m *Manager) Stop(ctx context.Context) {
	m.SaveAllResumeData()

	grace := time.NewTimer(m.shutdownGrace)
	defer grace.Stop()
	select {
	case <-grace.C:
	case <-ctx.Done():
	}

	if m.cancel != nil {
		m.cancel()
	}
	m.done.Wait()

	// One final synchronous drain catches saves that raced the loop exit.
	m.drainAlerts()
}

// Add registers a new torrent from a magnet link or a metainfo file path.
// Adding a torrent that is already tracked returns the existing torrent's
// snapshot unchanged.
func (m *Manager) Add(ctx context.Context, src domain.TorrentSource, savePath string) (domain.StatusSnapshot, error) {
	if err := src.Validate(); err != nil {
		return domain.StatusSnapshot{}, err
	}
	return m.addSpec(ctx, domain.AddSpec{Source: src, SavePath: savePath})
}

// addSpec is the single add path shared by Add and Restore. The recheck
// policy lives here: a file-backed add with resume data or a completed hint
// is rechecked immediately, a magnet add defers the recheck until metadata
// arrives. Magnet adds never hand resume data to the engine; the blob only
// describes a file layout the engine does not know yet.
func (m *Manager) addSpec(ctx context.Context, spec domain.AddSpec) (domain.StatusSnapshot, error) {
	deferredRecheck := false
	if spec.Source.IsMagnet() {
		deferredRecheck = spec.Completed || len(spec.ResumeData) > 0
		spec.ResumeData = nil
	}

	handle, err := m.engine.AddTorrent(ctx, spec)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	hash := handle.InfoHash()

	m.mu.Lock()
	if existing, ok := m.entries[hash]; ok {
		rec := existing.record
		h := existing.handle
		paused := existing.paused
		m.mu.Unlock()
		return m.buildSnapshot(rec, h, paused, false), nil
	}

	ent := &entry{
		record: domain.TorrentRecord{
			InfoHash:  hash,
			Source:    spec.Source,
			SavePath:  spec.SavePath,
			AddedAt:   time.Now().UTC(),
			Completed: spec.Completed,
		},
		handle: handle,
	}
	if meta, ok := handle.Metadata(); ok {
		ent.record.Metadata = &meta
	}
	ent.recheckOnMetadata = deferredRecheck && ent.record.Metadata == nil
	m.entries[hash] = ent
	rec := ent.record
	paused := ent.paused
	m.mu.Unlock()

	immediateRecheck := !spec.Source.IsMagnet() && (len(spec.ResumeData) > 0 || spec.Completed)
	if deferredRecheck && rec.Metadata != nil {
		immediateRecheck = true
	}
	if immediateRecheck {
		if err := handle.ForceRecheck(); err != nil {
			m.log.Warn("recheck after add failed",
				slog.String("infoHash", string(hash)),
				slog.String("error", err.Error()))
		}
	}

	metrics.ActiveTorrents.Inc()
	m.log.Info("torrent added",
		slog.String("infoHash", string(hash)),
		slog.Bool("magnet", spec.Source.IsMagnet()),
		slog.Bool("completed", spec.Completed))

	snap := m.buildSnapshot(rec, handle, paused, false)
	m.notifyAdded(snap)
	return snap, nil
}

// Restore replays persisted torrents into the engine, attaching each one's
// resume blob where the add policy allows it. Entries that fail to add are
// logged and skipped so one bad record cannot block the rest.
func (m *Manager) Restore(ctx context.Context, state domain.AppState) {
	for _, e := range state.Torrents {
		blob, err := m.resume.Load(e.InfoHash)
		if err != nil {
			m.log.Warn("failed to load resume data",
				slog.String("infoHash", string(e.InfoHash)),
				slog.String("error", err.Error()))
		}
		spec := domain.AddSpec{
			Source:     e.Source,
			SavePath:   e.SavePath,
			ResumeData: blob,
			Completed:  e.Completed,
		}
		if _, err := m.addSpec(ctx, spec); err != nil {
			m.log.Error("failed to restore torrent",
				slog.String("infoHash", string(e.InfoHash)),
				slog.String("error", err.Error()))
		}
	}
}

// Remove drops a torrent from the registry and the engine. A last resume
// save is requested first so re-adding later starts from the freshest state,
// then the stored blob is deleted because the torrent is gone on purpose.
// Removing an unknown torrent is a no-op.
func (m *Manager) Remove(ctx context.Context, hash domain.InfoHash, deleteFiles bool) error {
	m.mu.Lock()
	ent, ok := m.entries[hash]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.entries, hash)
	m.mu.Unlock()

	if err := ent.handle.SaveResumeData(); err != nil {
		m.log.Debug("final resume save skipped",
			slog.String("infoHash", string(hash)),
			slog.String("error", err.Error()))
	}

	if err := m.engine.RemoveTorrent(ent.handle, deleteFiles); err != nil {
		m.log.Warn("engine remove failed",
			slog.String("infoHash", string(hash)),
			slog.String("error", err.Error()))
	}

	if err := m.resume.Delete(hash); err != nil {
		m.log.Warn("failed to delete resume data",
			slog.String("infoHash", string(hash)),
			slog.String("error", err.Error()))
	}

	metrics.ActiveTorrents.Dec()
	m.log.Info("torrent removed",
		slog.String("infoHash", string(hash)),
		slog.Bool("deleteFiles", deleteFiles))
	return nil
}

// Pause halts transfers for one torrent. The paused flag also forces zeroed
// rates in snapshots, so a stale engine sample cannot show a paused torrent
// moving.
func (m *Manager) Pause(hash domain.InfoHash) error {
	m.mu.Lock()
	ent, ok := m.entries[hash]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	ent.paused = true
	handle := ent.handle
	m.mu.Unlock()
	return handle.Pause()
}

func (m *Manager) Resume(hash domain.InfoHash) error {
	m.mu.Lock()
	ent, ok := m.entries[hash]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	ent.paused = false
	handle := ent.handle
	m.mu.Unlock()
	return handle.Resume()
}

// Recheck asks the engine to re-verify on-disk content against the metadata.
func (m *Manager) Recheck(hash domain.InfoHash) error {
	m.mu.Lock()
	ent, ok := m.entries[hash]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	handle := ent.handle
	m.mu.Unlock()
	return handle.ForceRecheck()
}

func (m *Manager) SetFilePriority(hash domain.InfoHash, index int, prio domain.FilePriority) error {
	m.mu.Lock()
	ent, ok := m.entries[hash]
	if !ok {
		m.mu.Unlock()
		return domain.ErrNotFound
	}
	handle := ent.handle
	m.mu.Unlock()
	return handle.SetFilePriority(index, prio)
}

// Status returns the detailed snapshot of one torrent, including files and
// peers.
func (m *Manager) Status(hash domain.InfoHash) (domain.StatusSnapshot, error) {
	m.mu.Lock()
	ent, ok := m.entries[hash]
	if !ok {
		m.mu.Unlock()
		return domain.StatusSnapshot{}, domain.ErrNotFound
	}
	rec := ent.record
	handle := ent.handle
	paused := ent.paused
	m.mu.Unlock()
	return m.buildSnapshot(rec, handle, paused, true), nil
}

// List returns lightweight snapshots for every tracked torrent, ordered by
// add time.
func (m *Manager) List() []domain.StatusSnapshot {
	return m.snapshots(false)
}

// SaveAllResumeData requests a resume save for every tracked torrent. The
// payloads arrive asynchronously through the alert queue.
func (m *Manager) SaveAllResumeData() {
	m.mu.Lock()
	handles := make([]ports.Handle, 0, len(m.entries))
	for _, ent := range m.entries {
		handles = append(handles, ent.handle)
	}
	m.mu.Unlock()

	for _, h := range handles {
		if err := h.SaveResumeData(); err != nil {
			m.log.Debug("resume save request failed",
				slog.String("infoHash", string(h.InfoHash())),
				slog.String("error", err.Error()))
		}
	}
}

// Export captures the persistable footprint of the registry for the state
// document. Entries are ordered by add time so the document is stable
// across saves.
func (m *Manager) Export() domain.AppState {
	m.mu.Lock()
	records := make([]domain.TorrentRecord, 0, len(m.entries))
	for _, ent := range m.entries {
		records = append(records, ent.record)
	}
	m.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].AddedAt.Equal(records[j].AddedAt) {
			return records[i].InfoHash < records[j].InfoHash
		}
		return records[i].AddedAt.Before(records[j].AddedAt)
	})

	state := domain.AppState{
		Torrents: make([]domain.TorrentStateEntry, 0, len(records)),
	}
	for _, rec := range records {
		state.Torrents = append(state.Torrents, domain.TorrentStateEntry{
			Source:    rec.Source,
			SavePath:  rec.SavePath,
			InfoHash:  rec.InfoHash,
			Completed: rec.Completed,
		})
	}
	return state
}
