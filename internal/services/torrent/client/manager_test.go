package client

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
)

// ---------------------------------------------------------------------------
// Fakes shared by the client package tests
// ---------------------------------------------------------------------------

type fakeHandle struct {
	hash      domain.InfoHash
	name      string
	status    domain.HandleStatus
	statusErr error
	meta      *domain.Metadata

	paused           bool
	rechecks         int
	resumeSaves      int
	resumeSaveErr    error
	saveResumePanics bool

	files []domain.FileStatus
	peers []domain.PeerSummary
	prios map[int]domain.FilePriority
}

func (f *fakeHandle) InfoHash() domain.InfoHash { return f.hash }
func (f *fakeHandle) Valid() bool               { return true }
func (f *fakeHandle) Name() string              { return f.name }

func (f *fakeHandle) Status() (domain.HandleStatus, error) {
	if f.statusErr != nil {
		return domain.HandleStatus{}, f.statusErr
	}
	st := f.status
	st.Paused = f.paused
	return st, nil
}

func (f *fakeHandle) Metadata() (domain.Metadata, bool) {
	if f.meta == nil {
		return domain.Metadata{}, false
	}
	return *f.meta, true
}

func (f *fakeHandle) Pause() error  { f.paused = true; return nil }
func (f *fakeHandle) Resume() error { f.paused = false; return nil }

func (f *fakeHandle) ForceRecheck() error {
	f.rechecks++
	return nil
}

func (f *fakeHandle) ForceReannounce() error  { return nil }
func (f *fakeHandle) ForceDHTAnnounce() error { return nil }

func (f *fakeHandle) SaveResumeData() error {
	if f.saveResumePanics {
		panic("save resume data exploded")
	}
	if f.resumeSaveErr != nil {
		return f.resumeSaveErr
	}
	f.resumeSaves++
	return nil
}

func (f *fakeHandle) SetFilePriority(index int, prio domain.FilePriority) error {
	if f.meta == nil {
		return domain.ErrNoMetadata
	}
	if index < 0 || index >= len(f.meta.Files) {
		return domain.ErrInvalidFileIndex
	}
	if f.prios == nil {
		f.prios = make(map[int]domain.FilePriority)
	}
	f.prios[index] = prio
	return nil
}

func (f *fakeHandle) FilePriorities() ([]domain.FilePriority, error) {
	if f.meta == nil {
		return nil, domain.ErrNoMetadata
	}
	out := make([]domain.FilePriority, len(f.meta.Files))
	for i := range out {
		out[i] = domain.PriorityNormal
		if p, ok := f.prios[i]; ok {
			out[i] = p
		}
	}
	return out, nil
}

func (f *fakeHandle) FileProgress() ([]domain.FileStatus, error) {
	if f.meta == nil {
		return nil, domain.ErrNoMetadata
	}
	return f.files, nil
}

func (f *fakeHandle) Peers() []domain.PeerSummary { return f.peers }

type fakeEngine struct {
	mu       sync.Mutex
	handles  map[domain.InfoHash]*fakeHandle
	addSpecs []domain.AddSpec
	addErr   error
	removed  []domain.InfoHash
	queue    []domain.Alert
	settings domain.SettingsMap
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		handles:  make(map[domain.InfoHash]*fakeHandle),
		settings: domain.SettingsMap{},
	}
}

// hashFor gives a stable fake info-hash per source so duplicate adds map to
// the same torrent, like the real engine.
func hashFor(src domain.TorrentSource) domain.InfoHash {
	if src.Magnet != "" {
		return domain.InfoHash("magnet:" + src.Magnet)
	}
	return domain.InfoHash("file:" + src.Torrent)
}

func (e *fakeEngine) AddTorrent(_ context.Context, spec domain.AddSpec) (ports.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.addErr != nil {
		return nil, e.addErr
	}
	if err := spec.Source.Validate(); err != nil {
		return nil, err
	}
	e.addSpecs = append(e.addSpecs, spec)
	hash := hashFor(spec.Source)
	h, ok := e.handles[hash]
	if !ok {
		h = &fakeHandle{hash: hash}
		if !spec.Source.IsMagnet() {
			h.meta = &domain.Metadata{PieceCount: 8, PieceLength: 1 << 18}
			h.status.HasMetadata = true
		}
		e.handles[hash] = h
	}
	return h, nil
}

func (e *fakeEngine) RemoveTorrent(h ports.Handle, _ bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, h.InfoHash())
	delete(e.handles, h.InfoHash())
	return nil
}

func (e *fakeEngine) PopAlerts() []domain.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.queue
	e.queue = nil
	return out
}

func (e *fakeEngine) push(a domain.Alert) {
	e.mu.Lock()
	e.queue = append(e.queue, a)
	e.mu.Unlock()
}

func (e *fakeEngine) ApplySetting(key string, value any) error {
	e.settings[key] = value
	return nil
}

func (e *fakeEngine) Settings() domain.SettingsMap { return e.settings.Clone() }
func (e *fakeEngine) Close() error                 { return nil }

type fakeResumeStore struct {
	mu      sync.Mutex
	blobs   map[domain.InfoHash][]byte
	saveErr error
	deletes []domain.InfoHash
}

func newFakeResumeStore() *fakeResumeStore {
	return &fakeResumeStore{blobs: make(map[domain.InfoHash][]byte)}
}

func (s *fakeResumeStore) Save(hash domain.InfoHash, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.blobs[hash] = append([]byte(nil), data...)
	return nil
}

func (s *fakeResumeStore) Load(hash domain.InfoHash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[hash], nil
}

func (s *fakeResumeStore) Delete(hash domain.InfoHash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, hash)
	delete(s.blobs, hash)
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	added      []domain.StatusSnapshot
	updated    []domain.StatusSnapshot
	completed  []domain.InfoHash
	aggregates []domain.AggregateSnapshot
	errors     []string

	panicOnCompleted bool
}

func (n *fakeNotifier) TorrentAdded(snap domain.StatusSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, snap)
}

func (n *fakeNotifier) StatusUpdated(snap domain.StatusSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, snap)
}

func (n *fakeNotifier) TorrentCompleted(hash domain.InfoHash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panicOnCompleted {
		panic("subscriber exploded")
	}
	n.completed = append(n.completed, hash)
}

func (n *fakeNotifier) AggregateUpdated(agg domain.AggregateSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.aggregates = append(n.aggregates, agg)
}

func (n *fakeNotifier) TorrentError(_ domain.InfoHash, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, msg)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T) (*Manager, *fakeEngine, *fakeResumeStore) {
	t.Helper()
	eng := newFakeEngine()
	store := newFakeResumeStore()
	return NewManager(eng, store, testLogger(), Config{}), eng, store
}

const testMagnet = "magnet:?xt=urn:btih:0102030405060708090a0b0c0d0e0f1011121314"

var errSaveFailed = errors.New("save failed")

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAddInvalidSource(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Add(ctx, domain.TorrentSource{}, "/dl"); !errors.Is(err, domain.ErrInvalidSource) {
		t.Fatalf("empty source: %v", err)
	}
	both := domain.TorrentSource{Magnet: testMagnet, Torrent: "/x.torrent"}
	if _, err := m.Add(ctx, both, "/dl"); !errors.Is(err, domain.ErrInvalidSource) {
		t.Fatalf("both sources: %v", err)
	}
}

func TestAddDuplicateReturnsExisting(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	src := domain.TorrentSource{Magnet: testMagnet}

	first, err := m.Add(ctx, src, "/dl")
	if err != nil {
		t.Fatalf("first Add: %v", err)
	}
	second, err := m.Add(ctx, src, "/elsewhere")
	if err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if first.InfoHash != second.InfoHash {
		t.Fatalf("duplicate add returned different torrent")
	}
	if second.SavePath != "/dl" {
		t.Fatalf("duplicate add must keep original record, got savePath %q", second.SavePath)
	}
	if got := len(m.List()); got != 1 {
		t.Fatalf("expected 1 tracked torrent, got %d", got)
	}
}

func TestAddEngineError(t *testing.T) {
	m, eng, _ := newTestManager(t)
	eng.addErr = errors.New("client busy")

	if _, err := m.Add(context.Background(), domain.TorrentSource{Magnet: testMagnet}, "/dl"); err == nil {
		t.Fatalf("expected engine error to propagate")
	}
	if len(m.List()) != 0 {
		t.Fatalf("failed add must not register a torrent")
	}
}

func TestRestoreStripsResumeDataForMagnets(t *testing.T) {
	m, eng, store := newTestManager(t)
	hash := hashFor(domain.TorrentSource{Magnet: testMagnet})
	store.blobs[hash] = []byte("d4:infoe")

	m.Restore(context.Background(), domain.AppState{Torrents: []domain.TorrentStateEntry{
		{Source: domain.TorrentSource{Magnet: testMagnet}, SavePath: "/dl", InfoHash: hash, Completed: true},
	}})

	if len(eng.addSpecs) != 1 {
		t.Fatalf("expected one add, got %d", len(eng.addSpecs))
	}
	if eng.addSpecs[0].ResumeData != nil {
		t.Fatalf("magnet add must not carry resume data")
	}
	// The recheck waits for metadata.
	if eng.handles[hash].rechecks != 0 {
		t.Fatalf("recheck must be deferred until metadata arrives")
	}

	eng.push(domain.Alert{Kind: domain.AlertMetadataReceived, InfoHash: hash})
	eng.handles[hash].meta = &domain.Metadata{PieceCount: 4, PieceLength: 1 << 16}
	m.drainAlerts()

	if eng.handles[hash].rechecks != 1 {
		t.Fatalf("expected deferred recheck after metadata, got %d", eng.handles[hash].rechecks)
	}
}

func TestRestoreFileBackedRechecksImmediately(t *testing.T) {
	m, eng, store := newTestManager(t)
	src := domain.TorrentSource{Torrent: "/t/debian.torrent"}
	hash := hashFor(src)
	blob := []byte("d10:total_donei42ee")
	store.blobs[hash] = blob

	m.Restore(context.Background(), domain.AppState{Torrents: []domain.TorrentStateEntry{
		{Source: src, SavePath: "/dl", InfoHash: hash},
	}})

	if len(eng.addSpecs) != 1 {
		t.Fatalf("expected one add, got %d", len(eng.addSpecs))
	}
	if string(eng.addSpecs[0].ResumeData) != string(blob) {
		t.Fatalf("file-backed add must carry the resume blob")
	}
	if eng.handles[hash].rechecks != 1 {
		t.Fatalf("expected immediate recheck, got %d", eng.handles[hash].rechecks)
	}
}

func TestRestoreContinuesPastFailures(t *testing.T) {
	m, eng, _ := newTestManager(t)

	// First entry has an empty source and fails validation inside the
	// engine; the second must still be added.
	m.Restore(context.Background(), domain.AppState{Torrents: []domain.TorrentStateEntry{
		{Source: domain.TorrentSource{}, SavePath: "/dl"},
		{Source: domain.TorrentSource{Magnet: testMagnet}, SavePath: "/dl"},
	}})

	if got := len(m.List()); got != 1 {
		t.Fatalf("expected 1 restored torrent, got %d", got)
	}
	_ = eng
}

func TestRemoveIdempotent(t *testing.T) {
	m, eng, store := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Add(ctx, domain.TorrentSource{Magnet: testMagnet}, "/dl")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	handle := eng.handles[snap.InfoHash]

	if err := m.Remove(ctx, snap.InfoHash, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if handle.resumeSaves != 1 {
		t.Fatalf("expected a final resume save request, got %d", handle.resumeSaves)
	}
	if len(eng.removed) != 1 || eng.removed[0] != snap.InfoHash {
		t.Fatalf("engine removal not requested: %v", eng.removed)
	}
	if len(store.deletes) != 1 || store.deletes[0] != snap.InfoHash {
		t.Fatalf("resume blob not deleted: %v", store.deletes)
	}

	if err := m.Remove(ctx, snap.InfoHash, false); err != nil {
		t.Fatalf("second Remove must be a no-op: %v", err)
	}
	if _, err := m.Status(snap.InfoHash); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Status after remove: %v", err)
	}
}

func TestPauseZeroesRates(t *testing.T) {
	m, eng, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Add(ctx, domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	h := eng.handles[snap.InfoHash]
	h.status.DownloadRate = 1 << 20
	h.status.UploadRate = 1 << 18
	h.status.TotalBytes = 100
	h.status.DoneBytes = 50

	if err := m.Pause(snap.InfoHash); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	st, err := m.Status(snap.InfoHash)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.DownloadRate != 0 || st.UploadRate != 0 {
		t.Fatalf("paused torrent shows rates %d/%d", st.DownloadRate, st.UploadRate)
	}
	if st.State != domain.StatePaused {
		t.Fatalf("state = %s, want paused", st.State)
	}
	if !st.ETA.IsInfinite() {
		t.Fatalf("paused torrent must have infinite ETA")
	}

	if err := m.Resume(snap.InfoHash); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	st, _ = m.Status(snap.InfoHash)
	if st.State == domain.StatePaused {
		t.Fatalf("still paused after Resume")
	}
}

func TestPauseUnknownTorrent(t *testing.T) {
	m, _, _ := newTestManager(t)
	if err := m.Pause("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Pause unknown: %v", err)
	}
	if err := m.Resume("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Resume unknown: %v", err)
	}
}

func TestRecheck(t *testing.T) {
	m, eng, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Add(ctx, domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := m.Recheck(snap.InfoHash); err != nil {
		t.Fatalf("Recheck: %v", err)
	}
	if eng.handles[snap.InfoHash].rechecks != 1 {
		t.Fatalf("expected one recheck, got %d", eng.handles[snap.InfoHash].rechecks)
	}
	if err := m.Recheck("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown torrent: %v", err)
	}
}

func TestSetFilePriority(t *testing.T) {
	m, eng, _ := newTestManager(t)
	ctx := context.Background()

	snap, err := m.Add(ctx, domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	h := eng.handles[snap.InfoHash]
	h.meta = &domain.Metadata{Files: []domain.FileInfo{{Index: 0, Path: "a"}, {Index: 1, Path: "b"}}}

	if err := m.SetFilePriority(snap.InfoHash, 1, domain.PrioritySkip); err != nil {
		t.Fatalf("SetFilePriority: %v", err)
	}
	if h.prios[1] != domain.PrioritySkip {
		t.Fatalf("priority not applied: %v", h.prios)
	}
	if err := m.SetFilePriority(snap.InfoHash, 5, domain.PriorityHigh); !errors.Is(err, domain.ErrInvalidFileIndex) {
		t.Fatalf("out of range index: %v", err)
	}
	if err := m.SetFilePriority("nope", 0, domain.PriorityHigh); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown torrent: %v", err)
	}
}

func TestSaveAllResumeData(t *testing.T) {
	m, eng, _ := newTestManager(t)
	ctx := context.Background()

	a, _ := m.Add(ctx, domain.TorrentSource{Magnet: testMagnet}, "/dl")
	b, _ := m.Add(ctx, domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")

	m.SaveAllResumeData()

	if eng.handles[a.InfoHash].resumeSaves != 1 || eng.handles[b.InfoHash].resumeSaves != 1 {
		t.Fatalf("expected one save request per torrent")
	}
}

func TestExportOrderedState(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first, _ := m.Add(ctx, domain.TorrentSource{Magnet: testMagnet}, "/a")
	second, _ := m.Add(ctx, domain.TorrentSource{Torrent: "/t/x.torrent"}, "/b")

	state := m.Export()
	if len(state.Torrents) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(state.Torrents))
	}
	if state.Torrents[0].InfoHash != first.InfoHash || state.Torrents[1].InfoHash != second.InfoHash {
		t.Fatalf("export not in add order: %+v", state.Torrents)
	}
	if state.Torrents[1].SavePath != "/b" {
		t.Fatalf("savePath not exported: %+v", state.Torrents[1])
	}
}

func TestAddNotifiesSubscribers(t *testing.T) {
	m, _, _ := newTestManager(t)
	n := &fakeNotifier{}
	m.Subscribe(n)

	snap, err := m.Add(context.Background(), domain.TorrentSource{Magnet: testMagnet}, "/dl")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(n.added) != 1 || n.added[0].InfoHash != snap.InfoHash {
		t.Fatalf("TorrentAdded not delivered: %+v", n.added)
	}
}
