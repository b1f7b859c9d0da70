package client

import (
	"context"
	"testing"

	"github.com/anacrolix/torrent/bencode"

	"torrentd/internal/domain"
)

func TestFinishedAlertEdgeTriggered(t *testing.T) {
	m, eng, _ := newTestManager(t)
	n := &fakeNotifier{}
	m.Subscribe(n)

	snap, err := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	h := eng.handles[snap.InfoHash]

	eng.push(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: snap.InfoHash})
	eng.push(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: snap.InfoHash})
	m.drainAlerts()
	eng.push(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: snap.InfoHash})
	m.drainAlerts()

	if len(n.completed) != 1 {
		t.Fatalf("completion notified %d times, want 1", len(n.completed))
	}
	if h.resumeSaves != 1 {
		t.Fatalf("resume saved %d times after completion, want 1", h.resumeSaves)
	}
	st, _ := m.Status(snap.InfoHash)
	if !st.Completed {
		t.Fatalf("record not marked completed")
	}
}

func TestFinishedAlertRestoredCompletedStaysQuiet(t *testing.T) {
	m, eng, _ := newTestManager(t)
	n := &fakeNotifier{}
	m.Subscribe(n)

	src := domain.TorrentSource{Torrent: "/t/x.torrent"}
	hash := hashFor(src)
	m.Restore(context.Background(), domain.AppState{Torrents: []domain.TorrentStateEntry{
		{Source: src, SavePath: "/dl", InfoHash: hash, Completed: true},
	}})

	eng.push(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: hash})
	m.drainAlerts()

	if len(n.completed) != 0 {
		t.Fatalf("restored-complete torrent must not re-notify completion")
	}
}

func TestFinishedAlertRetainsLastError(t *testing.T) {
	m, eng, _ := newTestManager(t)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")

	eng.push(domain.Alert{Kind: domain.AlertTorrentError, InfoHash: snap.InfoHash, Err: "tracker unreachable"})
	eng.push(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: snap.InfoHash})
	m.drainAlerts()

	st, _ := m.Status(snap.InfoHash)
	if st.Error != "tracker unreachable" {
		t.Fatalf("error = %q, want the last error kept after completion", st.Error)
	}
	if st.State != domain.StateError {
		t.Fatalf("state = %s, want error", st.State)
	}
	if !st.Completed {
		t.Fatalf("completion lost")
	}
}

func TestAlertPanicIsolation(t *testing.T) {
	m, eng, _ := newTestManager(t)

	a, _ := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/a.torrent"}, "/dl")
	b, _ := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/b.torrent"}, "/dl")
	eng.handles[a.InfoHash].saveResumePanics = true

	// The first finished alert panics inside SaveResumeData; the second
	// torrent's alert must still be processed.
	eng.push(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: a.InfoHash})
	eng.push(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: b.InfoHash})
	m.drainAlerts()

	stB, _ := m.Status(b.InfoHash)
	if !stB.Completed {
		t.Fatalf("second alert lost after panic in first")
	}
}

func TestResumeDataSavedBytesForm(t *testing.T) {
	m, eng, store := newTestManager(t)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")
	blob := []byte("d9:info-hash4:abcde")

	eng.push(domain.Alert{Kind: domain.AlertResumeDataSaved, InfoHash: snap.InfoHash, ResumeData: blob})
	m.drainAlerts()

	got, _ := store.Load(snap.InfoHash)
	if string(got) != string(blob) {
		t.Fatalf("stored blob differs: %q", got)
	}
}

func TestResumeDataSavedMapForm(t *testing.T) {
	m, eng, store := newTestManager(t)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")
	fields := map[string]any{
		"info-hash":  "abc",
		"total_done": int64(42),
	}
	want, err := bencode.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	eng.push(domain.Alert{Kind: domain.AlertResumeDataSaved, InfoHash: snap.InfoHash, ResumeFields: fields})
	m.drainAlerts()

	got, _ := store.Load(snap.InfoHash)
	if string(got) != string(want) {
		t.Fatalf("stored %q, want %q", got, want)
	}
}

func TestResumeSaveFailureKeepsPreviousBlob(t *testing.T) {
	m, eng, store := newTestManager(t)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")
	if err := store.Save(snap.InfoHash, []byte("old")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	store.saveErr = errSaveFailed

	eng.push(domain.Alert{Kind: domain.AlertResumeDataSaved, InfoHash: snap.InfoHash, ResumeData: []byte("new")})
	m.drainAlerts()

	got, _ := store.Load(snap.InfoHash)
	if string(got) != "old" {
		t.Fatalf("previous blob lost on save failure: %q", got)
	}
}

func TestResumeDataFailedDoesNotTouchState(t *testing.T) {
	m, eng, store := newTestManager(t)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")
	if err := store.Save(snap.InfoHash, []byte("old")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	eng.push(domain.Alert{Kind: domain.AlertResumeDataFailed, InfoHash: snap.InfoHash, Err: "disk full"})
	m.drainAlerts()

	got, _ := store.Load(snap.InfoHash)
	if string(got) != "old" {
		t.Fatalf("blob changed on save failure alert")
	}
	st, _ := m.Status(snap.InfoHash)
	if st.Error != "" {
		t.Fatalf("resume save failure must not mark the torrent errored")
	}
}

func TestMetadataFailedRecordsError(t *testing.T) {
	m, eng, _ := newTestManager(t)
	n := &fakeNotifier{}
	m.Subscribe(n)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Magnet: testMagnet}, "/dl")

	eng.push(domain.Alert{Kind: domain.AlertMetadataFailed, InfoHash: snap.InfoHash, Err: "metadata not received before deadline"})
	m.drainAlerts()

	st, _ := m.Status(snap.InfoHash)
	if st.State != domain.StateError {
		t.Fatalf("state = %s, want error", st.State)
	}
	if st.Error == "" {
		t.Fatalf("error not recorded")
	}
	if len(n.errors) != 1 {
		t.Fatalf("error not notified")
	}
}

func TestMetadataReceivedCapturesLayout(t *testing.T) {
	m, eng, _ := newTestManager(t)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Magnet: testMagnet}, "/dl")
	h := eng.handles[snap.InfoHash]
	h.meta = &domain.Metadata{PieceCount: 128, PieceLength: 1 << 16}
	h.status.HasMetadata = true
	h.name = "ubuntu.iso"

	eng.push(domain.Alert{Kind: domain.AlertMetadataReceived, InfoHash: snap.InfoHash})
	m.drainAlerts()

	st, _ := m.Status(snap.InfoHash)
	if st.PieceCount != 128 || st.PieceLength != 1<<16 {
		t.Fatalf("metadata not captured: %+v", st)
	}
	if st.Name != "ubuntu.iso" {
		t.Fatalf("name = %q", st.Name)
	}
}

func TestMetadataReceivedPushesSnapshot(t *testing.T) {
	m, eng, _ := newTestManager(t)
	n := &fakeNotifier{}
	m.Subscribe(n)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Magnet: testMagnet}, "/dl")
	h := eng.handles[snap.InfoHash]
	h.status.HasMetadata = true
	h.name = "ubuntu.iso"

	eng.push(domain.Alert{Kind: domain.AlertMetadataReceived, InfoHash: snap.InfoHash})
	m.drainAlerts()

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.updated) == 0 {
		t.Fatalf("no status update pushed on metadata arrival")
	}
	last := n.updated[len(n.updated)-1]
	if !last.HasMetadata || last.Name != "ubuntu.iso" {
		t.Fatalf("pushed snapshot is stale: %+v", last)
	}
}

func TestErrorAlertPushesSnapshot(t *testing.T) {
	m, eng, _ := newTestManager(t)
	n := &fakeNotifier{}
	m.Subscribe(n)

	snap, _ := m.Add(context.Background(), domain.TorrentSource{Torrent: "/t/x.torrent"}, "/dl")

	eng.push(domain.Alert{Kind: domain.AlertTorrentError, InfoHash: snap.InfoHash, Err: "disk read failed"})
	m.drainAlerts()

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.updated) == 0 {
		t.Fatalf("no status update pushed on error alert")
	}
	last := n.updated[len(n.updated)-1]
	if last.State != domain.StateError || last.Error != "disk read failed" {
		t.Fatalf("pushed snapshot does not carry the error: %+v", last)
	}
}

func TestAlertForUnknownTorrentIgnored(t *testing.T) {
	m, eng, _ := newTestManager(t)

	eng.push(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: "ghost"})
	eng.push(domain.Alert{Kind: domain.AlertKind("weird_new_kind"), InfoHash: "ghost"})
	m.drainAlerts()

	if len(m.List()) != 0 {
		t.Fatalf("alerts for unknown torrents must not create entries")
	}
}
