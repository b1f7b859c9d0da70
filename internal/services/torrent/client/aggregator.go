package client

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
	"torrentd/internal/metrics"
)

// metadataPendingName is shown while a magnet torrent has no metadata yet
// and therefore no real name.
const metadataPendingName = "Fetching metadata..."

// runStatusLoop periodically recomputes snapshots for all torrents and
// pushes them to subscribers, along with the aggregate totals.
func (m *Manager) runStatusLoop(ctx context.Context) {
	ticker := time.NewTicker(m.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publishStatus()
		}
	}
}

func (m *Manager) publishStatus() {
	snaps := m.snapshots(false)

	agg := domain.AggregateSnapshot{
		Torrents:  len(snaps),
		UpdatedAt: time.Now().UTC(),
	}
	peers := 0
	for _, snap := range snaps {
		agg.DownloadRate += snap.DownloadRate
		agg.UploadRate += snap.UploadRate
		peers += snap.Peers
		m.notifyStatus(snap)
	}
	m.notifyAggregate(agg)

	metrics.DownloadSpeedBytes.Set(float64(agg.DownloadRate))
	metrics.UploadSpeedBytes.Set(float64(agg.UploadRate))
	metrics.PeersConnected.Set(float64(peers))
}

// snapshots builds a snapshot per torrent. Each torrent is computed in
// isolation: a panic while reading one handle is recovered and that torrent
// is skipped for this round instead of killing the loop.
func (m *Manager) snapshots(detail bool) []domain.StatusSnapshot {
	type item struct {
		rec    domain.TorrentRecord
		handle ports.Handle
		paused bool
	}

	m.mu.Lock()
	items := make([]item, 0, len(m.entries))
	for _, ent := range m.entries {
		items = append(items, item{rec: ent.record, handle: ent.handle, paused: ent.paused})
	}
	m.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].rec.AddedAt.Equal(items[j].rec.AddedAt) {
			return items[i].rec.InfoHash < items[j].rec.InfoHash
		}
		return items[i].rec.AddedAt.Before(items[j].rec.AddedAt)
	})

	out := make([]domain.StatusSnapshot, 0, len(items))
	for _, it := range items {
		snap, ok := m.safeBuildSnapshot(it.rec, it.handle, it.paused, detail)
		if ok {
			out = append(out, snap)
		}
	}
	return out
}

func (m *Manager) safeBuildSnapshot(rec domain.TorrentRecord, handle ports.Handle, paused, detail bool) (snap domain.StatusSnapshot, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			m.log.Error("snapshot build panic recovered",
				slog.String("infoHash", string(rec.InfoHash)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	return m.buildSnapshot(rec, handle, paused, detail), true
}

// buildSnapshot derives the UI-facing view from the record overlay and a
// fresh engine read. Handles that went invalid under us yield a snapshot
// carrying only record data.
func (m *Manager) buildSnapshot(rec domain.TorrentRecord, handle ports.Handle, paused, detail bool) domain.StatusSnapshot {
	now := time.Now().UTC()

	st, err := handle.Status()
	if err != nil {
		st = domain.HandleStatus{}
	}

	// A paused torrent must read as idle even if the engine's last rate
	// sample predates the pause.
	if paused || st.Paused {
		st.DownloadRate = 0
		st.UploadRate = 0
		st.PayloadDownloadRate = 0
		st.PayloadUploadRate = 0
	}

	name := handle.Name()
	if name == "" && !st.HasMetadata {
		name = metadataPendingName
	}

	snap := domain.StatusSnapshot{
		SchemaVersion: domain.SnapshotSchemaVersion,
		InfoHash:      rec.InfoHash,
		Name:          name,
		State:         domain.DeriveState(rec.LastError, st.HasMetadata, paused, st),
		SavePath:      rec.SavePath,
		Progress:      st.Progress * 100,
		DownloadRate:  st.DownloadRate,
		UploadRate:    st.UploadRate,
		Seeds:         st.Seeds,
		Peers:         st.Peers,
		TotalSeeds:    st.TotalSeeds,
		TotalPeers:    st.TotalPeers,
		TotalBytes:    st.TotalBytes,
		DoneBytes:     st.DoneBytes,
		ETA:           domain.ComputeETA(st.TotalBytes, st.DoneBytes, st.PayloadDownloadRate),
		Ratio:         domain.ComputeRatio(st.UploadedBytes, st.DownloadedBytes),
		HasMetadata:   st.HasMetadata,
		Completed:     rec.Completed,
		Error:         rec.LastError,
		AddedAt:       rec.AddedAt,
		UpdatedAt:     now,
	}
	if rec.Metadata != nil {
		snap.PieceCount = rec.Metadata.PieceCount
		snap.PieceLength = rec.Metadata.PieceLength
	}

	if detail && st.HasMetadata {
		if files, err := handle.FileProgress(); err == nil {
			snap.Files = files
		}
		snap.PeerList = handle.Peers()
	}
	return snap
}
