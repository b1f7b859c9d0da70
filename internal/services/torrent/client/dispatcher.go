package client

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/anacrolix/torrent/bencode"

	"torrentd/internal/domain"
	"torrentd/internal/metrics"
)

// runDispatcher polls the engine's alert queue until the context ends. Each
// alert is handled in isolation: a panic in one handler is recovered and the
// rest of the drain continues.
func (m *Manager) runDispatcher(ctx context.Context) {
	ticker := time.NewTicker(m.alertInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drainAlerts()
		}
	}
}

func (m *Manager) drainAlerts() {
	for _, alert := range m.engine.PopAlerts() {
		m.handleAlert(alert)
	}
}

func (m *Manager) handleAlert(alert domain.Alert) {
	defer func() {
		if r := recover(); r != nil {
			metrics.AlertPanicsTotal.Inc()
			m.log.Error("alert handler panic recovered",
				slog.String("kind", string(alert.Kind)),
				slog.String("infoHash", string(alert.InfoHash)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	switch alert.Kind {
	case domain.AlertMetadataReceived:
		m.onMetadataReceived(alert)
	case domain.AlertMetadataFailed:
		m.onTorrentError(alert)
	case domain.AlertTorrentFinished:
		m.onTorrentFinished(alert)
	case domain.AlertTorrentError:
		m.onTorrentError(alert)
	case domain.AlertResumeDataSaved:
		m.onResumeDataSaved(alert)
	case domain.AlertResumeDataFailed:
		m.onResumeDataFailed(alert)
	default:
		// Unrecognized kinds are dropped silently; the engine emits more
		// event types than the lifecycle cares about.
		return
	}
	metrics.AlertsProcessedTotal.WithLabelValues(string(alert.Kind)).Inc()
}

func (m *Manager) onMetadataReceived(alert domain.Alert) {
	m.mu.Lock()
	ent, ok := m.entries[alert.InfoHash]
	if !ok {
		m.mu.Unlock()
		return
	}
	handle := ent.handle
	runRecheck := ent.recheckOnMetadata
	ent.recheckOnMetadata = false
	m.mu.Unlock()

	meta, hasMeta := handle.Metadata()

	m.mu.Lock()
	if ent, ok := m.entries[alert.InfoHash]; ok && hasMeta {
		ent.record.Metadata = &meta
	}
	m.mu.Unlock()

	m.log.Info("metadata received",
		slog.String("infoHash", string(alert.InfoHash)),
		slog.String("name", handle.Name()))

	// A magnet add of a previously-completed torrent could not verify disk
	// state at add time; now that the file layout is known, do it.
	if runRecheck {
		if err := handle.ForceRecheck(); err != nil {
			m.log.Warn("deferred recheck failed",
				slog.String("infoHash", string(alert.InfoHash)),
				slog.String("error", err.Error()))
		}
	}

	m.pushSnapshot(alert.InfoHash)
}

// onTorrentFinished is edge-triggered: only the transition from incomplete
// to complete notifies and saves, so the engine re-reporting a finished
// torrent after a recheck stays quiet.
func (m *Manager) onTorrentFinished(alert domain.Alert) {
	m.mu.Lock()
	ent, ok := m.entries[alert.InfoHash]
	if !ok || ent.record.Completed {
		m.mu.Unlock()
		return
	}
	ent.record.Completed = true
	handle := ent.handle
	m.mu.Unlock()

	metrics.CompletionsTotal.Inc()
	m.log.Info("torrent finished", slog.String("infoHash", string(alert.InfoHash)))
	m.notifyCompleted(alert.InfoHash)

	if err := handle.SaveResumeData(); err != nil {
		m.log.Debug("resume save after completion failed",
			slog.String("infoHash", string(alert.InfoHash)),
			slog.String("error", err.Error()))
	}
}

func (m *Manager) onTorrentError(alert domain.Alert) {
	m.mu.Lock()
	ent, ok := m.entries[alert.InfoHash]
	if !ok {
		m.mu.Unlock()
		return
	}
	ent.record.LastError = alert.Err
	m.mu.Unlock()

	m.log.Warn("torrent error",
		slog.String("infoHash", string(alert.InfoHash)),
		slog.String("kind", string(alert.Kind)),
		slog.String("error", alert.Err))
	m.notifyError(alert.InfoHash, alert.Err)
	m.pushSnapshot(alert.InfoHash)
}

// pushSnapshot recomputes one torrent's snapshot and pushes it to
// subscribers, so state transitions surface immediately instead of waiting
// for the next status tick.
func (m *Manager) pushSnapshot(hash domain.InfoHash) {
	m.mu.Lock()
	ent, ok := m.entries[hash]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec := ent.record
	handle := ent.handle
	paused := ent.paused
	m.mu.Unlock()

	if snap, ok := m.safeBuildSnapshot(rec, handle, paused, false); ok {
		m.notifyStatus(snap)
	}
}

// onResumeDataSaved persists the payload byte for byte. The engine delivers
// it either pre-serialized or as a structured dictionary that still needs
// encoding.
func (m *Manager) onResumeDataSaved(alert domain.Alert) {
	data := alert.ResumeData
	if data == nil && alert.ResumeFields != nil {
		encoded, err := bencode.Marshal(alert.ResumeFields)
		if err != nil {
			metrics.ResumeSaveFailuresTotal.Inc()
			m.log.Error("failed to encode resume data",
				slog.String("infoHash", string(alert.InfoHash)),
				slog.String("error", err.Error()))
			return
		}
		data = encoded
	}
	if data == nil {
		return
	}

	if err := m.resume.Save(alert.InfoHash, data); err != nil {
		metrics.ResumeSaveFailuresTotal.Inc()
		m.log.Error("failed to persist resume data",
			slog.String("infoHash", string(alert.InfoHash)),
			slog.String("error", err.Error()))
		return
	}
	metrics.ResumeSavesTotal.Inc()
}

// onResumeDataFailed only logs. A failed save leaves the previous blob in
// place, which is still a valid restart point.
func (m *Manager) onResumeDataFailed(alert domain.Alert) {
	metrics.ResumeSaveFailuresTotal.Inc()
	m.log.Warn("resume data save failed",
		slog.String("infoHash", string(alert.InfoHash)),
		slog.String("error", alert.Err))
}
