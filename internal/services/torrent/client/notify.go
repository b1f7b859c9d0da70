package client

import (
	"log/slog"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
)

// notifierList snapshots the subscriber slice so notifications never run
// under the registry lock.
func (m *Manager) notifierList() []ports.Notifier {
	m.notifyMu.RLock()
	defer m.notifyMu.RUnlock()
	return m.notifiers
}

func (m *Manager) notifyAdded(snap domain.StatusSnapshot) {
	for _, n := range m.notifierList() {
		m.safeNotify(func() { n.TorrentAdded(snap) })
	}
}

func (m *Manager) notifyStatus(snap domain.StatusSnapshot) {
	for _, n := range m.notifierList() {
		m.safeNotify(func() { n.StatusUpdated(snap) })
	}
}

func (m *Manager) notifyCompleted(hash domain.InfoHash) {
	for _, n := range m.notifierList() {
		m.safeNotify(func() { n.TorrentCompleted(hash) })
	}
}

func (m *Manager) notifyAggregate(agg domain.AggregateSnapshot) {
	for _, n := range m.notifierList() {
		m.safeNotify(func() { n.AggregateUpdated(agg) })
	}
}

func (m *Manager) notifyError(hash domain.InfoHash, msg string) {
	for _, n := range m.notifierList() {
		m.safeNotify(func() { n.TorrentError(hash, msg) })
	}
}

func (m *Manager) safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("notifier panic recovered", slog.Any("panic", r))
		}
	}()
	fn()
}
