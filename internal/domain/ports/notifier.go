package ports

import "torrentd/internal/domain"

// Notifier receives push updates from the session manager. Implementations
// must not block: slow consumers drop updates rather than stall the status
// loop.
type Notifier interface {
	TorrentAdded(snap domain.StatusSnapshot)
	StatusUpdated(snap domain.StatusSnapshot)
	TorrentCompleted(hash domain.InfoHash)
	AggregateUpdated(agg domain.AggregateSnapshot)
	TorrentError(hash domain.InfoHash, msg string)
}
