package anacrolix

import (
	"github.com/anacrolix/torrent"

	"torrentd/internal/domain"
)

func mapPriority(prio domain.FilePriority) (torrent.PiecePriority, error) {
	switch prio {
	case domain.PrioritySkip:
		return torrent.PiecePriorityNone, nil
	case domain.PriorityNormal:
		return torrent.PiecePriorityNormal, nil
	case domain.PriorityHigh:
		return torrent.PiecePriorityHigh, nil
	case domain.PriorityMaximal:
		return torrent.PiecePriorityNow, nil
	default:
		return torrent.PiecePriorityNormal, domain.ErrInvalidPriority
	}
}

// unmapPriority collapses the engine's internal levels back onto the public
// scale. Readahead and Next are engine-assigned refinements of Normal.
func unmapPriority(prio torrent.PiecePriority) domain.FilePriority {
	switch prio {
	case torrent.PiecePriorityNone:
		return domain.PrioritySkip
	case torrent.PiecePriorityHigh:
		return domain.PriorityHigh
	case torrent.PiecePriorityNow:
		return domain.PriorityMaximal
	default:
		return domain.PriorityNormal
	}
}
