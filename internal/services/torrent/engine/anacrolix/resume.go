package anacrolix

import (
	"fmt"
	"time"

	"github.com/anacrolix/torrent/bencode"

	"torrentd/internal/domain"
)

// buildResumeFields captures the completion state of a torrent as a
// bencodable dictionary. The payload is opaque to everything outside this
// package: persistence treats it as bytes and decodeResumeData is the only
// reader. Caller must have verified metadata is present.
func buildResumeFields(hash domain.InfoHash, st *torrentState) map[string]any {
	t := st.t
	n := t.NumPieces()
	bitfield := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if t.PieceState(i).Complete {
			bitfield[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return map[string]any{
		"info-hash":  string(hash),
		"name":       t.Name(),
		"total_done": t.BytesCompleted(),
		"num_pieces": n,
		"pieces":     string(bitfield),
		"save_path":  st.savePath,
		"saved_at":   time.Now().Unix(),
	}
}

func encodeResumeData(fields map[string]any) ([]byte, error) {
	data, err := bencode.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode resume data: %w", err)
	}
	return data, nil
}

// decodeResumeData parses a resume payload previously produced by
// encodeResumeData. Unknown or missing fields are tolerated; the zero value
// means nothing useful was recorded.
func decodeResumeData(data []byte) (map[string]any, error) {
	var fields map[string]any
	if err := bencode.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode resume data: %w", err)
	}
	return fields, nil
}

// acceptResumeData decodes a resume payload attached to an add and checks
// it actually belongs to that torrent. A blob recorded under another
// info-hash is rejected rather than silently feeding wrong bookkeeping.
// Blobs without an info-hash field pass; they predate the field or came
// from another client.
func acceptResumeData(hash domain.InfoHash, data []byte) (map[string]any, error) {
	fields, err := decodeResumeData(data)
	if err != nil {
		return nil, err
	}
	if stored, _ := fields["info-hash"].(string); stored != "" && domain.InfoHash(stored) != hash {
		return nil, fmt.Errorf("resume data recorded for torrent %s", stored)
	}
	return fields, nil
}
