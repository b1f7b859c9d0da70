package domain

import (
	"encoding/json"
	"testing"
)

func TestComputeETA(t *testing.T) {
	cases := []struct {
		name        string
		total, done int64
		rate        int64
		want        float64
		infinite    bool
	}{
		{name: "steady", total: 1000, done: 400, rate: 200, want: 3},
		{name: "zero rate", total: 1000, done: 400, rate: 0, infinite: true},
		{name: "done", total: 1000, done: 1000, rate: 500, infinite: true},
		{name: "no total", total: 0, done: 0, rate: 100, infinite: true},
	}
	for _, tc := range cases {
		got := ComputeETA(tc.total, tc.done, tc.rate)
		if tc.infinite {
			if !got.IsInfinite() {
				t.Fatalf("%s: ETA = %v, want infinite", tc.name, got)
			}
			continue
		}
		if float64(got) != tc.want {
			t.Fatalf("%s: ETA = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestETAJSONInfinity(t *testing.T) {
	data, err := json.Marshal(struct {
		ETA ETASeconds `json:"eta"`
	}{ETA: InfiniteETA()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"eta":-1}` {
		t.Fatalf("marshal = %s", data)
	}

	var out struct {
		ETA ETASeconds `json:"eta"`
	}
	if err := json.Unmarshal([]byte(`{"eta":-1}`), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.ETA.IsInfinite() {
		t.Fatalf("round trip lost infinity: %v", out.ETA)
	}
}

func TestComputeRatio(t *testing.T) {
	if got := ComputeRatio(100, 400); got != 0.25 {
		t.Fatalf("ratio = %v", got)
	}
	if got := ComputeRatio(500, 0); got != 0 {
		t.Fatalf("ratio before download = %v, want 0", got)
	}
}

func TestDeriveStatePrecedence(t *testing.T) {
	full := HandleStatus{TotalBytes: 100, DoneBytes: 100}
	partial := HandleStatus{TotalBytes: 100, DoneBytes: 40}

	if got := DeriveState("boom", true, true, full); got != StateError {
		t.Fatalf("error precedence: %s", got)
	}
	if got := DeriveState("", false, true, partial); got != StateFetchingMetadata {
		t.Fatalf("metadata precedence: %s", got)
	}
	if got := DeriveState("", true, true, partial); got != StatePaused {
		t.Fatalf("paused precedence: %s", got)
	}
	if got := DeriveState("", true, false, HandleStatus{Checking: true, TotalBytes: 100, DoneBytes: 100}); got != StateChecking {
		t.Fatalf("checking precedence: %s", got)
	}
	if got := DeriveState("", true, false, full); got != StateSeeding {
		t.Fatalf("seeding: %s", got)
	}
	if got := DeriveState("", true, false, partial); got != StateDownloading {
		t.Fatalf("downloading: %s", got)
	}
}

func TestTorrentSourceValidate(t *testing.T) {
	if err := (TorrentSource{}).Validate(); err == nil {
		t.Fatalf("empty source must fail")
	}
	if err := (TorrentSource{Magnet: "magnet:?xt=urn:btih:aa", Torrent: "/x.torrent"}).Validate(); err == nil {
		t.Fatalf("two sources must fail")
	}
	if err := (TorrentSource{Magnet: "magnet:?xt=urn:btih:aa"}).Validate(); err != nil {
		t.Fatalf("magnet source: %v", err)
	}
	if err := (TorrentSource{Torrent: "/x.torrent"}).Validate(); err != nil {
		t.Fatalf("file source: %v", err)
	}
}

func TestParseFilePriority(t *testing.T) {
	for _, raw := range []string{"skip", "normal", "high", "maximal"} {
		if _, err := ParseFilePriority(raw); err != nil {
			t.Fatalf("ParseFilePriority(%q): %v", raw, err)
		}
	}
	if _, err := ParseFilePriority("turbo"); err == nil {
		t.Fatalf("unknown priority accepted")
	}
}
