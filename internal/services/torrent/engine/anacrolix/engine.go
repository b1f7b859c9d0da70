package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
)

// defaultMaxConns is the per-torrent connection cap restored when resuming a
// hard-paused torrent.
const defaultMaxConns = 35

// addTorrentTimeout caps the time we wait for the anacrolix client to accept
// a new torrent. AddTorrentSpec can block on an internal client mutex when
// the client is busy resolving metadata for another torrent.
const addTorrentTimeout = 10 * time.Second

// defaultMetadataTimeout is the max time to wait for torrent metadata.
// Zero-peer magnets give up after this and surface a metadata_failed alert.
const defaultMetadataTimeout = 10 * time.Minute

type Config struct {
	DataDir            string
	ListenPort         int
	DownloadRateLimit  int64 // bytes/sec, 0 = unlimited
	UploadRateLimit    int64
	MaxConnsPerTorrent int
	DHTEnabled         bool
	PEXEnabled         bool
	UTPEnabled         bool
	SeedingEnabled     bool
	MetadataTimeout    time.Duration
}

type torrentState struct {
	t        *torrent.Torrent
	savePath string

	paused       bool
	checking     bool
	finishedSeen bool
}

// Engine adapts the anacrolix client to the ports.Engine boundary: torrents
// are tracked by info-hash, engine events surface through an internal alert
// queue drained by PopAlerts.
type Engine struct {
	client  *torrent.Client
	dataDir string
	log     *slog.Logger

	downloadLimiter *rate.Limiter
	uploadLimiter   *rate.Limiter

	mu       sync.RWMutex
	torrents map[domain.InfoHash]*torrentState
	maxConns int
	seeding  bool

	// immutable after client start
	listenPort int
	dhtEnabled bool
	pexEnabled bool
	utpEnabled bool

	speedMu sync.Mutex
	speeds  map[domain.InfoHash]speedSample

	alertMu sync.Mutex
	alerts  []domain.Alert

	metadataTimeout time.Duration
	closed          chan struct{}
	closeOnce       sync.Once
}

func New(cfg Config, log *slog.Logger) (*Engine, error) {
	maxConns := cfg.MaxConnsPerTorrent
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	downloadLimiter := newRateLimiter(cfg.DownloadRateLimit)
	uploadLimiter := newRateLimiter(cfg.UploadRateLimit)

	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	if cfg.ListenPort != 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	clientConfig.NoDHT = !cfg.DHTEnabled
	clientConfig.DisablePEX = !cfg.PEXEnabled
	clientConfig.DisableUTP = !cfg.UTPEnabled
	clientConfig.Seed = cfg.SeedingEnabled
	clientConfig.EstablishedConnsPerTorrent = maxConns
	clientConfig.DownloadRateLimiter = downloadLimiter
	clientConfig.UploadRateLimiter = uploadLimiter

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	metadataTimeout := cfg.MetadataTimeout
	if metadataTimeout <= 0 {
		metadataTimeout = defaultMetadataTimeout
	}

	return &Engine{
		client:          client,
		dataDir:         clientConfig.DataDir,
		log:             log,
		downloadLimiter: downloadLimiter,
		uploadLimiter:   uploadLimiter,
		torrents:        make(map[domain.InfoHash]*torrentState),
		maxConns:        maxConns,
		seeding:         cfg.SeedingEnabled,
		listenPort:      clientConfig.ListenPort,
		dhtEnabled:      cfg.DHTEnabled,
		pexEnabled:      cfg.PEXEnabled,
		utpEnabled:      cfg.UTPEnabled,
		speeds:          make(map[domain.InfoHash]speedSample),
		metadataTimeout: metadataTimeout,
		closed:          make(chan struct{}),
	}, nil
}

func (e *Engine) AddTorrent(ctx context.Context, spec domain.AddSpec) (ports.Handle, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	if err := spec.Source.Validate(); err != nil {
		return nil, err
	}

	tspec, err := e.buildSpec(spec.Source, spec.SavePath)
	if err != nil {
		return nil, err
	}

	// Run AddTorrentSpec with a timeout so a busy client never blocks the
	// caller indefinitely.
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, _, err := e.client.AddTorrentSpec(tspec)
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		t = res.t
	case <-time.After(addTorrentTimeout):
		// The goroutine may still complete the add after we return. Drop
		// the orphaned torrent when it does.
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, ctx.Err()
	}

	hash := domain.InfoHash(t.InfoHash().HexString())

	e.mu.Lock()
	if _, exists := e.torrents[hash]; exists {
		e.mu.Unlock()
		return &Handle{engine: e, hash: hash}, nil
	}
	st := &torrentState{t: t, savePath: spec.SavePath}
	e.torrents[hash] = st
	e.mu.Unlock()

	if len(spec.ResumeData) > 0 {
		if fields, err := acceptResumeData(hash, spec.ResumeData); err != nil {
			e.log.Warn("ignoring resume data",
				slog.String("infoHash", string(hash)),
				slog.String("error", err.Error()))
		} else {
			totalDone, _ := fields["total_done"].(int64)
			e.log.Debug("resume data loaded",
				slog.String("infoHash", string(hash)),
				slog.Int64("totalDone", totalDone))
		}
	}

	go e.watchTorrent(hash, st)

	return &Handle{engine: e, hash: hash}, nil
}

func (e *Engine) buildSpec(src domain.TorrentSource, savePath string) (*torrent.TorrentSpec, error) {
	var tspec *torrent.TorrentSpec
	if src.IsMagnet() {
		spec, err := torrent.TorrentSpecFromMagnetUri(src.Magnet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
		}
		tspec = spec
	} else {
		mi, err := metainfo.LoadFromFile(src.Torrent)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
		}
		tspec = torrent.TorrentSpecFromMetaInfo(mi)
	}
	if savePath != "" {
		tspec.Storage = storage.NewFile(savePath)
	}
	return tspec, nil
}

func (e *Engine) RemoveTorrent(h ports.Handle, deleteFiles bool) error {
	hash := h.InfoHash()

	e.mu.Lock()
	st, ok := e.torrents[hash]
	if !ok {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	delete(e.torrents, hash)
	e.mu.Unlock()
	e.forgetSpeed(hash)

	t := st.t
	name := ""
	if torrentInfoReady(t) {
		name = t.Name()
	}
	t.Drop()

	if deleteFiles && name != "" {
		root := st.savePath
		if root == "" {
			root = e.dataDir
		}
		if err := os.RemoveAll(filepath.Join(root, name)); err != nil {
			e.log.Warn("failed to delete torrent payload",
				slog.String("infoHash", string(hash)),
				slog.String("error", err.Error()))
		}
	}

	// Return freed memory to the OS promptly. Without this the GC may hold
	// the drop's memory for a long time, which hurts on small boxes.
	freeOSMemory()
	return nil
}

// PopAlerts drains the pending alert queue.
func (e *Engine) PopAlerts() []domain.Alert {
	e.alertMu.Lock()
	out := e.alerts
	e.alerts = nil
	e.alertMu.Unlock()
	return out
}

func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Torrent watcher
// ---------------------------------------------------------------------------

// watchTorrent waits for metadata and then watches for the completion edge.
// Each tracked torrent has exactly one watcher; it exits when the torrent is
// dropped or the engine closes.
func (e *Engine) watchTorrent(hash domain.InfoHash, st *torrentState) {
	t := st.t

	select {
	case <-t.GotInfo():
		e.pushAlert(domain.Alert{Kind: domain.AlertMetadataReceived, InfoHash: hash})
		e.mu.RLock()
		paused := st.paused
		e.mu.RUnlock()
		if !paused {
			t.DownloadAll()
		}
	case <-time.After(e.metadataTimeout):
		e.pushAlert(domain.Alert{
			Kind:     domain.AlertMetadataFailed,
			InfoHash: hash,
			Err:      "metadata not received before deadline",
		})
		return
	case <-t.Closed():
		return
	case <-e.closed:
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.Closed():
			return
		case <-e.closed:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		if st.checking {
			e.mu.Unlock()
			continue
		}
		length := t.Length()
		done := t.BytesCompleted()
		finished := length > 0 && done >= length
		edge := finished && !st.finishedSeen
		if finished {
			st.finishedSeen = true
		}
		e.mu.Unlock()

		if edge {
			e.pushAlert(domain.Alert{Kind: domain.AlertTorrentFinished, InfoHash: hash})
		}
	}
}

func (e *Engine) pushAlert(a domain.Alert) {
	e.alertMu.Lock()
	e.alerts = append(e.alerts, a)
	e.alertMu.Unlock()
}

// ---------------------------------------------------------------------------
// Hard pause / resume
// ---------------------------------------------------------------------------

// hardPauseTorrent prevents all network activity by disallowing data
// transfer and setting max connections to 0, which disconnects all peers.
func hardPauseTorrent(t *torrent.Torrent) {
	if t == nil {
		return
	}
	t.DisallowDataDownload()
	t.DisallowDataUpload()
	t.SetMaxEstablishedConns(0)
}

// resumeTorrent re-enables data transfer and peer connections and restarts
// the full download once metadata is known.
func (e *Engine) resumeTorrent(t *torrent.Torrent) {
	if t == nil {
		return
	}
	e.mu.RLock()
	maxConns := e.maxConns
	seeding := e.seeding
	e.mu.RUnlock()

	t.SetMaxEstablishedConns(maxConns)
	if seeding {
		t.AllowDataUpload()
	}
	t.AllowDataDownload()
	if torrentInfoReady(t) {
		t.DownloadAll()
	}
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

func (e *Engine) getState(hash domain.InfoHash) *torrentState {
	e.mu.RLock()
	st := e.torrents[hash]
	e.mu.RUnlock()
	if st == nil {
		return nil
	}
	select {
	case <-st.t.Closed():
		e.mu.Lock()
		delete(e.torrents, hash)
		e.mu.Unlock()
		e.forgetSpeed(hash)
		return nil
	default:
		return st
	}
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

// freeOSMemory triggers garbage collection and returns freed memory to the OS.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

type speedSample struct {
	at             time.Time
	bytesRead      int64
	readUseful     int64
	bytesWritten   int64
	writtenPayload int64
}

type speedReading struct {
	download        int64
	upload          int64
	payloadDownload int64
	payloadUpload   int64
}

func (e *Engine) sampleSpeed(hash domain.InfoHash, stats torrent.TorrentStats, now time.Time) speedReading {
	current := speedSample{
		at:             now,
		bytesRead:      stats.BytesRead.Int64(),
		readUseful:     stats.BytesReadUsefulData.Int64(),
		bytesWritten:   stats.BytesWritten.Int64(),
		writtenPayload: stats.BytesWrittenData.Int64(),
	}

	e.speedMu.Lock()
	prev, ok := e.speeds[hash]
	e.speeds[hash] = current
	e.speedMu.Unlock()

	if !ok || prev.at.IsZero() {
		return speedReading{}
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return speedReading{}
	}

	perSec := func(delta int64) int64 {
		if delta < 0 {
			return 0
		}
		return int64(float64(delta) / dt)
	}
	return speedReading{
		download:        perSec(current.bytesRead - prev.bytesRead),
		upload:          perSec(current.bytesWritten - prev.bytesWritten),
		payloadDownload: perSec(current.readUseful - prev.readUseful),
		payloadUpload:   perSec(current.writtenPayload - prev.writtenPayload),
	}
}

func (e *Engine) forgetSpeed(hash domain.InfoHash) {
	e.speedMu.Lock()
	delete(e.speeds, hash)
	e.speedMu.Unlock()
}
