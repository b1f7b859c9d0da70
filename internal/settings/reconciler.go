package settings

import (
	"log/slog"
	"sort"
	"sync"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
)

// Reconciler pushes setting batches into the engine and keeps a cached view
// of what actually took effect. Application is partial: keys the engine
// rejects are logged and skipped, the rest of the batch still applies.
type Reconciler struct {
	engine ports.Engine
	log    *slog.Logger

	mu        sync.Mutex
	effective domain.SettingsMap

	onApplied func(domain.SettingsMap)
	onReject  func(key string)
}

func NewReconciler(engine ports.Engine, log *slog.Logger) *Reconciler {
	return &Reconciler{
		engine:    engine,
		log:       log,
		effective: engine.Settings(),
	}
}

// OnApplied registers a callback invoked with the effective settings after
// every successful Apply, typically to persist the state document.
func (r *Reconciler) OnApplied(fn func(domain.SettingsMap)) {
	r.mu.Lock()
	r.onApplied = fn
	r.mu.Unlock()
}

// OnReject registers a callback invoked once per rejected key.
func (r *Reconciler) OnReject(fn func(key string)) {
	r.mu.Lock()
	r.onReject = fn
	r.mu.Unlock()
}

// Apply pushes the batch key by key in deterministic order, then refreshes
// the effective view from the engine. The returned map is what the engine
// reports after the batch, which is authoritative over the request.
func (r *Reconciler) Apply(batch domain.SettingsMap) domain.SettingsMap {
	keys := make([]string, 0, len(batch))
	for k := range batch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rejected := make([]string, 0)
	for _, key := range keys {
		if err := r.engine.ApplySetting(key, batch[key]); err != nil {
			r.log.Warn("setting rejected",
				slog.String("key", key),
				slog.String("error", err.Error()))
			rejected = append(rejected, key)
		}
	}

	effective := r.engine.Settings()

	r.mu.Lock()
	r.effective = effective
	applied := r.onApplied
	reject := r.onReject
	r.mu.Unlock()

	if reject != nil {
		for _, key := range rejected {
			reject(key)
		}
	}
	if applied != nil {
		applied(effective.Clone())
	}
	return effective.Clone()
}

// Effective returns the last known engine-reported settings.
func (r *Reconciler) Effective() domain.SettingsMap {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.effective.Clone()
}
