package counter

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultBatchTTL is how long a batch may sit idle before the sweeper
// finalizes it.
const DefaultBatchTTL = 5 * time.Minute

// BatchKey identifies one batching context: the counters of one user touched
// by one source event.
type BatchKey struct {
	TenantID string
	UserID   string
	EventID  string
}

// Batch is a finalized batching context handed to the finalizer.
type Batch struct {
	Key      BatchKey
	UserType string
	// Fields are the dirty counter fields, sorted.
	Fields []string
}

// Finalizer builds the stats notification for a batch. It is called outside
// the registry lock.
type Finalizer func(ctx context.Context, b Batch) error

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// TTL is the idle time after which Sweep finalizes a batch.
	// Default: 5 minutes.
	TTL time.Duration

	// SweepInterval is how often the background sweeper runs.
	// Default: TTL / 5.
	SweepInterval time.Duration

	Finalizer Finalizer
	Logger    *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Registry tracks open batching contexts.
type Registry struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu       sync.Mutex
	batches  map[BatchKey]*batchState
	finalize Finalizer

	sweepStop chan struct{}
	sweepDone chan struct{}
}

type batchState struct {
	userType  string
	fields    map[string]struct{}
	lastTouch time.Time
}

// NewRegistry creates an empty registry. The sweeper is not started.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultBatchTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.TTL / 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		ttl:      cfg.TTL,
		interval: cfg.SweepInterval,
		now:      cfg.Now,
		log:      cfg.Logger.With("component", "counter-batches"),
		batches:  make(map[BatchKey]*batchState),
		finalize: cfg.Finalizer,
	}
}

// SetFinalizer replaces the finalizer. It exists so the registry can be built
// before the component that consumes finalized batches.
func (r *Registry) SetFinalizer(f Finalizer) {
	r.mu.Lock()
	r.finalize = f
	r.mu.Unlock()
}

// Register marks field dirty in the batch for key, opening it if needed.
func (r *Registry) Register(key BatchKey, userType, field string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.batches[key]
	if !ok {
		st = &batchState{fields: make(map[string]struct{})}
		r.batches[key] = st
	}
	if userType != "" {
		st.userType = userType
	}
	st.fields[field] = struct{}{}
	st.lastTouch = now
}

// Pending returns the dirty fields of an open batch, sorted.
func (r *Registry) Pending(key BatchKey) ([]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.batches[key]
	if !ok {
		return nil, false
	}
	return sortedFields(st.fields), true
}

// Len returns the number of open batches.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

// Finalize closes the batch for key and hands it to the finalizer. The key is
// removed before the finalizer runs, so a repeated or concurrent Finalize of
// the same key is a no-op. It reports whether a batch was finalized.
func (r *Registry) Finalize(ctx context.Context, key BatchKey) (bool, error) {
	r.mu.Lock()
	st, ok := r.batches[key]
	if ok {
		delete(r.batches, key)
	}
	fin := r.finalize
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	if fin == nil {
		return true, nil
	}
	return true, fin(ctx, Batch{Key: key, UserType: st.userType, Fields: sortedFields(st.fields)})
}

// Sweep finalizes every batch idle for longer than the TTL and returns how
// many it finalized. Finalizer errors are logged.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()

	var stale []BatchKey
	r.mu.Lock()
	for key, st := range r.batches {
		if now.Sub(st.lastTouch) > r.ttl {
			stale = append(stale, key)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, key := range stale {
		done, err := r.Finalize(ctx, key)
		if err != nil {
			r.log.Warn("finalizing expired batch", "tenant_id", key.TenantID,
				"user_id", key.UserID, "event_id", key.EventID, "error", err)
		}
		if done {
			n++
		}
	}
	if n > 0 {
		r.log.Info("swept expired batches", "count", n)
	}
	return n
}

// Start launches the background sweeper. Call Stop to pause it; Start may be
// called again afterwards.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.sweepStop != nil {
		r.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	r.sweepStop, r.sweepDone = stop, done
	r.mu.Unlock()

	go r.sweepLoop(stop, done)
	r.log.Info("batch sweeper started", "ttl", r.ttl, "sweep_interval", r.interval)
}

// Stop shuts the sweeper down and waits for it to exit.
func (r *Registry) Stop() {
	r.mu.Lock()
	stop, done := r.sweepStop, r.sweepDone
	r.sweepStop, r.sweepDone = nil, nil
	r.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (r *Registry) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.Sweep(context.Background())
		}
	}
}

func sortedFields(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
