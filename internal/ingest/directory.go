package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/radvis/radvis-backend/internal/logger"
	"github.com/radvis/radvis-backend/internal/sse"
)

const (
	// DefaultIdleTTL is how long an unused queue/pool pair survives before
	// the janitor reclaims it.
	DefaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

type entry struct {
	queue   *Queue
	pool    *Pool
	lastUse time.Time
}

// Directory lazily creates and memoizes exactly one queue/worker-pool pair
// per client session. Concurrent first acquires for the same id resolve to
// a single pair. Pairs idle past the TTL with nothing queued or running are
// evicted; a later Acquire for the same id builds a fresh pair.
type Directory struct {
	mu          sync.Mutex
	entries     map[string]*entry
	runner      Runner
	hub         *sse.Hub
	log         *logger.Logger
	concurrency int
	idleTTL     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

type DirectoryOption func(*Directory)

func WithConcurrency(n int) DirectoryOption {
	return func(d *Directory) { d.concurrency = n }
}

func WithIdleTTL(ttl time.Duration) DirectoryOption {
	return func(d *Directory) { d.idleTTL = ttl }
}

func NewDirectory(baseLog *logger.Logger, hub *sse.Hub, runner Runner, opts ...DirectoryOption) *Directory {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Directory{
		entries:     make(map[string]*entry),
		runner:      runner,
		hub:         hub,
		log:         baseLog.With("component", "IngestDirectory"),
		concurrency: DefaultConcurrency,
		idleTTL:     DefaultIdleTTL,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.janitor()
	return d
}

// Acquire returns the client's queue and pool, constructing and starting
// them on first use.
func (d *Directory) Acquire(clientID string) (*Queue, *Pool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[clientID]; ok {
		e.lastUse = time.Now()
		return e.queue, e.pool
	}

	queue := NewQueue()
	pool := NewPool(clientID, queue, d.runner, d.hub, d.log, d.concurrency)
	pool.Start(d.ctx)
	d.entries[clientID] = &entry{queue: queue, pool: pool, lastUse: time.Now()}
	d.log.Info("Created ingest queue and worker pool", "clientID", clientID)
	return queue, pool
}

// Size reports how many client sessions currently hold a pair.
func (d *Directory) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Directory) janitor() {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweep(time.Now())
		}
	}
}

func (d *Directory) sweep(now time.Time) {
	d.mu.Lock()
	var evict []*entry
	for clientID, e := range d.entries {
		if e.queue.Len() > 0 || e.pool.Running() > 0 {
			continue
		}
		idleSince := e.lastUse
		if fin := e.pool.LastFinished(); fin.After(idleSince) {
			idleSince = fin
		}
		if now.Sub(idleSince) < d.idleTTL {
			continue
		}
		delete(d.entries, clientID)
		evict = append(evict, e)
		d.log.Info("Evicting idle ingest queue and worker pool", "clientID", clientID)
	}
	d.mu.Unlock()

	for _, e := range evict {
		e.pool.Stop()
	}
}

// Close stops every pool and the janitor. In-flight jobs are cancelled via
// their context.
func (d *Directory) Close() {
	d.cancel()

	d.mu.Lock()
	entries := make([]*entry, 0, len(d.entries))
	for _, e := range d.entries {
		entries = append(entries, e)
	}
	d.entries = make(map[string]*entry)
	d.mu.Unlock()

	for _, e := range entries {
		e.pool.Stop()
		e.pool.Wait()
	}
}
