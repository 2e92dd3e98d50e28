package dashboard

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/zulandar/rehearsal/internal/metrics"
	"github.com/zulandar/rehearsal/internal/simulator"
)

// Registry holds the live simulator sessions served by the dashboard and
// closes the ones left idle.
type Registry struct {
	idle    time.Duration
	metrics *metrics.Metrics
	log     *logrus.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	o        *simulator.Orchestrator
	lastUsed time.Time
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	// IdleTimeout is how long an untouched session survives a sweep.
	// Zero keeps sessions until they are removed.
	IdleTimeout time.Duration
	Metrics     *metrics.Metrics
	Log         *logrus.Logger
	Clock       func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts RegistryOpts) *Registry {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Registry{
		idle:     opts.IdleTimeout,
		metrics:  opts.Metrics,
		log:      opts.Log,
		now:      opts.Clock,
		sessions: make(map[string]*entry),
	}
}

// Add registers o under its ID.
func (r *Registry) Add(o *simulator.Orchestrator) {
	r.mu.Lock()
	r.sessions[o.ID()] = &entry{o: o, lastUsed: r.now()}
	n := len(r.sessions)
	r.mu.Unlock()
	r.metrics.SetOpenSessions(n)
}

// Get returns the session and marks it as used.
func (r *Registry) Get(id string) (*simulator.Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.o, true
}

// List returns the live sessions ordered by ID without marking them as
// used, so listing never holds off the idle sweep.
func (r *Registry) List() []*simulator.Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*simulator.Orchestrator, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns the registered session IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove closes and forgets a session. It reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.o.Close()
	r.metrics.SetOpenSessions(n)
	return true
}

// Sweep closes sessions idle for longer than the idle timeout. Sessions
// with an operation in flight are kept. It returns how many were closed.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.idle)
	var stale []*simulator.Orchestrator

	r.mu.Lock()
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) && !e.o.Busy() {
			stale = append(stale, e.o)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, o := range stale {
		o.Close()
	}
	if len(stale) > 0 {
		r.log.WithField("closed", len(stale)).Info("swept idle sessions")
	}
	r.metrics.SetOpenSessions(n)
	return len(stale)
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range all {
		e.o.Close()
	}
	r.metrics.SetOpenSessions(0)
}

// StartSweeper schedules Sweep on a standard cron spec. Stop the returned
// cron to end it.
func (r *Registry) StartSweeper(spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { r.Sweep() }); err != nil {
		return nil, fmt.Errorf("dashboard: sweep schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}
