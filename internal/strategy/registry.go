package strategy

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/bookimbalance/internal/domain"
)

// Registry maps instruments to their trackers. It is safe for concurrent use.
type Registry struct {
	trackers map[string]*Tracker
	mu       sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
	}
}

// Register adds t under its instrument, replacing any previous tracker.
func (r *Registry) Register(t *Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trackers[t.Instrument()] = t
}

// Get retrieves the tracker for instrument.
func (r *Registry) Get(instrument string) (*Tracker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.trackers[instrument]
	if !ok {
		return nil, fmt.Errorf("instrument %q: %w", instrument, domain.ErrNotFound)
	}
	return t, nil
}

// Snapshot returns the consolidated book for instrument.
func (r *Registry) Snapshot(instrument string, now time.Time) (domain.BookSnapshot, error) {
	t, err := r.Get(instrument)
	if err != nil {
		return domain.BookSnapshot{}, err
	}
	return t.Snapshot(now), nil
}

// List returns the registered instruments in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.trackers))
	for n := range r.trackers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Statuses returns the status of every tracker, sorted by instrument.
func (r *Registry) Statuses() []TrackerStatus {
	names := r.List()
	out := make([]TrackerStatus, 0, len(names))
	for _, n := range names {
		t, err := r.Get(n)
		if err != nil {
			continue
		}
		out = append(out, t.Status())
	}
	return out
}
