package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/biocypher/biochatter-server/internal/observability"
)

// DefaultRecycleInterval is how often the recycler scans for expired sessions
const DefaultRecycleInterval = 10 * time.Minute

// Recycler periodically removes expired sessions from a store. Ticks collect
// expired ids under the store lock, release it, then remove each id
// independently. A tick that panics is logged and the schedule continues.
type Recycler struct {
	store    *Store
	interval time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewRecycler creates a recycler for store. interval <= 0 falls back to
// DefaultRecycleInterval.
func NewRecycler(store *Store, interval time.Duration) *Recycler {
	if interval <= 0 {
		interval = DefaultRecycleInterval
	}
	return &Recycler{store: store, interval: interval}
}

// Start begins the recycling schedule. Starting a running recycler is an
// error.
func (r *Recycler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("recycler already running")
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.interval), r.tick); err != nil {
		return fmt.Errorf("failed to schedule recycler: %w", err)
	}
	c.Start()

	r.cron = c
	r.running = true
	log.Info().Dur("interval", r.interval).Msg("Session recycler started")
	return nil
}

// Stop halts the schedule. No further store access happens after Stop
// returns. Stopping a stopped recycler is a no-op.
func (r *Recycler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	ctx := r.cron.Stop()
	<-ctx.Done()

	r.cron = nil
	r.running = false
	log.Info().Msg("Session recycler stopped")
}

// IsRunning reports whether the schedule is active
func (r *Recycler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Recycler) tick() {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Session recycler tick panicked")
		}
	}()
	r.RecycleNow()
}

// RecycleNow removes all currently expired sessions and returns how many
// were removed. Safe to call whether or not the schedule is running.
func (r *Recycler) RecycleNow() int {
	expired := r.store.ExpiredSessions(time.Now())
	for _, id := range expired {
		r.store.Remove(id)
	}

	if len(expired) > 0 {
		observability.RecordSessionsRecycled(len(expired))
		log.Info().Int("count", len(expired)).Msg("Recycled expired sessions")
	}
	return len(expired)
}
