// internal/lobby/reaper.go
package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultReapInterval = 10 * time.Minute
	DefaultMaxIdle      = 24 * time.Hour
)

// Sweeper removes lobbies idle for longer than maxAge. *Store implements it; the session
// server wraps it so evicted members are notified.
type Sweeper interface {
	Reap(now time.Time, maxAge time.Duration) []*Lobby
}

// Reaper periodically sweeps idle lobbies. Sweeps never overlap.
type Reaper struct {
	Sweeper  Sweeper
	Interval time.Duration
	MaxAge   time.Duration
	Logger   *logrus.Logger
	Now      func() time.Time

	running sync.Mutex
}

// NewReaper returns a Reaper with the default 10 minute interval and 24 hour max idle time.
func NewReaper(sw Sweeper, logger *logrus.Logger) *Reaper {
	return &Reaper{
		Sweeper:  sw,
		Interval: DefaultReapInterval,
		MaxAge:   DefaultMaxIdle,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce()
		}
	}
}

// RunOnce performs one sweep and returns the number of lobbies removed. If another sweep is
// still in flight it returns -1 without sweeping.
func (r *Reaper) RunOnce() int {
	if !r.running.TryLock() {
		if r.Logger != nil {
			r.Logger.Warn("reaper: previous sweep still running, skipping tick")
		}
		return -1
	}
	defer r.running.Unlock()

	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	removed := r.Sweeper.Reap(now, r.MaxAge)
	if r.Logger != nil && len(removed) > 0 {
		r.Logger.WithField("count", len(removed)).Info("reaper: removed idle lobbies")
	}
	return len(removed)
}
