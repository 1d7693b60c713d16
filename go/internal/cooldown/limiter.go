package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Limiter tracks the last accepted placement per actor and decides whether
// a new placement is currently allowed. The admission check and the state
// update are one atomic unit, so an actor with two open tabs cannot place
// twice within one cooldown window.
type Limiter struct {
	clock    clockwork.Clock
	interval time.Duration

	mu      sync.Mutex
	records map[string]record
}

// record keeps the actor's accepted-placement window plus the window it
// replaced, so an admission whose placement fails to commit can be rolled
// back without charging the actor.
type record struct {
	last    time.Time
	prev    time.Time
	hasPrev bool
}

// NewLimiter creates a limiter with the given cooldown interval.
func NewLimiter(clock clockwork.Clock, interval time.Duration) *Limiter {
	return &Limiter{
		clock:    clock,
		interval: interval,
		records:  make(map[string]record),
	}
}

// Interval returns the configured cooldown interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}

// TryAcquire admits a placement for the actor if its cooldown has elapsed.
// On admission the actor's last-accepted time advances to now. On rejection
// state is left untouched and the remaining wait is returned, rounded up to
// a whole second.
func (l *Limiter) TryAcquire(actorID string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	rec, ok := l.records[actorID]
	if ok {
		if elapsed := now.Sub(rec.last); elapsed < l.interval {
			return false, ceilSeconds(l.interval - elapsed)
		}
	}
	l.records[actorID] = record{last: now, prev: rec.last, hasPrev: ok}
	return true, 0
}

// Release rolls back the admission recorded by the actor's most recent
// successful TryAcquire, restoring the window that preceded it. Called when
// an admitted placement fails to commit, so the failed attempt does not
// consume the actor's cooldown. No further admission can have happened in
// between, because the rolled-back one keeps the cooldown active.
func (l *Limiter) Release(actorID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[actorID]
	if !ok {
		return
	}
	if rec.hasPrev {
		l.records[actorID] = record{last: rec.prev}
	} else {
		delete(l.records, actorID)
	}
}

// Remaining reports the actor's current cooldown in whole seconds without
// consuming or advancing any state. Zero means a placement would be allowed.
func (l *Limiter) Remaining(actorID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[actorID]
	if !ok {
		return 0
	}
	elapsed := l.clock.Now().Sub(rec.last)
	if elapsed >= l.interval {
		return 0
	}
	return ceilSeconds(l.interval - elapsed)
}

// Prune drops records whose cooldown elapsed more than keep ago. An absent
// record is equivalent to "never placed", so pruning affects no admission
// decision.
func (l *Limiter) Prune(keep time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-(l.interval + keep))
	removed := 0
	for actorID, rec := range l.records {
		if rec.last.Before(cutoff) {
			delete(l.records, actorID)
			removed++
		}
	}
	return removed
}

// RunPruneLoop prunes expired records on a fixed period until ctx is done.
func (l *Limiter) RunPruneLoop(ctx context.Context, period, keep time.Duration) {
	ticker := l.clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if removed := l.Prune(keep); removed > 0 {
				log.Debug().Int("removed", removed).Msg("pruned expired cooldown records")
			}
		}
	}
}

func ceilSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
