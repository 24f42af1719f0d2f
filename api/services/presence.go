package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/internal/adapters/metrics"
)

// PresenceRegistry is the in-memory presence table. Nothing here is
// persisted: a restart makes everyone offline, which is also what the
// console assumes after losing its session.
type PresenceRegistry struct {
	mu            sync.Mutex
	lastBeat      map[string]time.Time
	status        map[string]string
	nowPlaying    map[string]string
	pendingOnline map[string]struct{}
	lastChange    map[string]time.Time

	// Buffered wake for the sweeper's empty-table park.
	wake chan struct{}
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		lastBeat:      make(map[string]time.Time),
		status:        make(map[string]string),
		nowPlaying:    make(map[string]string),
		pendingOnline: make(map[string]struct{}),
		lastChange:    make(map[string]time.Time),
		wake:          make(chan struct{}, 1),
	}
}

// HeartbeatResult reports what a heartbeat changed. Fanout is decided
// inside the critical section: it is true exactly when friends must be
// told the user resumed online.
type HeartbeatResult struct {
	OldStatus         string
	StatusChanged     bool
	NowPlayingChanged bool
	Fanout            bool
}

// Heartbeat applies one presence update.
//
// online/not_available renew the last-seen stamp. A not_available
// heartbeat from a previously offline user arms the pending-online
// flag; any other heartbeat disarms it. A later online heartbeat fans
// out when the user came from offline or the flag is armed. offline
// removes the user from the table entirely.
func (r *PresenceRegistry) Heartbeat(npid, status, nowPlaying string) (HeartbeatResult, error) {
	if !domain.ValidStatus(status) {
		return HeartbeatResult{}, domain.ErrInvalidStatus
	}

	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.status[npid]
	if !ok {
		old = domain.StatusOffline
	}
	oldOnline := old != domain.StatusOffline
	oldNowPlaying := r.nowPlaying[npid]

	res := HeartbeatResult{OldStatus: old}

	switch status {
	case domain.StatusOnline, domain.StatusNotAvailable:
		wasEmpty := len(r.lastBeat) == 0
		r.lastBeat[npid] = now
		r.nowPlaying[npid] = nowPlaying
		r.status[npid] = status

		res.StatusChanged = old != status
		res.NowPlayingChanged = oldOnline && oldNowPlaying != nowPlaying

		if status == domain.StatusNotAvailable {
			if old == domain.StatusOffline {
				r.pendingOnline[npid] = struct{}{}
			} else {
				delete(r.pendingOnline, npid)
			}
		}

		if status == domain.StatusOnline && res.StatusChanged {
			_, pending := r.pendingOnline[npid]
			res.Fanout = old == domain.StatusOffline || pending
			delete(r.pendingOnline, npid)
		}

		if res.StatusChanged || res.NowPlayingChanged {
			r.lastChange[npid] = now
		}

		if wasEmpty {
			select {
			case r.wake <- struct{}{}:
			default:
			}
		}

	case domain.StatusOffline:
		delete(r.lastBeat, npid)
		delete(r.nowPlaying, npid)
		delete(r.status, npid)
		delete(r.pendingOnline, npid)
		res.StatusChanged = old != domain.StatusOffline
		if res.StatusChanged {
			r.lastChange[npid] = now
		}
	}

	metrics.OnlineUsers.Set(float64(len(r.lastBeat)))
	return res, nil
}

// Snapshot returns a user's current status and, when not offline, the
// game they are in.
func (r *PresenceRegistry) Snapshot(npid string) (status, nowPlaying string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.status[npid]
	if !ok {
		return domain.StatusOffline, ""
	}
	if status != domain.StatusOffline {
		nowPlaying = r.nowPlaying[npid]
	}
	return status, nowPlaying
}

// IsOnline reports whether npid is in the presence table.
func (r *PresenceRegistry) IsOnline(npid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.lastBeat[npid]
	return ok
}

// FilterOnline returns the subset of npids currently in the presence
// table, in input order.
func (r *PresenceRegistry) FilterOnline(npids []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	online := make([]string, 0, len(npids))
	for _, npid := range npids {
		if _, ok := r.lastBeat[npid]; ok {
			online = append(online, npid)
		}
	}
	return online
}

// OnlineCount is the presence table size.
func (r *PresenceRegistry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lastBeat)
}

// Empty reports whether nobody is online.
func (r *PresenceRegistry) Empty() bool {
	return r.OnlineCount() == 0
}

// WakeChan signals the empty-to-occupied transition to the sweeper.
func (r *PresenceRegistry) WakeChan() <-chan struct{} {
	return r.wake
}

// Sweep expires users whose last heartbeat is older than maxAge and
// returns them. Expiry is silent: no events are fanned out, the next
// explicit heartbeat speaks for itself.
func (r *PresenceRegistry) Sweep(maxAge time.Duration) []string {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for npid, beat := range r.lastBeat {
		if now.Sub(beat) > maxAge {
			expired = append(expired, npid)
		}
	}
	for _, npid := range expired {
		delete(r.lastBeat, npid)
		delete(r.nowPlaying, npid)
		delete(r.status, npid)
		delete(r.pendingOnline, npid)
		r.lastChange[npid] = now
	}

	metrics.OnlineUsers.Set(float64(len(r.lastBeat)))
	return expired
}

// PruneChanges forgets status-change stamps older than age.
func (r *PresenceRegistry) PruneChanges(age time.Duration) {
	cutoff := time.Now().Add(-age)

	r.mu.Lock()
	defer r.mu.Unlock()

	for npid, at := range r.lastChange {
		if at.Before(cutoff) {
			delete(r.lastChange, npid)
		}
	}
}

// Sweeper owns the background expiry loop: one goroutine that parks
// while the presence table is empty, then ticks every interval,
// expiring stale heartbeats and pruning old change stamps and inbox
// events.
type Sweeper struct {
	registry *PresenceRegistry
	inbox    *EventInbox
	interval time.Duration
	pruneAge time.Duration
}

func NewSweeper(registry *PresenceRegistry, inbox *EventInbox, interval, pruneAge time.Duration) *Sweeper {
	return &Sweeper{
		registry: registry,
		inbox:    inbox,
		interval: interval,
		pruneAge: pruneAge,
	}
}

// Run blocks until ctx is done.
func (sw *Sweeper) Run(ctx context.Context) error {
	for {
		if sw.registry.Empty() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-sw.registry.WakeChan():
			}
		}

		timer := time.NewTimer(sw.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-sw.registry.WakeChan():
		case <-timer.C:
		}
		timer.Stop()

		expired := sw.registry.Sweep(sw.interval)
		for _, npid := range expired {
			slog.Info("presence timeout", "npid", npid, "status", domain.StatusOffline)
		}

		sw.registry.PruneChanges(sw.pruneAge)
		sw.inbox.Prune(sw.pruneAge)
	}
}
