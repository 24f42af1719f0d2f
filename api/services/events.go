package services

import (
	"sync"
	"time"

	"github.com/vita3k/v3kn/api/domain"
	"github.com/vita3k/v3kn/api/store"
	"github.com/vita3k/v3kn/internal/adapters/metrics"
)

// EventInbox holds pending friend events per recipient, drained whole
// by the friends poll. Request events are journaled to disk so they
// survive a restart; status events are volatile and live in memory
// until a drain or the next journaled push rewrites the file.
type EventInbox struct {
	store *store.Store

	mu     sync.Mutex
	events map[string][]domain.Event

	// Orders journal rewrites; always taken inside mu.
	journalMu sync.Mutex
}

// NewEventInbox loads the journal from disk.
func NewEventInbox(s *store.Store) (*EventInbox, error) {
	events, err := s.LoadEvents()
	if err != nil {
		return nil, err
	}
	in := &EventInbox{store: s, events: events}
	metrics.EventsPending.Set(float64(in.pendingLocked()))
	return in, nil
}

// Push appends an event to npid's inbox and persists the journal.
func (in *EventInbox) Push(npid string, ev domain.Event) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.events[npid] = append(in.events[npid], ev)
	metrics.EventsPending.Set(float64(in.pendingLocked()))
	return in.persistLocked()
}

// PushVolatile appends without touching the journal.
func (in *EventInbox) PushVolatile(npid string, ev domain.Event) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.events[npid] = append(in.events[npid], ev)
	metrics.EventsPending.Set(float64(in.pendingLocked()))
}

// Remove drops every event of the given type from `from` out of
// npid's inbox; a cancelled request must not surface on a later poll.
func (in *EventInbox) Remove(npid, eventType, from string) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	pending, ok := in.events[npid]
	if !ok {
		return nil
	}

	kept := pending[:0]
	for _, ev := range pending {
		if ev.Type == eventType && ev.NPID == from {
			continue
		}
		kept = append(kept, ev)
	}
	if len(kept) == 0 {
		delete(in.events, npid)
	} else {
		in.events[npid] = kept
	}
	metrics.EventsPending.Set(float64(in.pendingLocked()))
	return in.persistLocked()
}

// Drain takes npid's whole inbox, removing it. An empty inbox drains
// to nil without a journal rewrite. The journal is rewritten before
// the inbox is given up: on a write failure the events stay pending
// and surface on the next poll instead of vanishing mid-run.
func (in *EventInbox) Drain(npid string) ([]domain.Event, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	pending, ok := in.events[npid]
	if !ok {
		return nil, nil
	}
	delete(in.events, npid)
	if err := in.persistLocked(); err != nil {
		in.events[npid] = pending
		return nil, err
	}
	metrics.EventsPending.Set(float64(in.pendingLocked()))
	return pending, nil
}

// Prune drops events older than age. Memory only: the journal catches
// up on the next push or drain.
func (in *EventInbox) Prune(age time.Duration) {
	cutoff := time.Now().Add(-age).Unix()

	in.mu.Lock()
	defer in.mu.Unlock()

	for npid, pending := range in.events {
		kept := pending[:0]
		for _, ev := range pending {
			if ev.At >= cutoff {
				kept = append(kept, ev)
			}
		}
		if len(kept) == 0 {
			delete(in.events, npid)
		} else {
			in.events[npid] = kept
		}
	}
	metrics.EventsPending.Set(float64(in.pendingLocked()))
}

// Pending is the total number of queued events.
func (in *EventInbox) Pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pendingLocked()
}

func (in *EventInbox) pendingLocked() int {
	var n int
	for _, pending := range in.events {
		n += len(pending)
	}
	return n
}

func (in *EventInbox) persistLocked() error {
	in.journalMu.Lock()
	defer in.journalMu.Unlock()
	return in.store.SaveEvents(in.events)
}
