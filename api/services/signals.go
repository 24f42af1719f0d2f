package services

import (
	"sync"

	"github.com/vita3k/v3kn/internal/adapters/metrics"
)

// PollSignals is the per-NPID wake registry behind the friends poll.
// Entries are refcounted by their waiters and removed when the last
// waiter leaves, so parked polls are the only thing keeping a signal
// alive.
type PollSignals struct {
	mu      sync.Mutex
	signals map[string]*pollSignal
}

type pollSignal struct {
	ch      chan struct{}
	waiters int
}

func NewPollSignals() *PollSignals {
	return &PollSignals{signals: make(map[string]*pollSignal)}
}

// Acquire registers a waiter for npid, creating the signal on first
// use. The caller must Release on every exit path.
func (ps *PollSignals) Acquire(npid string) *PollWaiter {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	sig, ok := ps.signals[npid]
	if !ok {
		// Buffer of one: a notify with nobody parked is kept for
		// the next wait instead of being lost.
		sig = &pollSignal{ch: make(chan struct{}, 1)}
		ps.signals[npid] = sig
	}
	sig.waiters++
	metrics.PollWaiters.WithLabelValues("friends").Inc()

	return &PollWaiter{signals: ps, npid: npid, sig: sig}
}

// Notify wakes one waiter parked on npid, if any signal is registered.
func (ps *PollSignals) Notify(npid string) {
	ps.mu.Lock()
	sig := ps.signals[npid]
	ps.mu.Unlock()

	if sig == nil {
		return
	}
	select {
	case sig.ch <- struct{}{}:
	default:
	}
}

// PollWaiter is one parked poll's handle on its signal.
type PollWaiter struct {
	signals *PollSignals
	npid    string
	sig     *pollSignal
}

// Wake is the channel a poll selects on.
func (w *PollWaiter) Wake() <-chan struct{} {
	return w.sig.ch
}

// Release drops the waiter and erases the registry entry when it was
// the last one.
func (w *PollWaiter) Release() {
	w.signals.mu.Lock()
	defer w.signals.mu.Unlock()

	if w.sig.waiters > 0 {
		w.sig.waiters--
		metrics.PollWaiters.WithLabelValues("friends").Dec()
	}
	if w.sig.waiters == 0 {
		if cur, ok := w.signals.signals[w.npid]; ok && cur == w.sig {
			delete(w.signals.signals, w.npid)
		}
	}
}

// MessageSignal is the single broadcast behind the messages poll:
// every conversation mutation wakes every parked poll.
type MessageSignal struct {
	mu sync.Mutex
	ch chan struct{}
}

func NewMessageSignal() *MessageSignal {
	return &MessageSignal{ch: make(chan struct{})}
}

// Wait returns the channel that closes on the next notify.
func (s *MessageSignal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Notify wakes every current waiter.
func (s *MessageSignal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	close(s.ch)
	s.ch = make(chan struct{})
}
