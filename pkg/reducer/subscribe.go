package reducer

import (
	"sync"

	"github.com/p2pmodels/committees/pkg/state"
)

type subscriber struct {
	mu        sync.Mutex
	ch        chan *state.Snapshot
	closed    bool
	delivered bool
	lastSeq   uint64
}

// deliver hands snap to the subscriber without blocking the committer. A slow subscriber
// loses intermediate snapshots but always ends up with the latest one.
func (s *subscriber) deliver(snap *state.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.delivered && snap.Seq <= s.lastSeq) {
		return
	}
	s.delivered = true
	s.lastSeq = snap.Seq
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscribe returns a channel that receives every snapshot published after the call,
// starting with the current one. cancel releases the subscription and closes the channel.
// The channel is also closed when the reducer stops.
func (r *Reducer) Subscribe(buffer int) (<-chan *state.Snapshot, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &subscriber{ch: make(chan *state.Snapshot, buffer)}
	id := r.nextSubID.Add(1)

	r.subsMu.Lock()
	if r.subsClosed {
		r.subsMu.Unlock()
		sub.close()
		return sub.ch, func() {}
	}
	r.subscribers.Store(id, sub)
	r.subsMu.Unlock()

	sub.deliver(r.current.Load())

	return sub.ch, func() {
		r.subscribers.Delete(id)
		sub.close()
	}
}

func (r *Reducer) broadcast(snap *state.Snapshot) {
	r.subscribers.Range(func(_ uint64, sub *subscriber) bool {
		sub.deliver(snap)
		return true
	})
}

func (r *Reducer) closeSubscribers() {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	r.subsClosed = true
	r.subscribers.Range(func(id uint64, sub *subscriber) bool {
		sub.close()
		r.subscribers.Delete(id)
		return true
	})
	r.syncWatchers.Range(func(id uint64, w *syncWatcher) bool {
		w.close()
		r.syncWatchers.Delete(id)
		return true
	})
}

// syncWatcher holds at most one pending signal. Transitions that land before the watcher
// drains the channel coalesce into that signal, so none is lost.
type syncWatcher struct {
	mu     sync.Mutex
	ch     chan struct{}
	closed bool
}

func (w *syncWatcher) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *syncWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// WatchSynced returns a channel signalled each time a committed snapshot flips from
// syncing to synced. The signal is raised by the committer itself, independent of any
// snapshot subscription. cancel releases the watcher and closes the channel, as does Close.
func (r *Reducer) WatchSynced() (<-chan struct{}, func()) {
	w := &syncWatcher{ch: make(chan struct{}, 1)}
	id := r.nextSubID.Add(1)

	r.subsMu.Lock()
	if r.subsClosed {
		r.subsMu.Unlock()
		w.close()
		return w.ch, func() {}
	}
	r.syncWatchers.Store(id, w)
	r.subsMu.Unlock()

	return w.ch, func() {
		r.syncWatchers.Delete(id)
		w.close()
	}
}

func (r *Reducer) signalSynced() {
	r.syncWatchers.Range(func(_ uint64, w *syncWatcher) bool {
		w.notify()
		return true
	})
}
