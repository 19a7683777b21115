package engine

import (
	"bytes"
	"context"
	"sync"
)

// KeyUpdate is the state of one watched key inside an update batch. A
// nil Entry means the key has no current entry.
type KeyUpdate struct {
	Key   []byte
	Entry *Entry
}

// Subscription is one live watch. Every commit touching any of its keys
// produces a batch holding the current entry for all of them, in the
// order they were subscribed. At most one batch is buffered; unread
// intermediate states coalesce into the latest one.
type Subscription struct {
	id   uint64
	keys [][]byte
	ch   chan []KeyUpdate
	hub  *watchHub

	once sync.Once
}

// Updates returns the channel batches are delivered on. It is closed
// when the subscription ends.
func (s *Subscription) Updates() <-chan []KeyUpdate {
	return s.ch
}

// Close detaches the subscription from the engine.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// watchHub fans commit notifications out to subscriptions. Same job as a
// cond-broadcast notifier, but channel-based so consumers can select on
// delivery.
type watchHub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func newWatchHub() *watchHub {
	return &watchHub{subs: map[uint64]*Subscription{}}
}

// Watch subscribes to a set of keys. The subscription ends when ctx is
// cancelled, Close is called, or the engine shuts down.
func (e *Engine) Watch(ctx context.Context, keys [][]byte) (*Subscription, error) {
	for _, k := range keys {
		if len(k) == 0 {
			return nil, ErrEmptyKey
		}
	}

	h := e.watchers
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	h.nextID++
	sub := &Subscription{
		id:   h.nextID,
		keys: keys,
		ch:   make(chan []KeyUpdate, 1),
		hub:  h,
	}
	h.subs[sub.id] = sub

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

func (h *watchHub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	s.once.Do(func() { close(s.ch) })
}

func (h *watchHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		s.once.Do(func() { close(s.ch) })
	}
}

// notify delivers fresh batches to every subscription watching one of the
// touched keys. Called with the engine lock held so the batch is a
// consistent snapshot of the committed state.
func (h *watchHub) notify(e *Engine, touched [][]byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if !watchesAny(sub.keys, touched) {
			continue
		}

		batch := make([]KeyUpdate, 0, len(sub.keys))
		for _, k := range sub.keys {
			ent, err := e.getEntry(k)
			if err != nil {
				ent = nil
			}
			batch = append(batch, KeyUpdate{Key: k, Entry: ent})
		}

		// Keep only the newest unread batch.
		select {
		case sub.ch <- batch:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- batch:
			default:
			}
		}
	}
}

func watchesAny(watched, touched [][]byte) bool {
	for _, w := range watched {
		for _, t := range touched {
			if bytes.Equal(w, t) {
				return true
			}
		}
	}
	return false
}
