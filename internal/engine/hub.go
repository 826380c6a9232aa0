package engine

import (
	"sync"

	"github.com/poachwatch/poachwatch/internal/alert"
)

// transitionHub fans alert transitions out to live subscribers. Slow
// subscribers miss transitions rather than block evaluation.
type transitionHub struct {
	mu     sync.Mutex
	subs   map[chan alert.Transition]struct{}
	closed bool
}

func newTransitionHub() *transitionHub {
	return &transitionHub{subs: make(map[chan alert.Transition]struct{})}
}

func (h *transitionHub) subscribe() (<-chan alert.Transition, func()) {
	ch := make(chan alert.Transition, 8)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *transitionHub) publish(tr alert.Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- tr:
		default:
		}
	}
}

func (h *transitionHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
