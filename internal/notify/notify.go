// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package notify implements the toast notification surface: transient
// success and error messages, and loading messages that live until they
// are dismissed.
package notify

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"
)

// Notifier is the fire-and-forget notification surface used by the
// controller. Only the loading identifier is ever read back.
type Notifier interface {
	Success(text string)
	Error(text string)
	Loading(text string) string
	Dismiss(id string)
}

// Kind classifies a toast.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindLoading Kind = "loading"
)

// Toast is one notification.
type Toast struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Text    string    `json:"text"`
	Created time.Time `json:"created"`
}

// EventType says whether a toast appeared or went away.
type EventType string

const (
	EventShow    EventType = "show"
	EventDismiss EventType = "dismiss"
)

// Event is delivered to subscribers.
type Event struct {
	Type  EventType `json:"type"`
	Toast Toast     `json:"toast"`
}

// DefaultTTL is how long success and error toasts stay in Active.
const DefaultTTL = 5 * time.Second

const subscriberBuffer = 16

// Hub keeps active toasts and fans events out to subscribers. Slow
// subscribers lose events rather than block the publisher.
type Hub struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	seq    int
	active []Toast
	subs   map[chan Event]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub whose transient toasts expire after ttl (DefaultTTL
// when ttl <= 0).
func NewHub(ttl time.Duration) *Hub {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Hub{
		ttl:  ttl,
		now:  time.Now,
		subs: make(map[chan Event]struct{}),
		done: make(chan struct{}),
	}
}

func (h *Hub) Success(text string) { h.show(KindSuccess, text) }

func (h *Hub) Error(text string) { h.show(KindError, text) }

func (h *Hub) Loading(text string) string { return h.show(KindLoading, text) }

// Dismiss removes a toast. Unknown ids are ignored.
func (h *Hub) Dismiss(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, t := range h.active {
		if t.ID == id {
			h.active = append(h.active[:i], h.active[i+1:]...)
			h.publish(Event{Type: EventDismiss, Toast: t})
			return
		}
	}
}

// Active returns loading toasts and the transient toasts younger than the
// hub's ttl, oldest first.
func (h *Hub) Active() []Toast {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expire()
	out := make([]Toast, len(h.active))
	copy(out, h.active)
	return out
}

// Subscribe streams events until ctx is done or the hub is closed, then
// closes the channel.
func (h *Hub) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-h.done:
		}
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Close ends every subscription so streaming handlers return during
// shutdown. Toasts can still be shown afterwards.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) show(kind Kind, text string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expire()
	h.seq++
	t := Toast{ID: strconv.Itoa(h.seq), Kind: kind, Text: text, Created: h.now()}
	h.active = append(h.active, t)
	h.publish(Event{Type: EventShow, Toast: t})
	return t.ID
}

// expire drops stale transient toasts. Callers hold h.mu.
func (h *Hub) expire() {
	cutoff := h.now().Add(-h.ttl)
	kept := h.active[:0]
	for _, t := range h.active {
		if t.Kind == KindLoading || t.Created.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.active = kept
}

// publish delivers ev without blocking. Callers hold h.mu.
func (h *Hub) publish(ev Event) {
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Console writes notifications as status lines, the way the CLI reports
// progress.
type Console struct {
	w   io.Writer
	mu  sync.Mutex
	seq int
}

// NewConsole creates a console notifier writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Success(text string) { c.line("ok", text) }

func (c *Console) Error(text string) { c.line("error", text) }

func (c *Console) Loading(text string) string {
	c.mu.Lock()
	c.seq++
	id := strconv.Itoa(c.seq)
	c.mu.Unlock()
	c.line("...", text)
	return id
}

// Dismiss is a no-op; console lines cannot be withdrawn.
func (c *Console) Dismiss(string) {}

func (c *Console) line(prefix, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%-5s %s\n", prefix, text)
}
