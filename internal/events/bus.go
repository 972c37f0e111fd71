// Package events implements the in-process notification bus. Events are
// fanned out per user to SSE subscribers and retained in a short replay
// window so clients that reconnect can catch up on what they missed.
// The bus is advisory: the audit log, not the bus, is the durable record.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/telemetry"
)

// ErrTooManySubscribers is returned by Subscribe when the user already
// has the maximum number of open subscriptions.
var ErrTooManySubscribers = errors.New("events: too many subscribers for user")

// ErrClosed is returned by Subscribe after the bus has shut down.
var ErrClosed = errors.New("events: bus closed")

var busMeter = telemetry.Meter("steward/events")

// Options tune the bus. Zero fields fall back to the defaults below.
type Options struct {
	// BufferSize is the per-subscriber channel capacity. A subscriber
	// whose buffer is full when an event arrives is evicted rather than
	// allowed to stall delivery to others.
	BufferSize int
	// MaxPerUser caps concurrent subscriptions per user.
	MaxPerUser int
	// ReplaySize caps the number of retained events per user.
	ReplaySize int
	// ReplayTTL evicts retained events older than this.
	ReplayTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}
	if o.MaxPerUser <= 0 {
		o.MaxPerUser = 8
	}
	if o.ReplaySize <= 0 {
		o.ReplaySize = 256
	}
	if o.ReplayTTL <= 0 {
		o.ReplayTTL = 15 * time.Minute
	}
	return o
}

type subscriber struct {
	ch     chan model.Event
	userID uuid.UUID
}

// Bus fans events out to per-user subscribers. All delivery happens
// under the bus lock, so each subscriber observes a user's events in
// publish order.
type Bus struct {
	opts Options

	mu     sync.Mutex
	closed bool
	subs   map[uuid.UUID]map[*subscriber]struct{}
	replay map[uuid.UUID][]model.Event
}

func NewBus(opts Options) *Bus {
	return &Bus{
		opts:   opts.withDefaults(),
		subs:   make(map[uuid.UUID]map[*subscriber]struct{}),
		replay: make(map[uuid.UUID][]model.Event),
	}
}

// Subscribe registers a new subscriber for the user. The returned
// cancel func must be called when the consumer is done; it is safe to
// call more than once. The channel is closed when the subscriber is
// cancelled, evicted for falling behind, or the bus shuts down.
func (b *Bus) Subscribe(userID uuid.UUID) (<-chan model.Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrClosed
	}
	if len(b.subs[userID]) >= b.opts.MaxPerUser {
		return nil, nil, ErrTooManySubscribers
	}

	sub := &subscriber{
		ch:     make(chan model.Event, b.opts.BufferSize),
		userID: userID,
	}
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*subscriber]struct{})
	}
	b.subs[userID][sub] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.remove(sub)
		})
	}
	return sub.ch, cancel, nil
}

// remove drops and closes a subscriber. Caller holds b.mu.
func (b *Bus) remove(sub *subscriber) {
	set, ok := b.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.userID)
	}
	close(sub.ch)
}

// Publish delivers the event to every subscriber of its user and
// appends it to the user's replay window. A subscriber whose buffer is
// full is evicted and its channel closed; the client is expected to
// reconnect and catch up via Pending.
func (b *Bus) Publish(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.retain(ev)

	for sub := range b.subs[ev.UserID] {
		select {
		case sub.ch <- ev:
		default:
			b.remove(sub)
			if counter, err := busMeter.Int64Counter("events.subscriber_evictions"); err == nil {
				counter.Add(context.Background(), 1)
			}
		}
	}
}

// retain appends to the replay window, evicting by age then by size.
// Caller holds b.mu.
func (b *Bus) retain(ev model.Event) {
	window := b.replay[ev.UserID]
	cutoff := time.Now().UTC().Add(-b.opts.ReplayTTL)
	for len(window) > 0 && window[0].Timestamp.Before(cutoff) {
		window = window[1:]
	}
	window = append(window, ev)
	if excess := len(window) - b.opts.ReplaySize; excess > 0 {
		window = window[excess:]
	}
	b.replay[ev.UserID] = window
}

// Pending returns the retained events for the user with timestamps
// strictly after since, oldest first. A zero since returns the whole
// replay window.
func (b *Bus) Pending(userID uuid.UUID, since time.Time) []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.replay[userID]
	cutoff := time.Now().UTC().Add(-b.opts.ReplayTTL)
	var out []model.Event
	for _, ev := range window {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if ev.Timestamp.After(since) {
			out = append(out, ev)
		}
	}
	return out
}

// Close shuts the bus down, closing all subscriber channels. Publish
// and Subscribe become no-ops afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
	}
	b.subs = make(map[uuid.UUID]map[*subscriber]struct{})
	b.replay = make(map[uuid.UUID][]model.Event)
}
