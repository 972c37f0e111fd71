package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/steward/internal/model"
)

func newEvent(userID uuid.UUID, typ model.EventType) model.Event {
	return model.Event{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		RunID:     uuid.New(),
		Timestamp: time.Now().UTC(),
	}
}

func TestPublishDeliversToOwnUserOnly(t *testing.T) {
	b := NewBus(Options{})
	defer b.Close()

	alice, bob := uuid.New(), uuid.New()
	chA, cancelA, err := b.Subscribe(alice)
	require.NoError(t, err)
	defer cancelA()
	chB, cancelB, err := b.Subscribe(bob)
	require.NoError(t, err)
	defer cancelB()

	b.Publish(newEvent(alice, model.EventRunCreated))

	select {
	case ev := <-chA:
		assert.Equal(t, model.EventRunCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("alice's subscriber received nothing")
	}
	select {
	case ev := <-chB:
		t.Fatalf("bob received alice's event: %+v", ev)
	default:
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	b := NewBus(Options{})
	defer b.Close()

	userID := uuid.New()
	ch, cancel, err := b.Subscribe(userID)
	require.NoError(t, err)
	defer cancel()

	types := []model.EventType{
		model.EventRunCreated,
		model.EventStepStatusChanged,
		model.EventRunStatusChanged,
		model.EventRunCompleted,
	}
	for _, typ := range types {
		b.Publish(newEvent(userID, typ))
	}

	for _, want := range types {
		select {
		case ev := <-ch:
			assert.Equal(t, want, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestSubscribeCapPerUser(t *testing.T) {
	b := NewBus(Options{MaxPerUser: 2})
	defer b.Close()

	userID := uuid.New()
	_, cancel1, err := b.Subscribe(userID)
	require.NoError(t, err)
	defer cancel1()
	_, cancel2, err := b.Subscribe(userID)
	require.NoError(t, err)

	_, _, err = b.Subscribe(userID)
	require.ErrorIs(t, err, ErrTooManySubscribers)

	// Cancelling frees a slot.
	cancel2()
	_, cancel3, err := b.Subscribe(userID)
	require.NoError(t, err)
	cancel3()
}

func TestSlowSubscriberEvicted(t *testing.T) {
	b := NewBus(Options{BufferSize: 1})
	defer b.Close()

	userID := uuid.New()
	ch, cancel, err := b.Subscribe(userID)
	require.NoError(t, err)
	defer cancel()

	// First event fills the buffer; second overflows and evicts.
	b.Publish(newEvent(userID, model.EventRunCreated))
	b.Publish(newEvent(userID, model.EventRunStatusChanged))

	// The buffered event is still readable, then the channel closes.
	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, model.EventRunCreated, ev.Type)
	_, ok = <-ch
	assert.False(t, ok, "evicted subscriber's channel should be closed")

	// Other subscribers are unaffected by the eviction.
	ch2, cancel2, err := b.Subscribe(userID)
	require.NoError(t, err)
	defer cancel2()
	b.Publish(newEvent(userID, model.EventRunCompleted))
	select {
	case ev := <-ch2:
		assert.Equal(t, model.EventRunCompleted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("fresh subscriber received nothing")
	}
}

func TestPendingReturnsEventsAfterSince(t *testing.T) {
	b := NewBus(Options{})
	defer b.Close()

	userID := uuid.New()
	old := newEvent(userID, model.EventRunCreated)
	old.Timestamp = time.Now().UTC().Add(-time.Minute)
	b.Publish(old)

	mark := time.Now().UTC().Add(-time.Second)
	recent := newEvent(userID, model.EventStepStatusChanged)
	b.Publish(recent)

	got := b.Pending(userID, mark)
	require.Len(t, got, 1)
	assert.Equal(t, model.EventStepStatusChanged, got[0].Type)

	all := b.Pending(userID, time.Time{})
	assert.Len(t, all, 2)
}

func TestPendingHonorsTTL(t *testing.T) {
	b := NewBus(Options{ReplayTTL: 50 * time.Millisecond})
	defer b.Close()

	userID := uuid.New()
	b.Publish(newEvent(userID, model.EventRunCreated))
	time.Sleep(80 * time.Millisecond)

	assert.Empty(t, b.Pending(userID, time.Time{}))
}

func TestReplayWindowBounded(t *testing.T) {
	b := NewBus(Options{ReplaySize: 3})
	defer b.Close()

	userID := uuid.New()
	for range 5 {
		b.Publish(newEvent(userID, model.EventStepStatusChanged))
	}

	assert.Len(t, b.Pending(userID, time.Time{}), 3)
}

func TestCloseShutsDownSubscribers(t *testing.T) {
	b := NewBus(Options{})

	userID := uuid.New()
	ch, cancel, err := b.Subscribe(userID)
	require.NoError(t, err)
	defer cancel()

	b.Close()

	_, ok := <-ch
	assert.False(t, ok)

	_, _, err = b.Subscribe(userID)
	require.ErrorIs(t, err, ErrClosed)

	// Publish after close is a no-op.
	b.Publish(newEvent(userID, model.EventRunCreated))
}
