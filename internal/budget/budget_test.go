package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/store"
)

type fakeSpendStore struct {
	mu   sync.Mutex
	recs []model.SpendRecord
}

// InsertSpend wraps the conflict sentinel the way the SQL store does,
// so idempotence tests cover unwrapping.
func (f *fakeSpendStore) InsertSpend(_ context.Context, rec model.SpendRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.recs {
		if r.StepID == rec.StepID {
			return fmt.Errorf("fakestore: spend for step %s: %w", rec.StepID, store.ErrConflict)
		}
	}
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeSpendStore) SumSpend(_ context.Context, userID uuid.UUID, from time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, r := range f.recs {
		if r.UserID == userID && !r.RecordedAt.Before(from) {
			total += r.Amount
		}
	}
	return total, nil
}

func TestCheckWithinLimits(t *testing.T) {
	l := New(&fakeSpendStore{}, Limits{Daily: 1000, Monthly: 10000})
	require.NoError(t, l.Check(context.Background(), uuid.New(), 999))
}

func TestCheckDailyExceeded(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	l := New(fs, Limits{Daily: 1000, Monthly: 10000})
	require.NoError(t, l.Record(context.Background(), userID, uuid.New(), uuid.New(), 800))

	err := l.Check(context.Background(), userID, 300)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "daily", be.Window)
	assert.Equal(t, 800.0, be.Spent)
	assert.Equal(t, 300.0, be.Requested)
}

func TestCheckMonthlyExceeded(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	l := New(fs, Limits{Daily: 10000, Monthly: 1000})
	require.NoError(t, l.Record(context.Background(), userID, uuid.New(), uuid.New(), 900))

	err := l.Check(context.Background(), userID, 200)
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "monthly", be.Window)
}

func TestCheckZeroAmountAlwaysAllowed(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	l := New(fs, Limits{Daily: 10, Monthly: 10})
	require.NoError(t, l.Record(context.Background(), userID, uuid.New(), uuid.New(), 10))
	require.NoError(t, l.Check(context.Background(), userID, 0))
}

func TestSpendRecordsOnSuccess(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	l := New(fs, DefaultLimits())

	ran := false
	err := l.Spend(context.Background(), userID, uuid.New(), uuid.New(), 50, func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	total, err := fs.SumSpend(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 50.0, total)
}

func TestSpendSkipsRecordOnFailure(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	l := New(fs, DefaultLimits())

	want := errors.New("connector blew up")
	err := l.Spend(context.Background(), userID, uuid.New(), uuid.New(), 50, func() error { return want })
	require.ErrorIs(t, err, want)

	total, err := fs.SumSpend(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSpendDeniedBeforeRunning(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	l := New(fs, Limits{Daily: 100, Monthly: 1000})

	ran := false
	err := l.Spend(context.Background(), userID, uuid.New(), uuid.New(), 150, func() error {
		ran = true
		return nil
	})
	var be *Error
	require.ErrorAs(t, err, &be)
	assert.False(t, ran, "fn must not run when the ceiling denies the spend")
}

func TestConcurrentSpendNeverOvershoots(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	l := New(fs, Limits{Daily: 1000, Monthly: 10000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Spend(context.Background(), userID, uuid.New(), uuid.New(), 300, func() error { return nil })
		}()
	}
	wg.Wait()

	total, err := fs.SumSpend(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	assert.LessOrEqual(t, total, 1000.0)
}

func TestRecordIdempotentPerStep(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	stepID := uuid.New()
	l := New(fs, DefaultLimits())

	require.NoError(t, l.Record(context.Background(), userID, uuid.New(), stepID, 75))
	require.NoError(t, l.Record(context.Background(), userID, uuid.New(), stepID, 75))

	total, err := fs.SumSpend(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 75.0, total)
}

func TestSummary(t *testing.T) {
	fs := &fakeSpendStore{}
	userID := uuid.New()
	l := New(fs, Limits{Daily: 1000, Monthly: 10000})
	require.NoError(t, l.Record(context.Background(), userID, uuid.New(), uuid.New(), 250))

	s, err := l.Summary(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 250.0, s.DailySpent)
	assert.Equal(t, 750.0, s.DailyRemaining)
	assert.Equal(t, 250.0, s.MonthlySpent)
	assert.Equal(t, 9750.0, s.MonthlyRemaining)
}
