// Package budget enforces per-user spending ceilings over rolling
// daily and monthly windows. Spend is derived from the append-only
// spend records, never from a mutable counter, so the ledger can be
// rebuilt from storage at any time.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/store"
)

// SpendStore is the slice of the persistence surface the ledger needs.
type SpendStore interface {
	InsertSpend(ctx context.Context, rec model.SpendRecord) error
	SumSpend(ctx context.Context, userID uuid.UUID, from time.Time) (float64, error)
}

// Limits holds the per-user spending ceilings in account currency.
type Limits struct {
	Daily   float64
	Monthly float64
}

// DefaultLimits mirrors the shipped configuration defaults.
func DefaultLimits() Limits {
	return Limits{Daily: 1000, Monthly: 10000}
}

// Error reports a ceiling that an amount would exceed. It carries
// enough detail to render a human-readable denial reason.
type Error struct {
	Window    string  // "daily" or "monthly"
	Limit     float64
	Spent     float64
	Requested float64
}

func (e *Error) Error() string {
	return fmt.Sprintf("budget: %s limit exceeded: %.2f spent + %.2f requested > %.2f limit",
		e.Window, e.Spent, e.Requested, e.Limit)
}

// Ledger serializes budget reads and writes per user. The zero value is
// not usable; construct with New.
type Ledger struct {
	store  SpendStore
	limits Limits

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func New(s SpendStore, limits Limits) *Ledger {
	return &Ledger{
		store:  s,
		limits: limits,
		locks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

func (l *Ledger) userLock(userID uuid.UUID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// windowStarts returns the UTC start of the current day and month.
func windowStarts(now time.Time) (day, month time.Time) {
	now = now.UTC()
	day = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	month = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return day, month
}

func (l *Ledger) check(ctx context.Context, userID uuid.UUID, amount float64) error {
	if amount <= 0 {
		return nil
	}
	day, month := windowStarts(time.Now())
	spentDay, err := l.store.SumSpend(ctx, userID, day)
	if err != nil {
		return fmt.Errorf("budget: sum daily spend: %w", err)
	}
	if spentDay+amount > l.limits.Daily {
		return &Error{Window: "daily", Limit: l.limits.Daily, Spent: spentDay, Requested: amount}
	}
	spentMonth, err := l.store.SumSpend(ctx, userID, month)
	if err != nil {
		return fmt.Errorf("budget: sum monthly spend: %w", err)
	}
	if spentMonth+amount > l.limits.Monthly {
		return &Error{Window: "monthly", Limit: l.limits.Monthly, Spent: spentMonth, Requested: amount}
	}
	return nil
}

// Check reports whether the user can spend amount without crossing a
// ceiling. It takes the user's budget lock so the answer is consistent
// with concurrent Spend calls.
func (l *Ledger) Check(ctx context.Context, userID uuid.UUID, amount float64) error {
	m := l.userLock(userID)
	m.Lock()
	defer m.Unlock()
	return l.check(ctx, userID, amount)
}

// Spend runs fn under the user's budget lock after verifying the
// ceilings, and records the amount against the step when fn succeeds.
// The lock is held across fn so two costed steps for the same user
// cannot both pass the check and jointly overshoot a ceiling. A
// *budget.Error return means fn never ran.
func (l *Ledger) Spend(ctx context.Context, userID, runID, stepID uuid.UUID, amount float64, fn func() error) error {
	if amount <= 0 {
		return fn()
	}
	m := l.userLock(userID)
	m.Lock()
	defer m.Unlock()

	if err := l.check(ctx, userID, amount); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	return l.record(ctx, userID, runID, stepID, amount)
}

func (l *Ledger) record(ctx context.Context, userID, runID, stepID uuid.UUID, amount float64) error {
	rec := model.SpendRecord{
		ID:         uuid.New(),
		UserID:     userID,
		RunID:      runID,
		StepID:     stepID,
		Amount:     amount,
		RecordedAt: time.Now().UTC(),
	}
	err := l.store.InsertSpend(ctx, rec)
	if errors.Is(err, store.ErrConflict) {
		// Already recorded for this step; the charge stands.
		return nil
	}
	if err != nil {
		return fmt.Errorf("budget: record spend: %w", err)
	}
	return nil
}

// Record charges amount against a step outside of Spend, for callers
// that performed the work elsewhere. Idempotent per step.
func (l *Ledger) Record(ctx context.Context, userID, runID, stepID uuid.UUID, amount float64) error {
	if amount <= 0 {
		return nil
	}
	m := l.userLock(userID)
	m.Lock()
	defer m.Unlock()
	return l.record(ctx, userID, runID, stepID, amount)
}

// Summary reports current spend against both windows for the user.
func (l *Ledger) Summary(ctx context.Context, userID uuid.UUID) (model.BudgetSummary, error) {
	day, month := windowStarts(time.Now())
	spentDay, err := l.store.SumSpend(ctx, userID, day)
	if err != nil {
		return model.BudgetSummary{}, fmt.Errorf("budget: sum daily spend: %w", err)
	}
	spentMonth, err := l.store.SumSpend(ctx, userID, month)
	if err != nil {
		return model.BudgetSummary{}, fmt.Errorf("budget: sum monthly spend: %w", err)
	}
	return model.BudgetSummary{
		DailyLimit:       l.limits.Daily,
		DailySpent:       spentDay,
		DailyRemaining:   max(l.limits.Daily-spentDay, 0),
		MonthlyLimit:     l.limits.Monthly,
		MonthlySpent:     spentMonth,
		MonthlyRemaining: max(l.limits.Monthly-spentMonth, 0),
	}, nil
}
