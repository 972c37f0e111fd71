package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/store"
)

func seedRun(t *testing.T, s *Store, ownerID uuid.UUID) (model.Run, []model.Step) {
	t.Helper()
	run := model.Run{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Message:   "research something",
		Mode:      model.ModeSimulation,
		Status:    model.RunStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	plan := model.Plan{ID: uuid.New(), RunID: run.ID, RiskLevel: model.RiskLow, CreatedAt: run.CreatedAt}
	steps := []model.Step{
		{ID: uuid.New(), RunID: run.ID, PlanID: plan.ID, Seq: 1, ActionType: "research", Status: model.StepStatusPending},
		{ID: uuid.New(), RunID: run.ID, PlanID: plan.ID, Seq: 2, ActionType: "email", DependsOn: []int{1}, Status: model.StepStatusPending},
	}
	require.NoError(t, s.CreateRun(context.Background(), run, plan, steps, nil))
	return run, steps
}

func TestRunRoundTrip(t *testing.T) {
	s := New()
	run, steps := seedRun(t, s, uuid.New())

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Message, got.Message)

	plan, err := s.GetPlan(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, plan.RunID)

	listed, err := s.ListSteps(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, steps[0].ID, listed[0].ID)
	assert.Equal(t, []int{1}, listed[1].DependsOn)
}

func TestGetRunNotFound(t *testing.T) {
	s := New()
	_, err := s.GetRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateRunDuplicateConflicts(t *testing.T) {
	s := New()
	run, _ := seedRun(t, s, uuid.New())
	err := s.CreateRun(context.Background(), run, model.Plan{ID: uuid.New(), RunID: run.ID}, nil, nil)
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestUpdateRunStatus(t *testing.T) {
	s := New()
	run, _ := seedRun(t, s, uuid.New())

	now := time.Now().UTC()
	msg := "boom"
	require.NoError(t, s.UpdateRunStatus(context.Background(), run.ID, model.RunStatusFailed, &msg, &now))

	got, err := s.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "boom", *got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestStepIsolation(t *testing.T) {
	s := New()
	run, steps := seedRun(t, s, uuid.New())

	got, err := s.GetStep(context.Background(), steps[0].ID)
	require.NoError(t, err)
	got.Status = model.StepStatusCompleted
	if got.Parameters == nil {
		got.Parameters = map[string]any{}
	}
	got.Parameters["mutated"] = true

	// Mutating the returned copy must not leak into the store.
	fresh, err := s.GetStep(context.Background(), steps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusPending, fresh.Status)
	assert.NotContains(t, fresh.Parameters, "mutated")

	_ = run
}

func TestPendingApprovalsScopedToOwner(t *testing.T) {
	s := New()
	alice, bob := uuid.New(), uuid.New()
	runA, stepsA := seedRun(t, s, alice)
	seedRun(t, s, bob)

	now := time.Now().UTC()
	expires := now.Add(time.Hour)
	approval := model.Approval{
		ID:          uuid.New(),
		RunID:       runA.ID,
		StepID:      &stepsA[1].ID,
		Scope:       model.ScopeStep,
		Status:      model.ApprovalStatusPending,
		RequestedAt: now,
		ExpiresAt:   &expires,
	}
	require.NoError(t, s.CreateRun(context.Background(), model.Run{ID: uuid.New(), OwnerID: alice}, model.Plan{}, nil, nil))
	s.approvals[approval.ID] = approval

	got, err := s.ListPendingApprovalsByOwner(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.ListPendingApprovalsByOwner(context.Background(), bob)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSpendUniquePerStep(t *testing.T) {
	s := New()
	userID, stepID := uuid.New(), uuid.New()
	rec := model.SpendRecord{ID: uuid.New(), UserID: userID, RunID: uuid.New(), StepID: stepID, Amount: 10, RecordedAt: time.Now().UTC()}
	require.NoError(t, s.InsertSpend(context.Background(), rec))
	require.ErrorIs(t, s.InsertSpend(context.Background(), rec), store.ErrConflict)

	total, err := s.SumSpend(context.Background(), userID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 10.0, total)
}

func TestUsersUniqueByName(t *testing.T) {
	s := New()
	u := model.User{ID: uuid.New(), Name: "mark", Role: model.RoleUser}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.ErrorIs(t, s.CreateUser(context.Background(), model.User{ID: uuid.New(), Name: "mark"}), store.ErrConflict)

	got, err := s.GetUserByName(context.Background(), "mark")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}
