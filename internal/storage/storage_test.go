package storage_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/storage"
	"github.com/harborline/steward/internal/store"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "steward",
			"POSTGRES_PASSWORD": "steward",
			"POSTGRES_DB":       "steward",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("postgres://steward:steward@%s:%s/steward?sslmode=disable", host, port.Port())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	testDB, err = storage.New(ctx, dsn, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create DB: %v\n", err)
		os.Exit(1)
	}

	if err := testDB.RunMigrations(ctx, os.DirFS("../../migrations")); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func newUser(t *testing.T, role model.Role) model.User {
	t.Helper()
	u := model.User{
		ID:         uuid.New(),
		Name:       fmt.Sprintf("user-%s", uuid.New()),
		Role:       role,
		APIKeyHash: "hash",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, testDB.CreateUser(context.Background(), u))
	return u
}

// newRun persists a run with one gated payment step and one ungated
// research step, returning the run and its steps.
func newRun(t *testing.T, owner model.User) (model.Run, []model.Step, []model.Approval) {
	t.Helper()
	now := time.Now().UTC()
	run := model.Run{
		ID:        uuid.New(),
		OwnerID:   owner.ID,
		Message:   "research then pay",
		Mode:      model.ModeSimulation,
		Status:    model.RunStatusPending,
		CreatedAt: now,
	}
	plan := model.Plan{
		ID:            uuid.New(),
		RunID:         run.ID,
		EstimatedCost: 250,
		RiskLevel:     model.RiskHigh,
		CreatedAt:     now,
	}
	steps := []model.Step{
		{
			ID:          uuid.New(),
			RunID:       run.ID,
			PlanID:      plan.ID,
			Seq:         1,
			ActionType:  "research",
			Description: "look things up",
			Parameters:  map[string]any{"query": "widgets"},
			RiskLevel:   model.RiskLow,
			SideEffect:  model.SideEffectReadOnly,
			Status:      model.StepStatusPending,
		},
		{
			ID:               uuid.New(),
			RunID:            run.ID,
			PlanID:           plan.ID,
			Seq:              2,
			ActionType:       "payment",
			Description:      "pay the invoice",
			Parameters:       map[string]any{"amount": 250.0},
			DependsOn:        []int{1},
			EstimatedCost:    250,
			RiskLevel:        model.RiskHigh,
			SideEffect:       model.SideEffectPayment,
			RequiresApproval: true,
			Status:           model.StepStatusPending,
		},
	}
	expires := now.Add(24 * time.Hour)
	approvals := []model.Approval{
		{
			ID:          uuid.New(),
			RunID:       run.ID,
			StepID:      &steps[1].ID,
			Scope:       model.ScopeStep,
			Reason:      "payment of 250.00 requires approval",
			Status:      model.ApprovalStatusPending,
			RequestedBy: owner.ID,
			RequestedAt: now,
			ExpiresAt:   &expires,
		},
	}
	require.NoError(t, testDB.CreateRun(context.Background(), run, plan, steps, approvals))
	return run, steps, approvals
}

func TestCreateAndGetRun(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)
	run, steps, _ := newRun(t, owner)

	got, err := testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, owner.ID, got.OwnerID)
	assert.Equal(t, model.RunStatusPending, got.Status)

	plan, err := testDB.GetPlan(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, plan.RiskLevel)
	assert.Equal(t, 250.0, plan.EstimatedCost)

	listed, err := testDB.ListSteps(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, steps[0].ID, listed[0].ID)
	assert.Equal(t, "widgets", listed[0].Parameters["query"])
	assert.Equal(t, []int{1}, listed[1].DependsOn)
	assert.True(t, listed[1].RequiresApproval)
}

func TestGetRunNotFound(t *testing.T) {
	_, err := testDB.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateRunStatus(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)
	run, _, _ := newRun(t, owner)

	now := time.Now().UTC()
	msg := "connector exploded"
	require.NoError(t, testDB.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed, &msg, &now))

	got, err := testDB.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateStep(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)
	_, steps, _ := newRun(t, owner)

	s := steps[0]
	s.Status = model.StepStatusCompleted
	s.Result = map[string]any{"findings": "widgets are cheap"}
	now := time.Now().UTC()
	s.ExecutedAt = &now
	require.NoError(t, testDB.UpdateStep(ctx, s))

	got, err := testDB.GetStep(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, got.Status)
	assert.Equal(t, "widgets are cheap", got.Result["findings"])
	require.NotNil(t, got.ExecutedAt)
}

func TestApprovalLifecycle(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)
	run, _, approvals := newRun(t, owner)

	pending, err := testDB.ListPendingApprovalsByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, approvals[0].ID, pending[0].ID)

	a := pending[0]
	a.Status = model.ApprovalStatusApproved
	a.ReviewedBy = &owner.ID
	now := time.Now().UTC()
	a.ReviewedAt = &now
	require.NoError(t, testDB.UpdateApproval(ctx, a))

	got, err := testDB.GetApproval(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalStatusApproved, got.Status)
	require.NotNil(t, got.ReviewedBy)

	pending, err = testDB.ListPendingApprovalsByOwner(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	byRun, err := testDB.ListApprovalsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, byRun, 1)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)
	run, steps, _ := newRun(t, owner)

	entries := []model.AuditLogEntry{
		{
			ID:        uuid.New(),
			RunID:     &run.ID,
			Actor:     model.ActorPlanner,
			Kind:      model.AuditRunCreated,
			Message:   "run created",
			CreatedAt: time.Now().UTC(),
		},
		{
			ID:        uuid.New(),
			RunID:     &run.ID,
			StepID:    &steps[0].ID,
			Actor:     model.ActorExecutor,
			Kind:      model.AuditStepStatusChanged,
			Message:   "step 1 completed",
			Metadata:  map[string]any{"status": "completed"},
			CreatedAt: time.Now().UTC().Add(time.Millisecond),
		},
	}
	for _, e := range entries {
		require.NoError(t, testDB.InsertAudit(ctx, e))
	}

	got, err := testDB.ListAuditByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.AuditRunCreated, got[0].Kind)
	assert.Equal(t, model.AuditStepStatusChanged, got[1].Kind)
	assert.Equal(t, "completed", got[1].Metadata["status"])
}

func TestSpendAtMostOncePerStep(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)
	run, steps, _ := newRun(t, owner)

	rec := model.SpendRecord{
		ID:         uuid.New(),
		UserID:     owner.ID,
		RunID:      run.ID,
		StepID:     steps[1].ID,
		Amount:     250,
		RecordedAt: time.Now().UTC(),
	}
	require.NoError(t, testDB.InsertSpend(ctx, rec))

	dup := rec
	dup.ID = uuid.New()
	err := testDB.InsertSpend(ctx, dup)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestSumSpendWindow(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)
	run, steps, _ := newRun(t, owner)

	now := time.Now().UTC()
	require.NoError(t, testDB.InsertSpend(ctx, model.SpendRecord{
		ID: uuid.New(), UserID: owner.ID, RunID: run.ID, StepID: steps[0].ID,
		Amount: 40, RecordedAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, testDB.InsertSpend(ctx, model.SpendRecord{
		ID: uuid.New(), UserID: owner.ID, RunID: run.ID, StepID: steps[1].ID,
		Amount: 60, RecordedAt: now,
	}))

	daily, err := testDB.SumSpend(ctx, owner.ID, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 60.0, daily)

	monthly, err := testDB.SumSpend(ctx, owner.ID, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 100.0, monthly)
}

func TestDuplicateUserNameConflicts(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)

	dup := model.User{
		ID:         uuid.New(),
		Name:       owner.Name,
		Role:       model.RoleUser,
		APIKeyHash: "hash",
		CreatedAt:  time.Now().UTC(),
	}
	err := testDB.CreateUser(ctx, dup)
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := testDB.GetUserByName(ctx, owner.Name)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.ID)
}

func TestDuplicatePendingApprovalConflicts(t *testing.T) {
	ctx := context.Background()
	owner := newUser(t, model.RoleUser)
	run, steps, _ := newRun(t, owner)

	// A second run reusing the same step ID in its approval set cannot
	// happen through the engine; simulate the constraint directly with a
	// fresh run whose approval targets the already-gated step.
	now := time.Now().UTC()
	run2 := model.Run{
		ID: uuid.New(), OwnerID: owner.ID, Message: "dup", Mode: model.ModeSimulation,
		Status: model.RunStatusPending, CreatedAt: now,
	}
	plan2 := model.Plan{
		ID: uuid.New(), RunID: run2.ID, RiskLevel: model.RiskLow, CreatedAt: now,
	}
	approvals := []model.Approval{{
		ID: uuid.New(), RunID: run.ID, StepID: &steps[1].ID, Scope: model.ScopeStep,
		Reason: "dup", Status: model.ApprovalStatusPending, RequestedBy: owner.ID, RequestedAt: now,
	}}
	err := testDB.CreateRun(ctx, run2, plan2, nil, approvals)
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConflict))
}
