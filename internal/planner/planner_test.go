package planner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

type fakeBackend struct {
	drafts []StepDraft
	err    error
}

func (f *fakeBackend) GenerateSteps(context.Context, string) ([]StepDraft, error) {
	return f.drafts, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRun(message string) model.Run {
	return model.Run{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Message:   message,
		Mode:      model.ModeSimulation,
		Status:    model.RunStatusPlanning,
		CreatedAt: time.Now().UTC(),
	}
}

func TestHeuristicResearchThenEmail(t *testing.T) {
	p := New(nil, policy.Default(), testLogger())

	run := testRun("Research CRM vendors and draft an email to mark@example.com with the results")
	plan, steps, err := p.BuildPlan(context.Background(), run)
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, policy.ActionResearch, steps[0].ActionType)
	assert.Equal(t, 1, steps[0].Seq)
	assert.Empty(t, steps[0].DependsOn)
	assert.False(t, steps[0].RequiresApproval)
	assert.Equal(t, model.RiskLow, steps[0].RiskLevel)

	assert.Equal(t, policy.ActionEmail, steps[1].ActionType)
	assert.Equal(t, []int{1}, steps[1].DependsOn)
	assert.True(t, steps[1].RequiresApproval)
	assert.Equal(t, "mark@example.com", steps[1].Parameters["to"])

	assert.Equal(t, run.ID, plan.RunID)
	assert.Equal(t, plan.ID, steps[0].PlanID)
}

func TestHeuristicResearchThenPurchase(t *testing.T) {
	p := New(nil, policy.Default(), testLogger())

	_, steps, err := p.BuildPlan(context.Background(), testRun("Find the best price for a mechanical keyboard"))
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, policy.ActionResearch, steps[0].ActionType)
	assert.Equal(t, policy.ActionPurchase, steps[1].ActionType)
	assert.True(t, steps[1].RequiresApproval)
}

func TestHeuristicPaymentExtractsAmount(t *testing.T) {
	p := New(nil, policy.Default(), testLogger())

	plan, steps, err := p.BuildPlan(context.Background(), testRun("Please pay the $1500 invoice from Acme"))
	require.NoError(t, err)
	require.Len(t, steps, 1)

	s := steps[0]
	assert.Equal(t, policy.ActionPayment, s.ActionType)
	assert.Equal(t, 1500.0, s.EstimatedCost)
	assert.Equal(t, model.RiskHigh, s.RiskLevel)
	assert.True(t, s.RequiresApproval)
	assert.Equal(t, model.RiskHigh, plan.RiskLevel)
	assert.Equal(t, 1500.0, plan.EstimatedCost)
}

func TestHeuristicDefaultsToResearch(t *testing.T) {
	p := New(nil, policy.Default(), testLogger())

	_, steps, err := p.BuildPlan(context.Background(), testRun("What is the weather like in Lisbon?"))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, policy.ActionResearch, steps[0].ActionType)
	assert.Equal(t, model.StepStatusPending, steps[0].Status)
}

func TestBackendDraftsAreClassified(t *testing.T) {
	backend := &fakeBackend{drafts: []StepDraft{
		{ActionType: "research", Description: "look things up"},
		{ActionType: "payment", Description: "settle up", Parameters: map[string]any{"amount": 250.0}, DependsOn: []int{1}},
	}}
	p := New(backend, policy.Default(), testLogger())

	plan, steps, err := p.BuildPlan(context.Background(), testRun("anything"))
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 250.0, steps[1].EstimatedCost)
	assert.Equal(t, model.RiskHigh, steps[1].RiskLevel)
	assert.Equal(t, model.RiskHigh, plan.RiskLevel)
}

func TestBackendErrorFallsBack(t *testing.T) {
	backend := &fakeBackend{err: errors.New("model unreachable")}
	p := New(backend, policy.Default(), testLogger())

	_, steps, err := p.BuildPlan(context.Background(), testRun("research something"))
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, policy.ActionResearch, steps[0].ActionType)
}

func TestBackendInvalidPlanFallsBack(t *testing.T) {
	backend := &fakeBackend{drafts: []StepDraft{
		{ActionType: "research", DependsOn: []int{2}}, // forward reference
	}}
	p := New(backend, policy.Default(), testLogger())

	_, steps, err := p.BuildPlan(context.Background(), testRun("research something"))
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Empty(t, steps[0].DependsOn)
}

func TestValidateDrafts(t *testing.T) {
	require.Error(t, validateDrafts(nil))
	require.Error(t, validateDrafts([]StepDraft{{Description: "no action"}}))
	require.Error(t, validateDrafts([]StepDraft{
		{ActionType: "research"},
		{ActionType: "email", DependsOn: []int{2}}, // self reference
	}))
	require.NoError(t, validateDrafts([]StepDraft{
		{ActionType: "research"},
		{ActionType: "email", DependsOn: []int{1}},
	}))
}

func TestParseDrafts(t *testing.T) {
	drafts, err := parseDrafts("```json\n[{\"action_type\":\"research\",\"description\":\"d\"}]\n```")
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "research", drafts[0].ActionType)

	_, err = parseDrafts("[]")
	require.Error(t, err)

	_, err = parseDrafts("I cannot help with that")
	require.Error(t, err)
}
