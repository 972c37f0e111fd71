// Package memstore is the in-memory store.Store implementation. It
// backs unit tests and the dev mode of the server binary; production
// deployments use internal/storage. Semantics intentionally mirror the
// Postgres implementation, including conflict behavior.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]model.User
	runs      map[uuid.UUID]model.Run
	plans     map[uuid.UUID]model.Plan // keyed by run ID
	steps     map[uuid.UUID]model.Step
	approvals map[uuid.UUID]model.Approval
	audit     []model.AuditLogEntry
	spend     map[uuid.UUID]model.SpendRecord // keyed by step ID
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:     make(map[uuid.UUID]model.User),
		runs:      make(map[uuid.UUID]model.Run),
		plans:     make(map[uuid.UUID]model.Plan),
		steps:     make(map[uuid.UUID]model.Step),
		approvals: make(map[uuid.UUID]model.Approval),
		spend:     make(map[uuid.UUID]model.SpendRecord),
	}
}

func (s *Store) CreateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return store.ErrConflict
	}
	for _, existing := range s.users {
		if existing.Name == u.Name {
			return store.ErrConflict
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByName(_ context.Context, name string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Name == name {
			return u, nil
		}
	}
	return model.User{}, store.ErrNotFound
}

func (s *Store) CreateRun(_ context.Context, run model.Run, plan model.Plan, steps []model.Step, approvals []model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return store.ErrConflict
	}
	s.runs[run.ID] = run
	s.plans[run.ID] = plan
	for _, st := range steps {
		s.steps[st.ID] = cloneStep(st)
	}
	for _, a := range approvals {
		s.approvals[a.ID] = a
	}
	return nil
}

func (s *Store) GetRun(_ context.Context, id uuid.UUID) (model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return model.Run{}, store.ErrNotFound
	}
	return r, nil
}

func (s *Store) GetPlan(_ context.Context, runID uuid.UUID) (model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[runID]
	if !ok {
		return model.Plan{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdateRunStatus(_ context.Context, id uuid.UUID, status model.RunStatus, errMsg *string, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = status
	r.Error = errMsg
	r.CompletedAt = completedAt
	s.runs[id] = r
	return nil
}

func (s *Store) GetStep(_ context.Context, id uuid.UUID) (model.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.steps[id]
	if !ok {
		return model.Step{}, store.ErrNotFound
	}
	return cloneStep(st), nil
}

func (s *Store) ListSteps(_ context.Context, runID uuid.UUID) ([]model.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Step
	for _, st := range s.steps {
		if st.RunID == runID {
			out = append(out, cloneStep(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) UpdateStep(_ context.Context, st model.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[st.ID]; !ok {
		return store.ErrNotFound
	}
	s.steps[st.ID] = cloneStep(st)
	return nil
}

func (s *Store) GetApproval(_ context.Context, id uuid.UUID) (model.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[id]
	if !ok {
		return model.Approval{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListApprovalsByRun(_ context.Context, runID uuid.UUID) ([]model.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Approval
	for _, a := range s.approvals {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *Store) ListPendingApprovalsByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Approval
	for _, a := range s.approvals {
		if a.Status != model.ApprovalStatusPending {
			continue
		}
		run, ok := s.runs[a.RunID]
		if !ok || run.OwnerID != ownerID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (s *Store) UpdateApproval(_ context.Context, a model.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.approvals[a.ID]; !ok {
		return store.ErrNotFound
	}
	s.approvals[a.ID] = a
	return nil
}

func (s *Store) InsertAudit(_ context.Context, e model.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) ListAuditByRun(_ context.Context, runID uuid.UUID) ([]model.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AuditLogEntry
	for _, e := range s.audit {
		if e.RunID != nil && *e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) InsertSpend(_ context.Context, rec model.SpendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spend[rec.StepID]; ok {
		return store.ErrConflict
	}
	s.spend[rec.StepID] = rec
	return nil
}

func (s *Store) SumSpend(_ context.Context, userID uuid.UUID, from time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total float64
	for _, rec := range s.spend {
		if rec.UserID == userID && !rec.RecordedAt.Before(from) {
			total += rec.Amount
		}
	}
	return total, nil
}

// cloneStep copies the maps and slices so callers cannot mutate stored
// state through a returned step.
func cloneStep(st model.Step) model.Step {
	if st.Parameters != nil {
		params := make(map[string]any, len(st.Parameters))
		for k, v := range st.Parameters {
			params[k] = v
		}
		st.Parameters = params
	}
	if st.Result != nil {
		result := make(map[string]any, len(st.Result))
		for k, v := range st.Result {
			result[k] = v
		}
		st.Result = result
	}
	if st.DependsOn != nil {
		st.DependsOn = append([]int(nil), st.DependsOn...)
	}
	return st
}
