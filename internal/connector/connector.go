// Package connector holds the pluggable action executors the run
// dispatcher invokes. Each connector owns one action type, validates a
// step's parameters before execution, and returns a result payload.
// Connectors never mutate run state; the engine owns all transitions.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/harborline/steward/internal/model"
)

// ErrUnknownAction is returned by Registry.Get for action types with no
// registered connector.
var ErrUnknownAction = errors.New("connector: unknown action type")

// ValidationError reports step parameters a connector cannot work with.
// The dispatcher fails the step without invoking Execute.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("connector: invalid parameter %q: %s", e.Field, e.Reason)
}

// Request carries everything a connector needs to execute one step.
type Request struct {
	Step model.Step
	// Mode is the run's mode. Connectors with external side effects
	// must only perform them when Mode is execution.
	Mode model.RunMode
	// Deps holds the result payloads of the step's completed
	// dependencies, keyed by step sequence number.
	Deps map[int]map[string]any
}

// Connector executes one action type.
type Connector interface {
	// ActionType returns the action this connector handles.
	ActionType() string
	// Validate checks the step's parameters. A *ValidationError means
	// the step can never succeed and should fail without executing.
	Validate(step model.Step) error
	// Execute performs the action and returns a non-empty result
	// payload on success.
	Execute(ctx context.Context, req Request) (map[string]any, error)
}

// Registry maps action types to connectors.
type Registry struct {
	mu       sync.RWMutex
	byAction map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{byAction: make(map[string]Connector)}
}

// Register adds or replaces the connector for its action type.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byAction[c.ActionType()] = c
}

// Get returns the connector for an action type.
func (r *Registry) Get(actionType string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byAction[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, actionType)
	}
	return c, nil
}

// Actions returns the registered action types, sorted.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byAction))
	for a := range r.byAction {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Config holds the shared connector settings.
type Config struct {
	// SearchMaxResults bounds web search results per query.
	SearchMaxResults int
	// EmailAPIKey enables real email delivery when set. Without it the
	// email connector always returns drafts.
	EmailAPIKey string
	// EmailFrom is the sender address for outbound email.
	EmailFrom string
	// HTTPMaxBodyBytes caps response bodies captured by the HTTP
	// connector.
	HTTPMaxBodyBytes int64
}

// DefaultRegistry builds a registry with all built-in connectors.
func DefaultRegistry(cfg Config, logger *slog.Logger) (*Registry, error) {
	if cfg.SearchMaxResults <= 0 {
		cfg.SearchMaxResults = 10
	}
	if cfg.HTTPMaxBodyBytes <= 0 {
		cfg.HTTPMaxBodyBytes = 64 << 10
	}

	research, err := NewResearch(cfg.SearchMaxResults, logger)
	if err != nil {
		return nil, fmt.Errorf("connector: init research: %w", err)
	}

	r := NewRegistry()
	r.Register(research)
	r.Register(NewPurchase(research.search, logger))
	r.Register(NewEmail(cfg.EmailAPIKey, cfg.EmailFrom, logger))
	r.Register(NewPayment(logger))
	r.Register(NewHTTPRequest(cfg.HTTPMaxBodyBytes, logger))
	return r, nil
}
