package connector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/tools/duckduckgo"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

// Searcher is the web search dependency. Satisfied by the DuckDuckGo
// tool in production and by fakes in tests.
type Searcher interface {
	Call(ctx context.Context, query string) (string, error)
}

// Research answers research steps with a web search. Read-only, so it
// runs the same in simulation and execution mode.
type Research struct {
	search Searcher
	logger *slog.Logger
}

func NewResearch(maxResults int, logger *slog.Logger) (*Research, error) {
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &Research{search: ddg, logger: logger}, nil
}

// NewResearchWith injects a custom Searcher.
func NewResearchWith(search Searcher, logger *slog.Logger) *Research {
	return &Research{search: search, logger: logger}
}

func (r *Research) ActionType() string { return policy.ActionResearch }

func (r *Research) Validate(step model.Step) error {
	if researchQuery(step) == "" {
		return &ValidationError{Field: "query", Reason: "a query, topic, or step description is required"}
	}
	return nil
}

func (r *Research) Execute(ctx context.Context, req Request) (map[string]any, error) {
	query := researchQuery(req.Step)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	findings, err := r.search.Call(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("connector: research search: %w", err)
	}

	r.logger.Debug("research completed", "query", query, "bytes", len(findings))
	return map[string]any{
		"query":         query,
		"findings":      findings,
		"search_method": "duckduckgo",
	}, nil
}

// researchQuery resolves the search query from step parameters, falling
// back to the step description.
func researchQuery(step model.Step) string {
	for _, key := range []string{"query", "topic", "message"} {
		if v, ok := step.Parameters[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(step.Description)
}
