package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

// HTTPRequest performs bounded outbound HTTP calls. Mutating methods
// only go out in execution mode; in simulation they return a simulated
// result describing what would have been sent.
type HTTPRequest struct {
	client   *http.Client
	maxBody  int64
	logger   *slog.Logger
}

func NewHTTPRequest(maxBody int64, logger *slog.Logger) *HTTPRequest {
	return &HTTPRequest{
		client:  &http.Client{Timeout: 20 * time.Second},
		maxBody: maxBody,
		logger:  logger,
	}
}

func (h *HTTPRequest) ActionType() string { return policy.ActionHTTPRequest }

func (h *HTTPRequest) Validate(step model.Step) error {
	raw, _ := step.Parameters["url"].(string)
	if raw == "" {
		return &ValidationError{Field: "url", Reason: "url is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an absolute http or https URL"}
	}
	switch method(step) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return &ValidationError{Field: "method", Reason: "unsupported HTTP method"}
	}
	return nil
}

func (h *HTTPRequest) Execute(ctx context.Context, req Request) (map[string]any, error) {
	rawURL, _ := req.Step.Parameters["url"].(string)
	m := method(req.Step)

	mutating := m != http.MethodGet && m != http.MethodHead
	if mutating && req.Mode != model.ModeExecution {
		return map[string]any{
			"url":       rawURL,
			"method":    m,
			"simulated": true,
		}, nil
	}

	var body io.Reader
	if raw, ok := req.Step.Parameters["body"].(string); ok && raw != "" {
		body = strings.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, m, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("connector: http request: %w", err)
	}
	if headers, ok := req.Step.Parameters["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				httpReq.Header.Set(k, s)
			}
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connector: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBody))
	if err != nil {
		return nil, fmt.Errorf("connector: read response: %w", err)
	}

	h.logger.Debug("http request completed",
		"url", rawURL, "method", m, "status", resp.StatusCode)
	return map[string]any{
		"url":          rawURL,
		"method":       m,
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(data),
		"simulated":    false,
	}, nil
}

func method(step model.Step) string {
	if m, ok := step.Parameters["method"].(string); ok && m != "" {
		return strings.ToUpper(m)
	}
	return http.MethodGet
}
