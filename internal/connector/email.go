package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

const resendEndpoint = "https://api.resend.com/emails"

var reEmail = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Email drafts and sends email. Drafting is always safe; actual
// delivery happens only in execution mode with an API key configured.
// In every other case the result is a draft marked simulated.
type Email struct {
	apiKey   string
	from     string
	client   *http.Client
	endpoint string
	logger   *slog.Logger
}

func NewEmail(apiKey, from string, logger *slog.Logger) *Email {
	return &Email{
		apiKey:   apiKey,
		from:     from,
		client:   &http.Client{Timeout: 15 * time.Second},
		endpoint: resendEndpoint,
		logger:   logger,
	}
}

func (e *Email) ActionType() string { return policy.ActionEmail }

func (e *Email) Validate(step model.Step) error {
	to, _ := step.Parameters["to"].(string)
	if to == "" {
		return &ValidationError{Field: "to", Reason: "recipient email is required"}
	}
	if !reEmail.MatchString(to) {
		return &ValidationError{Field: "to", Reason: "not a valid email address"}
	}
	return nil
}

func (e *Email) Execute(ctx context.Context, req Request) (map[string]any, error) {
	to, _ := req.Step.Parameters["to"].(string)
	subject, _ := req.Step.Parameters["subject"].(string)
	if subject == "" {
		subject = "Regarding: " + req.Step.Description
	}
	body := e.composeBody(req)

	if req.Mode != model.ModeExecution || e.apiKey == "" {
		return map[string]any{
			"to":        to,
			"subject":   subject,
			"body":      body,
			"simulated": true,
		}, nil
	}

	id, err := e.send(ctx, to, subject, body)
	if err != nil {
		return nil, fmt.Errorf("connector: email send: %w", err)
	}
	e.logger.Info("email sent", "to", to, "message_id", id)
	return map[string]any{
		"to":         to,
		"subject":    subject,
		"body":       body,
		"message_id": id,
		"simulated":  false,
	}, nil
}

// composeBody builds the email body from the step's message and the
// results of its dependencies, so a research step feeding an email step
// surfaces its findings in the draft.
func (e *Email) composeBody(req Request) string {
	var b strings.Builder
	if msg, ok := req.Step.Parameters["message"].(string); ok && msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString(req.Step.Description)
	}

	seqs := make([]int, 0, len(req.Deps))
	for seq := range req.Deps {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	for _, seq := range seqs {
		findings, ok := req.Deps[seq]["findings"].(string)
		if !ok || findings == "" {
			continue
		}
		b.WriteString("\n\n--- Findings ---\n")
		b.WriteString(findings)
	}
	return b.String()
}

func (e *Email) send(ctx context.Context, to, subject, body string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"from":    e.from,
		"to":      []string{to},
		"subject": subject,
		"text":    body,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("delivery API returned %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}
