package connector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/steward/internal/model"
	"github.com/harborline/steward/internal/policy"
)

// Payment simulates settlements. No real payment rail is wired; every
// execution returns a simulated settlement regardless of run mode, and
// the spend still counts against the user's budget.
type Payment struct {
	logger *slog.Logger
}

func NewPayment(logger *slog.Logger) *Payment {
	return &Payment{logger: logger}
}

func (p *Payment) ActionType() string { return policy.ActionPayment }

func (p *Payment) Validate(step model.Step) error {
	amount, ok := paymentAmount(step)
	if !ok {
		return &ValidationError{Field: "amount", Reason: "a numeric amount is required"}
	}
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "amount must be positive"}
	}
	return nil
}

func (p *Payment) Execute(_ context.Context, req Request) (map[string]any, error) {
	amount, _ := paymentAmount(req.Step)
	currency, _ := req.Step.Parameters["currency"].(string)
	if currency == "" {
		currency = "USD"
	}
	recipient, _ := req.Step.Parameters["recipient"].(string)

	ref := uuid.NewString()
	p.logger.Info("payment simulated",
		"amount", amount, "currency", currency, "reference", ref)

	return map[string]any{
		"status":    "simulated",
		"amount":    amount,
		"currency":  currency,
		"recipient": recipient,
		"reference": ref,
		"settled":   false,
		"note":      fmt.Sprintf("Simulated settlement of %.2f %s at %s", amount, currency, time.Now().UTC().Format(time.RFC3339)),
	}, nil
}

func paymentAmount(step model.Step) (float64, bool) {
	switch v := step.Parameters["amount"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
