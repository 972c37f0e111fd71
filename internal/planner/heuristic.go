package planner

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/harborline/steward/internal/policy"
)

var (
	reRecipient = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	reAmount    = regexp.MustCompile(`\$\s?([0-9]+(?:\.[0-9]{1,2})?)`)
)

var (
	researchWords = []string{"research", "search", "find", "look up", "lookup", "compare"}
	emailWords    = []string{"email", "draft", "mail"}
	purchaseWords = []string{"purchase", "buy", "price", "product", "order"}
	paymentWords  = []string{"pay ", "payment", "transfer", "invoice", "wire"}
)

// Heuristic is the keyword fallback used when no model is configured
// or the model fails. It recognizes the common compound requests and
// otherwise defaults to a single research step.
type Heuristic struct{}

func (Heuristic) GenerateSteps(_ context.Context, message string) ([]StepDraft, error) {
	lower := strings.ToLower(message)

	hasResearch := containsAny(lower, researchWords)
	hasEmail := containsAny(lower, emailWords)
	hasPurchase := containsAny(lower, purchaseWords)
	hasPayment := containsAny(lower, paymentWords)

	switch {
	case hasResearch && hasEmail:
		emailParams := map[string]any{"message": message}
		if to := reRecipient.FindString(message); to != "" {
			emailParams["to"] = to
		}
		return []StepDraft{
			{
				ActionType:  policy.ActionResearch,
				Description: "Research the requested topic",
				Parameters:  map[string]any{"query": message},
			},
			{
				ActionType:  policy.ActionEmail,
				Description: "Draft an email with the research findings",
				Parameters:  emailParams,
				DependsOn:   []int{1},
			},
		}, nil

	case hasResearch && hasPurchase:
		return []StepDraft{
			{
				ActionType:  policy.ActionResearch,
				Description: "Research available options",
				Parameters:  map[string]any{"query": message},
			},
			{
				ActionType:  policy.ActionPurchase,
				Description: "Compare products and recommend an option",
				Parameters:  map[string]any{"query": message},
				DependsOn:   []int{1},
			},
		}, nil

	case hasPayment:
		params := map[string]any{"message": message}
		var cost float64
		if m := reAmount.FindStringSubmatch(message); m != nil {
			if amount, err := strconv.ParseFloat(m[1], 64); err == nil {
				params["amount"] = amount
				cost = amount
			}
		}
		return []StepDraft{{
			ActionType:    policy.ActionPayment,
			Description:   "Process the requested payment",
			Parameters:    params,
			EstimatedCost: cost,
		}}, nil

	case hasPurchase:
		return []StepDraft{{
			ActionType:  policy.ActionPurchase,
			Description: "Research products and prices",
			Parameters:  map[string]any{"query": message},
		}}, nil

	case hasEmail:
		params := map[string]any{"message": message}
		if to := reRecipient.FindString(message); to != "" {
			params["to"] = to
		}
		return []StepDraft{{
			ActionType:  policy.ActionEmail,
			Description: "Draft the requested email",
			Parameters:  params,
		}}, nil

	default:
		return []StepDraft{{
			ActionType:  policy.ActionResearch,
			Description: "Research the request",
			Parameters:  map[string]any{"query": message},
		}}, nil
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
