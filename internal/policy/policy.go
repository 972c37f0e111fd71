// Package policy implements risk classification and approval gating for
// prospective actions. Classification is a pure function over static
// tables plus configured cost thresholds: no I/O, no failure mode beyond
// defensive defaults for malformed parameters.
package policy

import (
	"strings"

	"github.com/harborline/steward/internal/model"
)

// Well-known action types. Connectors register under these names.
const (
	ActionResearch    = "research"
	ActionPurchase    = "purchase"
	ActionEmail       = "email"
	ActionPayment     = "payment"
	ActionHTTPRequest = "http_request"
	ActionHire        = "hire"
	ActionDelete      = "delete"
)

// sideEffectByAction is the static lookup table from action type to its
// default side-effect class. Unknown action types default to external_write:
// when we don't know what an action touches, assume it writes.
var sideEffectByAction = map[string]model.SideEffect{
	ActionResearch:    model.SideEffectReadOnly,
	ActionPurchase:    model.SideEffectReadOnly,
	ActionEmail:       model.SideEffectExternalWrite,
	ActionPayment:     model.SideEffectPayment,
	ActionHTTPRequest: model.SideEffectReadOnly,
	ActionHire:        model.SideEffectExternalWrite,
	ActionDelete:      model.SideEffectDestructive,
}

// approvalActions is the set of action types that always require approval.
// approvalSideEffects is the set of side-effect classes that always require
// approval. Both sets are consulted on every classification; keep the two
// checks independent rather than folding one into the other.
var approvalActions = map[string]bool{
	ActionPayment:  true,
	ActionPurchase: true,
	ActionEmail:    true,
	ActionHire:     true,
	ActionDelete:   true,
}

var approvalSideEffects = map[model.SideEffect]bool{
	model.SideEffectPayment:       true,
	model.SideEffectDestructive:   true,
	model.SideEffectPhysical:      true,
	model.SideEffectExternalWrite: true,
}

// Classification is the outcome of classifying one prospective action.
type Classification struct {
	RiskLevel        model.RiskLevel
	SideEffect       model.SideEffect
	RequiresApproval bool
	EstimatedCost    float64
}

// Policy holds the configurable thresholds. The zero value is not usable;
// construct with Default or from config.
type Policy struct {
	// HighCostThreshold escalates risk to high at or above this cost.
	HighCostThreshold float64
	// MidCostThreshold escalates risk to medium at or above this cost.
	MidCostThreshold float64
}

// Default returns the stock policy thresholds.
func Default() Policy {
	return Policy{
		HighCostThreshold: 500,
		MidCostThreshold:  100,
	}
}

// Classify maps a prospective action to its risk level, side-effect class,
// approval requirement, and estimated cost.
func (p Policy) Classify(actionType string, params map[string]any) Classification {
	actionType = strings.ToLower(strings.TrimSpace(actionType))

	effect, known := sideEffectByAction[actionType]
	if !known {
		effect = model.SideEffectExternalWrite
	}

	// Single-field parameter overrides refine the table lookup.
	if m, ok := stringParam(params, "method"); ok && actionType == ActionHTTPRequest {
		switch strings.ToUpper(m) {
		case "POST", "PUT", "PATCH":
			effect = model.SideEffectExternalWrite
		case "DELETE":
			effect = model.SideEffectDestructive
		}
	}
	if d, ok := boolParam(params, "destructive"); ok && d {
		effect = model.SideEffectDestructive
	}

	cost := p.estimateCost(actionType, params)

	risk := model.RiskLow
	switch {
	case actionType == ActionPayment,
		effect == model.SideEffectDestructive,
		effect == model.SideEffectPhysical,
		cost >= p.HighCostThreshold:
		risk = model.RiskHigh
	case effect == model.SideEffectExternalWrite,
		actionType == ActionHire,
		cost >= p.MidCostThreshold:
		risk = model.RiskMedium
	}

	// Deliberate union of the two approval lists: an action slips through
	// only if it is absent from both.
	requires := approvalActions[actionType] || approvalSideEffects[effect]

	return Classification{
		RiskLevel:        risk,
		SideEffect:       effect,
		RequiresApproval: requires,
		EstimatedCost:    cost,
	}
}

// estimateCost falls through: explicit cost parameter → action-specific
// heuristic → zero.
func (p Policy) estimateCost(actionType string, params map[string]any) float64 {
	if c, ok := floatParam(params, "cost"); ok && c >= 0 {
		return c
	}
	if actionType == ActionPayment || actionType == ActionHire {
		if a, ok := floatParam(params, "amount"); ok && a >= 0 {
			return a
		}
	}
	return 0
}

// floatParam coerces a parameter to float64, tolerating the numeric types
// a JSON decode or an LLM backend may produce.
func floatParam(params map[string]any, key string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func stringParam(params map[string]any, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	s, ok := params[key].(string)
	return s, ok
}

func boolParam(params map[string]any, key string) (bool, bool) {
	if params == nil {
		return false, false
	}
	b, ok := params[key].(bool)
	return b, ok
}
