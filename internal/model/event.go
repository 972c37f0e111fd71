package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of live event delivered to subscribers.
type EventType string

const (
	EventRunCreated        EventType = "run_created"
	EventRunStatusChanged  EventType = "run_status_changed"
	EventStepStatusChanged EventType = "step_status_changed"
	EventApprovalRequested EventType = "approval_requested"
	EventApprovalResolved  EventType = "approval_resolved"
	EventRunCompleted      EventType = "run_completed"
)

// Event is one live notification delivered to a user's subscribers.
// Delivery is at-most-once and best-effort; the audit log is the
// durable record, not the event stream.
type Event struct {
	ID        string         `json:"id"`
	UserID    uuid.UUID      `json:"-"`
	Type      EventType      `json:"type"`
	RunID     uuid.UUID      `json:"run_id"`
	StepID    *uuid.UUID     `json:"step_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
