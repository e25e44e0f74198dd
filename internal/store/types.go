package store

import (
	"encoding/json"
	"time"

	"github.com/obwan02/Actionator/pkg/schema"
)

// Invocation is the persisted record of one action invocation.
type Invocation struct {
	ID          string                  `json:"id"`
	Action      string                  `json:"action"`
	Status      schema.InvocationStatus `json:"status"`
	Source      string                  `json:"source,omitempty"`
	Payload     json.RawMessage         `json:"payload,omitempty"`
	Result      json.RawMessage         `json:"result,omitempty"`
	Error       string                  `json:"error,omitempty"`
	ErrorCode   string                  `json:"error_code,omitempty"`
	CreatedAt   time.Time               `json:"created_at"`
	StartedAt   *time.Time              `json:"started_at,omitempty"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// InvocationUpdate holds the fields to change; nil fields are left as is.
type InvocationUpdate struct {
	Status      *schema.InvocationStatus
	Result      json.RawMessage
	Error       *string
	ErrorCode   *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// InvocationFilter narrows ListInvocations. Results are newest first.
type InvocationFilter struct {
	Action string
	Status *schema.InvocationStatus
	Since  *time.Time
	Limit  int
	Offset int
}
