package store

import "context"

// Store defines the persistence layer contract for invocation records.
// All implementations must be safe for concurrent use.
type Store interface {
	CreateInvocation(ctx context.Context, inv *Invocation) error
	GetInvocation(ctx context.Context, id string) (*Invocation, error)
	UpdateInvocation(ctx context.Context, id string, update InvocationUpdate) error
	ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error)

	Migrate(ctx context.Context) error
	Close() error
}
