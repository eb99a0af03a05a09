package audit

import "context"

// Store persists audit events. Append must join the caller's transaction
// when one is present in ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
