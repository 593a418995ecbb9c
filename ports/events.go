package ports

import "context"

// EventPublisher notifies other instances about protocol events. All
// publishing is best effort: a publish failure never fails the
// operation that triggered it.
type EventPublisher interface {
	// PublishLogin announces a successfully verified identity.
	PublishLogin(ctx context.Context, identity, serverURL string) error

	// PublishHandleInvalidated announces that a provider declared an
	// association handle stale.
	PublishHandleInvalidated(ctx context.Context, serverURL, handle string) error
}
