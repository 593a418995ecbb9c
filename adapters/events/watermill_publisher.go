package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/layer-3/openid/ports"
)

const (
	// LoginTopic carries successfully verified identities.
	LoginTopic = "openid.login"

	// HandleInvalidatedTopic carries association handles a provider
	// declared stale.
	HandleInvalidatedTopic = "openid.handle_invalidated"
)

// LoginEvent is published after an assertion verifies.
type LoginEvent struct {
	Identity  string `json:"identity"`
	ServerURL string `json:"server_url"`
}

// HandleInvalidatedEvent is published when an association handle dies.
type HandleInvalidatedEvent struct {
	ServerURL string `json:"server_url"`
	Handle    string `json:"handle"`
}

// WatermillPublisher implements the EventPublisher interface using
// Watermill.
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill-backed publisher.
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogin publishes a login event.
func (p *WatermillPublisher) PublishLogin(ctx context.Context, identity, serverURL string) error {
	return p.publish(LoginTopic, LoginEvent{Identity: identity, ServerURL: serverURL})
}

// PublishHandleInvalidated publishes a handle-invalidation event.
func (p *WatermillPublisher) PublishHandleInvalidated(ctx context.Context, serverURL, handle string) error {
	return p.publish(HandleInvalidatedTopic, HandleInvalidatedEvent{ServerURL: serverURL, Handle: handle})
}

func (p *WatermillPublisher) publish(topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)
