package broker

import (
	"context"

	"github.com/alfredjeanlab/chatd/internal/model"
)

// NoopPublisher stands in when NATS is not configured. Nothing is delivered,
// so publishes report ErrDisabled and Updates stay unpublished.
type NoopPublisher struct{}

func (n *NoopPublisher) PublishEvent(ctx context.Context, e *model.Event) error {
	return ErrDisabled
}

func (n *NoopPublisher) PublishUpdate(ctx context.Context, u *model.Update) error {
	return ErrDisabled
}

func (n *NoopPublisher) Close() error {
	return nil
}
