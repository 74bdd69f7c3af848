// Package broker delivers raw events and per-recipient updates to two durable
// topic exchanges realized as NATS JetStream streams.
package broker

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/chatd/internal/model"
)

var (
	// ErrNotConnected is returned by publish calls while the client is
	// between connections. Nothing is buffered.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrDisabled is returned by publish calls when the broker was
	// unreachable at startup and no manual reconnect has succeeded since.
	ErrDisabled = errors.New("broker: disabled")
)

// Publisher is the interface for delivering events and updates.
type Publisher interface {
	PublishEvent(ctx context.Context, e *model.Event) error
	PublishUpdate(ctx context.Context, u *model.Update) error
	Close() error
}
