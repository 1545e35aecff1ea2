// Package transport is the chat-transport collaborator boundary: a realtime
// subscription plus recent-history fetch per channel. Session auth and
// reconnect belong to the remote side of this contract.
package transport

import (
	"context"

	"github.com/sawpanic/signalrun/internal/models"
)

// Handler receives realtime message events.
type Handler func(models.MessageEvent)

// Transport is the chat collaborator contract.
type Transport interface {
	// FetchRecent returns up to limit messages for a channel in
	// reverse-chronological order.
	FetchRecent(ctx context.Context, channelID string, limit int) ([]models.MessageEvent, error)

	// Subscribe delivers realtime events to the handler until ctx is
	// cancelled.
	Subscribe(ctx context.Context, h Handler) error

	// Close releases the underlying connection. Idempotent.
	Close() error
}
