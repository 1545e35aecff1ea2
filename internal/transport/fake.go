package transport

import (
	"context"
	"sort"
	"sync"

	"github.com/sawpanic/signalrun/internal/models"
)

// Fake is an in-process transport for tests and dry runs. History is
// seeded per channel; realtime events are pushed through Emit.
type Fake struct {
	mu      sync.Mutex
	history map[string][]models.MessageEvent
	events  chan models.MessageEvent
	closed  bool
}

// NewFake returns an empty fake transport.
func NewFake() *Fake {
	return &Fake{
		history: make(map[string][]models.MessageEvent),
		events:  make(chan models.MessageEvent, 256),
	}
}

// Seed adds history for a channel.
func (f *Fake) Seed(channelID string, events ...models.MessageEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[channelID] = append(f.history[channelID], events...)
}

// Emit pushes a realtime event to the current subscriber.
func (f *Fake) Emit(ev models.MessageEvent) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	f.events <- ev
}

// FetchRecent returns seeded history, newest first, capped at limit.
func (f *Fake) FetchRecent(ctx context.Context, channelID string, limit int) ([]models.MessageEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	events := append([]models.MessageEvent(nil), f.history[channelID]...)
	f.mu.Unlock()

	sort.Slice(events, func(i, j int) bool {
		return events[i].MessageID > events[j].MessageID
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Subscribe delivers emitted events until ctx is cancelled.
func (f *Fake) Subscribe(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-f.events:
			h(ev)
		}
	}
}

// Close marks the fake closed; further Emit calls are dropped.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
