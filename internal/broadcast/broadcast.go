// Package broadcast publishes dispatch results to per-conversation realtime
// channels. The underlying pub/sub transport silently drops messages sent on
// a topic nobody subscribes to, so every publish follows subscribe-before-send
// discipline — bounded by a timeout so a slow transport can never hang a
// webhook request.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSubscribeTimeout bounds the wait for the "subscribed" acknowledgement.
const DefaultSubscribeTimeout = 2 * time.Second

// Message is the wire form of one broadcast. Ephemeral: it exists only for
// the duration of a dispatch.
type Message struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// Channel is a handle to one named realtime channel. Subscribe must complete
// before Send, and Close releases the handle regardless of send outcome.
type Channel interface {
	Subscribe(ctx context.Context) error
	Send(event string, payload map[string]any) error
	Close() error
}

// PubSub hands out channel handles by name.
type PubSub interface {
	Channel(name string) (Channel, error)
}

// DemoChannel returns the realtime channel name for a demo.
func DemoChannel(demoID string) string {
	return "demo-" + demoID
}

// Broadcaster publishes events with subscribe-before-send discipline.
type Broadcaster struct {
	pubsub           PubSub
	logger           *slog.Logger
	subscribeTimeout time.Duration
}

// New creates a Broadcaster over pubsub with the default subscribe timeout.
func New(pubsub PubSub, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		pubsub:           pubsub,
		logger:           logger,
		subscribeTimeout: DefaultSubscribeTimeout,
	}
}

// NewWithTimeout creates a Broadcaster with an explicit subscribe timeout.
func NewWithTimeout(pubsub PubSub, logger *slog.Logger, timeout time.Duration) *Broadcaster {
	b := New(pubsub, logger)
	b.subscribeTimeout = timeout
	return b
}

// Publish opens channelName, waits for the subscribed acknowledgement, sends
// event+payload, and closes the handle. If the acknowledgement does not
// arrive within the subscribe timeout the publish is logged and abandoned;
// callers treat any returned error as non-fatal.
func (b *Broadcaster) Publish(ctx context.Context, channelName, event string, payload map[string]any) error {
	ch, err := b.pubsub.Channel(channelName)
	if err != nil {
		return fmt.Errorf("failed to open channel %s: %w", channelName, err)
	}
	defer ch.Close()

	subCtx, cancel := context.WithTimeout(ctx, b.subscribeTimeout)
	defer cancel()

	// Run Subscribe on the side so a transport that ignores context
	// cancellation still cannot block the request past the timeout.
	done := make(chan error, 1)
	go func() { done <- ch.Subscribe(subCtx) }()

	select {
	case err := <-done:
		if err != nil {
			b.logger.Warn("channel subscribe failed, abandoning broadcast",
				slog.String("channel", channelName),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("failed to subscribe to %s: %w", channelName, err)
		}
	case <-subCtx.Done():
		b.logger.Warn("channel subscribe timed out, abandoning broadcast",
			slog.String("channel", channelName),
			slog.String("event", event),
			slog.Duration("timeout", b.subscribeTimeout),
		)
		return fmt.Errorf("subscribe to %s: %w", channelName, subCtx.Err())
	}

	if err := ch.Send(event, payload); err != nil {
		return fmt.Errorf("failed to send on %s: %w", channelName, err)
	}
	return nil
}
