package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// WatermillPubSub is the in-process pub/sub transport. Downstream consumers
// (the realtime bridge feeding the demo UI) subscribe to the same GoChannel;
// messages published to a topic with no subscriber are dropped, which is why
// the Broadcaster subscribes before sending.
type WatermillPubSub struct {
	goch *gochannel.GoChannel
}

// NewWatermillPubSub creates the shared in-process transport.
func NewWatermillPubSub() *WatermillPubSub {
	return &WatermillPubSub{
		goch: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 16,
		}, watermill.NopLogger{}),
	}
}

// Channel returns a handle for topic name. The handle is single-use: one
// Subscribe, one Send, one Close.
func (p *WatermillPubSub) Channel(name string) (Channel, error) {
	if name == "" {
		return nil, fmt.Errorf("channel name must not be empty")
	}
	return &watermillChannel{topic: name, goch: p.goch}, nil
}

// Subscriber exposes the underlying transport for downstream consumers.
func (p *WatermillPubSub) Subscriber() message.Subscriber {
	return p.goch
}

// Close shuts down the transport.
func (p *WatermillPubSub) Close() error {
	return p.goch.Close()
}

type watermillChannel struct {
	topic string
	goch  *gochannel.GoChannel

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

func (c *watermillChannel) Subscribe(ctx context.Context) error {
	// The subscription must outlive the subscribe-ack timeout: it is torn
	// down by Close at the end of the dispatch, not by ctx. The cancel func
	// is registered under the mutex before the transport call so a Close
	// racing a slow Subscribe still tears the subscription down.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("channel for topic %s is closed", c.topic)
	}
	c.cancel = cancel
	c.mu.Unlock()

	msgs, err := c.goch.Subscribe(subCtx, c.topic)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}

	go func() {
		for m := range msgs {
			m.Ack()
		}
	}()

	return nil
}

func (c *watermillChannel) Send(event string, payload map[string]any) error {
	body, err := json.Marshal(Message{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast message: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	if err := c.goch.Publish(c.topic, msg); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", c.topic, err)
	}
	return nil
}

func (c *watermillChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return nil
}
