package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannel struct {
	subscribeErr   error
	blockSubscribe bool
	ignoreCtx      bool

	subscribed bool
	sent       []Message
	closed     bool
}

func (f *fakeChannel) Subscribe(ctx context.Context) error {
	if f.blockSubscribe {
		if f.ignoreCtx {
			// Transport that never honors cancellation.
			select {}
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribed = true
	return nil
}

func (f *fakeChannel) Send(event string, payload map[string]any) error {
	f.sent = append(f.sent, Message{Event: event, Payload: payload})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

type fakePubSub struct {
	channels map[string]*fakeChannel
	err      error
}

func (f *fakePubSub) Channel(name string) (Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.channels == nil {
		f.channels = map[string]*fakeChannel{}
	}
	ch, ok := f.channels[name]
	if !ok {
		ch = &fakeChannel{}
		f.channels[name] = ch
	}
	return ch, nil
}

func TestPublish_SubscribeThenSend(t *testing.T) {
	ps := &fakePubSub{}
	b := New(ps, discard())

	err := b.Publish(context.Background(), DemoChannel("d1"), "play_video", map[string]any{"url": "https://x/v.mp4"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	ch := ps.channels["demo-d1"]
	if ch == nil {
		t.Fatal("expected channel demo-d1 to be opened")
	}
	if !ch.subscribed {
		t.Error("Send happened without Subscribe")
	}
	if len(ch.sent) != 1 || ch.sent[0].Event != "play_video" {
		t.Errorf("sent = %+v, want one play_video message", ch.sent)
	}
	if !ch.closed {
		t.Error("channel was not closed after publish")
	}
}

func TestPublish_SubscribeTimeoutAbandons(t *testing.T) {
	ps := &fakePubSub{channels: map[string]*fakeChannel{
		"demo-d1": {blockSubscribe: true},
	}}
	b := NewWithTimeout(ps, discard(), 20*time.Millisecond)

	start := time.Now()
	err := b.Publish(context.Background(), "demo-d1", "play_video", nil)
	if err == nil {
		t.Fatal("expected an error when subscribe never acknowledges")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Publish blocked %v, want bounded by the subscribe timeout", elapsed)
	}

	ch := ps.channels["demo-d1"]
	if len(ch.sent) != 0 {
		t.Error("nothing must be sent after an abandoned subscribe")
	}
	if !ch.closed {
		t.Error("channel must be closed even on abandon")
	}
}

func TestPublish_TransportIgnoringCtxStillBounded(t *testing.T) {
	ps := &fakePubSub{channels: map[string]*fakeChannel{
		"demo-d1": {blockSubscribe: true, ignoreCtx: true},
	}}
	b := NewWithTimeout(ps, discard(), 20*time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- b.Publish(context.Background(), "demo-d1", "play_video", nil) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Publish hung on a transport that ignores context")
	}
}

func TestPublish_SubscribeError(t *testing.T) {
	ps := &fakePubSub{channels: map[string]*fakeChannel{
		"demo-d1": {subscribeErr: errors.New("transport down")},
	}}
	b := New(ps, discard())

	if err := b.Publish(context.Background(), "demo-d1", "show_trial_cta", nil); err == nil {
		t.Error("expected subscribe error to surface")
	}
}

func TestPublish_ChannelOpenError(t *testing.T) {
	ps := &fakePubSub{err: errors.New("no transport")}
	b := New(ps, discard())

	if err := b.Publish(context.Background(), "demo-d1", "play_video", nil); err == nil {
		t.Error("expected channel open error to surface")
	}
}

func TestWatermillPubSub_DeliversToSubscribers(t *testing.T) {
	ps := NewWatermillPubSub()
	defer ps.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A downstream consumer already listening on the topic.
	msgs, err := ps.Subscriber().Subscribe(ctx, "demo-d1")
	if err != nil {
		t.Fatalf("consumer subscribe failed: %v", err)
	}

	b := New(ps, discard())
	if err := b.Publish(ctx, "demo-d1", "play_video", map[string]any{"url": "https://x/v.mp4"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case m := <-msgs:
		m.Ack()
		var got Message
		if err := json.Unmarshal(m.Payload, &got); err != nil {
			t.Fatalf("failed to decode broadcast payload: %v", err)
		}
		if got.Event != "play_video" {
			t.Errorf("Event = %q, want play_video", got.Event)
		}
		if got.Payload["url"] != "https://x/v.mp4" {
			t.Errorf("Payload = %v, want url field", got.Payload)
		}
	case <-ctx.Done():
		t.Fatal("consumer never received the broadcast")
	}
}

func TestWatermillChannel_CloseDuringSubscribe(t *testing.T) {
	ps := NewWatermillPubSub()
	defer ps.Close()

	// Mirrors the abandon path in Broadcaster.Publish: Subscribe runs on a
	// goroutine while Close fires from the caller. Whatever the
	// interleaving, the subscription must end up torn down, never leaked.
	for i := 0; i < 100; i++ {
		ch, err := ps.Channel("demo-race")
		if err != nil {
			t.Fatalf("Channel failed: %v", err)
		}

		done := make(chan struct{})
		go func() {
			_ = ch.Subscribe(context.Background())
			close(done)
		}()
		if err := ch.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		<-done
	}
}

func TestWatermillChannel_SubscribeAfterClose(t *testing.T) {
	ps := NewWatermillPubSub()
	defer ps.Close()

	ch, err := ps.Channel("demo-d1")
	if err != nil {
		t.Fatalf("Channel failed: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := ch.Subscribe(context.Background()); err == nil {
		t.Error("Subscribe on a closed channel must fail, not leak a subscription")
	}
}

func TestWatermillPubSub_EmptyChannelName(t *testing.T) {
	ps := NewWatermillPubSub()
	defer ps.Close()

	if _, err := ps.Channel(""); err == nil {
		t.Error("empty channel name must be rejected")
	}
}

func TestDemoChannel(t *testing.T) {
	if got := DemoChannel("abc"); got != "demo-abc" {
		t.Errorf("DemoChannel = %q, want demo-abc", got)
	}
}
