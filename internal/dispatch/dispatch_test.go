package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/demoflow/demoflow/internal/broadcast"
	"github.com/demoflow/demoflow/internal/event"
	"github.com/demoflow/demoflow/internal/storage"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeVideoStore struct {
	videos      map[string]*storage.Video // keyed by title
	lookupErr   error
	lookups     int
	listedDemos []string
}

func (f *fakeVideoStore) GetVideoByTitle(_ context.Context, demoID, title string) (*storage.Video, error) {
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if v, ok := f.videos[title]; ok && v.DemoID == demoID {
		return v, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeVideoStore) ListVideoTitles(_ context.Context, demoID string) ([]string, error) {
	f.listedDemos = append(f.listedDemos, demoID)
	titles := make([]string, 0, len(f.videos))
	for t := range f.videos {
		titles = append(titles, t)
	}
	return titles, nil
}

func (f *fakeVideoStore) CreateVideo(_ context.Context, _ *storage.Video) error {
	return nil
}

type fakeIssuer struct {
	err   error
	calls []string
}

func (f *fakeIssuer) SignedURL(_ context.Context, objectPath string, _ time.Duration) (string, error) {
	f.calls = append(f.calls, objectPath)
	if f.err != nil {
		return "", f.err
	}
	return "https://media.example/" + objectPath + "?sig=ok", nil
}

// capturingChannel records sends so tests can assert on broadcast traffic.
type capturingChannel struct {
	sent []broadcast.Message
}

func (c *capturingChannel) Subscribe(_ context.Context) error { return nil }

func (c *capturingChannel) Send(event string, payload map[string]any) error {
	c.sent = append(c.sent, broadcast.Message{Event: event, Payload: payload})
	return nil
}

func (c *capturingChannel) Close() error { return nil }

type capturingPubSub struct {
	channels map[string]*capturingChannel
}

func (p *capturingPubSub) Channel(name string) (broadcast.Channel, error) {
	if p.channels == nil {
		p.channels = map[string]*capturingChannel{}
	}
	ch, ok := p.channels[name]
	if !ok {
		ch = &capturingChannel{}
		p.channels[name] = ch
	}
	return ch, nil
}

func strptr(s string) *string { return &s }

func testDemo() *storage.Demo {
	return &storage.Demo{
		ID:                  "demo-1",
		Name:                "Acme Demo",
		TavusConversationID: "c1",
		CTATitle:            strptr("Start your trial"),
		CTAMessage:          strptr("14 days free"),
		CTAButtonText:       strptr("Sign up"),
	}
}

func newTestDispatcher(videos *fakeVideoStore, issuer *fakeIssuer) (*Dispatcher, *capturingPubSub) {
	ps := &capturingPubSub{}
	b := broadcast.New(ps, discard())
	return New(videos, issuer, b, discard()), ps
}

func TestExecute_FetchVideoBroadcastsSignedURL(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*storage.Video{
		"Overview": {ID: "v1", DemoID: "demo-1", Title: "Overview", StoragePath: "videos/overview.mp4"},
	}}
	issuer := &fakeIssuer{}
	d, ps := newTestDispatcher(videos, issuer)

	call := event.ToolCall{Name: "fetch_video", Args: map[string]any{"video_title": "Overview"}}
	res := d.Execute(context.Background(), call, ConversationContext{ConversationID: "c1", Demo: testDemo()})

	if !res.Handled || res.Message != "" {
		t.Fatalf("Result = %+v, want handled with no message", res)
	}

	ch := ps.channels["demo-demo-1"]
	if ch == nil || len(ch.sent) != 1 {
		t.Fatalf("expected exactly one broadcast on demo-demo-1, got %+v", ps.channels)
	}
	msg := ch.sent[0]
	if msg.Event != "play_video" {
		t.Errorf("Event = %q, want play_video", msg.Event)
	}
	if got := msg.Payload["url"]; got != "https://media.example/videos/overview.mp4?sig=ok" {
		t.Errorf("url = %v, want the signed URL", got)
	}
}

func TestExecute_PlayVideoAlias(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*storage.Video{
		"Intro": {ID: "v1", DemoID: "demo-1", Title: "Intro", StoragePath: "videos/intro.mp4"},
	}}
	d, ps := newTestDispatcher(videos, &fakeIssuer{})

	call := event.ToolCall{Name: "play_video", Args: map[string]any{"title": "Intro"}}
	res := d.Execute(context.Background(), call, ConversationContext{Demo: testDemo()})

	if !res.Handled {
		t.Fatalf("Result = %+v, want handled", res)
	}
	if len(ps.channels["demo-demo-1"].sent) != 1 {
		t.Error("alias must reach the same broadcast path")
	}
}

func TestExecute_MissingTitleSkipsLookup(t *testing.T) {
	videos := &fakeVideoStore{}
	d, ps := newTestDispatcher(videos, &fakeIssuer{})

	tests := []struct {
		name string
		args map[string]any
	}{
		{"no args", map[string]any{}},
		{"empty title", map[string]any{"video_title": ""}},
		{"whitespace title", map[string]any{"video_title": "   "}},
		{"quotes only", map[string]any{"video_title": `""`}},
		{"non-string title", map[string]any{"video_title": 42.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := event.ToolCall{Name: "fetch_video", Args: tt.args}
			res := d.Execute(context.Background(), call, ConversationContext{Demo: testDemo()})

			if res.Handled {
				t.Error("missing title must not be handled")
			}
			if res.Message != MsgInvalidTitle {
				t.Errorf("Message = %q, want %q", res.Message, MsgInvalidTitle)
			}
		})
	}

	if videos.lookups != 0 {
		t.Errorf("store was queried %d times for titleless calls, want 0", videos.lookups)
	}
	if len(ps.channels) != 0 {
		t.Error("nothing must be broadcast for titleless calls")
	}
}

func TestExecute_QuotedTitleIsNormalized(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*storage.Video{
		"Pricing": {ID: "v1", DemoID: "demo-1", Title: "Pricing", StoragePath: "videos/pricing.mp4"},
	}}
	d, _ := newTestDispatcher(videos, &fakeIssuer{})

	call := event.ToolCall{Name: "fetch_video", Args: map[string]any{"video_title": ` "Pricing" `}}
	res := d.Execute(context.Background(), call, ConversationContext{Demo: testDemo()})

	if !res.Handled {
		t.Errorf("Result = %+v, want quoted title to resolve", res)
	}
}

func TestExecute_VideoNotFound(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*storage.Video{
		"Overview": {ID: "v1", DemoID: "demo-1", Title: "Overview", StoragePath: "videos/overview.mp4"},
	}}
	d, ps := newTestDispatcher(videos, &fakeIssuer{})

	call := event.ToolCall{Name: "fetch_video", Args: map[string]any{"video_title": "Nonexistent"}}
	res := d.Execute(context.Background(), call, ConversationContext{Demo: testDemo()})

	if res.Handled {
		t.Error("missing video must not be handled")
	}
	if res.Message != MsgVideoMissing {
		t.Errorf("Message = %q, want %q", res.Message, MsgVideoMissing)
	}
	if len(videos.listedDemos) != 1 {
		t.Error("available titles should be listed for the log line")
	}
	if len(ps.channels) != 0 {
		t.Error("nothing must be broadcast for a missing video")
	}
}

func TestExecute_SigningFailure(t *testing.T) {
	videos := &fakeVideoStore{videos: map[string]*storage.Video{
		"Overview": {ID: "v1", DemoID: "demo-1", Title: "Overview", StoragePath: "videos/overview.mp4"},
	}}
	issuer := &fakeIssuer{err: errors.New("kms unavailable")}
	d, ps := newTestDispatcher(videos, issuer)

	call := event.ToolCall{Name: "fetch_video", Args: map[string]any{"video_title": "Overview"}}
	res := d.Execute(context.Background(), call, ConversationContext{Demo: testDemo()})

	if res.Handled || res.Message != MsgURLFailed {
		t.Errorf("Result = %+v, want soft URL failure", res)
	}
	if len(ps.channels) != 0 {
		t.Error("nothing must be broadcast when signing fails")
	}
}

func TestExecute_ShowTrialCTA(t *testing.T) {
	d, ps := newTestDispatcher(&fakeVideoStore{}, &fakeIssuer{})

	call := event.ToolCall{Name: "show_trial_cta", Args: map[string]any{}}
	res := d.Execute(context.Background(), call, ConversationContext{Demo: testDemo()})

	if !res.Handled {
		t.Fatalf("Result = %+v, want handled", res)
	}

	ch := ps.channels["demo-demo-1"]
	if ch == nil || len(ch.sent) != 1 {
		t.Fatal("expected one show_trial_cta broadcast")
	}
	msg := ch.sent[0]
	if msg.Event != "show_trial_cta" {
		t.Errorf("Event = %q, want show_trial_cta", msg.Event)
	}
	if msg.Payload["title"] != "Start your trial" {
		t.Errorf("title = %v", msg.Payload["title"])
	}
	// Unset CTA fields surface as explicit nulls, not missing keys.
	if v, ok := msg.Payload["button_url"]; !ok || v != nil {
		t.Errorf("button_url = %v (present=%v), want explicit nil", v, ok)
	}
}

func TestExecute_UISignals(t *testing.T) {
	d, ps := newTestDispatcher(&fakeVideoStore{}, &fakeIssuer{})

	for _, tool := range []string{"pause_video", "next_video", "close_video"} {
		res := d.Execute(context.Background(), event.ToolCall{Name: tool, Args: map[string]any{}},
			ConversationContext{Demo: testDemo()})
		if !res.Handled || res.Message != "" {
			t.Errorf("%s: Result = %+v, want plain ack", tool, res)
		}
	}
	if len(ps.channels) != 0 {
		t.Error("UI signals must not broadcast")
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(&fakeVideoStore{}, &fakeIssuer{})

	res := d.Execute(context.Background(), event.ToolCall{Name: "launch_rocket"},
		ConversationContext{Demo: testDemo()})

	if res.Handled || res.Message != MsgUnknownTool {
		t.Errorf("Result = %+v, want unknown-tool soft failure", res)
	}
}
