// Package dispatch executes the side effects a canonical tool call implies.
// Every branch completes and returns a result even when a collaborator call
// fails: lookups that miss and transient collaborator errors are downgraded
// to logged soft results so the provider is never induced to retry them.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/demoflow/demoflow/internal/broadcast"
	"github.com/demoflow/demoflow/internal/event"
	"github.com/demoflow/demoflow/internal/media"
	"github.com/demoflow/demoflow/internal/storage"
)

// ConversationContext is the resolved binding between an inbound event's
// conversation id and the demo it belongs to.
type ConversationContext struct {
	ConversationID string
	Demo           *storage.Demo
}

// Result is the outcome of one tool dispatch. Message carries a soft-failure
// explanation for the HTTP response body; it is empty on full success.
type Result struct {
	Handled bool
	Message string
}

// Fixed soft-failure messages returned to the provider.
const (
	MsgInvalidTitle = "Invalid or missing video title."
	MsgVideoMissing = "Video not found."
	MsgURLFailed    = "Could not generate video URL."
	MsgUnknownTool  = "Unknown tool."
)

// Dispatcher routes canonical tool calls to their side effects.
type Dispatcher struct {
	videos      storage.VideoStore
	issuer      media.Issuer
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
}

// New creates a Dispatcher.
func New(videos storage.VideoStore, issuer media.Issuer, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		videos:      videos,
		issuer:      issuer,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Execute runs the action call implies for the given conversation.
func (d *Dispatcher) Execute(ctx context.Context, call event.ToolCall, conv ConversationContext) Result {
	switch call.Name {
	case event.ToolFetchVideo, event.ToolPlayVideo:
		return d.fetchVideo(ctx, call, conv)
	case event.ToolShowTrialCTA:
		return d.showTrialCTA(ctx, conv)
	case event.ToolPauseVideo, event.ToolNextVideo, event.ToolCloseVideo:
		// Pure UI signals: the provider's own channel relays these to the
		// client. Acknowledge without persistence or broadcast.
		return Result{Handled: true}
	default:
		d.logger.Warn("unknown tool requested",
			slog.String("tool", call.Name),
			slog.String("conversation_id", conv.ConversationID),
		)
		return Result{Handled: false, Message: MsgUnknownTool}
	}
}

func (d *Dispatcher) fetchVideo(ctx context.Context, call event.ToolCall, conv ConversationContext) Result {
	title := titleFromArgs(call.Args)
	if title == "" {
		d.logger.Warn("guardrail violation: video requested without a title",
			slog.String("violation", "invalid_video_title"),
			slog.String("tool", call.Name),
			slog.Any("args", call.Args),
			slog.String("conversation_id", conv.ConversationID),
		)
		return Result{Handled: false, Message: MsgInvalidTitle}
	}

	video, err := d.videos.GetVideoByTitle(ctx, conv.Demo.ID, title)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			titles, listErr := d.videos.ListVideoTitles(ctx, conv.Demo.ID)
			if listErr != nil {
				titles = nil
			}
			d.logger.Warn("requested video does not exist",
				slog.String("title", title),
				slog.String("demo_id", conv.Demo.ID),
				slog.Any("available_titles", titles),
			)
			return Result{Handled: false, Message: MsgVideoMissing}
		}
		d.logger.Error("video lookup failed",
			slog.String("title", title),
			slog.String("demo_id", conv.Demo.ID),
			slog.String("error", err.Error()),
		)
		return Result{Handled: false, Message: MsgVideoMissing}
	}

	signedURL, err := d.issuer.SignedURL(ctx, video.StoragePath, media.SignedURLTTL)
	if err != nil {
		d.logger.Error("failed to sign video url",
			slog.String("storage_path", video.StoragePath),
			slog.String("error", err.Error()),
		)
		return Result{Handled: false, Message: MsgURLFailed}
	}

	if err := d.broadcaster.Publish(ctx, broadcast.DemoChannel(conv.Demo.ID), "play_video", map[string]any{
		"url": signedURL,
	}); err != nil {
		// Broadcast failures are swallowed: the URL was issued, the
		// provider must not retry.
		d.logger.Warn("play_video broadcast failed",
			slog.String("demo_id", conv.Demo.ID),
			slog.String("error", err.Error()),
		)
	}

	return Result{Handled: true}
}

func (d *Dispatcher) showTrialCTA(ctx context.Context, conv ConversationContext) Result {
	payload := map[string]any{
		"title":       deref(conv.Demo.CTATitle),
		"message":     deref(conv.Demo.CTAMessage),
		"button_text": deref(conv.Demo.CTAButtonText),
		"button_url":  deref(conv.Demo.CTAButtonURL),
	}

	if err := d.broadcaster.Publish(ctx, broadcast.DemoChannel(conv.Demo.ID), "show_trial_cta", payload); err != nil {
		d.logger.Warn("show_trial_cta broadcast failed",
			slog.String("demo_id", conv.Demo.ID),
			slog.String("error", err.Error()),
		)
	}

	return Result{Handled: true}
}

// titleFromArgs reads the requested title from any of the key names the
// provider uses, trims it, and strips surrounding quotes.
func titleFromArgs(args map[string]any) string {
	for _, key := range []string{"video_title", "title", "arg"} {
		if v, ok := args[key].(string); ok {
			if title := event.Dequote(strings.TrimSpace(v)); title != "" {
				return title
			}
		}
	}
	return ""
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
