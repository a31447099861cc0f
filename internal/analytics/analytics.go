// Package analytics ingests raw conversation events for the insights
// surface. Recording is strictly non-critical: failures are logged and
// swallowed so analytics can never fail a webhook acknowledgement.
package analytics

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/demoflow/demoflow/internal/storage"
)

// Recorder writes analytics rows.
type Recorder struct {
	store  storage.AnalyticsStore
	logger *slog.Logger
}

// New creates a Recorder backed by store.
func New(store storage.AnalyticsStore, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record persists one event. Errors are logged, never returned.
func (r *Recorder) Record(ctx context.Context, conversationID, demoID, eventType string, payload []byte) {
	ev := &storage.AnalyticsEvent{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		DemoID:         demoID,
		EventType:      eventType,
		Payload:        payload,
	}
	if err := r.store.InsertAnalyticsEvent(ctx, ev); err != nil {
		r.logger.Warn("failed to record analytics event",
			slog.String("conversation_id", conversationID),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
	}
}
