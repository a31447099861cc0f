// Package idempotency suppresses duplicate webhook deliveries. Dedup is
// best-effort, not an exactly-once guarantee: a storage error is treated as
// "not a duplicate" so a flaky store never drops legitimate events.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/demoflow/demoflow/internal/event"
	"github.com/demoflow/demoflow/internal/storage"
)

// Guard detects and records processed deliveries.
type Guard struct {
	store  storage.IdempotencyStore
	logger *slog.Logger
}

// New creates a Guard backed by store.
func New(store storage.IdempotencyStore, logger *slog.Logger) *Guard {
	return &Guard{store: store, logger: logger}
}

// CheckAndMark resolves the delivery's event id (the provider's explicit id
// when present, else a content hash of the raw body) and records it with an
// atomic insert-if-absent. It reports whether this delivery was already
// processed. Storage errors are logged and reported as non-duplicate.
func (g *Guard) CheckAndMark(ctx context.Context, ev event.RawEvent, rawBody []byte) (isDuplicate bool, eventID string) {
	eventID = ev.ID()
	if eventID == "" {
		sum := sha256.Sum256(rawBody)
		eventID = hex.EncodeToString(sum[:])
	}

	dup, err := g.store.MarkProcessed(ctx, eventID, time.Now())
	if err != nil {
		g.logger.Warn("idempotency check failed, processing anyway",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return false, eventID
	}

	return dup, eventID
}
