package storage

import (
	"context"
	"errors"
	"time"

	"github.com/demoflow/demoflow/internal/funnel"
)

// ErrNotFound is returned for point lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when an optimistic module-state write loses
// to a concurrent update; callers re-read and re-apply.
var ErrVersionConflict = errors.New("version conflict")

// Demo is the subset of a demo row this pipeline reads: the conversation
// binding and the trial CTA fields. A demo has at most one active Tavus
// conversation id at a time.
type Demo struct {
	ID                  string
	Name                string
	TavusConversationID string
	CTATitle            *string
	CTAMessage          *string
	CTAButtonText       *string
	CTAButtonURL        *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Video is one uploaded demo video, looked up by exact title within a demo.
type Video struct {
	ID          string
	DemoID      string
	Title       string
	StoragePath string
	CreatedAt   time.Time
}

// ModuleStateRecord is the persisted form of a conversation's funnel
// progress. Version implements optimistic concurrency: writes carry the
// version they read, and a stale write fails with ErrVersionConflict.
type ModuleStateRecord struct {
	ConversationID  string
	DemoID          string
	CurrentModuleID funnel.ModuleID
	State           funnel.ModuleState
	Version         int64
	UpdatedAt       time.Time
}

// AnalyticsEvent is one ingested conversation event kept for insights.
type AnalyticsEvent struct {
	ID             string
	ConversationID string
	DemoID         string
	EventType      string
	Payload        []byte
	CreatedAt      time.Time
}

// DemoStore resolves demos by their active conversation id.
type DemoStore interface {
	GetDemoByConversationID(ctx context.Context, conversationID string) (*Demo, error)
	CreateDemo(ctx context.Context, demo *Demo) error
}

// VideoStore looks up demo videos by exact title.
type VideoStore interface {
	GetVideoByTitle(ctx context.Context, demoID, title string) (*Video, error)
	ListVideoTitles(ctx context.Context, demoID string) ([]string, error)
	CreateVideo(ctx context.Context, video *Video) error
}

// IdempotencyStore records processed webhook deliveries. MarkProcessed is an
// atomic insert-if-absent: it reports true when the event id was already
// recorded. Records are write-once; pruning is an external concern.
type IdempotencyStore interface {
	MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) (alreadyProcessed bool, err error)
}

// ModuleStateStore persists per-conversation funnel progress.
type ModuleStateStore interface {
	GetModuleState(ctx context.Context, conversationID string) (*ModuleStateRecord, error)
	PutModuleState(ctx context.Context, rec *ModuleStateRecord) error
}

// AnalyticsStore ingests raw conversation events for the insights surface.
type AnalyticsStore interface {
	InsertAnalyticsEvent(ctx context.Context, ev *AnalyticsEvent) error
}

// Store is the full persistence surface the webhook pipeline touches.
type Store interface {
	DemoStore
	VideoStore
	IdempotencyStore
	ModuleStateStore
	AnalyticsStore
	Close() error
}
