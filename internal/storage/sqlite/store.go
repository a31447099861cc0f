package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/demoflow/demoflow/internal/funnel"
	"github.com/demoflow/demoflow/internal/storage"
)

// Store is the SQLite implementation of the webhook pipeline's persistence
// surface: demos, videos, idempotency records, module state, analytics rows.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS demos (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			tavus_conversation_id TEXT,
			cta_title TEXT,
			cta_message TEXT,
			cta_button_text TEXT,
			cta_button_url TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			demo_id TEXT NOT NULL,
			title TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (demo_id) REFERENCES demos(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS idempotency_records (
			event_id TEXT PRIMARY KEY,
			processed_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS module_states (
			conversation_id TEXT PRIMARY KEY,
			demo_id TEXT NOT NULL,
			current_module_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analytics_events (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			demo_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_demos_conversation ON demos(tavus_conversation_id) WHERE tavus_conversation_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_videos_demo_title ON videos(demo_id, title)`,
		`CREATE INDEX IF NOT EXISTS idx_analytics_conversation ON analytics_events(conversation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_analytics_demo ON analytics_events(demo_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateDemo(ctx context.Context, demo *storage.Demo) error {
	demo.CreatedAt = time.Now()
	demo.UpdatedAt = time.Now()

	query := `INSERT INTO demos (id, name, tavus_conversation_id, cta_title, cta_message, cta_button_text, cta_button_url, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		demo.ID, demo.Name, nullable(demo.TavusConversationID),
		demo.CTATitle, demo.CTAMessage, demo.CTAButtonText, demo.CTAButtonURL,
		demo.CreatedAt, demo.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create demo: %w", err)
	}

	return nil
}

func (s *Store) GetDemoByConversationID(ctx context.Context, conversationID string) (*storage.Demo, error) {
	query := `SELECT id, name, tavus_conversation_id, cta_title, cta_message, cta_button_text, cta_button_url, created_at, updated_at
	          FROM demos WHERE tavus_conversation_id = ?`

	var demo storage.Demo
	var convID sql.NullString

	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&demo.ID, &demo.Name, &convID,
		&demo.CTATitle, &demo.CTAMessage, &demo.CTAButtonText, &demo.CTAButtonURL,
		&demo.CreatedAt, &demo.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("demo for conversation %s: %w", conversationID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get demo: %w", err)
	}

	if convID.Valid {
		demo.TavusConversationID = convID.String
	}

	return &demo, nil
}

func (s *Store) CreateVideo(ctx context.Context, video *storage.Video) error {
	video.CreatedAt = time.Now()

	query := `INSERT INTO videos (id, demo_id, title, storage_path, created_at)
	          VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		video.ID, video.DemoID, video.Title, video.StoragePath, video.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

func (s *Store) GetVideoByTitle(ctx context.Context, demoID, title string) (*storage.Video, error) {
	query := `SELECT id, demo_id, title, storage_path, created_at
	          FROM videos WHERE demo_id = ? AND title = ?`

	var video storage.Video
	err := s.db.QueryRowContext(ctx, query, demoID, title).Scan(
		&video.ID, &video.DemoID, &video.Title, &video.StoragePath, &video.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %q in demo %s: %w", title, demoID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return &video, nil
}

func (s *Store) ListVideoTitles(ctx context.Context, demoID string) ([]string, error) {
	query := `SELECT title FROM videos WHERE demo_id = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, demoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query video titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("failed to scan video title: %w", err)
		}
		titles = append(titles, title)
	}

	return titles, rows.Err()
}

// MarkProcessed records the event id, reporting true when it was already
// recorded. The insert-if-absent is a single statement so concurrent
// deliveries of the same event cannot both pass.
func (s *Store) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time) (bool, error) {
	query := `INSERT INTO idempotency_records (event_id, processed_at)
	          VALUES (?, ?)
	          ON CONFLICT(event_id) DO NOTHING`

	result, err := s.db.ExecContext(ctx, query, eventID, processedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record idempotency key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows == 0, nil
}

func (s *Store) GetModuleState(ctx context.Context, conversationID string) (*storage.ModuleStateRecord, error) {
	query := `SELECT conversation_id, demo_id, current_module_id, state, version, updated_at
	          FROM module_states WHERE conversation_id = ?`

	var rec storage.ModuleStateRecord
	var moduleID, stateJSON string

	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&rec.ConversationID, &rec.DemoID, &moduleID, &stateJSON, &rec.Version, &rec.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("module state for conversation %s: %w", conversationID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module state: %w", err)
	}

	rec.CurrentModuleID = funnel.ModuleID(moduleID)
	if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal module state: %w", err)
	}

	return &rec, nil
}

// PutModuleState writes rec with optimistic concurrency. A record with
// Version 0 is inserted fresh; otherwise the update only applies when the
// stored version still matches. Stale writes fail with ErrVersionConflict so
// the caller can re-read and re-apply.
func (s *Store) PutModuleState(ctx context.Context, rec *storage.ModuleStateRecord) error {
	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("failed to marshal module state: %w", err)
	}
	rec.UpdatedAt = time.Now()

	if rec.Version == 0 {
		query := `INSERT INTO module_states (conversation_id, demo_id, current_module_id, state, version, updated_at)
		          VALUES (?, ?, ?, ?, 1, ?)
		          ON CONFLICT(conversation_id) DO NOTHING`

		result, err := s.db.ExecContext(ctx, query,
			rec.ConversationID, rec.DemoID, string(rec.CurrentModuleID), string(stateJSON), rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert module state: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("module state for conversation %s: %w", rec.ConversationID, storage.ErrVersionConflict)
		}
		rec.Version = 1
		return nil
	}

	query := `UPDATE module_states
	          SET demo_id = ?, current_module_id = ?, state = ?, version = version + 1, updated_at = ?
	          WHERE conversation_id = ? AND version = ?`

	result, err := s.db.ExecContext(ctx, query,
		rec.DemoID, string(rec.CurrentModuleID), string(stateJSON), rec.UpdatedAt,
		rec.ConversationID, rec.Version)
	if err != nil {
		return fmt.Errorf("failed to update module state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("module state for conversation %s: %w", rec.ConversationID, storage.ErrVersionConflict)
	}

	rec.Version++
	return nil
}

func (s *Store) InsertAnalyticsEvent(ctx context.Context, ev *storage.AnalyticsEvent) error {
	ev.CreatedAt = time.Now()

	query := `INSERT INTO analytics_events (id, conversation_id, demo_id, event_type, payload, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.ConversationID, ev.DemoID, ev.EventType, string(ev.Payload), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert analytics event: %w", err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
