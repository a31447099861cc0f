// Package crm pushes objective output variables to the downstream CRM as
// fire-and-forget contact upserts.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/demoflow/demoflow/internal/pkg/safehttp"
)

// Contact is one upsert: identity fields plus whatever output variables the
// conversation collected.
type Contact struct {
	ConversationID string         `json:"conversation_id"`
	DemoID         string         `json:"demo_id"`
	Fields         map[string]any `json:"fields"`
}

// Syncer upserts contacts downstream. Callers never block on it and never
// fail a webhook because of it.
type Syncer interface {
	UpsertContact(ctx context.Context, contact Contact) error
}

// HTTPSyncer posts contact upserts to the CRM sync endpoint.
type HTTPSyncer struct {
	url    string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPSyncer creates a syncer posting to url. The CRM endpoint is
// operator-configured, so outbound dials go through the SSRF-guarded
// transport.
func NewHTTPSyncer(url, apiKey string, logger *slog.Logger) *HTTPSyncer {
	return &HTTPSyncer{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second, Transport: safehttp.SafeTransport},
		logger: logger,
	}
}

func (s *HTTPSyncer) UpsertContact(ctx context.Context, contact Contact) error {
	body, err := json.Marshal(contact)
	if err != nil {
		return fmt.Errorf("failed to marshal contact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("crm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("crm returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// NopSyncer is used when no CRM endpoint is configured.
type NopSyncer struct{}

func (NopSyncer) UpsertContact(context.Context, Contact) error { return nil }
