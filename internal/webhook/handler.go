// Package webhook is the inbound gateway for Tavus conversation events: it
// authenticates, deduplicates, normalizes, and dispatches each delivery, and
// produces the HTTP acknowledgement.
//
// Response discipline: only authentication failure (401) and malformed input
// (500) are surfaced as non-200. Everything downstream — missing demos,
// missing videos, collaborator failures — is absorbed into a 200 with a
// message, because the provider cannot self-heal those by retrying and a
// retry storm helps nobody.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/demoflow/demoflow/internal/analytics"
	"github.com/demoflow/demoflow/internal/broadcast"
	"github.com/demoflow/demoflow/internal/crm"
	"github.com/demoflow/demoflow/internal/dispatch"
	"github.com/demoflow/demoflow/internal/event"
	"github.com/demoflow/demoflow/internal/funnel"
	"github.com/demoflow/demoflow/internal/idempotency"
	"github.com/demoflow/demoflow/internal/server"
	"github.com/demoflow/demoflow/internal/signature"
	"github.com/demoflow/demoflow/internal/storage"
)

// signatureHeaders are checked in order; the provider has used all three.
var signatureHeaders = []string{"x-tavus-signature", "tavus-signature", "x-signature"}

// Handler orchestrates the webhook pipeline for one request at a time. It is
// stateless between requests; all shared state lives in the store.
type Handler struct {
	secret      string
	token       string
	demos       storage.DemoStore
	states      storage.ModuleStateStore
	guard       *idempotency.Guard
	dispatcher  *dispatch.Dispatcher
	broadcaster *broadcast.Broadcaster
	recorder    *analytics.Recorder
	crm         crm.Syncer
	logger      *slog.Logger
}

// Config wires a Handler.
type Config struct {
	Secret      string
	Token       string
	Demos       storage.DemoStore
	States      storage.ModuleStateStore
	Guard       *idempotency.Guard
	Dispatcher  *dispatch.Dispatcher
	Broadcaster *broadcast.Broadcaster
	Recorder    *analytics.Recorder
	CRM         crm.Syncer
	Logger      *slog.Logger
}

// NewHandler creates the webhook gateway handler.
func NewHandler(cfg Config) *Handler {
	syncer := cfg.CRM
	if syncer == nil {
		syncer = crm.NopSyncer{}
	}
	return &Handler{
		secret:      cfg.Secret,
		token:       cfg.Token,
		demos:       cfg.Demos,
		states:      cfg.States,
		guard:       cfg.Guard,
		dispatcher:  cfg.Dispatcher,
		broadcaster: cfg.Broadcaster,
		recorder:    cfg.Recorder,
		crm:         syncer,
		logger:      cfg.Logger,
	}
}

// Register mounts the webhook routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/tavus", h.HandleWebhook)
}

// HandleWebhook processes one delivery:
// authenticate → parse → dedup → normalize → dispatch or analytics → ack.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		server.AddError(ctx, err)
		h.logger.Error("failed to read webhook body", slog.String("error", err.Error()))
		respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "failed to read request body"})
		return
	}

	if !h.authenticate(body, r) {
		h.logger.Warn("webhook authentication failed",
			slog.String("remote_addr", r.RemoteAddr),
		)
		respondJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid signature"})
		return
	}

	var ev event.RawEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		server.AddError(ctx, err)
		h.logger.Error("malformed webhook payload", slog.String("error", err.Error()))
		respondJSON(w, http.StatusInternalServerError, map[string]any{"error": "invalid JSON payload"})
		return
	}

	server.AddLogField(ctx, "event_type", ev.Type())
	server.AddLogField(ctx, "conversation_id", ev.ConversationID())

	call := event.Parse(ev)

	// Dedup applies only to known tool-bearing deliveries; parsing is pure,
	// so normalizing before the idempotency check costs nothing.
	if event.IsKnownTool(call.Name) {
		dup, eventID := h.guard.CheckAndMark(ctx, ev, body)
		server.AddLogField(ctx, "event_id", eventID)
		if dup {
			h.logger.Info("duplicate delivery suppressed",
				slog.String("event_id", eventID),
				slog.String("tool", call.Name),
			)
			respondJSON(w, http.StatusOK, map[string]any{"message": "event already processed"})
			return
		}
	}

	status, response := h.process(ctx, ev, call, body)
	respondJSON(w, status, response)
}

// process runs everything downstream of authentication and JSON parsing.
// Failures here are absorbed into 200 responses; a panic is caught, logged,
// and likewise absorbed so one poisoned payload cannot take requests down
// with a retry storm.
func (h *Handler) process(ctx context.Context, ev event.RawEvent, call event.ToolCall, body []byte) (status int, response map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("panic while processing webhook",
				slog.Any("panic", rec),
				slog.String("event_type", ev.Type()),
			)
			status = http.StatusOK
			response = map[string]any{"message": "internal error processing event"}
		}
	}()

	switch {
	case event.IsKnownTool(call.Name):
		return h.handleToolCall(ctx, ev, call)
	case ev.IsObjectiveCompleted():
		return h.handleObjectiveCompleted(ctx, ev, body)
	default:
		return h.handleAnalytics(ctx, ev, body)
	}
}

func (h *Handler) handleToolCall(ctx context.Context, ev event.RawEvent, call event.ToolCall) (int, map[string]any) {
	conv, softMsg := h.resolveConversation(ctx, ev)
	if softMsg != "" {
		return http.StatusOK, map[string]any{"message": softMsg}
	}

	result := h.dispatcher.Execute(ctx, call, conv)
	if result.Message != "" {
		return http.StatusOK, map[string]any{"message": result.Message}
	}
	return http.StatusOK, map[string]any{"received": true}
}

func (h *Handler) handleObjectiveCompleted(ctx context.Context, ev event.RawEvent, body []byte) (int, map[string]any) {
	conv, softMsg := h.resolveConversation(ctx, ev)
	if softMsg != "" {
		return http.StatusOK, map[string]any{"message": softMsg}
	}

	objective := ev.ObjectiveName()
	res, err := h.advanceModuleState(ctx, conv, objective)
	if err != nil {
		server.AddError(ctx, err)
		h.logger.Error("failed to advance module state",
			slog.String("conversation_id", conv.ConversationID),
			slog.String("objective", objective),
			slog.String("error", err.Error()),
		)
		return http.StatusOK, map[string]any{"message": "could not record objective completion"}
	}

	h.recorder.Record(ctx, conv.ConversationID, conv.Demo.ID, ev.Type(), body)
	h.syncCRM(ctx, ev, conv)

	if err := h.broadcaster.Publish(ctx, broadcast.DemoChannel(conv.Demo.ID), "progress_updated", map[string]any{
		"objective":         objective,
		"current_module":    string(res.ModuleID),
		"module_changed":    res.ModuleChanged,
		"completed_modules": res.State.CompletedModules,
	}); err != nil {
		h.logger.Warn("progress broadcast failed",
			slog.String("demo_id", conv.Demo.ID),
			slog.String("error", err.Error()),
		)
	}

	return http.StatusOK, map[string]any{"received": true}
}

func (h *Handler) handleAnalytics(ctx context.Context, ev event.RawEvent, body []byte) (int, map[string]any) {
	convID := ev.ConversationID()
	if convID == "" {
		// Nothing to attribute the event to; acknowledge and move on.
		return http.StatusOK, map[string]any{"received": true}
	}

	demo, err := h.demos.GetDemoByConversationID(ctx, convID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn("demo lookup failed during analytics ingestion",
				slog.String("conversation_id", convID),
				slog.String("error", err.Error()),
			)
		}
		return http.StatusOK, map[string]any{"received": true}
	}

	h.recorder.Record(ctx, convID, demo.ID, ev.Type(), body)

	if err := h.broadcaster.Publish(ctx, broadcast.DemoChannel(demo.ID), "conversation_updated", map[string]any{
		"event_type": ev.Type(),
	}); err != nil {
		h.logger.Warn("conversation_updated broadcast failed",
			slog.String("demo_id", demo.ID),
			slog.String("error", err.Error()),
		)
	}

	return http.StatusOK, map[string]any{"received": true}
}

// resolveConversation maps the event's conversation id to its demo. A miss is
// a permanent condition: the provider must not retry, so it is reported as a
// soft message, never an error status.
func (h *Handler) resolveConversation(ctx context.Context, ev event.RawEvent) (dispatch.ConversationContext, string) {
	convID := ev.ConversationID()
	if convID == "" {
		return dispatch.ConversationContext{}, "missing conversation id"
	}

	demo, err := h.demos.GetDemoByConversationID(ctx, convID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.logger.Warn("no demo for conversation",
				slog.String("conversation_id", convID),
			)
			return dispatch.ConversationContext{}, "no demo found for conversation"
		}
		server.AddError(ctx, err)
		h.logger.Error("demo lookup failed",
			slog.String("conversation_id", convID),
			slog.String("error", err.Error()),
		)
		return dispatch.ConversationContext{}, "could not resolve conversation"
	}

	return dispatch.ConversationContext{ConversationID: convID, Demo: demo}, ""
}

// advanceModuleState runs the pure state machine inside an optimistic
// read-modify-write loop. A version conflict means a concurrent delivery for
// the same conversation won the write; re-reading and re-applying is safe
// because Advance is idempotent over its objective set.
func (h *Handler) advanceModuleState(ctx context.Context, conv dispatch.ConversationContext, objective string) (funnel.AdvanceResult, error) {
	const maxAttempts = 3

	for attempt := 0; attempt < maxAttempts; attempt++ {
		rec, err := h.states.GetModuleState(ctx, conv.ConversationID)
		if errors.Is(err, storage.ErrNotFound) {
			rec = &storage.ModuleStateRecord{
				ConversationID: conv.ConversationID,
				DemoID:         conv.Demo.ID,
				State:          funnel.NewState(time.Now()),
			}
		} else if err != nil {
			return funnel.AdvanceResult{}, fmt.Errorf("failed to load module state: %w", err)
		}

		res := funnel.Advance(rec.State, rec.CurrentModuleID, objective, time.Now())
		rec.State = res.State
		rec.CurrentModuleID = res.ModuleID
		rec.DemoID = conv.Demo.ID

		err = h.states.PutModuleState(ctx, rec)
		if errors.Is(err, storage.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return funnel.AdvanceResult{}, fmt.Errorf("failed to persist module state: %w", err)
		}

		if res.ModuleChanged {
			h.logger.Info("module completed",
				slog.String("conversation_id", conv.ConversationID),
				slog.String("completed_module", string(res.PreviousModuleID)),
				slog.String("current_module", string(res.ModuleID)),
			)
		}
		return res, nil
	}

	return funnel.AdvanceResult{}, fmt.Errorf("module state contention for conversation %s", conv.ConversationID)
}

// syncCRM pushes the objective's output variables downstream without
// blocking or failing the acknowledgement.
func (h *Handler) syncCRM(ctx context.Context, ev event.RawEvent, conv dispatch.ConversationContext) {
	vars := ev.OutputVariables()
	if len(vars) == 0 {
		return
	}

	contact := crm.Contact{
		ConversationID: conv.ConversationID,
		DemoID:         conv.Demo.ID,
		Fields:         vars,
	}

	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	go func() {
		defer cancel()
		if err := h.crm.UpsertContact(bgCtx, contact); err != nil {
			h.logger.Warn("crm contact upsert failed",
				slog.String("conversation_id", contact.ConversationID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

func (h *Handler) authenticate(body []byte, r *http.Request) bool {
	for _, header := range signatureHeaders {
		if value := r.Header.Get(header); value != "" {
			if signature.Verify(body, value, h.secret) {
				return true
			}
		}
	}

	query := r.URL.Query()
	for _, param := range []string{"t", "token"} {
		if value := query.Get(param); value != "" {
			if signature.VerifyToken(value, h.token) {
				return true
			}
		}
	}

	return false
}

func respondJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Headers are already written; nothing left to do.
		slog.Default().Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
