// Package event normalizes the heterogeneous webhook payloads the Tavus
// provider sends. The same logical tool call arrives in at least three
// incompatible shapes; each shape gets its own detector+extractor and the
// first match wins, so adding a fourth provider shape stays additive.
package event

// RawEvent is an untyped webhook payload. Fields are read defensively across
// several possible nesting paths because the provider is inconsistent.
type RawEvent map[string]any

// Tool names recognized downstream.
const (
	ToolFetchVideo   = "fetch_video"
	ToolPlayVideo    = "play_video"
	ToolPauseVideo   = "pause_video"
	ToolNextVideo    = "next_video"
	ToolCloseVideo   = "close_video"
	ToolShowTrialCTA = "show_trial_cta"
)

// ToolCall is the canonical form of a tool invocation. A zero Name means "no
// actionable tool call" — the normal outcome for most events, not an error.
type ToolCall struct {
	Name string
	Args map[string]any
}

// IsVideoFetch reports whether name is the video-fetch tool or its alias.
func IsVideoFetch(name string) bool {
	return name == ToolFetchVideo || name == ToolPlayVideo
}

var knownTools = map[string]bool{
	ToolFetchVideo:   true,
	ToolPlayVideo:    true,
	ToolPauseVideo:   true,
	ToolNextVideo:    true,
	ToolCloseVideo:   true,
	ToolShowTrialCTA: true,
}

// IsKnownTool reports whether name is a tool this service dispatches. The
// utterance shape can match arbitrary call-like speech, so callers route
// unrecognized names to analytics rather than the dispatcher.
func IsKnownTool(name string) bool {
	return knownTools[name]
}

// Type returns the event's event_type, or "" when absent.
func (ev RawEvent) Type() string {
	return getString(ev, "event_type")
}

// ID returns the provider's explicit event id if any of the known paths
// carry one. Deliveries without an id are deduplicated by content hash
// instead (see idempotency.Guard).
func (ev RawEvent) ID() string {
	for _, path := range [][]string{
		{"id"},
		{"event_id"},
		{"data", "id"},
		{"data", "event_id"},
	} {
		if v := getStringPath(ev, path...); v != "" {
			return v
		}
	}
	return ""
}

// ConversationID returns the Tavus conversation id the event belongs to.
func (ev RawEvent) ConversationID() string {
	for _, path := range [][]string{
		{"conversation_id"},
		{"data", "conversation_id"},
		{"properties", "conversation_id"},
	} {
		if v := getStringPath(ev, path...); v != "" {
			return v
		}
	}
	return ""
}

// ObjectiveName returns the completed objective's name for
// objective-completion events, checking the paths the provider has been
// observed to use.
func (ev RawEvent) ObjectiveName() string {
	for _, path := range [][]string{
		{"data", "objective_name"},
		{"data", "name"},
		{"properties", "objective_name"},
	} {
		if v := getStringPath(ev, path...); v != "" {
			return v
		}
	}
	return ""
}

// OutputVariables returns the objective's collected output variables, if any.
func (ev RawEvent) OutputVariables() map[string]any {
	for _, path := range [][]string{
		{"data", "output_variables"},
		{"properties", "output_variables"},
	} {
		if m := getMapPath(ev, path...); m != nil {
			return m
		}
	}
	return nil
}

var objectiveEventTypes = map[string]bool{
	"conversation.objective_completed": true,
	"conversation_objective_completed": true,
	"objective_completed":              true,
}

// IsObjectiveCompleted reports whether the event signals a completed
// conversation objective.
func (ev RawEvent) IsObjectiveCompleted() bool {
	return objectiveEventTypes[ev.Type()] && ev.ObjectiveName() != ""
}

func getString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func getStringPath(m map[string]any, path ...string) string {
	cur := m
	for i, key := range path {
		if i == len(path)-1 {
			return getString(cur, key)
		}
		next, ok := cur[key].(map[string]any)
		if !ok {
			return ""
		}
		cur = next
	}
	return ""
}

func getMapPath(m map[string]any, path ...string) map[string]any {
	cur := m
	for i, key := range path {
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		if i == len(path)-1 {
			return next
		}
		cur = next
	}
	return nil
}
