package event

import (
	"encoding/json"
	"regexp"
	"strings"
)

// A shape is one known wire format for a tool call: a detector plus an
// extractor. Shapes are tried in order and the first match wins per event.
type shape interface {
	matches(ev RawEvent) bool
	extract(ev RawEvent) ToolCall
}

var shapes = []shape{
	structuredShape{},
	transcriptShape{},
	utteranceShape{},
}

// Parse converts a raw provider event into a canonical tool call. It is a
// pure function with no I/O. Events that match no known shape yield the zero
// ToolCall, which means "nothing to do".
func Parse(ev RawEvent) ToolCall {
	for _, s := range shapes {
		if s.matches(ev) {
			return s.extract(ev)
		}
	}
	return ToolCall{}
}

// structuredShape handles explicit tool-call events:
// {event_type: "conversation_toolcall", data: {name, args}}.
type structuredShape struct{}

var toolCallEventTypes = map[string]bool{
	"conversation_toolcall":  true,
	"conversation.toolcall":  true,
	"conversation.tool_call": true,
}

func (structuredShape) matches(ev RawEvent) bool {
	return toolCallEventTypes[ev.Type()]
}

func (structuredShape) extract(ev RawEvent) ToolCall {
	name := getStringPath(ev, "data", "name")
	if name == "" {
		return ToolCall{}
	}
	args := getMapPath(ev, "data", "args")
	if args == nil {
		args = map[string]any{}
	}
	return ToolCall{Name: name, Args: args}
}

// transcriptShape handles transcript-ready events: the tool call is buried in
// the last assistant message that carries tool_calls.
type transcriptShape struct{}

func (transcriptShape) matches(ev RawEvent) bool {
	data, ok := ev["data"].(map[string]any)
	if !ok {
		return false
	}
	_, ok = data["transcript"].([]any)
	return ok
}

func (transcriptShape) extract(ev RawEvent) ToolCall {
	data, _ := ev["data"].(map[string]any)
	transcript, _ := data["transcript"].([]any)

	// Last assistant message with tool_calls wins; earlier ones are stale.
	var toolCalls []any
	for _, entry := range transcript {
		msg, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if getString(msg, "role") != "assistant" {
			continue
		}
		if tcs, ok := msg["tool_calls"].([]any); ok && len(tcs) > 0 {
			toolCalls = tcs
		}
	}
	if len(toolCalls) == 0 {
		return ToolCall{}
	}

	first, ok := toolCalls[0].(map[string]any)
	if !ok {
		return ToolCall{}
	}
	fn := getMapPath(first, "function")
	if fn == nil {
		return ToolCall{}
	}
	name := getString(fn, "name")
	if name == "" {
		return ToolCall{}
	}

	args := map[string]any{}
	if raw := getString(fn, "arguments"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			// Malformed provider JSON must not fail the delivery; the
			// dispatcher's guardrail reports the missing title downstream.
			args = map[string]any{}
		}
	}
	return ToolCall{Name: name, Args: args}
}

// utteranceShape handles free-text speech events. The agent sometimes says
// the tool invocation out loud: either a bare no-argument tool name or a
// call-like string such as fetch_video("Intro").
type utteranceShape struct{}

var utteranceRe = regexp.MustCompile(`^([a-zA-Z_]+)\((.*)\)$`)

var noArgTools = map[string]bool{
	ToolPauseVideo:   true,
	ToolNextVideo:    true,
	ToolCloseVideo:   true,
	ToolShowTrialCTA: true,
}

func (utteranceShape) matches(ev RawEvent) bool {
	return getStringPath(ev, "data", "speech") != ""
}

func (utteranceShape) extract(ev RawEvent) ToolCall {
	speech := strings.TrimSpace(getStringPath(ev, "data", "speech"))

	if noArgTools[speech] {
		return ToolCall{Name: speech, Args: map[string]any{}}
	}

	m := utteranceRe.FindStringSubmatch(speech)
	if m == nil {
		return ToolCall{}
	}
	name, rawArgs := m[1], m[2]

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			if IsVideoFetch(name) {
				args = map[string]any{"video_title": Dequote(rawArgs)}
			} else {
				args = map[string]any{"arg": rawArgs}
			}
		}
	}
	return ToolCall{Name: name, Args: args}
}

// Dequote trims whitespace and strips one layer of surrounding single or
// double quotes.
func Dequote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
