package logs

import (
	"encoding/json"
	"regexp"
	"time"
)

// Providers leave tool-call data in several shapes depending on vendor and
// response-format version. extractToolCalls probes each known shape in order
// and accepts the first that yields a list. No match means the block is
// logged without tool metadata.
//
// Shapes, in probe order:
//  1. output.toolCalls as an array
//  2. output.toolCalls.list
//  3. output.response.toolCalls as an array
//  4. output.response.toolCalls.list
//  5. tool-call JSON embedded in a string-typed output.response
func extractToolCalls(output map[string]any) []map[string]any {
	if output == nil {
		return nil
	}

	if list := asCallList(output["toolCalls"]); list != nil {
		return list
	}
	if tc, ok := output["toolCalls"].(map[string]any); ok {
		if list := asCallList(tc["list"]); list != nil {
			return list
		}
	}

	switch response := output["response"].(type) {
	case map[string]any:
		if list := asCallList(response["toolCalls"]); list != nil {
			return list
		}
		if tc, ok := response["toolCalls"].(map[string]any); ok {
			if list := asCallList(tc["list"]); list != nil {
				return list
			}
		}
	case string:
		return extractFromString(response)
	}

	return nil
}

func asCallList(v any) []map[string]any {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	list := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			list = append(list, m)
		}
	}
	if len(list) == 0 {
		return nil
	}
	return list
}

var embeddedToolCalls = regexp.MustCompile(`"toolCalls"\s*:\s*(\[[^\]]*\])`)

// extractFromString is the last-resort probe: tool-call JSON embedded inside
// a string response.
func extractFromString(response string) []map[string]any {
	match := embeddedToolCalls.FindStringSubmatch(response)
	if match == nil {
		return nil
	}
	var parsed []any
	if err := json.Unmarshal([]byte(match[1]), &parsed); err != nil {
		return nil
	}
	return asCallList(parsed)
}

// normalizeToolCalls converts raw tool-call maps into ToolCall records,
// reconciling the various timing encodings. Calls that carry no timing at
// all have start/end estimated by walking a cursor from the block's start.
func normalizeToolCalls(raw []map[string]any, blockStart time.Time) []ToolCall {
	calls := make([]ToolCall, 0, len(raw))
	cursor := blockStart

	for _, m := range raw {
		call := ToolCall{
			Name:   callString(m, "name"),
			Input:  callMap(m, "arguments", "input"),
			Output: callMap(m, "result", "output"),
			Error:  callString(m, "error"),
		}

		call.Status = "success"
		if success, ok := m["success"].(bool); ok && !success {
			call.Status = "error"
		} else if s := callString(m, "status"); s == "error" || s == "failed" {
			call.Status = "error"
		} else if call.Error != "" {
			call.Status = "error"
		}

		duration, hasDuration := callDuration(m)
		start, hasStart := callTime(m, "startTime", "startedAt")
		end, hasEnd := callTime(m, "endTime", "endedAt")

		switch {
		case hasStart && hasEnd:
			call.StartedAt, call.EndedAt = start, end
			call.DurationMs = end.Sub(start).Milliseconds()
		case hasStart && hasDuration:
			call.StartedAt = start
			call.EndedAt = start.Add(time.Duration(duration) * time.Millisecond)
			call.DurationMs = duration
		default:
			// Best-effort reconstruction from the block's start time.
			call.StartedAt = cursor
			call.EndedAt = cursor.Add(time.Duration(duration) * time.Millisecond)
			call.DurationMs = duration
		}
		cursor = call.EndedAt

		calls = append(calls, call)
	}
	return calls
}

// callDuration probes the known duration encodings in order.
func callDuration(m map[string]any) (int64, bool) {
	for _, key := range []string{"duration", "durationMs", "duration_ms"} {
		if d, ok := asMillis(m[key]); ok {
			return d, true
		}
	}
	if timing, ok := m["timing"].(map[string]any); ok {
		if d, ok := asMillis(timing["duration"]); ok {
			return d, true
		}
	}
	return 0, false
}

func asMillis(v any) (int64, bool) {
	switch typed := v.(type) {
	case float64:
		return int64(typed), true
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	default:
		return 0, false
	}
}

func callTime(m map[string]any, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		switch typed := m[key].(type) {
		case time.Time:
			if !typed.IsZero() {
				return typed, true
			}
		case string:
			if t, err := time.Parse(time.RFC3339Nano, typed); err == nil && !t.IsZero() {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func callString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func callMap(m map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if v, ok := m[key].(map[string]any); ok {
			return v
		}
	}
	return nil
}
