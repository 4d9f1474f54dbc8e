package logs

import "regexp"

// Redaction runs over every tool-call input before it is persisted. Values
// are replaced, never removed, so the shape of the input stays inspectable.
const redactedMarker = "[REDACTED]"

// secretKeyPattern matches field names that conventionally hold credentials.
var secretKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|credential|authorization)`)

// opaqueTokenPattern matches API-key-like string values: long runs of
// key-alphabet characters with no whitespace.
var opaqueTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{32,}$`)

// redactSecrets deep-clones a value, replacing secret-looking strings with
// the redaction marker. The input is never mutated.
func redactSecrets(value any) any {
	return redactValue(value, false)
}

func redactValue(value any, underSecretKey bool) any {
	switch typed := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(typed))
		for k, v := range typed {
			clone[k] = redactValue(v, underSecretKey || secretKeyPattern.MatchString(k))
		}
		return clone
	case []any:
		clone := make([]any, len(typed))
		for i, v := range typed {
			clone[i] = redactValue(v, underSecretKey)
		}
		return clone
	case string:
		if underSecretKey || opaqueTokenPattern.MatchString(typed) {
			return redactedMarker
		}
		return typed
	default:
		return value
	}
}

// redactInput applies redaction to a tool-call input map.
func redactInput(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	redacted, _ := redactSecrets(input).(map[string]any)
	return redacted
}
