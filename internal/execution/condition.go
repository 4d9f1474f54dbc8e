package execution

import (
	"fmt"
	"strings"
)

// Condition blocks accept either structured params (condition/operator/value)
// or a single expression string such as "<agent.content> contains yes".
// The chosen branch is emitted as output["branch"] and matched against each
// outgoing edge's source handle.

var conditionOperators = []string{
	"==", "!=", ">=", "<=", ">", "<",
	"contains", "not_contains", "starts_with", "ends_with",
	"is_empty", "not_empty", "is_true", "is_false",
}

// evaluateConditionParams derives the boolean branch from resolved params.
func evaluateConditionParams(params map[string]any) (bool, error) {
	field, ok := params["condition"]
	if !ok {
		return false, newValidationError(fmt.Errorf("condition block has no condition param"))
	}

	if op, hasOp := params["operator"].(string); hasOp {
		return evaluateCondition(field, op, params["value"]), nil
	}

	expr, isString := field.(string)
	if !isString {
		return isTruthy(field), nil
	}
	left, op, right, found := splitConditionExpr(expr)
	if !found {
		return isTruthy(expr), nil
	}
	return evaluateCondition(left, op, right), nil
}

// splitConditionExpr finds the first operator token in an expression string.
func splitConditionExpr(expr string) (left string, op string, right string, found bool) {
	for _, candidate := range conditionOperators {
		token := candidate
		// Word operators must be whitespace-delimited tokens.
		if !strings.ContainsAny(candidate, "=<>!") {
			token = " " + candidate + " "
		}
		idx := strings.Index(expr, token)
		if idx < 0 {
			// Unary word operators may end the expression.
			if token != candidate && strings.HasSuffix(strings.TrimSpace(expr), " "+candidate) {
				trimmed := strings.TrimSpace(expr)
				return strings.TrimSpace(strings.TrimSuffix(trimmed, candidate)), candidate, "", true
			}
			continue
		}
		left = strings.TrimSpace(expr[:idx])
		right = strings.TrimSpace(expr[idx+len(token):])
		right = strings.Trim(right, `"'`)
		return left, candidate, right, true
	}
	return "", "", "", false
}

func evaluateCondition(fieldValue any, operator string, compareValue any) bool {
	switch operator {
	case "==", "eq":
		return fmt.Sprintf("%v", fieldValue) == fmt.Sprintf("%v", compareValue)
	case "!=", "neq":
		return fmt.Sprintf("%v", fieldValue) != fmt.Sprintf("%v", compareValue)
	case "contains":
		return strings.Contains(
			strings.ToLower(fmt.Sprintf("%v", fieldValue)),
			strings.ToLower(fmt.Sprintf("%v", compareValue)),
		)
	case "not_contains":
		return !strings.Contains(
			strings.ToLower(fmt.Sprintf("%v", fieldValue)),
			strings.ToLower(fmt.Sprintf("%v", compareValue)),
		)
	case ">", "gt":
		return toFloat(fieldValue) > toFloat(compareValue)
	case "<", "lt":
		return toFloat(fieldValue) < toFloat(compareValue)
	case ">=", "gte":
		return toFloat(fieldValue) >= toFloat(compareValue)
	case "<=", "lte":
		return toFloat(fieldValue) <= toFloat(compareValue)
	case "is_empty":
		return fieldValue == nil || fmt.Sprintf("%v", fieldValue) == ""
	case "not_empty":
		return fieldValue != nil && fmt.Sprintf("%v", fieldValue) != ""
	case "is_true":
		return isTruthy(fieldValue)
	case "is_false":
		return !isTruthy(fieldValue)
	case "starts_with":
		return strings.HasPrefix(
			strings.ToLower(fmt.Sprintf("%v", fieldValue)),
			strings.ToLower(fmt.Sprintf("%v", compareValue)),
		)
	case "ends_with":
		return strings.HasSuffix(
			strings.ToLower(fmt.Sprintf("%v", fieldValue)),
			strings.ToLower(fmt.Sprintf("%v", compareValue)),
		)
	default:
		return isTruthy(fieldValue)
	}
}

func toFloat(v any) float64 {
	switch f := v.(type) {
	case float64:
		return f
	case float32:
		return float64(f)
	case int:
		return float64(f)
	case int64:
		return float64(f)
	case string:
		var result float64
		fmt.Sscanf(f, "%f", &result)
		return result
	default:
		return 0
	}
}

func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && strings.ToLower(val) != "false" && val != "0"
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}
