package tools

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// NewMathTool creates the evaluate_expression tool
func NewMathTool() *Tool {
	return &Tool{
		ID:          "evaluate_expression",
		Name:        "Evaluate Expression",
		Description: "Evaluate a mathematical expression. Supports arithmetic (+, -, *, /, ^, %), functions (sin, cos, tan, sqrt, log, ln, abs, floor, ceil, round), constants (pi, e), and parentheses.",
		Params: map[string]Param{
			"expression": {
				Type:        "string",
				Description: "Expression to evaluate (e.g., '2 + 2', 'sqrt(16) * pi')",
				Required:    true,
				Visibility:  VisibilityUserOrLLM,
			},
		},
		Execute: executeEvaluateExpression,
	}
}

func executeEvaluateExpression(_ context.Context, args map[string]any) (map[string]any, error) {
	expression, ok := args["expression"].(string)
	if !ok || expression == "" {
		return nil, fmt.Errorf("expression parameter is required and must be a string")
	}

	result, err := evalExpr(expression)
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	return map[string]any{
		"result":     result,
		"expression": expression,
	}, nil
}

var exprCharset = regexp.MustCompile(`^[0-9+\-*/^%()., a-zA-Z]+$`)
var exprFunc = regexp.MustCompile(`(sin|cos|tan|sqrt|log|ln|abs|floor|ceil|round)\(([^()]+)\)`)
var exprConstPi = regexp.MustCompile(`\bpi\b`)
var exprConstE = regexp.MustCompile(`\be\b`)

func evalExpr(expr string) (float64, error) {
	expr = strings.ReplaceAll(expr, " ", "")
	if expr == "" {
		return 0, fmt.Errorf("empty expression")
	}
	if !exprCharset.MatchString(expr) {
		return 0, fmt.Errorf("expression contains invalid characters")
	}

	expr = exprConstPi.ReplaceAllString(expr, strconv.FormatFloat(math.Pi, 'f', 15, 64))
	expr = exprConstE.ReplaceAllString(expr, strconv.FormatFloat(math.E, 'f', 15, 64))

	// Collapse innermost function calls until none remain.
	for {
		m := exprFunc.FindStringSubmatch(expr)
		if m == nil {
			break
		}
		arg, err := parseAddSub(m[2])
		if err != nil {
			return 0, fmt.Errorf("error in function %s: %w", m[1], err)
		}
		val, err := applyMathFunc(m[1], arg)
		if err != nil {
			return 0, err
		}
		expr = strings.Replace(expr, m[0], strconv.FormatFloat(val, 'f', 15, 64), 1)
	}

	return parseAddSub(expr)
}

func applyMathFunc(name string, arg float64) (float64, error) {
	switch name {
	case "sin":
		return math.Sin(arg), nil
	case "cos":
		return math.Cos(arg), nil
	case "tan":
		return math.Tan(arg), nil
	case "sqrt":
		if arg < 0 {
			return 0, fmt.Errorf("sqrt of negative number: %f", arg)
		}
		return math.Sqrt(arg), nil
	case "log":
		if arg <= 0 {
			return 0, fmt.Errorf("log of non-positive number: %f", arg)
		}
		return math.Log10(arg), nil
	case "ln":
		if arg <= 0 {
			return 0, fmt.Errorf("ln of non-positive number: %f", arg)
		}
		return math.Log(arg), nil
	case "abs":
		return math.Abs(arg), nil
	case "floor":
		return math.Floor(arg), nil
	case "ceil":
		return math.Ceil(arg), nil
	case "round":
		return math.Round(arg), nil
	}
	return 0, fmt.Errorf("unknown function: %s", name)
}

// parseAddSub handles addition and subtraction
func parseAddSub(expr string) (float64, error) {
	depth := 0
	for i := len(expr) - 1; i > 0; i-- {
		switch expr[i] {
		case ')':
			depth++
		case '(':
			depth--
		case '+', '-':
			if depth != 0 {
				continue
			}
			// Skip operator signs and exponent signs like 1e-5.
			prev := expr[i-1]
			if strings.ContainsRune("+-*/^%(", rune(prev)) {
				continue
			}
			left, err := parseAddSub(expr[:i])
			if err != nil {
				return 0, err
			}
			right, err := parseMulDiv(expr[i+1:])
			if err != nil {
				return 0, err
			}
			if expr[i] == '+' {
				return left + right, nil
			}
			return left - right, nil
		}
	}
	return parseMulDiv(expr)
}

// parseMulDiv handles multiplication, division and modulo
func parseMulDiv(expr string) (float64, error) {
	depth := 0
	for i := len(expr) - 1; i >= 0; i-- {
		switch expr[i] {
		case ')':
			depth++
		case '(':
			depth--
		case '*', '/', '%':
			if depth != 0 {
				continue
			}
			left, err := parseMulDiv(expr[:i])
			if err != nil {
				return 0, err
			}
			right, err := parsePower(expr[i+1:])
			if err != nil {
				return 0, err
			}
			switch expr[i] {
			case '*':
				return left * right, nil
			case '/':
				if right == 0 {
					return 0, fmt.Errorf("division by zero")
				}
				return left / right, nil
			default:
				if right == 0 {
					return 0, fmt.Errorf("modulo by zero")
				}
				return math.Mod(left, right), nil
			}
		}
	}
	return parsePower(expr)
}

// parsePower handles exponentiation, right associative
func parsePower(expr string) (float64, error) {
	depth := 0
	for i := len(expr) - 1; i >= 0; i-- {
		switch expr[i] {
		case ')':
			depth++
		case '(':
			depth--
		case '^':
			if depth != 0 {
				continue
			}
			left, err := parseUnary(expr[:i])
			if err != nil {
				return 0, err
			}
			right, err := parsePower(expr[i+1:])
			if err != nil {
				return 0, err
			}
			return math.Pow(left, right), nil
		}
	}
	return parseUnary(expr)
}

func parseUnary(expr string) (float64, error) {
	if strings.HasPrefix(expr, "-") {
		val, err := parseUnary(expr[1:])
		return -val, err
	}
	if strings.HasPrefix(expr, "+") {
		return parseUnary(expr[1:])
	}
	return parsePrimary(expr)
}

func parsePrimary(expr string) (float64, error) {
	if strings.HasPrefix(expr, "(") && strings.HasSuffix(expr, ")") {
		return parseAddSub(expr[1 : len(expr)-1])
	}
	num, err := strconv.ParseFloat(expr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", expr)
	}
	return num, nil
}
