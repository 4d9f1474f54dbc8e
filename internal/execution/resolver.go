package execution

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Reference expressions:
//   <blockName.path.to.field>                         output of an already-executed block
//   <variable.name>                                   workflow variable
//   <loop.index> / <loop.currentItem> / <loop.items>  enclosing loop scope
//   <parallel.index> / <parallel.currentItem>         enclosing parallel scope
//   {{ENV_VAR}}                                       decrypted environment variable
var refPattern = regexp.MustCompile(`<([^<>\s]+)>`)
var envPattern = regexp.MustCompile(`\{\{([A-Za-z_][A-Za-z0-9_]*)\}\}`)

// scope carries per-iteration values inside loop/parallel containers.
type scope struct {
	kind        string // "loop" or "parallel"
	index       int
	currentItem any
	items       any
	parent      *scope
}

func (s *scope) lookup(kind string) (*scope, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.kind == kind {
			return cur, true
		}
	}
	return nil, false
}

// resolver substitutes reference expressions against run state.
type resolver struct {
	run *runState
}

// resolveParams deep-resolves every value in a params map.
func (r *resolver) resolveParams(params map[string]any, sc *scope) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := r.resolveValue(v, sc)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *resolver) resolveValue(v any, sc *scope) (any, error) {
	switch val := v.(type) {
	case string:
		return r.resolveString(val, sc)
	case map[string]any:
		return r.resolveParams(val, sc)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.resolveValue(item, sc)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveString substitutes references in a string. A string that is exactly
// one reference resolves to the referenced value with its type intact;
// embedded references are stringified in place.
func (r *resolver) resolveString(s string, sc *scope) (any, error) {
	s = envPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envPattern.FindStringSubmatch(m)[1]
		if v, ok := r.run.envVars[name]; ok {
			return v
		}
		return m
	})

	matches := refPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && strings.TrimSpace(s) == matches[0][0] {
		return r.resolveRef(matches[0][1], sc)
	}

	var resolveErr error
	result := refPattern.ReplaceAllStringFunc(s, func(m string) string {
		expr := refPattern.FindStringSubmatch(m)[1]
		value, err := r.resolveRef(expr, sc)
		if err != nil {
			resolveErr = err
			return m
		}
		return stringify(value)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return result, nil
}

// resolveRef resolves one dotted reference expression.
func (r *resolver) resolveRef(expr string, sc *scope) (any, error) {
	parts := strings.Split(expr, ".")
	head, rest := parts[0], parts[1:]

	switch head {
	case "variable":
		if len(rest) == 0 {
			return nil, newResolutionError(fmt.Errorf("reference <%s> names no variable", expr))
		}
		value, ok := r.run.variables[rest[0]]
		if !ok {
			return nil, newResolutionError(fmt.Errorf("unknown workflow variable %q", rest[0]))
		}
		return walkPath(value, rest[1:], expr)

	case "loop", "parallel":
		if sc == nil {
			return nil, newResolutionError(fmt.Errorf("reference <%s> used outside a %s container", expr, head))
		}
		scoped, ok := sc.lookup(head)
		if !ok {
			return nil, newResolutionError(fmt.Errorf("reference <%s> used outside a %s container", expr, head))
		}
		if len(rest) == 0 {
			return nil, newResolutionError(fmt.Errorf("reference <%s> names no field", expr))
		}
		switch rest[0] {
		case "index":
			return scoped.index, nil
		case "currentItem":
			return walkPath(scoped.currentItem, rest[1:], expr)
		case "items":
			return scoped.items, nil
		default:
			return nil, newResolutionError(fmt.Errorf("unknown %s field %q in <%s>", head, rest[0], expr))
		}
	}

	blockID, ok := r.run.blockRefs[strings.ToLower(head)]
	if !ok {
		return nil, newResolutionError(fmt.Errorf("reference <%s>: unknown block %q", expr, head))
	}
	output, ok := r.run.outputs[blockID]
	if !ok {
		return nil, newResolutionError(fmt.Errorf("reference <%s>: block %q has not executed", expr, head))
	}
	return walkPath(output, rest, expr)
}

// walkPath follows a dotted path through maps and arrays.
func walkPath(value any, path []string, expr string) (any, error) {
	current := value
	for _, part := range path {
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[part]
			if !ok {
				return nil, newResolutionError(fmt.Errorf("reference <%s>: path segment %q not found", expr, part))
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(typed) {
				return nil, newResolutionError(fmt.Errorf("reference <%s>: invalid array index %q", expr, part))
			}
			current = typed[idx]
		default:
			return nil, newResolutionError(fmt.Errorf("reference <%s>: cannot descend into %T at %q", expr, current, part))
		}
	}
	return current, nil
}

func stringify(v any) string {
	switch typed := v.(type) {
	case string:
		return typed
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", typed)
	}
}

// normalizeRefName maps a block name to its reference token: lowercase with
// spaces removed, so "Data Fetcher" is referenced as <datafetcher.field>.
func normalizeRefName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", ""))
}
