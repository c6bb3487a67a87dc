package engine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

// Resolver expands ${…} references in strings, lists, and maps against a
// layered resolveContext (params / responses / loop state / system clock).
// It mirrors the teacher's evaluateValue recursion (runtime/engine/yaml
// step_executor.go) but resolves a fixed path grammar instead of compiling
// an expr-lang program, and never fails on a missing path — the consumer
// (ConditionEvaluator, Dispatcher) decides whether "undefined" is acceptable.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// refPattern matches a single ${...} reference anywhere in a string.
var refPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// fullRefPattern matches a string that, once trimmed, is exactly one ${...}.
var fullRefPattern = regexp.MustCompile(`^\$\{([^}]*)\}$`)

// Resolve expands template (string, []any, map[string]any, or scalar)
// against ctx. Lists and maps are walked recursively; scalars pass through.
func (r *Resolver) Resolve(template any, ctx *resolveContext) any {
	switch v := template.(type) {
	case string:
		return r.resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = r.Resolve(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = r.Resolve(val, ctx)
		}
		return out
	default:
		return v
	}
}

// resolveString implements the two resolution modes of spec §4.1: a
// type-preserving single-reference ("${path}" alone) and pure string
// substitution (path embedded in surrounding text).
func (r *Resolver) resolveString(s string, ctx *resolveContext) any {
	trimmed := strings.TrimSpace(s)
	if m := fullRefPattern.FindStringSubmatch(trimmed); m != nil {
		val, _ := r.lookup(strings.TrimSpace(m[1]), ctx)
		return val
	}

	if !strings.Contains(s, "${") {
		return s
	}

	return refPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := strings.TrimSpace(refPattern.FindStringSubmatch(match)[1])
		val, found := r.lookup(path, ctx)
		if !found || val == nil {
			return ""
		}
		return stringify(val)
	})
}

// lookup resolves a single dotted/bracket path against the layered context.
// It never errors: a missing segment yields (nil, false).
func (r *Resolver) lookup(path string, ctx *resolveContext) (any, bool) {
	switch {
	case path == "system.timestamp":
		return ctx.systemTimestamp, true
	case path == "loop.index":
		if len(ctx.loopContextStack) == 0 {
			return nil, false
		}
		return ctx.loopContextStack[len(ctx.loopContextStack)-1].CurrentIndex, true
	case path == "loop.item":
		if len(ctx.loopContextStack) == 0 {
			return nil, false
		}
		return ctx.loopContextStack[len(ctx.loopContextStack)-1].CurrentItem, true
	case strings.HasPrefix(path, "loop.item."):
		if len(ctx.loopContextStack) == 0 {
			return nil, false
		}
		item := ctx.loopContextStack[len(ctx.loopContextStack)-1].CurrentItem
		return gabsLookup(item, strings.TrimPrefix(path, "loop.item."))
	case strings.HasPrefix(path, "params."):
		return gabsLookup(ctx.params, strings.TrimPrefix(path, "params."))
	case strings.HasPrefix(path, "response."):
		return r.lookupResponse(strings.TrimPrefix(path, "response."), ctx)
	default:
		return nil, false
	}
}

// lookupResponse implements "response.<stepIdOrAlias>" (whole body) and
// "response.<stepIdOrAlias>.<path>" (reach into the body).
func (r *Resolver) lookupResponse(rest string, ctx *resolveContext) (any, bool) {
	alias, sub, hasSub := strings.Cut(rest, ".")
	body, ok := ctx.responses[alias]
	if !ok {
		return nil, false
	}
	if !hasSub {
		return body, true
	}
	return gabsLookup(body, sub)
}

// gabsLookup walks a dotted + bracket-indexed path ("items[0].name") through
// a generic JSON-shaped value using gabs, which already understands array
// index segments — this is exactly the JSON-path traversal gabs exists for,
// so it replaces a hand-rolled segment walker here.
func gabsLookup(value any, path string) (any, bool) {
	if path == "" {
		return value, value != nil
	}
	wrapped, err := gabs.Consume(normalizeForGabs(value))
	if err != nil {
		return nil, false
	}
	target := wrapped.Path(bracketToDot(path))
	if target == nil || !target.Exists() {
		return nil, false
	}
	return target.Data(), true
}

// normalizeForGabs JSON round-trips the value so non-map/slice Go types
// (structs, typed nils) become the plain map[string]any / []any / scalar
// shapes gabs expects.
func normalizeForGabs(value any) any {
	switch value.(type) {
	case map[string]any, []any, string, float64, int, bool, nil:
		return value
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		var out any
		_ = json.Unmarshal(data, &out)
		return out
	}
}

// bracketToDot rewrites "items[0].name" into gabs's dotted path form
// "items.0.name".
func bracketToDot(path string) string {
	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '[':
			b.WriteByte('.')
		case ']':
			// skip
		default:
			b.WriteByte(path[i])
		}
	}
	return b.String()
}

// stringify renders a resolved value for embedding in a larger string:
// nil → empty, lists/maps → JSON text, everything else → fmt default.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// ParseJSONIfString implements the request-body quirk of spec §4.1: when a
// request body arrives as a JSON-syntactic string, parse it to a structured
// value first so that resolution inside the structure preserves real types
// (e.g. a number stays a number instead of becoming its string form).
func ParseJSONIfString(body any) any {
	s, ok := body.(string)
	if !ok {
		return body
	}
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return body
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return body
	}
	return parsed
}

// coerceExpectedValue implements spec §4.2 "Expected-value resolution":
// after resolving ${…} in a condition's Value, coerce the resulting string
// into bool/nil/number/JSON/string.
func coerceExpectedValue(resolved any) any {
	s, ok := resolved.(string)
	if !ok {
		return resolved
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	trimmed := strings.TrimSpace(s)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		var parsed any
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			return parsed
		}
	}
	return s
}
