package engine

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// ConditionEvaluator evaluates a single Condition or an AND/OR group of them
// over the resolved value space. Numeric comparisons coerce both operands to
// float64 (toFloat) and then run the comparison through expr-lang — the same
// compile-and-run pattern the teacher's runtime/engine/yaml
// ExpressionEvaluator uses for whole-flow conditions.
type ConditionEvaluator struct {
	resolver *Resolver
}

func NewConditionEvaluator(resolver *Resolver) *ConditionEvaluator {
	return &ConditionEvaluator{resolver: resolver}
}

// Evaluate returns true when expression is nil (the "optional form").
func (e *ConditionEvaluator) Evaluate(expression *Condition, ctx *resolveContext) (bool, error) {
	if expression == nil {
		return true, nil
	}
	if expression.IsGroup() {
		return e.evaluateGroup(expression, ctx)
	}
	return e.evaluateLeaf(expression, ctx)
}

func (e *ConditionEvaluator) evaluateGroup(g *Condition, ctx *resolveContext) (bool, error) {
	if len(g.Conditions) == 0 {
		return true, nil
	}
	switch g.GroupOp {
	case GroupAnd:
		for i := range g.Conditions {
			ok, err := e.Evaluate(&g.Conditions[i], ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case GroupOr:
		for i := range g.Conditions {
			ok, err := e.Evaluate(&g.Conditions[i], ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, newConditionError(fmt.Sprintf("unknown group operator %q", g.GroupOp), nil)
	}
}

func (e *ConditionEvaluator) evaluateLeaf(c *Condition, ctx *resolveContext) (bool, error) {
	field := e.resolver.resolveString(c.Field, ctx)
	fieldPath, _ := field.(string)
	if fieldPath == "" {
		fieldPath = c.Field
	}

	actual := e.readSource(c, fieldPath, ctx)
	expected := e.resolveExpected(c.Value, ctx)

	return applyOperator(c.Operator, actual, expected)
}

func (e *ConditionEvaluator) readSource(c *Condition, fieldPath string, ctx *resolveContext) any {
	switch c.Source {
	case SourceParams:
		val, _ := gabsLookup(ctx.params, fieldPath)
		return val
	case SourceResponse:
		body, ok := ctx.responses[c.StepID]
		if !ok {
			return nil
		}
		val, _ := gabsLookup(body, fieldPath)
		return val
	default:
		return nil
	}
}

func (e *ConditionEvaluator) resolveExpected(value any, ctx *resolveContext) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if !strings.Contains(s, "${") {
		return s
	}
	resolved := e.resolver.resolveString(s, ctx)
	return coerceExpectedValue(resolved)
}

// applyOperator implements spec §4.2 Operators.
func applyOperator(op Operator, actual, expected any) (bool, error) {
	switch op {
	case OpEquals:
		return looseEquals(actual, expected), nil
	case OpNotEquals:
		return !looseEquals(actual, expected), nil
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return numericCompare(op, actual, expected)
	case OpContains:
		return contains(actual, expected), nil
	case OpNotContains:
		return !contains(actual, expected), nil
	case OpIsEmpty:
		return isEmpty(actual), nil
	case OpIsNotEmpty:
		return !isEmpty(actual), nil
	case OpExists:
		return actual != nil, nil
	default:
		return false, newConditionError(fmt.Sprintf("unknown operator %q", op), nil)
	}
}

func looseEquals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// numericCompare requires both operands to be numeric; otherwise false
// (never an error) per spec §4.2.
func numericCompare(op Operator, a, b any) (bool, error) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, nil
	}

	program, err := expr.Compile(exprFor(op), expr.Env(map[string]any{"a": af, "b": bf}))
	if err != nil {
		return false, newConditionError("failed to compile comparison", err)
	}
	result, err := expr.Run(program, map[string]any{"a": af, "b": bf})
	if err != nil {
		return false, newConditionError("failed to evaluate comparison", err)
	}
	b2, _ := result.(bool)
	return b2, nil
}

func exprFor(op Operator) string {
	switch op {
	case OpGreater:
		return "a > b"
	case OpGreaterEqual:
		return "a >= b"
	case OpLess:
		return "a < b"
	case OpLessEqual:
		return "a <= b"
	default:
		return "false"
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		n, ok := needle.(string)
		return ok && strings.Contains(h, n)
	case []any:
		for _, item := range h {
			if looseEquals(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
