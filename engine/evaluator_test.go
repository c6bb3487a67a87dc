package engine

import "testing"

func TestConditionEvaluatorOptionalFormReturnsTrue(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ok, err := e.Evaluate(nil, newTestContext(nil, nil, nil))
	if err != nil || !ok {
		t.Errorf("Evaluate(nil, _) = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestConditionEvaluatorLeafEquals(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{"status": "active"}, nil, nil)
	c := &Condition{Source: SourceParams, Field: "status", Operator: OpEquals, Value: "active"}

	ok, err := e.Evaluate(c, ctx)
	if err != nil || !ok {
		t.Errorf("Evaluate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestConditionEvaluatorFieldResolvesLoopIndex(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(
		map[string]any{"items": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}},
		nil,
		[]LoopContext{{CurrentIndex: 1}},
	)
	c := &Condition{Source: SourceParams, Field: "items[${loop.index}].name", Operator: OpEquals, Value: "b"}

	ok, err := e.Evaluate(c, ctx)
	if err != nil || !ok {
		t.Errorf("Evaluate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestConditionEvaluatorResponseSource(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(nil, map[string]any{"req": map[string]any{"ok": true}}, nil)
	c := &Condition{Source: SourceResponse, StepID: "req", Field: "ok", Operator: OpEquals, Value: "true"}

	ok, err := e.Evaluate(c, ctx)
	if err != nil || !ok {
		t.Errorf("Evaluate = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestConditionEvaluatorNumericOperators(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{"n": float64(10)}, nil, nil)

	cases := []struct {
		op   Operator
		val  any
		want bool
	}{
		{OpGreater, float64(5), true},
		{OpGreater, float64(50), false},
		{OpGreaterEqual, float64(10), true},
		{OpLess, float64(50), true},
		{OpLessEqual, float64(10), true},
	}
	for _, c := range cases {
		cond := &Condition{Source: SourceParams, Field: "n", Operator: c.op, Value: c.val}
		ok, err := e.Evaluate(cond, ctx)
		if err != nil {
			t.Fatalf("Evaluate(%s) error: %v", c.op, err)
		}
		if ok != c.want {
			t.Errorf("Evaluate(n %s %v) = %v, want %v", c.op, c.val, ok, c.want)
		}
	}
}

func TestConditionEvaluatorNumericOperatorOnNonNumericIsFalseNotError(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{"n": "not a number"}, nil, nil)
	c := &Condition{Source: SourceParams, Field: "n", Operator: OpGreater, Value: float64(5)}

	ok, err := e.Evaluate(c, ctx)
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if ok {
		t.Errorf("Evaluate = true, want false for non-numeric operand")
	}
}

func TestConditionEvaluatorContainsOperators(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{
		"s":    "hello world",
		"list": []any{"a", "b", "c"},
	}, nil, nil)

	ok, _ := e.Evaluate(&Condition{Source: SourceParams, Field: "s", Operator: OpContains, Value: "world"}, ctx)
	if !ok {
		t.Error("expected substring contains to be true")
	}
	ok, _ = e.Evaluate(&Condition{Source: SourceParams, Field: "list", Operator: OpContains, Value: "b"}, ctx)
	if !ok {
		t.Error("expected list membership contains to be true")
	}
	ok, _ = e.Evaluate(&Condition{Source: SourceParams, Field: "list", Operator: OpNotContains, Value: "z"}, ctx)
	if !ok {
		t.Error("expected notContains to be true for absent member")
	}
}

func TestConditionEvaluatorEmptyAndExists(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{"empty": "", "present": "x"}, nil, nil)

	ok, _ := e.Evaluate(&Condition{Source: SourceParams, Field: "empty", Operator: OpIsEmpty}, ctx)
	if !ok {
		t.Error("expected isEmpty true for empty string")
	}
	ok, _ = e.Evaluate(&Condition{Source: SourceParams, Field: "present", Operator: OpIsNotEmpty}, ctx)
	if !ok {
		t.Error("expected isNotEmpty true for present string")
	}
	ok, _ = e.Evaluate(&Condition{Source: SourceParams, Field: "missing", Operator: OpExists}, ctx)
	if ok {
		t.Error("expected exists false for missing field")
	}
}

func TestConditionEvaluatorUnknownOperatorRaisesConditionError(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{"n": float64(1)}, nil, nil)
	c := &Condition{Source: SourceParams, Field: "n", Operator: "bogus"}

	_, err := e.Evaluate(c, ctx)
	if err == nil {
		t.Fatal("expected ConditionError for unknown operator")
	}
	ee, ok := err.(*EngineError)
	if !ok || ee.Kind != ErrCondition {
		t.Errorf("got %v, want *EngineError{Kind: ErrCondition}", err)
	}
}

func TestConditionEvaluatorGroupAndShortCircuits(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{"a": float64(1), "b": float64(2)}, nil, nil)

	group := &Condition{
		GroupOp: GroupAnd,
		Conditions: []Condition{
			{Source: SourceParams, Field: "a", Operator: OpEquals, Value: float64(1)},
			{Source: SourceParams, Field: "b", Operator: OpEquals, Value: float64(99)},
		},
	}
	ok, err := e.Evaluate(group, ctx)
	if err != nil || ok {
		t.Errorf("Evaluate(AND) = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestConditionEvaluatorGroupOrAndEmptyGroup(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{"a": float64(1)}, nil, nil)

	orGroup := &Condition{
		GroupOp: GroupOr,
		Conditions: []Condition{
			{Source: SourceParams, Field: "a", Operator: OpEquals, Value: float64(99)},
			{Source: SourceParams, Field: "a", Operator: OpEquals, Value: float64(1)},
		},
	}
	ok, err := e.Evaluate(orGroup, ctx)
	if err != nil || !ok {
		t.Errorf("Evaluate(OR) = (%v, %v), want (true, nil)", ok, err)
	}

	empty := &Condition{GroupOp: GroupAnd}
	ok, err = e.Evaluate(empty, ctx)
	if err != nil || !ok {
		t.Errorf("Evaluate(empty group) = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestConditionEvaluatorNestedGroups(t *testing.T) {
	e := NewConditionEvaluator(NewResolver())
	ctx := newTestContext(map[string]any{"a": float64(1), "b": float64(2), "c": float64(3)}, nil, nil)

	nested := &Condition{
		GroupOp: GroupOr,
		Conditions: []Condition{
			{
				GroupOp: GroupAnd,
				Conditions: []Condition{
					{Source: SourceParams, Field: "a", Operator: OpEquals, Value: float64(1)},
					{Source: SourceParams, Field: "b", Operator: OpEquals, Value: float64(2)},
				},
			},
			{Source: SourceParams, Field: "c", Operator: OpEquals, Value: float64(999)},
		},
	}
	ok, err := e.Evaluate(nested, ctx)
	if err != nil || !ok {
		t.Errorf("Evaluate(nested) = (%v, %v), want (true, nil)", ok, err)
	}
}
