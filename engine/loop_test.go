package engine

import "testing"

func drainIterator(t *testing.T, it *Iterator) []*LoopContext {
	t.Helper()
	var frames []*LoopContext
	for it.HasNext() {
		frame, err := it.Next()
		if err != nil {
			t.Fatalf("unexpected Next() error: %v", err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestForEachIteratesOverResolvedList(t *testing.T) {
	resolver := NewResolver()
	ctx := newTestContext(map[string]any{"items": []any{"a", "b", "c"}}, nil, nil)

	desc := LoopDescriptor{ForEach: &ForEachLoop{Source: "params.items", ItemAlias: "item"}}
	it, err := NewIterator(desc, ctx, resolver, nil, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}

	frames := drainIterator(t, it)
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if frames[0].CurrentItem != "a" || frames[2].CurrentItem != "c" {
		t.Errorf("unexpected item sequence: %v", frames)
	}
	if it.TotalIterations() != 3 {
		t.Errorf("TotalIterations() = %d, want 3", it.TotalIterations())
	}
}

func TestForEachEmptyListProducesZeroIterations(t *testing.T) {
	resolver := NewResolver()
	ctx := newTestContext(map[string]any{"items": []any{}}, nil, nil)

	desc := LoopDescriptor{ForEach: &ForEachLoop{Source: "params.items", ItemAlias: "item"}}
	it, err := NewIterator(desc, ctx, resolver, nil, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}
	if it.HasNext() {
		t.Error("expected zero iterations for empty source list")
	}
}

func TestForEachWithCountFieldExpansion(t *testing.T) {
	resolver := NewResolver()
	params := map[string]any{"items": []any{
		map[string]any{"id": float64(1), "repeat": float64(2)},
		map[string]any{"id": float64(2), "repeat": float64(3)},
	}}
	ctx := newTestContext(params, nil, nil)

	desc := LoopDescriptor{ForEach: &ForEachLoop{Source: "params.items", ItemAlias: "item", CountField: "repeat"}}
	it, err := NewIterator(desc, ctx, resolver, nil, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}

	frames := drainIterator(t, it)
	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5 (2+3)", len(frames))
	}
	for i := 0; i < 2; i++ {
		if frames[i].CurrentItem.(map[string]any)["id"] != float64(1) {
			t.Errorf("frame %d should be item 1", i)
		}
	}
	for i := 2; i < 5; i++ {
		if frames[i].CurrentItem.(map[string]any)["id"] != float64(2) {
			t.Errorf("frame %d should be item 2", i)
		}
	}
}

func TestForEachNilSourceFailsFast(t *testing.T) {
	resolver := NewResolver()
	ctx := newTestContext(map[string]any{}, nil, nil)

	desc := LoopDescriptor{ForEach: &ForEachLoop{Source: "response.notYetArrived", ItemAlias: "item"}}
	_, err := NewIterator(desc, ctx, resolver, nil, "loop1")
	if err == nil {
		t.Fatal("expected error for nil forEach source")
	}
	ee, ok := err.(*EngineError)
	if !ok || ee.Kind != ErrResolve {
		t.Errorf("got %v, want *EngineError{Kind: ErrResolve}", err)
	}
}

func TestCountIteratesNTimes(t *testing.T) {
	resolver := NewResolver()
	ctx := newTestContext(nil, nil, nil)

	desc := LoopDescriptor{Count: &CountLoop{Count: float64(4)}}
	it, err := NewIterator(desc, ctx, resolver, nil, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}
	frames := drainIterator(t, it)
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}
}

func TestCountZeroProducesZeroIterations(t *testing.T) {
	resolver := NewResolver()
	ctx := newTestContext(nil, nil, nil)

	desc := LoopDescriptor{Count: &CountLoop{Count: float64(0)}}
	it, err := NewIterator(desc, ctx, resolver, nil, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}
	if it.HasNext() {
		t.Error("expected zero iterations for count=0")
	}
}

func TestWhileIteratesUntilConditionFalse(t *testing.T) {
	resolver := NewResolver()
	evaluator := NewConditionEvaluator(resolver)

	n := 0
	makeCtx := func() *resolveContext {
		return newTestContext(map[string]any{"n": float64(n)}, nil, nil)
	}

	desc := LoopDescriptor{While: &WhileLoop{Condition: &Condition{
		Source: SourceParams, Field: "n", Operator: OpLess, Value: float64(3),
	}}}
	it, err := NewIterator(desc, makeCtx(), resolver, evaluator, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}

	count := 0
	for it.HasNext() {
		_, nextErr := it.Next()
		if nextErr != nil {
			t.Fatalf("unexpected Next() error: %v", nextErr)
		}
		count++
		n++
		it.UpdateWhileCondition(makeCtx())
	}
	if count != 3 {
		t.Errorf("got %d iterations, want 3", count)
	}
}

func TestWhileInitiallyFalseProducesZeroIterations(t *testing.T) {
	resolver := NewResolver()
	evaluator := NewConditionEvaluator(resolver)
	ctx := newTestContext(map[string]any{"n": float64(10)}, nil, nil)

	desc := LoopDescriptor{While: &WhileLoop{Condition: &Condition{
		Source: SourceParams, Field: "n", Operator: OpLess, Value: float64(3),
	}}}
	it, err := NewIterator(desc, ctx, resolver, evaluator, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}
	if it.HasNext() {
		t.Error("expected zero iterations when initial condition is false")
	}
}

func TestWhileExceedingMaxIterationsRaisesLoopLimitExceeded(t *testing.T) {
	resolver := NewResolver()
	evaluator := NewConditionEvaluator(resolver)
	// Always-true condition: params.one is 1 and is compared against the literal 1.
	alwaysTrue := &Condition{Source: SourceParams, Field: "one", Operator: OpEquals, Value: float64(1)}
	ctx := newTestContext(map[string]any{"one": float64(1)}, nil, nil)

	desc := LoopDescriptor{While: &WhileLoop{Condition: alwaysTrue, MaxIterations: 2}}
	it, err := NewIterator(desc, ctx, resolver, evaluator, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if !it.HasNext() {
			t.Fatalf("expected HasNext at iteration %d within ceiling", i)
		}
		if _, err := it.Next(); err != nil {
			t.Fatalf("unexpected error at iteration %d: %v", i, err)
		}
		it.UpdateWhileCondition(ctx)
	}

	if it.HasNext() {
		t.Fatal("expected HasNext false once currentIndex reaches maxIterations")
	}
	_, err = it.Next()
	if err == nil {
		t.Fatal("expected LoopLimitExceeded once still-true condition crosses maxIterations")
	}
	ee, ok := err.(*EngineError)
	if !ok || ee.Kind != ErrLoopLimit {
		t.Errorf("got %v, want *EngineError{Kind: ErrLoopLimit}", err)
	}
}

func TestIteratorResetIsIdempotentAndDoesNotMutateSource(t *testing.T) {
	resolver := NewResolver()
	source := []any{"a", "b"}
	ctx := newTestContext(map[string]any{"items": source}, nil, nil)

	desc := LoopDescriptor{ForEach: &ForEachLoop{Source: "params.items", ItemAlias: "item"}}
	it, err := NewIterator(desc, ctx, resolver, nil, "loop1")
	if err != nil {
		t.Fatalf("NewIterator error: %v", err)
	}

	drainIterator(t, it)
	it.Reset()
	it.Reset()
	if !it.HasNext() {
		t.Error("expected HasNext true after Reset")
	}
	if len(source) != 2 || source[0] != "a" || source[1] != "b" {
		t.Errorf("source list was mutated: %v", source)
	}
}
