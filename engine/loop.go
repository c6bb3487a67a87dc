package engine

import (
	"fmt"

	"github.com/google/uuid"
)

const defaultMaxIterations = 1000

// Iterator produces per-iteration LoopContext frames for a forEach/count/
// while loop. next() advances currentIndex exactly once per call; reset()
// is idempotent; no method mutates the resolved source list — mirrored
// from spec §4.3 "Iterator correctness".
type Iterator struct {
	kind            string
	loopID          string
	loopName        string
	itemAlias       string
	indexAlias      string
	items           []any // expanded forEach items; unused for count/while
	totalIterations int
	maxIterations   int
	currentIndex    int

	// while-only
	evaluator    *ConditionEvaluator
	condition    *Condition
	hasCondition bool
}

// NewIterator builds an Iterator from a LoopDescriptor. ctx is used once,
// up front, to resolve the forEach source / count value / initial while
// condition — subsequent frames are produced without re-resolving those
// (while re-checks its condition via UpdateWhileCondition against a fresh
// context supplied by the caller after each iteration body runs).
func NewIterator(desc LoopDescriptor, ctx *resolveContext, resolver *Resolver, evaluator *ConditionEvaluator, loopName string) (*Iterator, error) {
	switch {
	case desc.ForEach != nil:
		return newForEachIterator(desc.ForEach, ctx, resolver, loopName)
	case desc.Count != nil:
		return newCountIterator(desc.Count, ctx, resolver, loopName)
	case desc.While != nil:
		return newWhileIterator(desc.While, ctx, evaluator, loopName)
	default:
		return nil, fmt.Errorf("loop descriptor has no forEach/count/while variant")
	}
}

func newForEachIterator(d *ForEachLoop, ctx *resolveContext, resolver *Resolver, loopName string) (*Iterator, error) {
	max := d.MaxIterations
	if max <= 0 {
		max = defaultMaxIterations
	}

	resolved := resolver.Resolve("${"+d.Source+"}", ctx)
	if resolved == nil {
		return nil, newResolveErrorForEach(d.Source)
	}
	list, ok := resolved.([]any)
	if !ok {
		return nil, newResolveError(d.Source, fmt.Sprintf("resolved to %T, expected a list", resolved))
	}

	expanded := expandByCountField(list, d.CountField)
	total := len(expanded)
	if total > max {
		total = max
	}

	return &Iterator{
		kind:            "forEach",
		loopID:          uuid.New().String(),
		loopName:        loopName,
		itemAlias:       d.ItemAlias,
		indexAlias:      d.IndexAlias,
		items:           expanded,
		totalIterations: total,
		maxIterations:   max,
	}, nil
}

// newResolveErrorForEach names the source and, when it looks like a
// response reference, warns about the fire-and-forget timing pitfall:
// a forEach over a not-yet-arrived background response will see nil.
func newResolveErrorForEach(source string) *EngineError {
	msg := fmt.Sprintf("forEach source %q resolved to null/undefined", source)
	if len(source) >= 9 && source[:9] == "response." {
		msg += "; if this references a waitForResponse=false request, its response may not have arrived yet"
	}
	return newResolveError(source, msg)
}

// expandByCountField repeats each item item[countField] times. A
// non-numeric or <=0 count contributes exactly one copy.
func expandByCountField(items []any, countField string) []any {
	if countField == "" {
		return items
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		n := 1
		if m, ok := item.(map[string]any); ok {
			if v, ok := toFloat(m[countField]); ok && v > 0 {
				n = int(v)
			}
		}
		for i := 0; i < n; i++ {
			out = append(out, item)
		}
	}
	return out
}

func newCountIterator(d *CountLoop, ctx *resolveContext, resolver *Resolver, loopName string) (*Iterator, error) {
	max := d.MaxIterations
	if max <= 0 {
		max = defaultMaxIterations
	}

	count, err := resolveCount(d.Count, ctx, resolver)
	if err != nil {
		return nil, err
	}
	total := count
	if total > max {
		total = max
	}

	return &Iterator{
		kind:            "count",
		loopID:          uuid.New().String(),
		loopName:        loopName,
		totalIterations: total,
		maxIterations:   max,
	}, nil
}

func resolveCount(raw any, ctx *resolveContext, resolver *Resolver) (int, error) {
	var resolved any = raw
	if s, ok := raw.(string); ok {
		resolved = resolver.Resolve(s, ctx)
	}
	f, ok := toFloat(resolved)
	if !ok {
		return 0, newResolveError("count", fmt.Sprintf("resolved to %T, expected a number", resolved))
	}
	if f < 0 {
		f = 0
	}
	return int(f), nil
}

func newWhileIterator(d *WhileLoop, ctx *resolveContext, evaluator *ConditionEvaluator, loopName string) (*Iterator, error) {
	max := d.MaxIterations
	if max <= 0 {
		max = defaultMaxIterations
	}

	ok, err := evaluator.Evaluate(d.Condition, ctx)
	if err != nil {
		// Per spec §4.3: failure during condition evaluation exits the
		// loop cleanly rather than propagating.
		ok = false
	}

	return &Iterator{
		kind:          "while",
		loopID:        uuid.New().String(),
		loopName:      loopName,
		maxIterations: max,
		evaluator:     evaluator,
		condition:     d.Condition,
		hasCondition:  ok,
	}, nil
}

// HasNext reports whether a further iteration is available.
func (it *Iterator) HasNext() bool {
	if it.kind == "while" {
		return it.hasCondition && it.currentIndex < it.maxIterations
	}
	return it.currentIndex < it.totalIterations
}

// Next advances currentIndex exactly once and returns the frame for this
// iteration, or nil if no iteration remains. Returns LoopLimitExceeded only
// for a while loop whose condition is still true once currentIndex has
// reached maxIterations — forEach/count can never cross their ceiling
// because their totalIterations is already clamped to it at construction.
func (it *Iterator) Next() (*LoopContext, error) {
	if !it.HasNext() {
		if it.kind == "while" && it.hasCondition && it.currentIndex >= it.maxIterations {
			return nil, newLoopLimitError(it.loopName, it.maxIterations)
		}
		return nil, nil
	}

	frame := &LoopContext{
		LoopID:          it.loopID,
		LoopName:        it.loopName,
		CurrentIndex:    it.currentIndex,
		TotalIterations: it.totalIterations,
		ItemAlias:       it.itemAlias,
		IndexAlias:      it.indexAlias,
	}
	if it.kind == "forEach" {
		frame.CurrentItem = it.items[it.currentIndex]
	}
	it.currentIndex++
	return frame, nil
}

// UpdateWhileCondition re-evaluates a while loop's condition against a
// fresh context (reflecting state the loop body just wrote) and records
// whether a further iteration should run. Evaluation failure exits the
// loop cleanly (spec §4.3).
func (it *Iterator) UpdateWhileCondition(ctx *resolveContext) {
	if it.kind != "while" {
		return
	}
	ok, err := it.evaluator.Evaluate(it.condition, ctx)
	if err != nil {
		it.hasCondition = false
		return
	}
	it.hasCondition = ok
}

// Reset returns the iterator to its pre-iteration state. Idempotent.
func (it *Iterator) Reset() {
	it.currentIndex = 0
}

// TotalIterations exposes the computed iteration count (0 for while loops,
// whose total is unknown up front).
func (it *Iterator) TotalIterations() int {
	return it.totalIterations
}
