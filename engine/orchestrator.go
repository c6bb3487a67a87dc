package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Orchestrator walks a Scenario's step graph, the state machine of spec §4.5.
// It owns no mutable state of its own: every execute() call builds a fresh
// execution record, so one Orchestrator safely serves concurrent,
// independent executions (grounded in the teacher's stateless Executor that
// is handed a fresh flow run each call).
type Orchestrator struct {
	resolver   *Resolver
	evaluator  *ConditionEvaluator
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewOrchestrator wires the Resolver → Evaluator → Dispatcher pipeline and a
// JSON slog logger, matching the teacher's App construction.
func NewOrchestrator() *Orchestrator {
	resolver := NewResolver()
	return &Orchestrator{
		resolver:   resolver,
		evaluator:  NewConditionEvaluator(resolver),
		dispatcher: NewDispatcher(resolver),
		logger:     slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
}

// ExecuteOptions configures one execute() call.
type ExecuteOptions struct {
	StepModeOverrides map[string]ExecutionMode
	Callbacks         *Callbacks
	// Control lets the caller pause/resume/stop from another goroutine
	// while Execute is running. If nil, one is created internally; it is
	// not exposed to the caller, so the execution is not controllable
	// mid-flight.
	Control *Control
	// StopOnError defaults to true (spec §4.5) when left nil.
	StopOnError *bool
}

func (o ExecuteOptions) stopOnError() bool {
	if o.StopOnError == nil {
		return true
	}
	return *o.StopOnError
}

// execution is the mutable runtime record for one Execute call — owned
// exclusively by the orchestrator's walk goroutine, except for the
// responses map and the log slice, which background fire-and-forget tasks
// also write to (spec §5 "write-once access to responses").
type execution struct {
	id          string
	scenario    *Scenario
	servers     map[string]Server
	params      map[string]any
	overrides   map[string]ExecutionMode
	stepResults map[string]*StepExecutionResult

	responsesMu sync.Mutex
	responses   map[string]any

	logsMu    sync.Mutex
	logs      []LogEntry
	lastLogAt time.Time

	loopStack []LoopContext

	control     *Control
	callbacks   *Callbacks
	stopOnError bool
	failed      bool

	startedAt       time.Time
	systemTimestamp string
	logger          *slog.Logger

	bg sync.WaitGroup
}

func newExecution(o *Orchestrator, scenario *Scenario, servers map[string]Server, params map[string]any, opts ExecuteOptions) *execution {
	control := opts.Control
	if control == nil {
		control = NewControl()
	}
	callbacks := opts.Callbacks
	if callbacks == nil {
		callbacks = &Callbacks{}
	}
	now := time.Now().UTC()
	return &execution{
		id:              uuid.New().String(),
		scenario:        scenario,
		servers:         servers,
		params:          params,
		overrides:       opts.StepModeOverrides,
		stepResults:     make(map[string]*StepExecutionResult),
		responses:       make(map[string]any),
		control:         control,
		callbacks:       callbacks,
		stopOnError:     opts.stopOnError(),
		startedAt:       now,
		systemTimestamp: now.Format(time.RFC3339),
		logger:          o.logger,
	}
}

func (ex *execution) resolveContext() *resolveContext {
	ex.responsesMu.Lock()
	responses := make(map[string]any, len(ex.responses))
	for k, v := range ex.responses {
		responses[k] = v
	}
	ex.responsesMu.Unlock()

	stack := make([]LoopContext, len(ex.loopStack))
	copy(stack, ex.loopStack)

	return &resolveContext{
		params:           ex.params,
		responses:        responses,
		loopContextStack: stack,
		systemTimestamp:  ex.systemTimestamp,
	}
}

func (ex *execution) setStepResult(stepID string, result *StepExecutionResult) {
	ex.stepResults[stepID] = result
}

func (ex *execution) setResponse(key string, value any) {
	ex.responsesMu.Lock()
	ex.responses[key] = value
	ex.responsesMu.Unlock()
}

func (ex *execution) pushLoopContext(frame LoopContext) {
	ex.loopStack = append(ex.loopStack, frame)
}

func (ex *execution) popLoopContext() {
	ex.loopStack = ex.loopStack[:len(ex.loopStack)-1]
}

// log appends a LogEntry, clamping its timestamp forward if need be so the
// sequence stays monotonically non-decreasing (invariant vi), then emits it
// through slog and the onLog callback — the same event, not two paths.
func (ex *execution) log(level LogLevel, message, stepID string, data map[string]any) {
	ex.logsMu.Lock()
	ts := time.Now().UTC()
	if !ex.lastLogAt.IsZero() && ts.Before(ex.lastLogAt) {
		ts = ex.lastLogAt
	}
	ex.lastLogAt = ts
	entry := LogEntry{ID: uuid.New().String(), Timestamp: ts, Level: level, Message: message, StepID: stepID, Data: data}
	ex.logs = append(ex.logs, entry)
	ex.logsMu.Unlock()

	switch level {
	case LogError:
		ex.logger.Error(message, "executionId", ex.id, "stepId", stepID)
	case LogWarn:
		ex.logger.Warn(message, "executionId", ex.id, "stepId", stepID)
	default:
		ex.logger.Info(message, "executionId", ex.id, "stepId", stepID)
	}
	ex.callbacks.log(entry)
}

// Execute walks scenario from its start step to termination, returning the
// terminal ExecutionResult (spec §4.5).
func (o *Orchestrator) Execute(ctx context.Context, scenario *Scenario, servers map[string]Server, params map[string]any, opts ExecuteOptions) *ExecutionResult {
	ex := newExecution(o, scenario, servers, params, opts)
	ex.callbacks.statusChange(StatusRunning)

	index := scenario.stepsByID()
	currentID := scenario.StartStepID
	if _, ok := index[currentID]; !ok {
		err := &EngineError{Kind: ErrStartStepMissing, Message: fmt.Sprintf("start step %q not found", currentID)}
		ex.log(LogError, err.Error(), "", nil)
		ex.callbacks.onError(err, "")
		ex.failed = true
		return o.finish(ex, StatusFailed)
	}

	for currentID != "" {
		if ex.control.IsStopped() {
			break
		}
		step, ok := index[currentID]
		if !ok {
			err := &EngineError{Kind: ErrStepNotFound, Message: fmt.Sprintf("step %q not found", currentID)}
			ex.log(LogError, err.Error(), "", nil)
			ex.callbacks.onError(err, "")
			ex.failed = true
			break
		}
		currentID = o.runStep(ctx, ex, step, index)
		if ex.control.IsStopped() {
			break
		}
	}

	status := StatusCompleted
	switch {
	case ex.control.IsStopped():
		status = StatusCancelled
	case ex.failed:
		status = StatusFailed
	}
	return o.finish(ex, status)
}

func (o *Orchestrator) finish(ex *execution, status Status) *ExecutionResult {
	ex.bg.Wait()
	completed := time.Now().UTC()
	ex.callbacks.statusChange(status)

	ex.responsesMu.Lock()
	responses := make(map[string]any, len(ex.responses))
	for k, v := range ex.responses {
		responses[k] = v
	}
	ex.responsesMu.Unlock()

	ex.logsMu.Lock()
	logs := make([]LogEntry, len(ex.logs))
	copy(logs, ex.logs)
	ex.logsMu.Unlock()

	return &ExecutionResult{
		ExecutionID: ex.id,
		ScenarioID:  ex.scenario.ID,
		Status:      status,
		Params:      ex.params,
		StepResults: ex.stepResults,
		Responses:   responses,
		Logs:        logs,
		StartedAt:   ex.startedAt,
		CompletedAt: &completed,
	}
}

// runStep applies the pre-condition and execution mode gating for one step,
// then executes its kind-specific body, returning the next step id (empty
// when the walk should stop here).
func (o *Orchestrator) runStep(ctx context.Context, ex *execution, step *Step, index map[string]*Step) string {
	if step.Condition != nil {
		rctx := ex.resolveContext()
		ok, err := o.evaluator.Evaluate(step.Condition, rctx)
		if err != nil {
			result := &StepExecutionResult{StepID: step.ID, Status: StatusRunning}
			ex.setStepResult(step.ID, result)
			return o.failStep(ex, step, result, asEngineError(err, ErrCondition))
		}
		if !ok {
			return o.skipStep(ex, step)
		}
	}

	mode := step.ExecutionMode
	if override, ok := ex.overrides[step.ID]; ok {
		mode = override
	}
	if mode == "" {
		mode = ModeAuto
	}

	switch mode {
	case ModeBypass:
		return o.skipStep(ex, step)
	case ModeDelayed:
		if o.awaitDelay(ex, step) {
			return ""
		}
	case ModeManual:
		if o.awaitManualStep(ex, step) {
			return ""
		}
	}

	return o.executeStepBody(ctx, ex, step, index)
}

func (o *Orchestrator) skipStep(ex *execution, step *Step) string {
	now := time.Now().UTC()
	result := &StepExecutionResult{StepID: step.ID, Status: StatusSkipped, StartedAt: &now, CompletedAt: &now}
	ex.setStepResult(step.ID, result)
	ex.callbacks.stepStart(step.ID, StatusSkipped)
	ex.callbacks.stepComplete(step.ID, result)
	ex.log(LogInfo, "step skipped", step.ID, nil)

	edge := ex.scenario.defaultEdgeFrom(step.ID)
	if edge == nil {
		return ""
	}
	return edge.TargetStepID
}

// awaitDelay sleeps step.DelayMs, interruptible by Stop. Returns true if the
// wait ended via Stop.
func (o *Orchestrator) awaitDelay(ex *execution, step *Step) bool {
	now := time.Now().UTC()
	result := &StepExecutionResult{StepID: step.ID, Status: StatusWaiting, StartedAt: &now}
	ex.setStepResult(step.ID, result)
	ex.callbacks.stepStart(step.ID, StatusWaiting)
	ex.log(LogInfo, fmt.Sprintf("step delayed %dms", step.DelayMs), step.ID, nil)

	select {
	case <-time.After(time.Duration(step.DelayMs) * time.Millisecond):
		return false
	case <-ex.control.StopCh():
		completed := time.Now().UTC()
		result.Status = StatusCancelled
		result.CompletedAt = &completed
		ex.callbacks.stepComplete(step.ID, result)
		return true
	}
}

// awaitManualStep parks on the Control rendezvous until Resume/Stop. Returns
// true if the wait ended via Stop.
func (o *Orchestrator) awaitManualStep(ex *execution, step *Step) bool {
	now := time.Now().UTC()
	result := &StepExecutionResult{StepID: step.ID, Status: StatusWaiting, StartedAt: &now}
	ex.setStepResult(step.ID, result)
	ex.callbacks.stepStart(step.ID, StatusWaiting)
	ex.log(LogInfo, "step awaiting manual resume", step.ID, nil)

	ex.control.Pause()
	alreadyStopped := ex.control.armManualWait()
	ex.callbacks.statusChange(StatusPaused)

	if alreadyStopped || ex.control.awaitManual() {
		completed := time.Now().UTC()
		result.Status = StatusCancelled
		result.CompletedAt = &completed
		ex.callbacks.stepComplete(step.ID, result)
		return true
	}
	ex.callbacks.statusChange(StatusRunning)
	return false
}

func (o *Orchestrator) executeStepBody(ctx context.Context, ex *execution, step *Step, index map[string]*Step) string {
	ex.callbacks.stepStart(step.ID, StatusRunning)
	started := time.Now().UTC()
	result := &StepExecutionResult{StepID: step.ID, Status: StatusRunning, StartedAt: &started}
	ex.setStepResult(step.ID, result)

	switch step.Kind {
	case KindRequest:
		return o.executeRequestStep(ctx, ex, step, result)
	case KindCondition:
		return o.executeConditionStep(ex, step, result)
	case KindLoop:
		return o.executeLoopStep(ctx, ex, step, index, result)
	case KindGroup:
		return o.executeGroupStep(ctx, ex, step, index, result)
	default:
		return o.failStep(ex, step, result, &EngineError{Kind: ErrStepNotFound, Message: fmt.Sprintf("unknown step kind %q", step.Kind)})
	}
}

func (o *Orchestrator) executeRequestStep(ctx context.Context, ex *execution, step *Step, result *StepExecutionResult) string {
	req := step.Request
	server, ok := ex.servers[req.ServerID]
	if !ok {
		return o.failStep(ex, step, result, &EngineError{Kind: ErrStepNotFound, Message: fmt.Sprintf("server %q not found", req.ServerID)})
	}
	rctx := ex.resolveContext()

	if !req.ShouldWaitForResponse() {
		ex.bg.Add(1)
		go o.runBackgroundRequest(ex, server, req, rctx, step.ID)

		reqSnapshot := &RequestSnapshot{
			Method: string(req.Method),
			URL:    joinURL(server.BaseURL, req.Endpoint),
		}
		completed := time.Now().UTC()
		result.Status = StatusSuccess
		result.Request = reqSnapshot
		result.CompletedAt = &completed
		ex.callbacks.stepComplete(step.ID, result)
		ex.log(LogInfo, "dispatched fire-and-forget request", step.ID, nil)

		next, err := o.resolveSuccessor(ex, step, rctx)
		if err != nil {
			return o.propagateAfterSuccess(ex, step, asEngineError(err, ErrCondition))
		}
		return next
	}

	reqSnapshot, resp, err := o.dispatcher.Do(ctx, server, req.Method, req.Endpoint, req.Headers, req.Body, req.QueryParams, req.TimeoutMs, rctx)
	result.Request = reqSnapshot
	if err != nil {
		return o.failStep(ex, step, result, asEngineError(err, ErrHTTPConfig))
	}

	completed := time.Now().UTC()
	result.Status = StatusSuccess
	result.Response = resp
	result.CompletedAt = &completed

	if req.SaveResponse {
		key := req.ResponseAlias
		if key == "" {
			key = step.ID
		}
		ex.setResponse(key, resp.Data)
	}
	ex.callbacks.stepComplete(step.ID, result)
	ex.log(LogInfo, "response received", step.ID, map[string]any{"status": resp.Status})

	next, err := o.resolveSuccessor(ex, step, ex.resolveContext())
	if err != nil {
		return o.propagateAfterSuccess(ex, step, asEngineError(err, ErrCondition))
	}
	return next
}

// propagateAfterSuccess handles a branch-evaluation error that happens
// after a step already recorded a successful result — the result keeps its
// success/response (invariant iv is about request vs error, which already
// resolved cleanly), but the error still propagates per the normal
// stopOnError policy.
func (o *Orchestrator) propagateAfterSuccess(ex *execution, step *Step, err *EngineError) string {
	err.StepID = step.ID
	ex.log(LogError, err.Error(), step.ID, nil)
	ex.callbacks.onError(err, step.ID)
	ex.failed = true
	if ex.stopOnError {
		return ""
	}
	edge := ex.scenario.defaultEdgeFrom(step.ID)
	if edge == nil {
		return ""
	}
	return edge.TargetStepID
}

func (o *Orchestrator) executeConditionStep(ex *execution, step *Step, result *StepExecutionResult) string {
	rctx := ex.resolveContext()
	next, err := o.resolveSuccessor(ex, step, rctx)
	if err != nil {
		return o.failStep(ex, step, result, asEngineError(err, ErrCondition))
	}
	completed := time.Now().UTC()
	result.Status = StatusSuccess
	result.CompletedAt = &completed
	ex.callbacks.stepComplete(step.ID, result)
	return next
}

func (o *Orchestrator) executeLoopStep(ctx context.Context, ex *execution, step *Step, index map[string]*Step, result *StepExecutionResult) string {
	loopName := step.Name
	if loopName == "" {
		loopName = step.ID
	}

	iter, err := NewIterator(step.Loop.Loop, ex.resolveContext(), o.resolver, o.evaluator, loopName)
	if err != nil {
		return o.failStep(ex, step, result, asEngineError(err, ErrResolve))
	}

	iterations := 0
	for iter.HasNext() {
		if ex.control.IsStopped() {
			break
		}
		frame, nextErr := iter.Next()
		if nextErr != nil {
			result.Iterations = iterations
			return o.failStep(ex, step, result, asEngineError(nextErr, ErrLoopLimit))
		}

		ex.pushLoopContext(*frame)
		ex.log(LogInfo, fmt.Sprintf("loop %q iteration %d start", loopName, frame.CurrentIndex), step.ID, nil)

		o.walkBody(ctx, ex, step.Loop.StepIDs, index)
		iterations++

		ex.log(LogInfo, fmt.Sprintf("loop %q iteration %d end", loopName, frame.CurrentIndex), step.ID, nil)
		ex.popLoopContext()

		if ex.control.IsStopped() {
			break
		}
		iter.UpdateWhileCondition(ex.resolveContext())
	}

	if ex.control.IsStopped() {
		completed := time.Now().UTC()
		result.Status = StatusSuccess
		result.Iterations = iterations
		result.CompletedAt = &completed
		ex.callbacks.stepComplete(step.ID, result)
		return ""
	}

	// HasNext() returning false means either the loop is genuinely done or a
	// while loop's condition is still true right at maxIterations — the two
	// look identical from outside the iterator. Next() is the only thing
	// that tells them apart (it returns LoopLimitExceeded in the latter
	// case), so it's always attempted once more before declaring success.
	if _, nextErr := iter.Next(); nextErr != nil {
		result.Iterations = iterations
		return o.failStep(ex, step, result, asEngineError(nextErr, ErrLoopLimit))
	}

	completed := time.Now().UTC()
	result.Status = StatusSuccess
	result.Iterations = iterations
	result.CompletedAt = &completed
	ex.callbacks.stepComplete(step.ID, result)

	next, err := o.resolveSuccessor(ex, step, ex.resolveContext())
	if err != nil {
		return o.propagateAfterSuccess(ex, step, asEngineError(err, ErrCondition))
	}
	return next
}

func (o *Orchestrator) executeGroupStep(ctx context.Context, ex *execution, step *Step, index map[string]*Step, result *StepExecutionResult) string {
	o.walkBody(ctx, ex, step.Group.StepIDs, index)

	completed := time.Now().UTC()
	result.Status = StatusSuccess
	result.CompletedAt = &completed
	ex.callbacks.stepComplete(step.ID, result)

	if ex.control.IsStopped() {
		return ""
	}

	next, err := o.resolveSuccessor(ex, step, ex.resolveContext())
	if err != nil {
		return o.propagateAfterSuccess(ex, step, asEngineError(err, ErrCondition))
	}
	return next
}

// walkBody executes the children of a loop/group body starting at
// stepIDs[0]. While a child's successor stays within stepIDs the walk
// continues inside; the first successor found outside stepIDs is executed
// exactly once for its effects and then the body walk ends there — the
// escaped step's own successor is never followed (spec §4.5/§9).
func (o *Orchestrator) walkBody(ctx context.Context, ex *execution, stepIDs []string, index map[string]*Step) {
	if len(stepIDs) == 0 {
		return
	}
	inBody := make(map[string]bool, len(stepIDs))
	for _, id := range stepIDs {
		inBody[id] = true
	}

	currentID := stepIDs[0]
	escaped := false
	for currentID != "" {
		if ex.control.IsStopped() {
			return
		}
		step, ok := index[currentID]
		if !ok {
			ex.log(LogError, fmt.Sprintf("step %q not found", currentID), "", nil)
			return
		}

		next := o.runStep(ctx, ex, step, index)
		if ex.control.IsStopped() || escaped {
			return
		}
		if next == "" {
			return
		}
		if !inBody[next] {
			currentID = next
			escaped = true
			continue
		}
		currentID = next
	}
}

func (o *Orchestrator) runBackgroundRequest(ex *execution, server Server, req *RequestStep, rctx *resolveContext, stepID string) {
	defer ex.bg.Done()

	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ex.control.StopCh():
			cancel()
		case <-done:
		}
	}()

	_, resp, err := o.dispatcher.Do(bgCtx, server, req.Method, req.Endpoint, req.Headers, req.Body, req.QueryParams, req.TimeoutMs, rctx)
	if err != nil {
		ex.log(LogWarn, fmt.Sprintf("fire-and-forget request failed: %v", err), stepID, nil)
		return
	}
	if req.SaveResponse {
		key := req.ResponseAlias
		if key == "" {
			key = stepID
		}
		ex.setResponse(key, resp.Data)
	}
	ex.log(LogInfo, "fire-and-forget response received", stepID, map[string]any{"status": resp.Status})
}

// resolveSuccessor implements spec §4.5 "Walk": branch evaluation for a
// Condition step or a Request step with branches, else the fall-through
// edge.
func (o *Orchestrator) resolveSuccessor(ex *execution, step *Step, rctx *resolveContext) (string, error) {
	var branches []Branch
	switch {
	case step.Kind == KindCondition && step.Cond != nil:
		branches = step.Cond.Branches
	case step.Kind == KindRequest && step.Request != nil && len(step.Request.Branches) > 0:
		branches = step.Request.Branches
	}

	if branches != nil {
		next, matched, err := o.evaluateBranches(branches, rctx)
		if err != nil {
			return "", err
		}
		if !matched {
			ex.log(LogWarn, "no branch matched", step.ID, nil)
		}
		return next, nil
	}

	edge := ex.scenario.defaultEdgeFrom(step.ID)
	if edge == nil {
		return "", nil
	}
	return edge.TargetStepID, nil
}

// evaluateBranches implements spec §4.5 "Branch evaluation": the first
// non-default branch whose condition is true wins; failing that, the first
// isDefault branch; failing that, no successor.
func (o *Orchestrator) evaluateBranches(branches []Branch, rctx *resolveContext) (string, bool, error) {
	var defaultTarget string
	hasDefault := false
	for i := range branches {
		b := &branches[i]
		if b.IsDefault {
			if !hasDefault {
				defaultTarget = b.NextStepID
				hasDefault = true
			}
			continue
		}
		ok, err := o.evaluator.Evaluate(b.Condition, rctx)
		if err != nil {
			return "", false, err
		}
		if ok {
			return b.NextStepID, true, nil
		}
	}
	if hasDefault {
		return defaultTarget, true, nil
	}
	return "", false, nil
}

func (o *Orchestrator) failStep(ex *execution, step *Step, result *StepExecutionResult, err *EngineError) string {
	err.StepID = step.ID
	completed := time.Now().UTC()
	result.Status = StatusFailed
	result.CompletedAt = &completed
	result.Error = err.Serialize()
	ex.log(LogError, err.Error(), step.ID, nil)
	ex.callbacks.stepComplete(step.ID, result)
	ex.callbacks.onError(err, step.ID)
	ex.failed = true

	if ex.stopOnError {
		return ""
	}
	edge := ex.scenario.defaultEdgeFrom(step.ID)
	if edge == nil {
		return ""
	}
	return edge.TargetStepID
}

func asEngineError(err error, fallbackKind ErrorKind) *EngineError {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return &EngineError{Kind: fallbackKind, Message: err.Error(), Cause: err}
}
