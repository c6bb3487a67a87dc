package engine

// Callbacks is the observer surface the orchestrator reports progress
// through. Any field left nil is simply never invoked. A callback must not
// block the walk for long and must not corrupt engine state if it panics —
// each hook recovers from a panicking callback and silently discards the
// panic rather than letting it unwind into the walk.
type Callbacks struct {
	OnStepStart    func(stepID string, status Status)
	OnStepComplete func(stepID string, result *StepExecutionResult)
	OnLog          func(entry LogEntry)
	OnError        func(err *EngineError, stepID string)
	OnStatusChange func(status Status)
}

func (c *Callbacks) stepStart(stepID string, status Status) {
	if c == nil || c.OnStepStart == nil {
		return
	}
	defer recoverCallback()
	c.OnStepStart(stepID, status)
}

func (c *Callbacks) stepComplete(stepID string, result *StepExecutionResult) {
	if c == nil || c.OnStepComplete == nil {
		return
	}
	defer recoverCallback()
	c.OnStepComplete(stepID, result)
}

func (c *Callbacks) log(entry LogEntry) {
	if c == nil || c.OnLog == nil {
		return
	}
	defer recoverCallback()
	c.OnLog(entry)
}

func (c *Callbacks) onError(err *EngineError, stepID string) {
	if c == nil || c.OnError == nil {
		return
	}
	defer recoverCallback()
	c.OnError(err, stepID)
}

func (c *Callbacks) statusChange(status Status) {
	if c == nil || c.OnStatusChange == nil {
		return
	}
	defer recoverCallback()
	c.OnStatusChange(status)
}

func recoverCallback() {
	// A callback panic must not corrupt the walk; the host's callback is
	// misbehaving, not the engine, so it's swallowed rather than propagated.
	_ = recover()
}
