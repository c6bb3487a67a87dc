package engine

import "sync"

// Control is the out-of-band handle a caller uses to pause, resume, and
// stop a running execution — the single-slot rendezvous described in the
// design notes: at most one manual step is ever parked on it at a time,
// since the orchestrator walk is strictly sequential.
type Control struct {
	mu      sync.Mutex
	paused  bool
	stopped bool
	stopCh  chan struct{}
	waitCh  chan struct{}
}

// NewControl creates a fresh, unstopped Control. Callers that want to
// pause/resume/stop an execution construct one and pass it in via
// ExecuteOptions.Control before starting Execute in its own goroutine.
func NewControl() *Control {
	return &Control{stopCh: make(chan struct{})}
}

// Pause marks the execution paused. It has no effect on the walk by
// itself — the orchestrator calls this when a manual step begins waiting.
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// Resume clears paused and releases a pending manual wait, if any.
func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	if c.waitCh != nil {
		close(c.waitCh)
		c.waitCh = nil
	}
}

// Stop requests cancellation. Idempotent; also releases a pending manual
// wait so it doesn't block forever.
func (c *Control) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stopCh)
	if c.waitCh != nil {
		close(c.waitCh)
		c.waitCh = nil
	}
}

func (c *Control) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Control) IsStopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// StopCh is closed exactly once, when Stop is called — usable in a select
// alongside a delay timer or a request context to interrupt a wait promptly.
func (c *Control) StopCh() <-chan struct{} {
	return c.stopCh
}

// armManualWait registers the wait slot awaitManual will later block on and
// reports whether the execution is already stopped. It must be called, and
// its result acted on, before the caller announces that it's paused —
// otherwise a Resume() that runs synchronously in response to that
// announcement (a fast concurrent resumer, or a synchronous status-change
// handler) could find waitCh still nil, do nothing, and leave the later
// awaitManual call parked forever.
func (c *Control) armManualWait() (alreadyStopped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return true
	}
	c.waitCh = make(chan struct{})
	return false
}

// awaitManual blocks the caller until Resume or Stop releases the slot
// armManualWait registered, returning true if the wait ended via Stop. If
// Resume or Stop already ran by the time awaitManual is called — closing
// and clearing waitCh — it returns immediately instead of blocking on a
// channel nobody will ever close again.
func (c *Control) awaitManual() bool {
	c.mu.Lock()
	ch := c.waitCh
	c.mu.Unlock()
	if ch == nil {
		return c.IsStopped()
	}
	<-ch
	return c.IsStopped()
}
