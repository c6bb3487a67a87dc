// Package server is a headless control-plane collaborator: a small REST+SSE
// surface so a non-UI caller can submit a scenario execution and
// pause/resume/cancel it, streaming onLog/onStepComplete events as they
// happen. It has no part in the engine's contract — engine has zero imports
// of this package or of gin — this package only calls engine.Orchestrator
// the way any other caller would.
//
// Grounded in the teacher's runtime.App: gin.Engine wiring, graceful
// shutdown on SIGINT/SIGTERM with a bounded shutdown context.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"scenarioflow/engine"
)

// run is the in-memory record of one submitted execution.
type run struct {
	mu      sync.Mutex
	id      string
	control *engine.Control
	status  engine.Status
	result  *engine.ExecutionResult
	events  chan event
	done    chan struct{}
}

type event struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

func (r *run) publish(kind string, data any) {
	select {
	case r.events <- event{Kind: kind, Data: data}:
	default:
		// Slow or absent subscriber: drop rather than block the execution.
	}
}

// Server hosts the control plane: submit/pause/resume/cancel endpoints and
// an SSE log stream, backed by an in-memory run registry.
type Server struct {
	orchestrator *engine.Orchestrator
	servers      map[string]engine.Server

	mu   sync.Mutex
	runs map[string]*run

	httpServer *http.Server
}

// New wires a Server around a shared Orchestrator and a fixed server map
// (loaded once at startup, the way the teacher's App holds a fixed
// Container).
func New(orchestrator *engine.Orchestrator, servers map[string]engine.Server) *Server {
	return &Server{
		orchestrator: orchestrator,
		servers:      servers,
		runs:         make(map[string]*run),
	}
}

// Router builds the gin.Engine. Exposed separately from Start so tests can
// drive it with httptest without binding a port.
func (s *Server) Router() *gin.Engine {
	g := gin.Default()
	g.POST("/executions", s.handleSubmit)
	g.GET("/executions/:id", s.handleGet)
	g.POST("/executions/:id/pause", s.handlePause)
	g.POST("/executions/:id/resume", s.handleResume)
	g.POST("/executions/:id/cancel", s.handleCancel)
	g.GET("/executions/:id/events", s.handleEvents)
	return g
}

type submitRequest struct {
	Scenario    engine.Scenario `json:"scenario" binding:"required"`
	Params      map[string]any  `json:"params"`
	StopOnError *bool           `json:"stopOnError"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body: " + err.Error()})
		return
	}

	id := uuid.New().String()
	r := &run{
		id:      id,
		control: engine.NewControl(),
		status:  engine.StatusRunning,
		events:  make(chan event, 256),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	callbacks := &engine.Callbacks{
		OnLog: func(entry engine.LogEntry) {
			r.publish("log", entry)
		},
		OnStepComplete: func(stepID string, result *engine.StepExecutionResult) {
			r.publish("stepComplete", result)
		},
		OnStatusChange: func(status engine.Status) {
			r.mu.Lock()
			r.status = status
			r.mu.Unlock()
			r.publish("statusChange", status)
		},
		OnError: func(err *engine.EngineError, stepID string) {
			r.publish("error", err.Serialize())
		},
	}

	go func() {
		defer close(r.done)
		defer close(r.events)
		result := s.orchestrator.Execute(context.Background(), &req.Scenario, s.servers, req.Params, engine.ExecuteOptions{
			Control:     r.control,
			Callbacks:   callbacks,
			StopOnError: req.StopOnError,
		})
		r.mu.Lock()
		r.result = result
		r.status = result.Status
		r.mu.Unlock()
	}()

	c.JSON(http.StatusAccepted, gin.H{"executionId": id})
}

func (s *Server) findRun(c *gin.Context) *run {
	id := c.Param("id")
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": fmt.Sprintf("unknown execution %q", id)})
		return nil
	}
	return r
}

func (s *Server) handleGet(c *gin.Context) {
	r := s.findRun(c)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.result != nil {
		c.JSON(http.StatusOK, r.result)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executionId": r.id, "status": r.status})
}

func (s *Server) handlePause(c *gin.Context) {
	r := s.findRun(c)
	if r == nil {
		return
	}
	r.control.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "pausing"})
}

func (s *Server) handleResume(c *gin.Context) {
	r := s.findRun(c)
	if r == nil {
		return
	}
	r.control.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resuming"})
}

func (s *Server) handleCancel(c *gin.Context) {
	r := s.findRun(c)
	if r == nil {
		return
	}
	r.control.Stop()
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// handleEvents streams onLog/onStepComplete/onStatusChange/onError events as
// server-sent events until the execution finishes or the client disconnects.
func (s *Server) handleEvents(c *gin.Context) {
	r := s.findRun(c)
	if r == nil {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w http.ResponseWriter) bool {
		select {
		case evt, ok := <-r.events:
			if !ok {
				return false
			}
			c.SSEvent(evt.Kind, evt.Data)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// Start runs the HTTP server and blocks until SIGINT/SIGTERM, then shuts
// down gracefully within a bounded timeout — grounded in the teacher's
// App.Start/App.shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.Router()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	shutdownErr := make(chan error, 1)

	go func() {
		<-sigCh
		fmt.Println("shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		shutdownErr <- s.httpServer.Shutdown(ctx)
	}()

	fmt.Printf("control plane listening on %s\n", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return <-shutdownErr
}
