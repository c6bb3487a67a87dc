package engine

// Package engine implements the scenario execution engine: the resolver,
// evaluator, loop iterator, HTTP dispatcher, and orchestrator that walk a
// declarative step graph against configured servers. It has no dependency on
// any UI, persistence layer, or transport framework — it is usable headlessly.

// ExecutionMode controls when and how a step runs.
type ExecutionMode string

const (
	ModeAuto     ExecutionMode = "auto"
	ModeManual   ExecutionMode = "manual"
	ModeDelayed  ExecutionMode = "delayed"
	ModeBypass   ExecutionMode = "bypass"
)

// HTTPMethod enumerates the request methods a Request step may use.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodPatch  HTTPMethod = "PATCH"
	MethodDelete HTTPMethod = "DELETE"
)

// HeaderEntry is an ordered, individually-toggleable header.
//
// Enabled is a pointer rather than a plain bool: creasty/defaults applies a
// `default` tag whenever a field equals its Go zero value, and false *is*
// the zero value for bool. A plain `Enabled bool` would have an explicit
// `enabled: false` in a scenario silently clobbered back to true by
// config.ApplyScenarioDefaults/ApplyServerDefaults. nil means "not set in
// the source document"; only then does the default apply.
type HeaderEntry struct {
	Key     string `yaml:"key" json:"key" validate:"required"`
	Value   string `yaml:"value" json:"value"`
	Enabled *bool  `yaml:"enabled" json:"enabled" default:"true"`
}

// IsEnabled reports whether the header is active, treating unset (nil) as
// enabled per spec default.
func (h HeaderEntry) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Server is an immutable remote-target configuration.
type Server struct {
	ID      string        `yaml:"id" json:"id" validate:"required"`
	BaseURL string        `yaml:"baseUrl" json:"baseUrl" validate:"required,url_format"`
	Headers []HeaderEntry `yaml:"headers" json:"headers"`
	Timeout int           `yaml:"timeout" json:"timeout" default:"30000"` // ms
}

// RetryConfig is carried on a Request step but never consulted by the
// orchestrator. See spec §9 Open Questions: retry policy is unspecified.
type RetryConfig struct {
	MaxAttempts int `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty"`
	DelayMs     int `yaml:"delayMs,omitempty" json:"delayMs,omitempty"`
}

// StepKind tags which payload a Step carries.
type StepKind string

const (
	KindRequest   StepKind = "request"
	KindCondition StepKind = "condition"
	KindLoop      StepKind = "loop"
	KindGroup     StepKind = "group"
)

// Branch is a conditional (or default) successor from a Condition step or a
// Request step with branches.
type Branch struct {
	ID          string     `yaml:"id" json:"id" validate:"required"`
	Condition   *Condition `yaml:"condition,omitempty" json:"condition,omitempty"`
	IsDefault   bool       `yaml:"isDefault,omitempty" json:"isDefault,omitempty"`
	NextStepID  string     `yaml:"nextStepId" json:"nextStepId" validate:"required"`
	Label       string     `yaml:"label,omitempty" json:"label,omitempty"`
}

// RequestStep is the payload of a Request-kind Step.
//
// WaitForResponse is a pointer for the same reason as HeaderEntry.Enabled:
// it defaults to true, but false is its meaningful, explicitly-authored
// fire-and-forget value (spec §4.5, Scenario E) and also happens to be the
// bool zero value, so a plain bool would get overwritten by
// config.ApplyScenarioDefaults on every scenario that sets it to false.
type RequestStep struct {
	ServerID        string            `yaml:"serverId" json:"serverId" validate:"required"`
	Method          HTTPMethod        `yaml:"method" json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Endpoint        string            `yaml:"endpoint" json:"endpoint" validate:"required"`
	Headers         []HeaderEntry     `yaml:"headers" json:"headers"`
	Body            any               `yaml:"body,omitempty" json:"body,omitempty"`
	QueryParams     map[string]string `yaml:"queryParams,omitempty" json:"queryParams,omitempty"`
	WaitForResponse *bool             `yaml:"waitForResponse" json:"waitForResponse" default:"true"`
	SaveResponse    bool              `yaml:"saveResponse" json:"saveResponse"`
	ResponseAlias   string            `yaml:"responseAlias,omitempty" json:"responseAlias,omitempty"`
	TimeoutMs       int               `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	Branches        []Branch          `yaml:"branches,omitempty" json:"branches,omitempty"`
	Retry           *RetryConfig      `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// ShouldWaitForResponse reports whether the request blocks on its response,
// treating unset (nil) as true per spec default.
func (r *RequestStep) ShouldWaitForResponse() bool {
	return r.WaitForResponse == nil || *r.WaitForResponse
}

// ConditionStepPayload is the payload of a Condition-kind Step.
type ConditionStepPayload struct {
	Branches []Branch `yaml:"branches" json:"branches" validate:"min=2"`
}

// ForEachLoop iterates over a resolved list, one frame per (expanded) item.
type ForEachLoop struct {
	Source        string `yaml:"source" json:"source" validate:"required"`
	ItemAlias     string `yaml:"itemAlias" json:"itemAlias" validate:"required"`
	IndexAlias    string `yaml:"indexAlias,omitempty" json:"indexAlias,omitempty"`
	CountField    string `yaml:"countField,omitempty" json:"countField,omitempty"`
	MaxIterations int    `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
}

// CountLoop iterates a fixed or resolvable number of times.
type CountLoop struct {
	Count         any `yaml:"count" json:"count"`
	MaxIterations int `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
}

// WhileLoop iterates while a condition expression holds.
type WhileLoop struct {
	Condition     *Condition `yaml:"condition" json:"condition" validate:"required"`
	MaxIterations int        `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
}

// LoopDescriptor is a sum type over the three loop flavors; exactly one
// field is non-nil.
type LoopDescriptor struct {
	ForEach *ForEachLoop `yaml:"forEach,omitempty" json:"forEach,omitempty"`
	Count   *CountLoop   `yaml:"count,omitempty" json:"count,omitempty"`
	While   *WhileLoop   `yaml:"while,omitempty" json:"while,omitempty"`
}

// LoopStepPayload is the payload of a Loop-kind Step.
type LoopStepPayload struct {
	Loop     LoopDescriptor `yaml:"loop" json:"loop"`
	StepIDs  []string       `yaml:"stepIds" json:"stepIds" validate:"min=1"`
}

// GroupStepPayload is the payload of a Group-kind Step.
type GroupStepPayload struct {
	StepIDs []string `yaml:"stepIds" json:"stepIds" validate:"min=1"`
}

// Step is a node in the scenario graph. Exactly one of Request/Condition/
// Loop/Group is populated, matching Kind. Modeled as a tagged variant
// (common fields + kind-specific payload) rather than an interface
// hierarchy, so the orchestrator dispatches on Kind with a plain switch.
type Step struct {
	ID            string        `yaml:"id" json:"id" validate:"required"`
	Kind          StepKind      `yaml:"kind" json:"kind" validate:"required,oneof=request condition loop group"`
	Name          string        `yaml:"name,omitempty" json:"name,omitempty"`
	Description   string        `yaml:"description,omitempty" json:"description,omitempty"`
	ExecutionMode ExecutionMode `yaml:"executionMode" json:"executionMode" default:"auto"`
	DelayMs       int           `yaml:"delayMs,omitempty" json:"delayMs,omitempty"`
	Condition     *Condition    `yaml:"condition,omitempty" json:"condition,omitempty"`
	Position      any           `yaml:"position,omitempty" json:"position,omitempty"` // UI hint only, never read

	Request   *RequestStep           `yaml:"request,omitempty" json:"request,omitempty"`
	Cond      *ConditionStepPayload  `yaml:"conditionStep,omitempty" json:"conditionStep,omitempty"`
	Loop      *LoopStepPayload       `yaml:"loopStep,omitempty" json:"loopStep,omitempty"`
	Group     *GroupStepPayload      `yaml:"groupStep,omitempty" json:"groupStep,omitempty"`
}

// Edge connects two steps. SourceHandle distinguishes the default
// fall-through edge (empty, or not prefixed "branch_") from branch-labeled
// edges used only for UI rendering of branch selection.
type Edge struct {
	ID           string `yaml:"id" json:"id" validate:"required"`
	SourceStepID string `yaml:"sourceStepId" json:"sourceStepId" validate:"required"`
	TargetStepID string `yaml:"targetStepId" json:"targetStepId" validate:"required"`
	SourceHandle string `yaml:"sourceHandle,omitempty" json:"sourceHandle,omitempty"`
}

// Scenario is the full, read-only graph passed into execute().
type Scenario struct {
	ID             string         `yaml:"id" json:"id" validate:"required"`
	Name           string         `yaml:"name" json:"name" validate:"required"`
	Version        string         `yaml:"version,omitempty" json:"version,omitempty"`
	ServerIDs      []string       `yaml:"serverIds" json:"serverIds"`
	Steps          []Step         `yaml:"steps" json:"steps" validate:"min=1,dive"`
	Edges          []Edge         `yaml:"edges" json:"edges"`
	StartStepID    string         `yaml:"startStepId" json:"startStepId" validate:"required"`
	ParameterSchema map[string]any `yaml:"parameterSchema,omitempty" json:"parameterSchema,omitempty"`
	Tags           []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// stepsByID indexes a scenario's steps for O(1) lookup during the walk.
func (s *Scenario) stepsByID() map[string]*Step {
	idx := make(map[string]*Step, len(s.Steps))
	for i := range s.Steps {
		idx[s.Steps[i].ID] = &s.Steps[i]
	}
	return idx
}

// defaultEdgeFrom returns the unique fall-through edge originating at
// stepID, or nil if none exists.
func (s *Scenario) defaultEdgeFrom(stepID string) *Edge {
	for i := range s.Edges {
		e := &s.Edges[i]
		if e.SourceStepID != stepID {
			continue
		}
		if e.SourceHandle == "" || len(e.SourceHandle) < 7 || e.SourceHandle[:7] != "branch_" {
			return e
		}
	}
	return nil
}
