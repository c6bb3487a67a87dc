// Package config applies defaults and validates engine.Scenario and
// engine.Server values before they reach the orchestrator. It is the single
// place scenario/server definitions are accepted or rejected; the engine
// itself never validates beyond defending against a missing step id.
package config

import (
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"

	"scenarioflow/engine"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	registerCustomValidators()
}

// registerCustomValidators adds the url_format rule the engine's Server.BaseURL
// and HTTP dispatch rely on.
func registerCustomValidators() {
	validate.RegisterValidation("url_format", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return strings.Contains(s, "://")
	})
}

// RegisterCustomValidator lets a host application add its own validation
// tags before calling ValidateScenario/ValidateServer.
func RegisterCustomValidator(tag string, fn validator.Func) error {
	if err := validate.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("failed to register custom validator %q: %w", tag, err)
	}
	return nil
}

// ApplyScenarioDefaults fills zero-value fields (execution mode "auto",
// header "enabled" true, request "waitForResponse" true) via struct tags,
// exactly as the teacher's ApplyDefaults does for plugin config.
func ApplyScenarioDefaults(scenario *engine.Scenario) error {
	if scenario == nil {
		return fmt.Errorf("scenario cannot be nil")
	}
	if err := defaults.Set(scenario); err != nil {
		return fmt.Errorf("failed to apply scenario defaults: %w", err)
	}
	return nil
}

// ApplyServerDefaults fills a Server's zero-value fields (timeout 30000ms,
// header "enabled" true).
func ApplyServerDefaults(server *engine.Server) error {
	if server == nil {
		return fmt.Errorf("server cannot be nil")
	}
	if err := defaults.Set(server); err != nil {
		return fmt.Errorf("failed to apply server defaults: %w", err)
	}
	return nil
}

// ValidateScenario checks struct tags (required fields, method enum, branch
// counts) and the cross-field invariants the validator tags can't express:
// every step id referenced by StartStepID, an Edge, a Branch, or a loop/group
// body must exist among scenario.Steps, and every Request step's ServerID
// must be one of scenario.ServerIDs.
func ValidateScenario(scenario *engine.Scenario) error {
	if scenario == nil {
		return fmt.Errorf("scenario cannot be nil")
	}
	if err := validate.Struct(scenario); err != nil {
		return formatValidationError(err)
	}

	ids := make(map[string]bool, len(scenario.Steps))
	for _, s := range scenario.Steps {
		ids[s.ID] = true
	}
	servers := make(map[string]bool, len(scenario.ServerIDs))
	for _, id := range scenario.ServerIDs {
		servers[id] = true
	}

	if !ids[scenario.StartStepID] {
		return fmt.Errorf("startStepId %q is not a known step", scenario.StartStepID)
	}
	for _, e := range scenario.Edges {
		if !ids[e.SourceStepID] {
			return fmt.Errorf("edge %q: sourceStepId %q is not a known step", e.ID, e.SourceStepID)
		}
		if !ids[e.TargetStepID] {
			return fmt.Errorf("edge %q: targetStepId %q is not a known step", e.ID, e.TargetStepID)
		}
	}

	for _, s := range scenario.Steps {
		if err := validateStep(s, ids, servers); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s engine.Step, ids, servers map[string]bool) error {
	switch s.Kind {
	case engine.KindRequest:
		if s.Request == nil {
			return fmt.Errorf("step %q: kind request requires a request payload", s.ID)
		}
		if !servers[s.Request.ServerID] {
			return fmt.Errorf("step %q: serverId %q is not declared in scenario.serverIds", s.ID, s.Request.ServerID)
		}
		for _, b := range s.Request.Branches {
			if !ids[b.NextStepID] {
				return fmt.Errorf("step %q: branch %q targets unknown step %q", s.ID, b.ID, b.NextStepID)
			}
		}
	case engine.KindCondition:
		if s.Cond == nil {
			return fmt.Errorf("step %q: kind condition requires a conditionStep payload", s.ID)
		}
		for _, b := range s.Cond.Branches {
			if !ids[b.NextStepID] {
				return fmt.Errorf("step %q: branch %q targets unknown step %q", s.ID, b.ID, b.NextStepID)
			}
		}
	case engine.KindLoop:
		if s.Loop == nil {
			return fmt.Errorf("step %q: kind loop requires a loopStep payload", s.ID)
		}
		for _, id := range s.Loop.StepIDs {
			if !ids[id] {
				return fmt.Errorf("step %q: loop body references unknown step %q", s.ID, id)
			}
		}
	case engine.KindGroup:
		if s.Group == nil {
			return fmt.Errorf("step %q: kind group requires a groupStep payload", s.ID)
		}
		for _, id := range s.Group.StepIDs {
			if !ids[id] {
				return fmt.Errorf("step %q: group body references unknown step %q", s.ID, id)
			}
		}
	default:
		return fmt.Errorf("step %q: unknown kind %q", s.ID, s.Kind)
	}
	return nil
}

// ValidateServer checks a single Server definition's struct tags.
func ValidateServer(server *engine.Server) error {
	if server == nil {
		return fmt.Errorf("server cannot be nil")
	}
	if err := validate.Struct(server); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// ValidateServers checks a full server map.
func ValidateServers(servers map[string]engine.Server) error {
	for id, s := range servers {
		server := s
		if err := ValidateServer(&server); err != nil {
			return fmt.Errorf("server %q: %w", id, err)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validation failed: %w", err)
	}
	var messages []string
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf(
			"field %q failed validation: %s (rule: %s)",
			fieldErr.Namespace(), fieldErr.Error(), fieldErr.Tag(),
		))
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}

// PrepareScenario applies defaults and then validates, the single entry
// point a loader should call before handing a scenario to the orchestrator —
// mirrors the teacher's InitializeConfig's "defaults → validate" pipeline.
func PrepareScenario(scenario *engine.Scenario) error {
	if err := ApplyScenarioDefaults(scenario); err != nil {
		return err
	}
	return ValidateScenario(scenario)
}

// PrepareServers applies defaults and validates a server map.
func PrepareServers(servers map[string]engine.Server) error {
	for id, s := range servers {
		server := s
		if err := ApplyServerDefaults(&server); err != nil {
			return fmt.Errorf("server %q: %w", id, err)
		}
		servers[id] = server
	}
	return ValidateServers(servers)
}
