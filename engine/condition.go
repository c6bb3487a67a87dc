package engine

// ConditionSource selects where a single condition reads its left-hand value from.
type ConditionSource string

const (
	SourceParams   ConditionSource = "params"
	SourceResponse ConditionSource = "response"
)

// Operator enumerates the comparison/membership operators a single
// condition may use.
type Operator string

const (
	OpEquals       Operator = "=="
	OpNotEquals    Operator = "!="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpContains     Operator = "contains"
	OpNotContains  Operator = "notContains"
	OpIsEmpty      Operator = "isEmpty"
	OpIsNotEmpty   Operator = "isNotEmpty"
	OpExists       Operator = "exists"
)

// Condition is either a single leaf condition or an AND/OR group of nested
// Conditions. Exactly one of (Source/Field/Operator) or (GroupOp/Conditions)
// is populated — a sum type expressed as optional fields, matching how
// Branch/LoopDescriptor are modeled.
type Condition struct {
	// Leaf form.
	Source   ConditionSource `yaml:"source,omitempty" json:"source,omitempty"`
	Field    string          `yaml:"field,omitempty" json:"field,omitempty"`
	Operator Operator        `yaml:"operator,omitempty" json:"operator,omitempty"`
	Value    any             `yaml:"value,omitempty" json:"value,omitempty"`
	StepID   string          `yaml:"stepId,omitempty" json:"stepId,omitempty"`

	// Group form.
	GroupOp    GroupOperator `yaml:"groupOp,omitempty" json:"groupOp,omitempty"`
	Conditions []Condition   `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// GroupOperator is AND or OR.
type GroupOperator string

const (
	GroupAnd GroupOperator = "AND"
	GroupOr  GroupOperator = "OR"
)

// IsGroup reports whether c is a group rather than a leaf condition.
func (c *Condition) IsGroup() bool {
	return c != nil && c.GroupOp != ""
}
