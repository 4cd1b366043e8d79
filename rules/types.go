package rules

import (
	"strings"
	"time"
)

// Answers is the caller-owned answer map a rule set is evaluated against.
// Evaluation only ever reads from it.
type Answers map[string]any

// Operator names a leaf comparison
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "not_equals"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpGreaterThan  Operator = "greater_than"
	OpLessThan     Operator = "less_than"
	OpGreaterEqual Operator = "greater_equal"
	OpLessEqual    Operator = "less_equal"
	OpExists       Operator = "exists"
	OpNotExists    Operator = "not_exists"
)

var knownOperators = map[Operator]bool{
	OpEquals:       true,
	OpNotEquals:    true,
	OpContains:     true,
	OpNotContains:  true,
	OpGreaterThan:  true,
	OpLessThan:     true,
	OpGreaterEqual: true,
	OpLessEqual:    true,
	OpExists:       true,
	OpNotExists:    true,
}

// ParseOperator normalises an operator name. Hyphenated spellings such as
// "not-equals" are accepted. Unknown names are returned verbatim so that
// evaluation can fail closed on them.
func ParseOperator(s string) Operator {
	normalized := Operator(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if knownOperators[normalized] {
		return normalized
	}
	return Operator(s)
}

// Known reports whether the evaluator understands the operator
func (o Operator) Known() bool {
	return knownOperators[o]
}

// Action is what an active rule asks the renderer to do
type Action string

const (
	ActionShow     Action = "show"
	ActionHide     Action = "hide"
	ActionRequire  Action = "require"
	ActionOptional Action = "optional"
	ActionEnable   Action = "enable"
	ActionDisable  Action = "disable"
)

// ParseAction normalises an action name. Unknown names are returned verbatim.
func ParseAction(s string) Action {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if a.Valid() {
		return a
	}
	return Action(s)
}

// Valid reports whether a is one of the six supported actions
func (a Action) Valid() bool {
	switch a {
	case ActionShow, ActionHide, ActionRequire, ActionOptional, ActionEnable, ActionDisable:
		return true
	}
	return false
}

// Predicate is a node of a condition tree: Leaf, And, Or or Expr.
type Predicate interface {
	predicate()
}

// Leaf compares answers[Field] against Value using Operator.
// Value is ignored by exists and not_exists.
type Leaf struct {
	Field    string
	Operator Operator
	Value    any
}

// And holds when every child holds. An empty And holds.
type And struct {
	Children []Predicate
}

// Or holds when at least one child holds. An empty Or does not hold.
type Or struct {
	Children []Predicate
}

func (Leaf) predicate() {}
func (And) predicate()  {}
func (Or) predicate()   {}

// Rule binds a condition to an action plus optional presentation hints
// applied while the rule is active.
type Rule struct {
	ID        string
	Name      string
	Condition Predicate
	Action    Action
	ClassName string
	Style     map[string]any
}

// RuleSet is the stored, versioned unit of rules for one questionnaire.
// Rule order is significant.
type RuleSet struct {
	ID          string    `json:"id" yaml:"id,omitempty"`
	Name        string    `json:"name" yaml:"name,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Rules       []Rule    `json:"rules" yaml:"rules"`
	Active      bool      `json:"active" yaml:"active"`
	CreatedAt   time.Time `json:"createdAt" yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt" yaml:"updatedAt,omitempty"`
}

func (rs *RuleSet) clone() *RuleSet {
	c := *rs
	c.Rules = append([]Rule(nil), rs.Rules...)
	return &c
}

// Opinion is the three-state outcome for one rule id in a result map:
// no active rule spoke about it, or the last active one said yes or no.
type Opinion int8

const (
	NoOpinion Opinion = iota
	Yes
	No
)

// Or resolves the opinion to a bool, using def when there is no opinion
func (o Opinion) Or(def bool) bool {
	switch o {
	case Yes:
		return true
	case No:
		return false
	}
	return def
}

func (o Opinion) String() string {
	switch o {
	case Yes:
		return "yes"
	case No:
		return "no"
	}
	return "none"
}

func opinionOf(m map[string]bool, id string) Opinion {
	v, ok := m[id]
	if !ok {
		return NoOpinion
	}
	if v {
		return Yes
	}
	return No
}

// EvaluationResult is derived from one (answers, rules) pair and never persisted.
type EvaluationResult struct {
	ActiveRules     []Rule          `json:"activeRules"`
	Visibility      map[string]bool `json:"visibility"`
	Requirements    map[string]bool `json:"requirements"`
	Enablement      map[string]bool `json:"enablement"`
	ComputedClasses string          `json:"computedClasses"`
	ComputedStyles  map[string]any  `json:"computedStyles"`

	rules []Rule
}

// VisibilityOf returns the visibility opinion recorded for id
func (r *EvaluationResult) VisibilityOf(id string) Opinion {
	if r == nil {
		return NoOpinion
	}
	return opinionOf(r.Visibility, id)
}

// RequirementOf returns the requirement opinion recorded for id
func (r *EvaluationResult) RequirementOf(id string) Opinion {
	if r == nil {
		return NoOpinion
	}
	return opinionOf(r.Requirements, id)
}

// EnablementOf returns the enablement opinion recorded for id
func (r *EvaluationResult) EnablementOf(id string) Opinion {
	if r == nil {
		return NoOpinion
	}
	return opinionOf(r.Enablement, id)
}
