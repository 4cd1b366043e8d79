package rules

import "strings"

// Evaluator aggregates rule actions for an answer map. It holds no state
// between calls and is safe for concurrent use.
type Evaluator struct {
	sink TraceSink
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithTraceSink sets where debug evaluations report to
func WithTraceSink(sink TraceSink) EvaluatorOption {
	return func(e *Evaluator) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// NewEvaluator creates an evaluator that discards diagnostics unless a
// sink is configured
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{sink: NopTraceSink{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateRules evaluates rules against answers without diagnostics
func EvaluateRules(answers Answers, rules []Rule) *EvaluationResult {
	return NewEvaluator().Evaluate(answers, rules, false)
}

// Evaluate recomputes the whole result from scratch. Rules are visited in
// order; a rule whose condition is false writes nothing, so an absent key
// means no opinion. When two active rules share an id the later one wins.
// With debug set the configured sink receives a Trace; results are the
// same either way.
func (e *Evaluator) Evaluate(answers Answers, rules []Rule, debug bool) *EvaluationResult {
	var sink TraceSink = NopTraceSink{}
	if debug {
		sink = e.sink
	}

	result := &EvaluationResult{
		ActiveRules:    []Rule{},
		Visibility:     make(map[string]bool),
		Requirements:   make(map[string]bool),
		Enablement:     make(map[string]bool),
		ComputedStyles: make(map[string]any),
		rules:          rules,
	}

	var classes []string
	for _, rule := range rules {
		if !evaluate(rule.Condition, answers, sink) {
			continue
		}

		result.ActiveRules = append(result.ActiveRules, rule)

		switch rule.Action {
		case ActionShow:
			result.Visibility[rule.ID] = true
		case ActionHide:
			result.Visibility[rule.ID] = false
		case ActionRequire:
			result.Requirements[rule.ID] = true
		case ActionOptional:
			result.Requirements[rule.ID] = false
		case ActionEnable:
			result.Enablement[rule.ID] = true
		case ActionDisable:
			result.Enablement[rule.ID] = false
		default:
			sink.UnknownAction(rule)
		}

		if rule.ClassName != "" {
			classes = append(classes, rule.ClassName)
		}
		for k, v := range rule.Style {
			result.ComputedStyles[k] = v
		}
	}
	result.ComputedClasses = strings.Join(classes, " ")

	if debug {
		active := make([]string, len(result.ActiveRules))
		for i, rule := range result.ActiveRules {
			active[i] = rule.ID
		}
		sink.Evaluated(Trace{
			Answers:      answers,
			ActiveRules:  active,
			Visibility:   result.Visibility,
			Requirements: result.Requirements,
			Enablement:   result.Enablement,
		})
	}

	return result
}

// IsConditionMet reports whether a rule with ruleID is active in r. This is
// the same truth the aggregation pass used.
func (r *EvaluationResult) IsConditionMet(ruleID string) bool {
	if r == nil {
		return false
	}
	for _, rule := range r.ActiveRules {
		if rule.ID == ruleID {
			return true
		}
	}
	return false
}

// RulesForField returns every evaluated rule, active or not, that
// references fieldID. See RulesForField.
func (r *EvaluationResult) RulesForField(fieldID string) []Rule {
	if r == nil {
		return nil
	}
	return RulesForField(r.rules, fieldID)
}

// RulesForField returns the rules whose condition references fieldID
// either as a top-level leaf or as a direct leaf child of a top-level And
// or Or. Deeper nesting is not searched.
func RulesForField(rules []Rule, fieldID string) []Rule {
	var matched []Rule
	for _, rule := range rules {
		if referencesField(rule.Condition, fieldID) {
			matched = append(matched, rule)
		}
	}
	return matched
}

func referencesField(p Predicate, fieldID string) bool {
	switch n := node(p).(type) {
	case Leaf:
		return n.Field == fieldID
	case And:
		return hasLeafFor(n.Children, fieldID)
	case Or:
		return hasLeafFor(n.Children, fieldID)
	}
	return false
}

func hasLeafFor(children []Predicate, fieldID string) bool {
	for _, child := range children {
		if leaf, ok := node(child).(Leaf); ok && leaf.Field == fieldID {
			return true
		}
	}
	return false
}
