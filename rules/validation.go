package rules

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

// ValidateRuleSet checks that every rule can be evaluated as written:
// ids present, actions and operators known, conditions present and every
// expression compiling in env. All problems are reported together.
//
// Duplicate rule ids are allowed; the later rule wins during aggregation.
func ValidateRuleSet(env *cel.Env, rs *RuleSet) error {
	if rs == nil {
		return fmt.Errorf("%w: rule set is nil", ErrInvalidRuleSet)
	}

	var problems []error
	for i, rule := range rs.Rules {
		problems = append(problems, validateRule(env, i, rule)...)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRuleSet, errors.Join(problems...))
	}
	return nil
}

func validateRule(env *cel.Env, index int, rule Rule) []error {
	var problems []error
	label := fmt.Sprintf("rule %d (%s)", index, rule.ID)

	if rule.ID == "" {
		problems = append(problems, fmt.Errorf("rule %d: id is required", index))
	}
	if !rule.Action.Valid() {
		problems = append(problems, fmt.Errorf("%s: unknown action %q", label, rule.Action))
	}
	if node(rule.Condition) == nil {
		problems = append(problems, fmt.Errorf("%s: condition is required", label))
		return problems
	}

	walk(rule.Condition, func(n Predicate) {
		switch p := n.(type) {
		case nil:
			problems = append(problems, fmt.Errorf("%s: empty condition node", label))
		case Leaf:
			if p.Field == "" {
				problems = append(problems, fmt.Errorf("%s: condition field is required", label))
			}
			if !p.Operator.Known() {
				problems = append(problems, fmt.Errorf("%s: unknown operator %q on field %q", label, p.Operator, p.Field))
			}
		case And:
			if len(p.Children) == 0 {
				problems = append(problems, fmt.Errorf("%s: and has no conditions", label))
			}
		case Or:
			if len(p.Children) == 0 {
				problems = append(problems, fmt.Errorf("%s: or has no conditions", label))
			}
		case Expr:
			if _, err := CompileExpr(env, p.Source); err != nil {
				problems = append(problems, fmt.Errorf("%s: expression %q: %w", label, p.Source, err))
			}
		}
	})

	return problems
}
