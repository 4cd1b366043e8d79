package rules

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
)

// AnswersVariable is the CEL variable holding the whole answer map
const AnswersVariable = "answers"

// costLimit bounds evaluation of a single expression
const costLimit = 1000000

// Expr is a CEL boolean expression over the answers. Every answer is bound
// as a variable of its own name and the full map as `answers`.
// An Expr that has not been compiled evaluates to false.
type Expr struct {
	Source string

	program cel.Program
}

func (Expr) predicate() {}

// Compiled reports whether e carries a program
func (e Expr) Compiled() bool {
	return e.program != nil
}

func (e Expr) eval(answers Answers) bool {
	if e.program == nil {
		return false
	}

	out, _, err := e.program.Eval(activation(answers))
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func activation(answers Answers) map[string]any {
	vars := make(map[string]any, len(answers)+1)
	all := make(map[string]any, len(answers))
	for k, v := range answers {
		vars[k] = v
		all[k] = v
	}
	vars[AnswersVariable] = all
	return vars
}

// NewEnv creates a CEL environment declaring `answers` and each of fields
// as dynamically typed variables.
func NewEnv(fields ...string) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable(AnswersVariable, cel.MapType(cel.StringType, cel.DynType)),
	}
	for _, field := range fields {
		if field == AnswersVariable {
			continue
		}
		opts = append(opts, cel.Variable(field, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileExpr compiles source into an evaluable Expr
func CompileExpr(env *cel.Env, source string) (Expr, error) {
	if env == nil {
		return Expr{Source: source}, errors.New("no CEL environment configured for expressions")
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return Expr{Source: source}, fmt.Errorf("compile error: %w", issues.Err())
	}

	switch out := ast.OutputType().String(); out {
	case "bool", "dyn":
	default:
		return Expr{Source: source}, fmt.Errorf("expression must evaluate to bool, got %s", out)
	}

	prog, err := env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return Expr{Source: source}, fmt.Errorf("program creation error: %w", err)
	}

	return Expr{Source: source, program: prog}, nil
}

// CompilePredicate returns a copy of p with every Expr compiled
func CompilePredicate(env *cel.Env, p Predicate) (Predicate, error) {
	switch n := node(p).(type) {
	case And:
		children, err := compileChildren(env, n.Children)
		if err != nil {
			return nil, err
		}
		return And{Children: children}, nil
	case Or:
		children, err := compileChildren(env, n.Children)
		if err != nil {
			return nil, err
		}
		return Or{Children: children}, nil
	case Expr:
		if n.Compiled() {
			return n, nil
		}
		return CompileExpr(env, n.Source)
	default:
		return n, nil
	}
}

func compileChildren(env *cel.Env, children []Predicate) ([]Predicate, error) {
	compiled := make([]Predicate, len(children))
	for i, child := range children {
		c, err := CompilePredicate(env, child)
		if err != nil {
			return nil, err
		}
		compiled[i] = c
	}
	return compiled, nil
}

// CompileRules returns a copy of rules with every condition compiled.
// Rules without expressions need no environment.
func CompileRules(env *cel.Env, rules []Rule) ([]Rule, error) {
	compiled := make([]Rule, len(rules))
	for i, rule := range rules {
		cond, err := CompilePredicate(env, rule.Condition)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
		rule.Condition = cond
		compiled[i] = rule
	}
	return compiled, nil
}
