package rules

import (
	"strings"
	"testing"
)

// TestCompileExprSuccess verifies boolean expressions compile and evaluate against answers
func TestCompileExprSuccess(t *testing.T) {
	env, err := NewEnv("teamSize", "role")
	if err != nil {
		t.Fatalf("NewEnv() failed: %v", err)
	}

	testCases := []struct {
		name     string
		source   string
		answers  Answers
		expected bool
	}{
		{"literal", `true`, Answers{}, true},
		{"declared field", `teamSize > 10`, Answers{"teamSize": 12}, true},
		{"declared field false", `teamSize > 10`, Answers{"teamSize": 2}, false},
		{"answers map", `answers.role == "lead"`, Answers{"role": "lead"}, true},
		{"has macro", `has(answers.email)`, Answers{"email": "a@b.c"}, true},
		{"has macro absent", `has(answers.email)`, Answers{}, false},
		{"combined", `role == "dev" && "Go" in answers.languages`, Answers{"role": "dev", "languages": []any{"Go"}}, true},
		{"missing declared field", `teamSize > 10`, Answers{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := CompileExpr(env, tc.source)
			if err != nil {
				t.Fatalf("CompileExpr(%q) failed: %v", tc.source, err)
			}
			if !expr.Compiled() {
				t.Fatal("Compiled() = false after successful compile")
			}
			if got := Evaluate(expr, tc.answers); got != tc.expected {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.source, got, tc.expected)
			}
		})
	}
}

// TestCompileExprErrors verifies invalid expressions are rejected with a reason
func TestCompileExprErrors(t *testing.T) {
	env, err := NewEnv("teamSize")
	if err != nil {
		t.Fatalf("NewEnv() failed: %v", err)
	}

	testCases := []struct {
		name   string
		source string
		want   string
	}{
		{"syntax", `teamSize >`, "compile error"},
		{"undeclared", `salary > 10`, "compile error"},
		{"not boolean", `"text"`, "must evaluate to bool"},
		{"integer result", `1 + 2`, "must evaluate to bool"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := CompileExpr(env, tc.source)
			if err == nil {
				t.Fatalf("CompileExpr(%q) should fail", tc.source)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should contain %q", err, tc.want)
			}
		})
	}

	if _, err := CompileExpr(nil, "true"); err == nil {
		t.Error("CompileExpr() without environment should fail")
	}
}

// TestUncompiledExprIsFalse verifies expressions never compiled evaluate to false
func TestUncompiledExprIsFalse(t *testing.T) {
	if Evaluate(Expr{Source: "true"}, Answers{}) {
		t.Error("uncompiled expression should evaluate to false")
	}
}

// TestNonBoolDynResultIsFalse verifies a dyn expression yielding a non-bool fails closed
func TestNonBoolDynResultIsFalse(t *testing.T) {
	env, err := NewEnv("value")
	if err != nil {
		t.Fatalf("NewEnv() failed: %v", err)
	}

	expr, err := CompileExpr(env, `value`)
	if err != nil {
		t.Fatalf("CompileExpr() failed: %v", err)
	}

	if Evaluate(expr, Answers{"value": "yes"}) {
		t.Error("string result should evaluate to false")
	}
	if !Evaluate(expr, Answers{"value": true}) {
		t.Error("bool result should evaluate to its value")
	}
}

// TestCompileRules verifies expressions nested in combinators are compiled
// and rules without expressions need no environment
func TestCompileRules(t *testing.T) {
	env, err := NewEnv()
	if err != nil {
		t.Fatalf("NewEnv() failed: %v", err)
	}

	rules := []Rule{
		{ID: "mixed", Condition: All(Exists("role"), Expr{Source: `answers.role != "guest"`}), Action: ActionShow},
		{ID: "plain", Condition: Equals("role", "guest"), Action: ActionHide},
	}

	compiled, err := CompileRules(env, rules)
	if err != nil {
		t.Fatalf("CompileRules() failed: %v", err)
	}

	result := EvaluateRules(Answers{"role": "member"}, compiled)
	if !result.IsConditionMet("mixed") {
		t.Error("compiled expression should hold for member")
	}

	if _, ok := rules[0].Condition.(And).Children[1].(Expr); !ok || rules[0].Condition.(And).Children[1].(Expr).Compiled() {
		t.Error("CompileRules() should not modify its input")
	}

	if _, err := CompileRules(nil, rules[1:]); err != nil {
		t.Errorf("rules without expressions should compile without environment: %v", err)
	}

	_, err = CompileRules(env, []Rule{{ID: "bad", Condition: Expr{Source: "answers.("}, Action: ActionShow}})
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("CompileRules() error = %v, want one naming the rule", err)
	}
}
