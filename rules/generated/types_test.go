package generated

import (
	"encoding/json"
	"testing"

	"github.com/liamcoop/formrules/rules"
)

// TestDeveloperSurveyAnswersOmitsUnanswered verifies unanswered questions are absent from the answer map
func TestDeveloperSurveyAnswersOmitsUnanswered(t *testing.T) {
	answers := DeveloperSurvey{}.Answers()

	if len(answers) != 0 {
		t.Errorf("Answers() of empty survey = %v, want empty map", answers)
	}
}

// TestDeveloperSurveyAnswers verifies every answered question is mapped under its JSON name
func TestDeveloperSurveyAnswers(t *testing.T) {
	survey := DeveloperSurvey{
		UserType:   "developer",
		Role:       "lead",
		TeamSize:   Int(15),
		Experience: Int(0),
		Languages:  []string{"Go", "TypeScript"},
		Email:      "dev@example.com",
	}

	answers := survey.Answers()

	tests := []struct {
		name     string
		key      string
		expected any
	}{
		{"userType", "userType", "developer"},
		{"role", "role", "lead"},
		{"teamSize", "teamSize", 15},
		{"experience zero is still an answer", "experience", 0},
		{"email", "email", "dev@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := answers[tt.key]
			if !ok {
				t.Fatalf("answers[%q] missing", tt.key)
			}
			if got != tt.expected {
				t.Errorf("answers[%q] = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}

	langs, ok := answers["languages"].([]string)
	if !ok || len(langs) != 2 {
		t.Errorf("answers[languages] = %v, want two languages", answers["languages"])
	}
}

// TestDeveloperSurveyJSONTags verifies JSON field names match the answer keys
func TestDeveloperSurveyJSONTags(t *testing.T) {
	data, err := json.Marshal(DeveloperSurvey{UserType: "designer", TeamSize: Int(3)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded["userType"] != "designer" {
		t.Errorf("userType = %v, want designer", decoded["userType"])
	}
	if decoded["teamSize"] != 3.0 {
		t.Errorf("teamSize = %v, want 3", decoded["teamSize"])
	}
	if _, ok := decoded["email"]; ok {
		t.Error("empty email should be omitted")
	}
}

// TestDeveloperSurveyDrivesRules verifies survey answers evaluate like a hand-built answer map
func TestDeveloperSurveyDrivesRules(t *testing.T) {
	ruleSet := []rules.Rule{
		{ID: "teamDetails", Condition: rules.GreaterThan("teamSize", 10), Action: rules.ActionShow},
		{ID: "leadEmail", Condition: rules.All(rules.Equals("role", "lead"), rules.NotExists("email")), Action: rules.ActionRequire},
		{ID: "juniorTips", Condition: rules.LessThan("experience", 2), Action: rules.ActionShow},
	}

	survey := DeveloperSurvey{Role: "lead", TeamSize: Int(12)}
	result := rules.EvaluateRules(survey.Answers(), ruleSet)

	if !result.IsConditionMet("teamDetails") {
		t.Error("teamDetails should be met for a team of 12")
	}
	if !result.Requirements["leadEmail"] {
		t.Error("leadEmail should be required when a lead leaves email blank")
	}
	// experience is unanswered, so the comparison is against undefined
	if result.IsConditionMet("juniorTips") {
		t.Error("juniorTips should not be met without an experience answer")
	}
}
