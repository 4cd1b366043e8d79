// Package generated holds typed answer structs for known questionnaires.
// Hand-written for now; the layout matches what a schema generator would emit.
package generated

import "github.com/liamcoop/formrules/rules"

// DeveloperSurvey holds the answers of the developer onboarding questionnaire.
// Unanswered questions are left at their zero value (nil for numbers).
type DeveloperSurvey struct {
	UserType   string   `json:"userType,omitempty"`
	Role       string   `json:"role,omitempty"`
	TeamSize   *int     `json:"teamSize,omitempty"`
	Experience *int     `json:"experience,omitempty"`
	Languages  []string `json:"languages,omitempty"`
	Email      string   `json:"email,omitempty"`
}

// Answers converts the survey to an answer map. Unanswered questions are
// omitted so they read as absent.
func (s DeveloperSurvey) Answers() rules.Answers {
	answers := rules.Answers{}
	if s.UserType != "" {
		answers["userType"] = s.UserType
	}
	if s.Role != "" {
		answers["role"] = s.Role
	}
	if s.TeamSize != nil {
		answers["teamSize"] = *s.TeamSize
	}
	if s.Experience != nil {
		answers["experience"] = *s.Experience
	}
	if s.Languages != nil {
		answers["languages"] = s.Languages
	}
	if s.Email != "" {
		answers["email"] = s.Email
	}
	return answers
}

// Int returns a pointer to n, for filling optional numeric answers
func Int(n int) *int {
	return &n
}
