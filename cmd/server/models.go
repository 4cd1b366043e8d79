package main

import (
	"time"

	"github.com/liamcoop/formrules/multitenantengine"
	"github.com/liamcoop/formrules/rules"
)

// CreateTenantRequest is the body of POST /api/v1/tenants
type CreateTenantRequest struct {
	Name   string                   `json:"name"`
	Schema multitenantengine.Schema `json:"schema"`
}

// TenantResponse is a tenant with its active schema version
type TenantResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SchemaVersion int       `json:"schemaVersion,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TenantsListResponse is the body of GET /api/v1/tenants
type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
}

// UpdateSchemaRequest is the body of PUT /api/v1/tenants/{tenantId}/schema
type UpdateSchemaRequest struct {
	Definition multitenantengine.Schema `json:"definition"`
}

// SchemaResponse is a tenant's active schema
type SchemaResponse struct {
	Version    int                      `json:"version"`
	Status     string                   `json:"status"`
	Definition multitenantengine.Schema `json:"definition"`
}

// RuleSetRequest is the body for creating or replacing a rule set.
// Active defaults to true on create.
type RuleSetRequest struct {
	ID          string       `json:"id,omitempty"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Rules       []rules.Rule `json:"rules"`
	Active      *bool        `json:"active,omitempty"`
}

func (r RuleSetRequest) ruleSet(id string, defaultActive bool) *rules.RuleSet {
	active := defaultActive
	if r.Active != nil {
		active = *r.Active
	}
	return &rules.RuleSet{
		ID:          id,
		Name:        r.Name,
		Description: r.Description,
		Rules:       r.Rules,
		Active:      active,
	}
}

// RuleSetsListResponse is the body of GET /api/v1/tenants/{tenantId}/rulesets
type RuleSetsListResponse struct {
	RuleSets []*rules.RuleSet `json:"ruleSets"`
}

// EvaluateRequest is the body of POST /api/v1/evaluate.
// Either RuleSetID or Rules must be set; RuleSetID needs TenantID.
// Without TenantID inline rules run in the shared environment.
type EvaluateRequest struct {
	TenantID  string        `json:"tenantId,omitempty"`
	RuleSetID string        `json:"ruleSetId,omitempty"`
	Rules     []rules.Rule  `json:"rules,omitempty"`
	Answers   rules.Answers `json:"answers"`
	Debug     bool          `json:"debug,omitempty"`

	// Fields and Sections list ids to resolve into render states
	Fields   []string `json:"fields,omitempty"`
	Sections []string `json:"sections,omitempty"`
}

// SectionResponse is a section render state with its transition style
type SectionResponse struct {
	rules.SectionState
	Style map[string]string `json:"style"`
}

// EvaluateResponse is the body returned by evaluation endpoints
type EvaluateResponse struct {
	Result         *rules.EvaluationResult     `json:"result"`
	Fields         map[string]rules.FieldState `json:"fields,omitempty"`
	Sections       map[string]SectionResponse  `json:"sections,omitempty"`
	EvaluationTime string                      `json:"evaluationTime"`
}

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is the body of GET /api/v1/health
type HealthResponse struct {
	Status        string           `json:"status"`
	Database      string           `json:"database"`
	TenantsLoaded int              `json:"tenantsLoaded"`
	Counters      map[string]int64 `json:"counters"`
	Error         string           `json:"error,omitempty"`
}
