//go:build integration

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/formrules/internal/config"
	"github.com/liamcoop/formrules/multitenantengine"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgres.Terminate(ctx)
	}

	return db, cleanup
}

func startTestServer(t *testing.T, db *sql.DB) *httptest.Server {
	t.Helper()

	manager := multitenantengine.NewMultiTenantEngineManager(db)
	if err := manager.LoadAllTenants(context.Background()); err != nil {
		t.Fatalf("LoadAllTenants() failed: %v", err)
	}

	server, err := newServer(config.DefaultConfig(), db, nil, manager)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts
}

// TestEndToEnd_TenantRuleSetEvaluation covers the tenant workflow:
// create tenant with schema, add a rule set, evaluate it, list and delete
func TestEndToEnd_TenantRuleSetEvaluation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	baseURL := startTestServer(t, db).URL + "/api/v1"

	tenantResp := makeRequest(t, http.MethodPost, baseURL+"/tenants", map[string]any{
		"name": "Test Tenant",
		"schema": map[string]any{
			"applicant": map[string]any{"age": "number", "country": "string"},
		},
	}, http.StatusCreated)
	tenantID := tenantResp["id"].(string)
	if tenantResp["schemaVersion"].(float64) != 1 {
		t.Errorf("schemaVersion = %v, want 1", tenantResp["schemaVersion"])
	}

	makeRequest(t, http.MethodPost, baseURL+"/tenants/"+tenantID+"/rulesets", map[string]any{
		"id":   "onboarding",
		"name": "Onboarding",
		"rules": []map[string]any{
			{"id": "guardian", "condition": map[string]any{"field": "age", "operator": "less_than", "value": 18}, "action": "require"},
			{"id": "visa", "condition": map[string]any{"field": "country", "operator": "not_equals", "value": "NZ"}, "action": "show"},
		},
	}, http.StatusCreated)

	evalResp := makeRequest(t, http.MethodPost, baseURL+"/evaluate", map[string]any{
		"tenantId":  tenantID,
		"ruleSetId": "onboarding",
		"answers":   map[string]any{"age": 16, "country": "NZ"},
	}, http.StatusOK)

	result := evalResp["result"].(map[string]any)
	if req := result["requirements"].(map[string]any); req["guardian"] != true {
		t.Errorf("requirements = %v, want guardian required", req)
	}
	if vis := result["visibility"].(map[string]any); len(vis) != 0 {
		t.Errorf("visibility = %v, want empty", vis)
	}

	pathResp := makeRequest(t, http.MethodPost, baseURL+"/tenants/"+tenantID+"/rulesets/onboarding/evaluate", map[string]any{
		"answers": map[string]any{"age": 30, "country": "AU"},
	}, http.StatusOK)
	if vis := pathResp["result"].(map[string]any)["visibility"].(map[string]any); vis["visa"] != true {
		t.Errorf("visibility = %v, want visa shown", vis)
	}

	listResp := makeRequest(t, http.MethodGet, baseURL+"/tenants/"+tenantID+"/rulesets", nil, http.StatusOK)
	if ruleSets := listResp["ruleSets"].([]any); len(ruleSets) != 1 {
		t.Errorf("ruleSets = %d, want 1", len(ruleSets))
	}

	makeRequest(t, http.MethodPost, baseURL+"/tenants/"+tenantID+"/rulesets", map[string]any{
		"name":  "Unknown field",
		"rules": []map[string]any{{"id": "r", "condition": map[string]any{"field": "salary", "operator": "exists"}, "action": "show"}},
	}, http.StatusBadRequest)

	makeRequest(t, http.MethodDelete, baseURL+"/tenants/"+tenantID+"/rulesets/onboarding", nil, http.StatusNoContent)
	makeRequest(t, http.MethodGet, baseURL+"/tenants/"+tenantID+"/rulesets/onboarding", nil, http.StatusNotFound)
}

// TestEndToEnd_SchemaUpdate verifies schema versions and rejection of breaking changes
func TestEndToEnd_SchemaUpdate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	baseURL := startTestServer(t, db).URL + "/api/v1"

	tenantResp := makeRequest(t, http.MethodPost, baseURL+"/tenants", map[string]any{
		"name":   "Schema Update Tenant",
		"schema": map[string]any{"applicant": map[string]any{"age": "number"}},
	}, http.StatusCreated)
	tenantID := tenantResp["id"].(string)

	makeRequest(t, http.MethodPost, baseURL+"/tenants/"+tenantID+"/rulesets", map[string]any{
		"id":    "adult",
		"name":  "Adult",
		"rules": []map[string]any{{"id": "adult", "condition": map[string]any{"field": "age", "operator": "greater_equal", "value": 18}, "action": "show"}},
	}, http.StatusCreated)

	schemaResp := makeRequest(t, http.MethodPut, baseURL+"/tenants/"+tenantID+"/schema", map[string]any{
		"definition": map[string]any{"applicant": map[string]any{"age": "number", "email": "string"}},
	}, http.StatusOK)
	if version := schemaResp["version"].(float64); version != 2 {
		t.Errorf("version = %v, want 2", version)
	}

	makeRequest(t, http.MethodPut, baseURL+"/tenants/"+tenantID+"/schema", map[string]any{
		"definition": map[string]any{"applicant": map[string]any{"email": "string"}},
	}, http.StatusBadRequest)

	getResp := makeRequest(t, http.MethodGet, baseURL+"/tenants/"+tenantID+"/schema", nil, http.StatusOK)
	if version := getResp["version"].(float64); version != 2 {
		t.Errorf("version after rejected update = %v, want 2", version)
	}

	evalResp := makeRequest(t, http.MethodPost, baseURL+"/evaluate", map[string]any{
		"tenantId":  tenantID,
		"ruleSetId": "adult",
		"answers":   map[string]any{"age": 25},
	}, http.StatusOK)
	if vis := evalResp["result"].(map[string]any)["visibility"].(map[string]any); vis["adult"] != true {
		t.Errorf("rule set should still evaluate after schema update, visibility = %v", vis)
	}
}

// TestEndToEnd_TenantConflictAndDelete verifies duplicate names and tenant removal
func TestEndToEnd_TenantConflictAndDelete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	baseURL := startTestServer(t, db).URL + "/api/v1"

	body := map[string]any{
		"name":   "Conflict Tenant",
		"schema": map[string]any{"applicant": map[string]any{"age": "number"}},
	}
	tenantID := makeRequest(t, http.MethodPost, baseURL+"/tenants", body, http.StatusCreated)["id"].(string)
	makeRequest(t, http.MethodPost, baseURL+"/tenants", body, http.StatusConflict)

	makeRequest(t, http.MethodPost, baseURL+"/tenants", map[string]any{
		"name":   "Bad Schema",
		"schema": map[string]any{"applicant": map[string]any{"age": "int"}},
	}, http.StatusBadRequest)

	makeRequest(t, http.MethodGet, baseURL+"/tenants/not-a-uuid", nil, http.StatusBadRequest)

	makeRequest(t, http.MethodDelete, baseURL+"/tenants/"+tenantID, nil, http.StatusNoContent)
	makeRequest(t, http.MethodGet, baseURL+"/tenants/"+tenantID, nil, http.StatusNotFound)
}

// makeRequest sends a JSON request, checks the status and decodes a JSON object body if any
func makeRequest(t *testing.T, method, url string, body any, wantStatus int) map[string]any {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s status = %d, want %d: %s", method, url, resp.StatusCode, wantStatus, string(data))
	}

	result := map[string]any{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return result
}
