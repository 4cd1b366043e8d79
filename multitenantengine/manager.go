package multitenantengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/rules"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrTenantExists   = errors.New("tenant already exists")
	ErrSchemaNotFound = errors.New("schema not found")
	ErrInvalidSchema  = errors.New("invalid schema")
)

// Schema describes a tenant's questionnaire: section name -> field name -> field type.
// Field names are unique across sections; they are the answer keys.
type Schema map[string]map[string]string

// Fields returns every field name in the schema, sorted
func (s Schema) Fields() []string {
	var fields []string
	for _, section := range s {
		for field := range section {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return fields
}

// FieldType returns the declared type of a field in any section
func (s Schema) FieldType(field string) (string, bool) {
	for _, section := range s {
		if typ, ok := section[field]; ok {
			return typ, true
		}
	}
	return "", false
}

// Tenant is a row of the tenants table
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TenantEngine wraps a rules.Engine with tenant-specific metadata
type TenantEngine struct {
	TenantID      string
	Schema        Schema
	SchemaVersion int
	Engine        *rules.Engine
	cache         rules.RuleSetCache
}

// Option configures a MultiTenantEngineManager
type Option func(*MultiTenantEngineManager)

// WithRedisCache shares each tenant's rule set cache through Redis.
// Keys are namespaced per tenant below config.KeyPrefix.
func WithRedisCache(client *redis.Client, config rules.CacheConfig) Option {
	return func(m *MultiTenantEngineManager) {
		if client == nil {
			return
		}
		m.newCache = func(tenantID string) rules.RuleSetCache {
			cfg := config
			if cfg.KeyPrefix == "" {
				cfg.KeyPrefix = rules.DefaultCacheConfig().KeyPrefix
			}
			cfg.KeyPrefix = cfg.KeyPrefix + tenantID + ":"
			return rules.NewRedisRuleSetCache(client, cfg)
		}
	}
}

// WithCacheConfig sets the in-memory cache settings used when Redis is not configured
func WithCacheConfig(config rules.CacheConfig) Option {
	return func(m *MultiTenantEngineManager) {
		m.cacheConfig = config
	}
}

// WithTraceSink routes debug evaluations of every tenant to sink
func WithTraceSink(sink rules.TraceSink) Option {
	return func(m *MultiTenantEngineManager) {
		m.evaluator = rules.NewEvaluator(rules.WithTraceSink(sink))
	}
}

// MultiTenantEngineManager manages engines for all tenants
type MultiTenantEngineManager struct {
	engines     map[string]*TenantEngine
	db          *sql.DB
	evaluator   *rules.Evaluator
	cacheConfig rules.CacheConfig
	newCache    func(tenantID string) rules.RuleSetCache
	mu          sync.RWMutex
}

// NewMultiTenantEngineManager creates a new manager instance
func NewMultiTenantEngineManager(db *sql.DB, opts ...Option) *MultiTenantEngineManager {
	m := &MultiTenantEngineManager{
		engines:     make(map[string]*TenantEngine),
		db:          db,
		evaluator:   rules.NewEvaluator(rules.WithTraceSink(rules.LogTraceSink{})),
		cacheConfig: rules.DefaultCacheConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.newCache == nil {
		m.newCache = func(string) rules.RuleSetCache {
			return rules.NewInMemoryRuleSetCache(m.cacheConfig)
		}
	}
	return m
}

// CreateCELEnvFromSchema creates a CEL environment declaring every schema
// field, plus the answers map, as a dynamically typed variable
func CreateCELEnvFromSchema(schema Schema) (*cel.Env, error) {
	return rules.NewEnv(schema.Fields()...)
}

func (m *MultiTenantEngineManager) buildEngine(tenantID string, schema Schema, version int) (*TenantEngine, error) {
	env, err := CreateCELEnvFromSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	cache := m.newCache(tenantID)
	store := rules.NewPostgresRuleSetStore(m.db, tenantID)
	engine, err := rules.NewEngineWithEnv(env, store, rules.WithCache(cache), rules.WithEvaluator(m.evaluator))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &TenantEngine{
		TenantID:      tenantID,
		Schema:        schema,
		SchemaVersion: version,
		Engine:        engine,
		cache:         cache,
	}, nil
}

// LoadAllTenants loads every tenant with an active schema and initializes its engine
func (m *MultiTenantEngineManager) LoadAllTenants(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT t.id, s.version, s.definition
		FROM tenants t
		JOIN schemas s ON s.tenant_id = t.id
		WHERE s.active = true
	`)
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}
	defer rows.Close()

	type row struct {
		tenantID string
		version  int
		schema   Schema
	}
	var loaded []row
	for rows.Next() {
		var r row
		var schemaJSON []byte
		if err := rows.Scan(&r.tenantID, &r.version, &schemaJSON); err != nil {
			return fmt.Errorf("failed to scan tenant row: %w", err)
		}
		if err := json.Unmarshal(schemaJSON, &r.schema); err != nil {
			return fmt.Errorf("invalid schema for tenant %s: %w", r.tenantID, err)
		}
		loaded = append(loaded, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tenant rows: %w", err)
	}

	for _, r := range loaded {
		te, err := m.buildEngine(r.tenantID, r.schema, r.version)
		if err != nil {
			return fmt.Errorf("failed to initialize tenant %s: %w", r.tenantID, err)
		}
		m.mu.Lock()
		m.engines[r.tenantID] = te
		m.mu.Unlock()
	}

	logger.Info("tenants loaded", "count", len(loaded))
	return nil
}

// CreateTenant builds and registers an engine for a tenant that already
// exists in the database
func (m *MultiTenantEngineManager) CreateTenant(tenantID string, schema Schema) error {
	if err := ValidateSchema(schema); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	te, err := m.buildEngine(tenantID, schema, 1)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.engines[tenantID] = te
	m.mu.Unlock()

	return nil
}

// RegisterTenant inserts a tenant with its first schema version and loads its engine
func (m *MultiTenantEngineManager) RegisterTenant(ctx context.Context, name string, schema Schema) (*Tenant, error) {
	if err := ValidateSchema(schema); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tenants WHERE name = $1)`, name).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check tenant name: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("tenant %q: %w", name, ErrTenantExists)
	}

	t := &Tenant{Name: name}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenants (name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, name).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO schemas (tenant_id, version, definition, active, created_at)
		VALUES ($1, 1, $2, true, NOW())
	`, t.ID, schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to save schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tenant: %w", err)
	}

	if err := m.CreateTenant(t.ID, schema); err != nil {
		return nil, err
	}

	logger.Info("tenant registered", "tenantId", t.ID, "name", name, "fields", len(schema.Fields()))
	return t, nil
}

// GetEngine retrieves the engine for a specific tenant
func (m *MultiTenantEngineManager) GetEngine(tenantID string) (*rules.Engine, error) {
	te, err := m.GetTenantEngine(tenantID)
	if err != nil {
		return nil, err
	}
	return te.Engine, nil
}

// GetTenantEngine retrieves the engine and schema of a tenant
func (m *MultiTenantEngineManager) GetTenantEngine(tenantID string) (*TenantEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, exists := m.engines[tenantID]
	if !exists {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return te, nil
}

// UpdateTenantSchema stores a new schema version and recompiles the
// tenant's rule sets against it. The new engine is built before anything
// is written, so a schema that breaks stored rule sets is rejected and the
// running engine keeps serving. The swap itself is atomic.
func (m *MultiTenantEngineManager) UpdateTenantSchema(ctx context.Context, tenantID string, newSchema Schema) (*TenantEngine, error) {
	if err := ValidateSchema(newSchema); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSchema, err)
	}

	if _, err := m.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	store := rules.NewPostgresRuleSetStore(m.db, tenantID)
	ruleSets, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule sets: %w", err)
	}
	var problems []error
	for _, rs := range ruleSets {
		if err := ValidateRuleSetAgainstSchema(newSchema, rs); err != nil {
			problems = append(problems, err)
		}
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: stored rule sets do not fit: %w", ErrInvalidSchema, errors.Join(problems...))
	}

	next, err := m.buildEngine(tenantID, newSchema, 0)
	if err != nil {
		return nil, err
	}

	schemaJSON, err := json.Marshal(newSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE schemas
		SET active = false
		WHERE tenant_id = $1
	`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to deactivate old schemas: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO schemas (tenant_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, NOW()
		FROM schemas
		WHERE tenant_id = $1
		RETURNING version
	`, tenantID, schemaJSON).Scan(&next.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to save new schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tenants SET updated_at = NOW() WHERE id = $1`, tenantID); err != nil {
		return nil, fmt.Errorf("failed to touch tenant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schema: %w", err)
	}

	m.mu.Lock()
	m.engines[tenantID] = next
	m.mu.Unlock()

	logger.Info("tenant schema updated",
		"tenantId", tenantID,
		"version", next.SchemaVersion,
		"ruleSetsRecompiled", len(ruleSets),
	)
	return next, nil
}

// ListTenants returns all loaded tenant IDs, sorted
func (m *MultiTenantEngineManager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.engines))
	for tenantID := range m.engines {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// DeleteTenant removes a tenant's engine from memory.
// Note: This does not delete the tenant from the database, see RemoveTenant.
func (m *MultiTenantEngineManager) DeleteTenant(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[tenantID]; !exists {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	delete(m.engines, tenantID)
	return nil
}

// RemoveTenant deletes a tenant and, by cascade, its schemas and rule sets
func (m *MultiTenantEngineManager) RemoveTenant(ctx context.Context, tenantID string) error {
	result, err := m.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	m.mu.Lock()
	te, loaded := m.engines[tenantID]
	delete(m.engines, tenantID)
	m.mu.Unlock()

	if loaded {
		te.cache.InvalidateAll(ctx)
	}

	logger.Info("tenant removed", "tenantId", tenantID)
	return nil
}

// GetTenant reads a tenant row
func (m *MultiTenantEngineManager) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	var t Tenant
	err := m.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// ListTenantRecords returns every tenant row, newest first
func (m *MultiTenantEngineManager) ListTenantRecords(ctx context.Context) ([]Tenant, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at
		FROM tenants
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := []Tenant{}
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

// GetSchema returns the active schema of a tenant and its version
func (m *MultiTenantEngineManager) GetSchema(ctx context.Context, tenantID string) (Schema, int, error) {
	var schemaJSON []byte
	var version int
	err := m.db.QueryRowContext(ctx, `
		SELECT version, definition
		FROM schemas
		WHERE tenant_id = $1 AND active = true
	`, tenantID).Scan(&version, &schemaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("tenant %s: %w", tenantID, ErrSchemaNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get schema: %w", err)
	}

	var schema Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, 0, fmt.Errorf("failed to parse schema: %w", err)
	}
	return schema, version, nil
}

// AddRuleSet checks rs against the tenant schema and adds it to the tenant's engine
func (m *MultiTenantEngineManager) AddRuleSet(ctx context.Context, tenantID string, rs *rules.RuleSet) error {
	te, err := m.GetTenantEngine(tenantID)
	if err != nil {
		return err
	}
	if err := ValidateRuleSetAgainstSchema(te.Schema, rs); err != nil {
		return err
	}
	return te.Engine.AddRuleSet(ctx, rs)
}

// UpdateRuleSet checks rs against the tenant schema and replaces the stored revision
func (m *MultiTenantEngineManager) UpdateRuleSet(ctx context.Context, tenantID string, rs *rules.RuleSet) error {
	te, err := m.GetTenantEngine(tenantID)
	if err != nil {
		return err
	}
	if err := ValidateRuleSetAgainstSchema(te.Schema, rs); err != nil {
		return err
	}
	return te.Engine.UpdateRuleSet(ctx, rs)
}
