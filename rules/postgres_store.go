package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleSetStore implements RuleSetStore backed by PostgreSQL.
// Rules are stored as a JSONB document per rule set.
type PostgresRuleSetStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleSetStore creates a new PostgreSQL-backed store for a specific tenant
func NewPostgresRuleSetStore(db *sql.DB, tenantID string) *PostgresRuleSetStore {
	return &PostgresRuleSetStore{
		db:       db,
		tenantID: tenantID,
	}
}

const ruleSetColumns = `id, name, description, rules, active, created_at, updated_at`

// Add inserts a new rule set into the database
func (s *PostgresRuleSetStore) Add(ctx context.Context, rs *RuleSet) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM rule_sets WHERE id = $1 AND tenant_id = $2)
	`, rs.ID, s.tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule set existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule set %s: %w", rs.ID, ErrRuleSetExists)
	}

	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	now := time.Now().UTC()
	rs.CreatedAt = now
	rs.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rule_sets (id, tenant_id, name, description, rules, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rs.ID, s.tenantID, rs.Name, rs.Description, rulesJSON, rs.Active,
		rs.CreatedAt, rs.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule set: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleSet(row rowScanner) (*RuleSet, error) {
	var rs RuleSet
	var rulesJSON []byte
	if err := row.Scan(&rs.ID, &rs.Name, &rs.Description, &rulesJSON, &rs.Active,
		&rs.CreatedAt, &rs.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rulesJSON, &rs.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules of rule set %s: %w", rs.ID, err)
	}
	return &rs, nil
}

// Get retrieves a rule set by ID
func (s *PostgresRuleSetStore) Get(ctx context.Context, id string) (*RuleSet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)

	rs, err := scanRuleSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule set %s: %w", id, ErrRuleSetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule set: %w", err)
	}
	return rs, nil
}

// List returns every rule set of the tenant
func (s *PostgresRuleSetStore) List(ctx context.Context) ([]*RuleSet, error) {
	return s.query(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
	`)
}

// ListActive returns the active rule sets of the tenant
func (s *PostgresRuleSetStore) ListActive(ctx context.Context) ([]*RuleSet, error) {
	return s.query(ctx, `
		SELECT `+ruleSetColumns+`
		FROM rule_sets
		WHERE tenant_id = $1 AND active = true
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresRuleSetStore) query(ctx context.Context, query string) ([]*RuleSet, error) {
	rows, err := s.db.QueryContext(ctx, query, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule sets: %w", err)
	}
	defer rows.Close()

	var ruleSets []*RuleSet
	for rows.Next() {
		rs, err := scanRuleSet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule set: %w", err)
		}
		ruleSets = append(ruleSets, rs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule sets: %w", err)
	}

	return ruleSets, nil
}

// Update modifies an existing rule set, preserving created_at
func (s *PostgresRuleSetStore) Update(ctx context.Context, rs *RuleSet) error {
	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	rs.UpdatedAt = time.Now().UTC()

	err = s.db.QueryRowContext(ctx, `
		UPDATE rule_sets
		SET name = $1, description = $2, rules = $3, active = $4, updated_at = $5
		WHERE id = $6 AND tenant_id = $7
		RETURNING created_at
	`, rs.Name, rs.Description, rulesJSON, rs.Active, rs.UpdatedAt, rs.ID, s.tenantID).Scan(&rs.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule set %s: %w", rs.ID, ErrRuleSetNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule set: %w", err)
	}

	return nil
}

// Delete removes a rule set from the database
func (s *PostgresRuleSetStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM rule_sets
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule set: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule set %s: %w", id, ErrRuleSetNotFound)
	}

	return nil
}
