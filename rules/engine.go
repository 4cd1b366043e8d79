package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
)

// Engine manages stored rule sets and evaluates them against answers.
// Rule sets are read through the cache and compiled once per revision.
// Safe for concurrent use.
type Engine struct {
	env       *cel.Env
	store     RuleSetStore
	cache     RuleSetCache
	evaluator *Evaluator
	compiled  map[string]*RuleSet // ruleSetID -> compiled revision
	mu        sync.RWMutex
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithCache replaces the default in-memory cache
func WithCache(cache RuleSetCache) EngineOption {
	return func(en *Engine) {
		if cache != nil {
			en.cache = cache
		}
	}
}

// WithEvaluator replaces the default evaluator
func WithEvaluator(evaluator *Evaluator) EngineOption {
	return func(en *Engine) {
		if evaluator != nil {
			en.evaluator = evaluator
		}
	}
}

// NewEngine creates an engine whose expressions can only reach answers
// through the `answers` map
func NewEngine(store RuleSetStore, opts ...EngineOption) (*Engine, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}
	return NewEngineWithEnv(env, store, opts...)
}

// NewEngineWithEnv creates an engine with a custom CEL environment.
// All active rule sets are compiled up front so a bad environment fails here.
func NewEngineWithEnv(env *cel.Env, store RuleSetStore, opts ...EngineOption) (*Engine, error) {
	en := &Engine{
		env:       env,
		store:     store,
		cache:     NewInMemoryRuleSetCache(DefaultCacheConfig()),
		evaluator: NewEvaluator(),
		compiled:  make(map[string]*RuleSet),
	}
	for _, opt := range opts {
		opt(en)
	}

	if err := en.CompileAll(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to compile rule sets: %w", err)
	}

	return en, nil
}

// Env returns the engine's CEL environment
func (en *Engine) Env() *cel.Env {
	return en.env
}

// CompileAll compiles every active rule set and warms the cache
func (en *Engine) CompileAll(ctx context.Context) error {
	ruleSets, err := en.store.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, rs := range ruleSets {
		if _, err := en.compile(rs); err != nil {
			return err
		}
		en.cache.Set(ctx, rs)
	}
	return nil
}

func (en *Engine) compile(rs *RuleSet) (*RuleSet, error) {
	en.mu.RLock()
	c, ok := en.compiled[rs.ID]
	en.mu.RUnlock()
	if ok && c.UpdatedAt.Equal(rs.UpdatedAt) {
		return c, nil
	}

	compiledRules, err := CompileRules(en.env, rs.Rules)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: %w", rs.ID, err)
	}

	c = rs.clone()
	c.Rules = compiledRules

	en.mu.Lock()
	en.compiled[rs.ID] = c
	en.mu.Unlock()

	return c, nil
}

func (en *Engine) forget(ctx context.Context, id string) {
	en.mu.Lock()
	delete(en.compiled, id)
	en.mu.Unlock()

	en.cache.Invalidate(ctx, id)
}

// load returns the compiled current revision of a rule set
func (en *Engine) load(ctx context.Context, id string) (*RuleSet, error) {
	rs, ok := en.cache.Get(ctx, id)
	if !ok {
		var err error
		rs, err = en.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		en.cache.Set(ctx, rs)
	}
	return en.compile(rs)
}

// AddRuleSet validates and stores a new rule set. An empty ID is filled
// with a fresh UUID.
func (en *Engine) AddRuleSet(ctx context.Context, rs *RuleSet) error {
	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}

	if _, err := en.store.Get(ctx, rs.ID); err == nil {
		return fmt.Errorf("rule set %s: %w", rs.ID, ErrRuleSetExists)
	} else if !errors.Is(err, ErrRuleSetNotFound) {
		return err
	}

	if err := ValidateRuleSet(en.env, rs); err != nil {
		return err
	}

	if err := en.store.Add(ctx, rs); err != nil {
		return err
	}

	en.forget(ctx, rs.ID)
	return nil
}

// UpdateRuleSet validates and replaces an existing rule set
func (en *Engine) UpdateRuleSet(ctx context.Context, rs *RuleSet) error {
	if err := ValidateRuleSet(en.env, rs); err != nil {
		return err
	}

	if err := en.store.Update(ctx, rs); err != nil {
		return err
	}

	en.forget(ctx, rs.ID)
	return nil
}

// DeleteRuleSet removes a rule set from the store and caches
func (en *Engine) DeleteRuleSet(ctx context.Context, id string) error {
	if err := en.store.Delete(ctx, id); err != nil {
		return err
	}

	en.forget(ctx, id)
	return nil
}

// GetRuleSet returns the stored rule set
func (en *Engine) GetRuleSet(ctx context.Context, id string) (*RuleSet, error) {
	return en.store.Get(ctx, id)
}

// ListRuleSets returns every stored rule set
func (en *Engine) ListRuleSets(ctx context.Context) ([]*RuleSet, error) {
	return en.store.List(ctx)
}

// Evaluate evaluates an active stored rule set against answers
func (en *Engine) Evaluate(ctx context.Context, ruleSetID string, answers Answers, debug bool) (*EvaluationResult, error) {
	rs, err := en.load(ctx, ruleSetID)
	if err != nil {
		return nil, err
	}
	if !rs.Active {
		return nil, fmt.Errorf("rule set %s: %w", ruleSetID, ErrRuleSetInactive)
	}

	return en.evaluator.Evaluate(answers, rs.Rules, debug), nil
}

// EvaluateRules evaluates ad-hoc rules. Expressions are compiled in the
// engine's environment; a rule that does not compile is an error.
func (en *Engine) EvaluateRules(answers Answers, rules []Rule, debug bool) (*EvaluationResult, error) {
	compiled, err := CompileRules(en.env, rules)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRuleSet, err)
	}
	return en.evaluator.Evaluate(answers, compiled, debug), nil
}
