package rules

import (
	"github.com/liamcoop/formrules/internal/logger"
)

// Trace is the diagnostic snapshot emitted after a debug evaluation
type Trace struct {
	Answers      Answers
	ActiveRules  []string
	Visibility   map[string]bool
	Requirements map[string]bool
	Enablement   map[string]bool
}

// TraceSink receives diagnostics from debug evaluations. Implementations
// must not modify what they are handed.
type TraceSink interface {
	UnknownOperator(leaf Leaf)
	UnknownAction(rule Rule)
	Evaluated(trace Trace)
}

// NopTraceSink discards everything
type NopTraceSink struct{}

func (NopTraceSink) UnknownOperator(Leaf) {}
func (NopTraceSink) UnknownAction(Rule)   {}
func (NopTraceSink) Evaluated(Trace)      {}

// LogTraceSink writes diagnostics to the structured logger
type LogTraceSink struct{}

func (LogTraceSink) UnknownOperator(leaf Leaf) {
	logger.Warn("unknown condition operator",
		"field", leaf.Field,
		"operator", string(leaf.Operator),
	)
}

func (LogTraceSink) UnknownAction(rule Rule) {
	logger.Warn("unknown rule action",
		"ruleId", rule.ID,
		"action", string(rule.Action),
	)
}

func (LogTraceSink) Evaluated(trace Trace) {
	logger.Debug("conditional logic evaluated",
		"answers", map[string]any(trace.Answers),
		"activeRules", trace.ActiveRules,
		"visibility", trace.Visibility,
		"requirements", trace.Requirements,
		"enablement", trace.Enablement,
	)
}
