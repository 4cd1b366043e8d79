package rules

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DisabledClassName is appended to a field's classes while it is disabled
	DisabledClassName = "opacity-50 pointer-events-none"

	// RequiredMarker is shown next to the label of a required field
	RequiredMarker = "*"

	// DefaultTransitionDuration is the section expand/collapse duration
	DefaultTransitionDuration = 300 * time.Millisecond
)

// FieldState is how a single form field should render
type FieldState struct {
	FieldID        string `json:"fieldId"`
	Visible        bool   `json:"visible"`
	Required       bool   `json:"required"`
	Enabled        bool   `json:"enabled"`
	ClassName      string `json:"className,omitempty"`
	RequiredMarker string `json:"requiredMarker,omitempty"`

	// Fallback is rendered in place of a hidden field
	Fallback any `json:"-"`
}

type fieldConfig struct {
	className string
	fallback  any
}

// FieldOption configures Field
type FieldOption func(*fieldConfig)

// WithClassName sets the field's own classes; hints are appended to them
func WithClassName(className string) FieldOption {
	return func(c *fieldConfig) {
		c.className = className
	}
}

// WithFallback sets what renders when the field is hidden
func WithFallback(fallback any) FieldOption {
	return func(c *fieldConfig) {
		c.fallback = fallback
	}
}

// Field decides visibility, requirement and enablement for fieldID from
// the active rules that reference it. Any active hide rule hides it, any
// active require rule requires it and any active disable rule disables it.
func (r *EvaluationResult) Field(fieldID string, opts ...FieldOption) FieldState {
	cfg := fieldConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	state := FieldState{
		FieldID:  fieldID,
		Visible:  true,
		Enabled:  true,
		Fallback: cfg.fallback,
	}

	for _, rule := range r.RulesForField(fieldID) {
		if !r.IsConditionMet(rule.ID) {
			continue
		}
		switch rule.Action {
		case ActionHide:
			state.Visible = false
		case ActionRequire:
			state.Required = true
		case ActionDisable:
			state.Enabled = false
		}
	}

	classes := make([]string, 0, 2)
	if cfg.className != "" {
		classes = append(classes, cfg.className)
	}
	if !state.Enabled {
		classes = append(classes, DisabledClassName)
	}
	state.ClassName = strings.Join(classes, " ")

	if state.Required {
		state.RequiredMarker = RequiredMarker
	}
	return state
}

// Render returns content when the field is visible, otherwise the
// field's fallback if it has type T, otherwise T's zero value.
func Render[T any](state FieldState, content T) T {
	if state.Visible {
		return content
	}
	if fallback, ok := state.Fallback.(T); ok {
		return fallback
	}
	var zero T
	return zero
}

// SectionState is how a collapsible section should render
type SectionState struct {
	SectionID string        `json:"sectionId"`
	Visible   bool          `json:"visible"`
	Duration  time.Duration `json:"duration"`
}

type sectionConfig struct {
	duration time.Duration
}

// SectionOption configures Section
type SectionOption func(*sectionConfig)

// WithDuration sets the expand/collapse transition duration
func WithDuration(d time.Duration) SectionOption {
	return func(c *sectionConfig) {
		if d >= 0 {
			c.duration = d
		}
	}
}

// Section is visible unless Visibility[sectionID] is explicitly false
func (r *EvaluationResult) Section(sectionID string, opts ...SectionOption) SectionState {
	cfg := sectionConfig{duration: DefaultTransitionDuration}
	for _, opt := range opts {
		opt(&cfg)
	}

	return SectionState{
		SectionID: sectionID,
		Visible:   r.VisibilityOf(sectionID).Or(true),
		Duration:  cfg.duration,
	}
}

// TransitionStyle returns the inline style animating the section between
// collapsed and expanded
func (s SectionState) TransitionStyle() map[string]string {
	style := map[string]string{
		"transition": fmt.Sprintf("max-height %dms ease-in-out, opacity %dms ease-in-out",
			s.Duration.Milliseconds(), s.Duration.Milliseconds()),
		"overflow": "hidden",
	}
	if s.Visible {
		style["max-height"] = "none"
		style["opacity"] = "1"
	} else {
		style["max-height"] = "0"
		style["opacity"] = "0"
	}
	return style
}
