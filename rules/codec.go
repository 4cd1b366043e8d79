package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// wirePredicate is the open node shape clients send. One node may carry
// and, or, expression and leaf fields at once; decodePredicate resolves it
// in a fixed order: and, then or, then expression, then leaf.
type wirePredicate struct {
	Field      string           `json:"field" yaml:"field"`
	Operator   string           `json:"operator" yaml:"operator"`
	Value      any              `json:"value" yaml:"value"`
	And        []*wirePredicate `json:"and" yaml:"and"`
	Or         []*wirePredicate `json:"or" yaml:"or"`
	Expression string           `json:"expression" yaml:"expression"`
}

func decodePredicate(w *wirePredicate) Predicate {
	if w == nil {
		return nil
	}

	switch {
	case len(w.And) > 0:
		return And{Children: decodeChildren(w.And)}
	case len(w.Or) > 0:
		return Or{Children: decodeChildren(w.Or)}
	case w.Expression != "":
		return Expr{Source: w.Expression}
	}

	return Leaf{
		Field:    w.Field,
		Operator: ParseOperator(w.Operator),
		Value:    w.Value,
	}
}

func decodeChildren(ws []*wirePredicate) []Predicate {
	children := make([]Predicate, len(ws))
	for i, w := range ws {
		children[i] = decodePredicate(w)
	}
	return children
}

// EncodePredicate converts p to its wire shape
func EncodePredicate(p Predicate) map[string]any {
	switch n := node(p).(type) {
	case Leaf:
		m := map[string]any{
			"field":    n.Field,
			"operator": string(n.Operator),
		}
		if n.Value != nil {
			m["value"] = n.Value
		}
		return m
	case And:
		return map[string]any{"and": encodeChildren(n.Children)}
	case Or:
		return map[string]any{"or": encodeChildren(n.Children)}
	case Expr:
		return map[string]any{"expression": n.Source}
	}
	return nil
}

func encodeChildren(children []Predicate) []map[string]any {
	encoded := make([]map[string]any, len(children))
	for i, child := range children {
		encoded[i] = EncodePredicate(child)
	}
	return encoded
}

// DecodePredicate parses a JSON condition
func DecodePredicate(data []byte) (Predicate, error) {
	var w wirePredicate
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode condition: %w", err)
	}
	return decodePredicate(&w), nil
}

type wireRule struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	Condition *wirePredicate `json:"condition" yaml:"condition"`
	Action    string         `json:"action" yaml:"action"`
	ClassName string         `json:"className" yaml:"className"`
	Style     map[string]any `json:"style" yaml:"style"`
}

func (w wireRule) rule() Rule {
	return Rule{
		ID:        w.ID,
		Name:      w.Name,
		Condition: decodePredicate(w.Condition),
		Action:    ParseAction(w.Action),
		ClassName: w.ClassName,
		Style:     w.Style,
	}
}

type encodedRule struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Condition map[string]any `json:"condition" yaml:"condition"`
	Action    string         `json:"action" yaml:"action"`
	ClassName string         `json:"className,omitempty" yaml:"className,omitempty"`
	Style     map[string]any `json:"style,omitempty" yaml:"style,omitempty"`
}

func (r Rule) encoded() encodedRule {
	return encodedRule{
		ID:        r.ID,
		Name:      r.Name,
		Condition: EncodePredicate(r.Condition),
		Action:    string(r.Action),
		ClassName: r.ClassName,
		Style:     r.Style,
	}
}

func (r Rule) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.encoded())
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var w wireRule
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = w.rule()
	return nil
}

func (r Rule) MarshalYAML() (any, error) {
	return r.encoded(), nil
}

func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var w wireRule
	if err := value.Decode(&w); err != nil {
		return err
	}
	*r = w.rule()
	return nil
}

// LoadRuleSetFile reads a rule set from a YAML or JSON file. The file may
// hold a full rule set or a bare list of rules.
func LoadRuleSetFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes a YAML or JSON document, see LoadRuleSetFile
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("rule file is empty")
	}

	root := doc.Content[0]
	rs := &RuleSet{Active: true}
	if root.Kind == yaml.SequenceNode {
		if err := root.Decode(&rs.Rules); err != nil {
			return nil, fmt.Errorf("failed to decode rules: %w", err)
		}
		return rs, nil
	}

	if err := root.Decode(rs); err != nil {
		return nil, fmt.Errorf("failed to decode rule set: %w", err)
	}
	return rs, nil
}

// LoadAnswersFile reads an answer map from a YAML or JSON file
func LoadAnswersFile(path string) (Answers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read answers file: %w", err)
	}

	answers := Answers{}
	if err := yaml.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("failed to parse answers file: %w", err)
	}
	return answers, nil
}
