package multitenantengine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/liamcoop/formrules/rules"
)

const (
	maxSections         = 100
	maxFieldsPerSection = 200
	maxIdentifierLength = 100
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateSchema validates a schema definition.
// Returns an error if validation fails, nil if schema is valid
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must contain at least one section")
	}

	if len(schema) > maxSections {
		return fmt.Errorf("schema contains %d sections, maximum allowed is %d", len(schema), maxSections)
	}

	owner := make(map[string]string) // field -> section
	for sectionName, fields := range schema {
		if err := validateIdentifier(sectionName); err != nil {
			return fmt.Errorf("invalid section name %q: %w", sectionName, err)
		}

		if len(fields) == 0 {
			return fmt.Errorf("section %q must contain at least one field", sectionName)
		}

		if len(fields) > maxFieldsPerSection {
			return fmt.Errorf("section %q contains %d fields, maximum allowed is %d", sectionName, len(fields), maxFieldsPerSection)
		}

		for fieldName, typeName := range fields {
			if err := validateIdentifier(fieldName); err != nil {
				return fmt.Errorf("invalid field name %q in section %q: %w", fieldName, sectionName, err)
			}
			if fieldName == rules.AnswersVariable {
				return fmt.Errorf("field name %q in section %q is reserved for the answer map", fieldName, sectionName)
			}

			if other, dup := owner[fieldName]; dup {
				return fmt.Errorf("field %q is declared in both section %q and section %q", fieldName, other, sectionName)
			}
			owner[fieldName] = sectionName

			if typeName == "" {
				return fmt.Errorf("field %q in section %q has empty type name", fieldName, sectionName)
			}

			if strings.TrimSpace(typeName) != typeName {
				return fmt.Errorf("field %q in section %q has type with leading/trailing whitespace: %q", fieldName, sectionName, typeName)
			}

			if !isValidFieldType(typeName) {
				return fmt.Errorf("field %q in section %q has invalid type %q (must be one of: string, number, boolean, list, date, any)", fieldName, sectionName, typeName)
			}
		}
	}

	return nil
}

// ValidateRuleSetAgainstSchema checks that every field a rule condition
// compares is declared by the schema
func ValidateRuleSetAgainstSchema(schema Schema, rs *rules.RuleSet) error {
	if rs == nil {
		return fmt.Errorf("%w: rule set is nil", rules.ErrInvalidRuleSet)
	}

	var problems []error
	for i, rule := range rs.Rules {
		for _, field := range rules.Fields(rule.Condition) {
			if _, ok := schema.FieldType(field); !ok {
				problems = append(problems, fmt.Errorf("rule %d (%s): field %q is not declared by the schema", i, rule.ID, field))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("rule set %s: %w: %w", rs.ID, rules.ErrInvalidRuleSet, errors.Join(problems...))
	}
	return nil
}

// validateIdentifier validates a section or field name: 1-100 characters
// matching ^[a-zA-Z_][a-zA-Z0-9_]*$ and not a reserved keyword
func validateIdentifier(name string) error {
	switch {
	case name == "":
		return errors.New("identifier is empty")
	case len(name) > maxIdentifierLength:
		return fmt.Errorf("identifier is %d characters, limit is %d", len(name), maxIdentifierLength)
	case !identifierPattern.MatchString(name):
		return fmt.Errorf("%q must start with a letter or underscore and contain only letters, digits and underscores", name)
	case isReservedKeyword(name):
		return fmt.Errorf("%q is a reserved word", name)
	}
	return nil
}

// isValidFieldType reports whether typeName is a supported answer type.
// Type names are case-sensitive.
func isValidFieldType(typeName string) bool {
	switch typeName {
	case "string", "number", "boolean", "list", "date", "any":
		return true
	}
	return false
}

// celReserved are identifiers the CEL parser will not accept as variables
var celReserved = map[string]struct{}{
	"as": {}, "break": {}, "const": {}, "continue": {}, "else": {}, "false": {},
	"for": {}, "function": {}, "if": {}, "import": {}, "in": {}, "let": {},
	"loop": {}, "namespace": {}, "null": {}, "package": {}, "return": {},
	"true": {}, "var": {}, "void": {}, "while": {},
}

func isReservedKeyword(name string) bool {
	_, ok := celReserved[name]
	return ok
}
