package main

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/rules"
)

var logLevelOverride string

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "rulecheck",
		Short:        "Validate and evaluate conditional form rules",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevelOverride == "" {
				return nil
			}
			level, err := logger.ParseLevel(logLevelOverride)
			if err != nil {
				return err
			}
			logger.SetLevel(level)
			logger.SetSampleRate(1)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		newValidateCmd(),
		newEvalCmd(),
		newFieldCmd(),
	)

	return cmd
}

func newValidateCmd() *cobra.Command {
	var variables []string

	cmd := &cobra.Command{
		Use:   "validate <rules-file>",
		Short: "Check that every rule in a file can be evaluated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := rules.LoadRuleSetFile(args[0])
			if err != nil {
				return err
			}

			env, err := rules.NewEnv(variables...)
			if err != nil {
				return err
			}
			if err := rules.ValidateRuleSet(env, rs); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d rules\n", len(rs.Rules))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&variables, "var", nil, "Answer names usable as bare expression variables")
	return cmd
}

type evalOptions struct {
	debug    bool
	fields   []string
	sections []string
	output   string
}

type evalOutput struct {
	ActiveRules     []string                      `json:"activeRules"`
	Visibility      map[string]bool               `json:"visibility"`
	Requirements    map[string]bool               `json:"requirements"`
	Enablement      map[string]bool               `json:"enablement"`
	ComputedClasses string                        `json:"computedClasses"`
	ComputedStyles  map[string]any                `json:"computedStyles"`
	Fields          map[string]rules.FieldState   `json:"fields,omitempty"`
	Sections        map[string]rules.SectionState `json:"sections,omitempty"`
}

func newEvalCmd() *cobra.Command {
	opts := evalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <rules-file> <answers-file>",
		Short: "Evaluate a rule file against a YAML or JSON answer map",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd.OutOrStdout(), args[0], args[1], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Log a trace of the evaluation")
	cmd.Flags().StringSliceVar(&opts.fields, "field", nil, "Field ids to resolve into render states")
	cmd.Flags().StringSliceVar(&opts.sections, "section", nil, "Section ids to resolve into render states")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "json", "Output format (json|yaml)")
	return cmd
}

func runEval(out io.Writer, rulesPath, answersPath string, opts evalOptions) error {
	if opts.output != "json" && opts.output != "yaml" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	rs, err := rules.LoadRuleSetFile(rulesPath)
	if err != nil {
		return err
	}
	answers, err := rules.LoadAnswersFile(answersPath)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(answers))
	for name := range answers {
		if identifier.MatchString(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	env, err := rules.NewEnv(names...)
	if err != nil {
		return err
	}
	compiled, err := rules.CompileRules(env, rs.Rules)
	if err != nil {
		return err
	}

	evaluator := rules.NewEvaluator(rules.WithTraceSink(rules.LogTraceSink{}))
	result := evaluator.Evaluate(answers, compiled, opts.debug)

	report := evalOutput{
		ActiveRules:     make([]string, 0, len(result.ActiveRules)),
		Visibility:      result.Visibility,
		Requirements:    result.Requirements,
		Enablement:      result.Enablement,
		ComputedClasses: result.ComputedClasses,
		ComputedStyles:  result.ComputedStyles,
	}
	for _, rule := range result.ActiveRules {
		report.ActiveRules = append(report.ActiveRules, rule.ID)
	}
	if len(opts.fields) > 0 {
		report.Fields = make(map[string]rules.FieldState, len(opts.fields))
		for _, id := range opts.fields {
			report.Fields[id] = result.Field(id)
		}
	}
	if len(opts.sections) > 0 {
		report.Sections = make(map[string]rules.SectionState, len(opts.sections))
		for _, id := range opts.sections {
			report.Sections[id] = result.Section(id)
		}
	}

	return write(out, report, opts.output)
}

func newFieldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "field <rules-file> <field-id>",
		Short: "List the rules whose condition references a field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := rules.LoadRuleSetFile(args[0])
			if err != nil {
				return err
			}

			for _, rule := range rules.RulesForField(rs.Rules, args[1]) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", rule.ID, rule.Action)
			}
			return nil
		},
	}
}

// write encodes v as indented JSON, or as YAML with the same keys
func write(out io.Writer, v any, format string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	if format == "json" {
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to re-decode result: %w", err)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return enc.Close()
}
