package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openctemio/vulnsync/internal/app"
	"github.com/openctemio/vulnsync/internal/config"
	"github.com/openctemio/vulnsync/pkg/domain/rule"
)

// ruleView is the printable form of a rule.
type ruleView struct {
	Index          int               `json:"index" yaml:"index"`
	ID             string            `json:"id" yaml:"id"`
	Type           string            `json:"type" yaml:"type"`
	Operator       string            `json:"operator" yaml:"operator"`
	Value          string            `json:"value" yaml:"value"`
	MinimumScore   *float64          `json:"minimumScore,omitempty" yaml:"minimumScore,omitempty"`
	StopAfterMatch bool              `json:"stopAfterMatch" yaml:"stopAfterMatch"`
	Params         map[string]string `json:"params" yaml:"params"`
}

type rulesView struct {
	Rules      []ruleView `json:"rules" yaml:"rules"`
	IgnoreRest bool       `json:"ignore_rest" yaml:"ignore_rest"`
	DefaultID  string     `json:"default_id" yaml:"default_id"`
}

func newRulesCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "rules CONFIG",
		Short: "Validate the configuration and list the rules",
		Long: `Validate CONFIG and print each rule with its ID.

Issues are summarised as "Dynatrace issue <displayId>-<ruleId>: <title>",
so the ID is what to search Jira for. The remainder no rule matched uses
ID ` + app.DefaultRuleID + `.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			rules, err := cfg.BuildRules()
			if err != nil {
				return err
			}
			return printRules(cmd, output, cfg, rules)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table, json, yaml")
	return cmd
}

func printRules(cmd *cobra.Command, output string, cfg *config.Config, rules []*rule.Rule) error {
	view := rulesView{
		Rules:      make([]ruleView, 0, len(rules)),
		IgnoreRest: cfg.IgnoreRest,
		DefaultID:  app.DefaultRuleID,
	}
	for i, r := range rules {
		rv := ruleView{
			Index:          i,
			ID:             r.ID(),
			Type:           r.Kind().String(),
			Operator:       string(r.Operator()),
			Value:          r.Value(),
			StopAfterMatch: r.StopAfterMatch(),
			Params:         r.Params(),
		}
		if score, ok := r.MinimumScore(); ok {
			rv.MinimumScore = &score
		}
		view.Rules = append(view.Rules, rv)
	}

	out := cmd.OutOrStdout()
	switch output {
	case outputJSON:
		return printJSON(out, view)
	case outputYAML:
		return printYAML(out, view)
	case outputTable:
	default:
		return fmt.Errorf("unknown output format %q", output)
	}

	t := newTable(out, "#", "ID", "TYPE", "OPERATOR", "VALUE", "MIN_SCORE", "STOP", "PARAMS")
	for _, rv := range view.Rules {
		score := "-"
		if rv.MinimumScore != nil {
			score = strconv.FormatFloat(*rv.MinimumScore, 'f', -1, 64)
		}
		t.AddRow(
			strconv.Itoa(rv.Index),
			rv.ID,
			rv.Type,
			rv.Operator,
			strconv.Quote(truncate(rv.Value, 40)),
			score,
			boolToStr(rv.StopAfterMatch),
			formatParams(rv.Params),
		)
	}
	if err := t.Flush(); err != nil {
		return err
	}

	rest := "filed with jira_defaults"
	if cfg.IgnoreRest {
		rest = "ignored"
	}
	fmt.Fprintf(out, "\n%d rule(s); unmatched remainder (ID %s) is %s\n", len(view.Rules), app.DefaultRuleID, rest)
	return nil
}

func formatParams(params map[string]string) string {
	parts := make([]string, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, ",")
}
