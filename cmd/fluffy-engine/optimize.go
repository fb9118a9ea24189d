package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
	"github.com/fluffyengine/fluffy-engine/internal/optimizer"
)

func newOptimizeCmd(o *rootOptions) *cobra.Command {
	var (
		outputFormat string
		category     string
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Suggest deployment improvements",
		Long: `Optimize analyzes the synthesized stacks and suggests improvements
for security, cost, performance, and reliability. Suggestions never fail the run.

Categories:
    security     - Instance metadata and access hardening
    cost         - Instance sizing
    performance  - Load balancer settings
    reliability  - Server count, zone spread, health checks

Examples:
    fluffy-engine optimize -c account=123456789012 -c region=us-east-1
    fluffy-engine optimize --category reliability --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !optimizer.ValidCategory(category) {
				return fmt.Errorf("invalid category: %s (valid: %s)", category, strings.Join(optimizer.Categories, ", "))
			}
			res, err := o.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := runOptimize(res, category)
			if err != nil {
				return err
			}
			return o.outputOptimizeResult(result, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringVar(&category, "category", "all", "Category: all, security, cost, performance, or reliability")

	return cmd
}

func runOptimize(res *app.Result, category string) (fluffy.OptimizeResult, error) {
	optResult, err := optimizer.Optimize(res, optimizer.Options{Category: category})
	if err != nil {
		return fluffy.OptimizeResult{}, fmt.Errorf("optimize failed: %w", err)
	}
	suggestions := optResult.Suggestions
	if suggestions == nil {
		suggestions = []fluffy.OptimizeSuggestion{}
	}
	return fluffy.OptimizeResult{
		Success:       true,
		Suggestions:   suggestions,
		ResourceCount: optResult.ResourceCount,
		Summary:       optResult.Summary,
	}, nil
}

func (o *rootOptions) outputOptimizeResult(result fluffy.OptimizeResult, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(o.stdout, string(data))

	case "text":
		if len(result.Suggestions) == 0 {
			fmt.Fprintf(o.stdout, "Analyzed %d resources. No optimization suggestions.\n", result.ResourceCount)
			return nil
		}

		fmt.Fprintf(o.stdout, "Analyzed %d resources. Found %d suggestions:\n\n", result.ResourceCount, result.Summary.Total)

		byCat := map[string][]fluffy.OptimizeSuggestion{}
		for _, s := range result.Suggestions {
			byCat[s.Category] = append(byCat[s.Category], s)
		}

		for _, cat := range optimizer.Categories[1:] {
			suggestions := byCat[cat]
			if len(suggestions) == 0 {
				continue
			}

			fmt.Fprintf(o.stdout, "=== %s (%d) ===\n", capitalize(cat), len(suggestions))
			for _, s := range suggestions {
				fmt.Fprintf(o.stdout, "\n[%s] %s (%s)\n", s.Severity, s.Title, s.Rule)
				fmt.Fprintf(o.stdout, "  Resource: %s/%s\n", s.Stack, s.Resource)
				fmt.Fprintf(o.stdout, "  %s\n", s.Description)
				fmt.Fprintf(o.stdout, "  Suggestion: %s\n", s.Suggestion)
			}
			fmt.Fprintln(o.stdout)
		}

		fmt.Fprintf(o.stdout, "Summary: %d security, %d cost, %d performance, %d reliability\n",
			result.Summary.Security, result.Summary.Cost,
			result.Summary.Performance, result.Summary.Reliability)

	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	return nil
}

func capitalize(s string) string {
	if len(s) == 0 {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
