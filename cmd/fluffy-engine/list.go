package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
)

func newListCmd(o *rootOptions) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List declared resources",
		Long: `List declares both stacks and displays their resources in dependency order.

Examples:
    fluffy-engine list -c account=123456789012 -c region=us-east-1
    fluffy-engine list --mode static-literal --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := listResources(res)
			if err != nil {
				return err
			}
			return o.outputListResult(result, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")

	return cmd
}

func listResources(res *app.Result) (fluffy.ListResult, error) {
	result := fluffy.ListResult{Resources: []fluffy.ListResource{}}

	ordered, err := res.App.Order()
	if err != nil {
		return result, err
	}
	for _, s := range ordered {
		declared, err := s.Resources()
		if err != nil {
			return result, err
		}
		for _, r := range declared {
			result.Resources = append(result.Resources, fluffy.ListResource{
				Stack:     s.Name(),
				Name:      r.Name,
				Type:      r.Type,
				DependsOn: r.Dependencies,
			})
		}
	}
	return result, nil
}

func (o *rootOptions) outputListResult(result fluffy.ListResult, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(o.stdout, string(data))

	case "text":
		if len(result.Resources) == 0 {
			fmt.Fprintln(o.stdout, "No resources found.")
			return nil
		}

		fmt.Fprintf(o.stdout, "Declared resources (%d):\n", len(result.Resources))
		current := ""
		for _, res := range result.Resources {
			if res.Stack != current {
				current = res.Stack
				fmt.Fprintf(o.stdout, "\n%s\n", current)
			}
			fmt.Fprintf(o.stdout, "  %s: %s\n", res.Name, res.Type)
		}

	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	return nil
}
