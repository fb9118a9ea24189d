package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/differ"
)

// diffOutput is the JSON shape of one compared stack or file pair.
type diffOutput struct {
	Stack    string             `json:"stack"`
	Deployed bool               `json:"deployed"`
	Diff     fluffy.TemplateDiff `json:"diff"`
	Summary  fluffy.DiffSummary `json:"summary"`
	Outputs  []string           `json:"outputs,omitempty"`
}

func newDiffCmd(o *rootOptions) *cobra.Command {
	var (
		outputFormat string
		ignoreOrder  bool
	)

	cmd := &cobra.Command{
		Use:   "diff [old-template new-template]",
		Short: "Compare rendered templates with deployed stacks",
		Long: `Diff compares each synthesized template with the template of the deployed
stack. Given two template files it compares them instead and needs no AWS
access.

Examples:
    fluffy-engine diff -c account=123456789012 -c region=us-east-1
    fluffy-engine diff old.template.json new.template.json
    fluffy-engine diff a.json b.yaml --ignore-order --format json`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("diff takes no arguments or two template files, got %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := differ.Options{IgnoreOrder: ignoreOrder}

			var outputs []diffOutput
			if len(args) == 2 {
				result, err := differ.CompareFiles(args[0], args[1], opts)
				if err != nil {
					return err
				}
				outputs = append(outputs, newDiffOutput(args[0]+" -> "+args[1], true, result))
			} else {
				res, err := o.loadApp(cmd.Context())
				if err != nil {
					return err
				}
				deployer, err := o.newDeployer(cmd.Context(), res.Deployment)
				if err != nil {
					return err
				}
				diffs, err := deployer.Diff(cmd.Context(), res, opts)
				if err != nil {
					return err
				}
				for _, sd := range diffs {
					outputs = append(outputs, newDiffOutput(sd.Stack, sd.Deployed, sd.Result))
				}
			}
			return o.outputDiff(outputs, outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().BoolVar(&ignoreOrder, "ignore-order", false, "Ignore array element order")

	return cmd
}

func newDiffOutput(name string, deployed bool, r *differ.Result) diffOutput {
	return diffOutput{
		Stack:    name,
		Deployed: deployed,
		Diff:     r.Diff,
		Summary:  r.Summary,
		Outputs:  r.Outputs,
	}
}

func (o *rootOptions) outputDiff(outputs []diffOutput, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(o.stdout, string(data))
	case "text":
		for i, out := range outputs {
			if i > 0 {
				fmt.Fprintln(o.stdout)
			}
			if !out.Deployed {
				fmt.Fprintf(o.stdout, "Stack %s is not deployed; every resource is new.\n", out.Stack)
			}
			differ.Print(o.stdout, out.Stack, &differ.Result{Diff: out.Diff, Summary: out.Summary, Outputs: out.Outputs})
		}
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
	return nil
}
