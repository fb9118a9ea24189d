package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/policy"
	"github.com/fluffyengine/fluffy-engine/internal/validation"
)

// errValidationFailed makes the command exit nonzero after the report
// has been printed.
var errValidationFailed = errors.New("validation failed")

// newValidateCmd creates the "validate" subcommand for checking the rendered templates.
func newValidateCmd(o *rootOptions) *cobra.Command {
	var (
		outputFormat string
		outputDir    string
		rules        []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the rendered templates",
		Long: `Validate synthesizes both stacks and checks them.

Checks performed:
  - cfn-lint: every template against the CloudFormation resource schemas
  - FE001: the VPN data port is only reachable from the load balancer
  - FE002: SSH is restricted to the single admin address
  - FE003: the server stack depends on the network stack
  - FE004: one public IP and instance ID output per instance
  - FE005: the machine image comes from an SSM parameter
  - FE006: the bootstrap repository is pinned (warning)
  - FE007: the admin address is not a documentation placeholder (warning)

Examples:
    fluffy-engine validate -c account=123456789012 -c region=us-east-1
    fluffy-engine validate --mode static-literal --format json
    fluffy-engine validate --rules FE001,FE002`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := o.loadApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := validation.Validate(res, outputDir, policy.Options{EnabledRules: rules})
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			return o.outputValidateResult(result.Summary(), outputFormat)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Keep the synthesized templates in this directory")
	cmd.Flags().StringSliceVar(&rules, "rules", nil, "Only run these policy rules (default: all)")

	return cmd
}

func (o *rootOptions) outputValidateResult(result fluffy.ValidateResult, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(o.stdout, string(data))

	case "text":
		if result.Success {
			fmt.Fprintf(o.stdout, "Validation passed: %d resources OK\n", result.Resources)
			for _, warnMsg := range result.Warnings {
				fmt.Fprintf(o.stdout, "  %s %s\n", color.YellowString("WARNING:"), warnMsg)
			}
			return nil
		}

		fmt.Fprintln(o.stdout, "Validation FAILED:")
		for _, errMsg := range result.Errors {
			fmt.Fprintf(o.stdout, "  %s %s\n", color.RedString("ERROR:"), errMsg)
		}
		for _, warnMsg := range result.Warnings {
			fmt.Fprintf(o.stdout, "  %s %s\n", color.YellowString("WARNING:"), warnMsg)
		}

	default:
		return fmt.Errorf("unknown format: %s", format)
	}

	if !result.Success {
		return errValidationFailed
	}

	return nil
}
