package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fluffyengine/fluffy-engine/internal/deploy"
	"github.com/fluffyengine/fluffy-engine/internal/policy"
)

func newDeployCmd(o *rootOptions) *cobra.Command {
	var (
		timeout    time.Duration
		skipChecks bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Create or update both stacks",
		Long: `Deploy checks that the credentials belong to the target account and that
the key pair exists, then creates or updates the network stack followed by
the server stack, waiting for each to complete.

Examples:
    fluffy-engine deploy -c account=123456789012 -c region=us-east-1
    fluffy-engine deploy --mode ssm-lookup --timeout 45m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := o.loadApp(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timeout") {
				res.Deployment.AWS.Timeout = timeout
			}

			if !skipChecks {
				in, err := policy.InputFrom(res)
				if err != nil {
					return err
				}
				checked := policy.Check(in, policy.Options{})
				for _, issue := range checked.Warnings() {
					fmt.Fprintf(o.stderr, "%s %s\n", color.YellowString("WARNING:"), policy.Format(issue))
				}
				if !checked.Success {
					for _, issue := range checked.Errors() {
						fmt.Fprintf(o.stderr, "%s %s\n", color.RedString("ERROR:"), policy.Format(issue))
					}
					return fmt.Errorf("policy check failed, not deploying")
				}
			}

			deployer, err := o.newDeployer(ctx, res.Deployment)
			if err != nil {
				return err
			}
			results, err := deployer.Deploy(ctx, res)
			o.printStackResults(results)
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", deploy.DefaultTimeout, "Maximum wait per stack")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Deploy even when policy rules fail")

	return cmd
}

func newDestroyCmd(o *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete both stacks",
		Long: `Destroy deletes the server stack, then the network stack, waiting for each.

Examples:
    fluffy-engine destroy -c account=123456789012 -c region=us-east-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := o.loadApp(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("timeout") {
				res.Deployment.AWS.Timeout = timeout
			}
			deployer, err := o.newDeployer(ctx, res.Deployment)
			if err != nil {
				return err
			}
			results, err := deployer.Destroy(ctx, res)
			o.printStackResults(results)
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", deploy.DefaultTimeout, "Maximum wait per stack")

	return cmd
}

func newOutputsCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "Show the outputs of the deployed stacks",
		Long: `Outputs prints the VPC ID, load balancer DNS name, target group ARN and the
public IP and instance ID of every server.

Examples:
    fluffy-engine outputs -c account=123456789012 -c region=us-east-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := o.loadApp(ctx)
			if err != nil {
				return err
			}
			deployer, err := o.newDeployer(ctx, res.Deployment)
			if err != nil {
				return err
			}
			results, err := deployer.Outputs(ctx, res)
			if err != nil {
				return err
			}
			o.printStackResults(results)
			return nil
		},
	}
}

func newRegisterCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Register the servers with the load balancer target group",
		Long: `Register reads the instance IDs from the server stack outputs and the target
group ARN from the network stack outputs, registers the instances on the VPN
port and reports target health.

Examples:
    fluffy-engine register -c account=123456789012 -c region=us-east-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			res, err := o.loadApp(ctx)
			if err != nil {
				return err
			}
			deployer, err := o.newDeployer(ctx, res.Deployment)
			if err != nil {
				return err
			}
			reg, err := deployer.Register(ctx, res)
			if err != nil {
				return err
			}
			fmt.Fprintf(o.stdout, "Registered %d instance(s) with %s\n\n", len(reg.InstanceIDs), reg.TargetGroupARN)
			for _, h := range reg.Health {
				line := fmt.Sprintf("  %s:%d %s", h.InstanceID, h.Port, h.State)
				if h.Description != "" {
					line += " (" + h.Description + ")"
				}
				fmt.Fprintln(o.stdout, line)
			}
			return nil
		},
	}
}

func (o *rootOptions) printStackResults(results []deploy.StackResult) {
	for _, r := range results {
		fmt.Fprintf(o.stdout, "%s: %s\n", color.CyanString(r.Stack), r.Action)
		for _, out := range r.Outputs {
			fmt.Fprintf(o.stdout, "  %s = %s\n", out.Key, out.Value)
		}
	}
}
