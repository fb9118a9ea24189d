// Command fluffy-engine renders and deploys a WireGuard VPN on AWS as two
// CloudFormation stacks.
//
// Usage:
//
//	fluffy-engine synth -c account=123456789012 -c region=us-east-1
//	fluffy-engine validate --mode static-literal
//	fluffy-engine deploy -c account=123456789012 -c region=us-east-1 -c count=2
//	fluffy-engine version
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fluffyengine/fluffy-engine/internal/app"
	awsclient "github.com/fluffyengine/fluffy-engine/internal/aws"
	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/deploy"
	"github.com/fluffyengine/fluffy-engine/internal/environment"
	"github.com/fluffyengine/fluffy-engine/internal/log"
)

func main() {
	root := newRootCmd(newRootOptions(os.Stdout, os.Stderr))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

// rootOptions carries the persistent flags and the factories for AWS
// clients, replaced in tests.
type rootOptions struct {
	configFile string
	mode       string
	context    []string
	logLevel   string
	debug      bool
	profile    string

	stdout io.Writer
	stderr io.Writer

	newParameterGetter func(ctx context.Context, profile, region string) (environment.ParameterGetter, error)
	newDeployer        func(ctx context.Context, d *config.Deployment) (*deploy.Deployer, error)
}

func newRootOptions(stdout, stderr io.Writer) *rootOptions {
	return &rootOptions{
		stdout:             stdout,
		stderr:             stderr,
		newParameterGetter: defaultParameterGetter,
		newDeployer:        defaultDeployer,
	}
}

func newRootCmd(o *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fluffy-engine",
		Short: "Deploy a WireGuard VPN on AWS with CloudFormation",
		Long: `fluffy-engine declares a WireGuard VPN deployment on AWS and renders it
into two CloudFormation stacks:

    FluffyEngineNetworkStack   VPC, public subnets, UDP network load balancer
    FluffyEngineServerStack    EC2 instances that bootstrap wireguard-manager

The target account and region come from one of three modes:

    ssm-lookup       read /environment/account-id and /environment/region from SSM
                     in aws.region (FLUFFY_AWS_REGION), else the profile's region
    static-literal   use static.account and static.region from the config file
    cli-context      use -c account=... -c region=... (default)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.SetOutput(o.stderr)
			return log.SetLogLevel(o.logLevel, o.debug)
		},
	}
	rootCmd.SetOut(o.stdout)
	rootCmd.SetErr(o.stderr)

	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringVar(&o.configFile, "config", "",
		"Path to a config file (default: ./"+config.FileName+".yaml if present)")
	flags.StringVar(&o.mode, "mode", "",
		"Environment mode: "+modeNames()+" (overrides the config file)")
	flags.StringArrayVarP(&o.context, "context", "c", nil,
		"Context value as key=value (account, region, count, admin_cidr, instance_type, key_pair)")
	flags.StringVar(&o.logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	flags.BoolVar(&o.debug, "debug", false, "Use debug mode, same as --log-level debug")
	flags.StringVar(&o.profile, "profile", "", "AWS shared config profile")

	rootCmd.AddCommand(
		newSynthCmd(o),
		newListCmd(o),
		newGraphCmd(o),
		newValidateCmd(o),
		newOptimizeCmd(o),
		newDiffCmd(o),
		newDeployCmd(o),
		newDestroyCmd(o),
		newOutputsCmd(o),
		newRegisterCmd(o),
		newWatchCmd(o),
		newVersionCmd(o),
	)

	return rootCmd
}

func modeNames() string {
	names := make([]string, 0, 3)
	for _, m := range environment.Modes() {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}

// loadDeployment layers defaults, config file, FLUFFY_ variables, flags and
// context values, then resolves the target environment.
func (o *rootOptions) loadDeployment(ctx context.Context) (*config.Deployment, error) {
	v, err := config.New(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.mode != "" {
		v.Set("mode", o.mode)
	}
	if o.profile != "" {
		v.Set("aws.profile", o.profile)
	}

	d, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	values, err := environment.ParseContext(o.context)
	if err != nil {
		return nil, err
	}
	if err := d.ApplyContext(values); err != nil {
		return nil, err
	}
	for _, key := range unusedContextKeys(d.Mode, values) {
		logrus.Warnf("Ignoring -c %s=%s: mode %s does not read the environment from context", key, values[key], d.Mode)
	}

	opts := environment.Options{
		Static:           d.Static,
		Context:          values,
		AccountParameter: d.SSM.AccountParameter,
		RegionParameter:  d.SSM.RegionParameter,
	}
	if d.Mode == environment.ModeSSMLookup {
		opts.SSM, err = o.newParameterGetter(ctx, d.AWS.Profile, d.AWS.Region)
		if err != nil {
			return nil, err
		}
	}

	resolver, err := environment.NewResolver(d.Mode, opts)
	if err != nil {
		return nil, err
	}
	d.Env, err = environment.Resolve(ctx, resolver)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// loadApp resolves the deployment and declares both stacks.
func (o *rootOptions) loadApp(ctx context.Context) (*app.Result, error) {
	d, err := o.loadDeployment(ctx)
	if err != nil {
		return nil, err
	}
	return app.Build(d)
}

// unusedContextKeys returns the environment keys given with -c that mode
// does not read.
func unusedContextKeys(mode environment.Mode, values map[string]string) []string {
	if mode == environment.ModeCLIContext {
		return nil
	}
	var keys []string
	for _, key := range []string{environment.ContextAccount, environment.ContextRegion} {
		if _, ok := values[key]; ok {
			keys = append(keys, key)
		}
	}
	return keys
}

func defaultParameterGetter(ctx context.Context, profile, region string) (environment.ParameterGetter, error) {
	clients, err := awsclient.NewServiceClient(ctx, profile, region)
	if err != nil {
		return nil, err
	}
	return clients.SSM, nil
}

func defaultDeployer(ctx context.Context, d *config.Deployment) (*deploy.Deployer, error) {
	clients, err := awsclient.NewServiceClient(ctx, d.AWS.Profile, d.Env.Region)
	if err != nil {
		return nil, err
	}
	return &deploy.Deployer{
		Stacks:   clients.CloudFormation,
		KeyPairs: clients.EC2,
		Accounts: clients.STS,
		Targets:  clients.ELB,
		Timeout:  d.AWS.Timeout,
	}, nil
}
