// Package environment resolves the target AWS account and region of a
// deployment before any stack is declared.
//
// Three interchangeable modes exist and exactly one is active per run:
//
//	ssm-lookup      read the pair from SSM Parameter Store
//	static-literal  use literal values from configuration
//	cli-context     require -c account=... and -c region=... on the command line
package environment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Mode names an environment resolution strategy.
type Mode string

const (
	ModeSSMLookup     Mode = "ssm-lookup"
	ModeStaticLiteral Mode = "static-literal"
	ModeCLIContext    Mode = "cli-context"
)

// Context keys read in cli-context mode.
const (
	ContextAccount = "account"
	ContextRegion  = "region"
)

// Default SSM parameter names read in ssm-lookup mode.
const (
	DefaultAccountParameter = "/environment/account-id"
	DefaultRegionParameter  = "/environment/region"
)

var (
	// ErrUnknownMode is returned for a mode name that is not one of Modes().
	ErrUnknownMode = errors.New("unknown environment mode")
	// ErrMissingContext is returned when cli-context values are absent.
	ErrMissingContext = errors.New("missing required context value")
	// ErrInvalidEnv is returned when a resolved pair is malformed.
	ErrInvalidEnv = errors.New("invalid environment")
)

var (
	accountPattern = regexp.MustCompile(`^\d{12}$`)
	regionPattern  = regexp.MustCompile(`^[a-z]{2}(-[a-z]+)+-\d+$`)
)

// Modes returns every supported mode.
func Modes() []Mode {
	return []Mode{ModeSSMLookup, ModeStaticLiteral, ModeCLIContext}
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes() {
		if string(m) == s {
			return m, nil
		}
	}
	names := make([]string, 0, 3)
	for _, m := range Modes() {
		names = append(names, string(m))
	}
	return "", fmt.Errorf("%w %q (use one of: %s)", ErrUnknownMode, s, strings.Join(names, ", "))
}

// Env is a resolved (account, region) pair.
type Env struct {
	Account string `json:"account" yaml:"account"`
	Region  string `json:"region" yaml:"region"`
}

// Validate checks that both values are present and well formed.
func (e Env) Validate() error {
	if e.Account == "" || e.Region == "" {
		return fmt.Errorf("%w: account and region must both be set (got %q, %q)", ErrInvalidEnv, e.Account, e.Region)
	}
	if !accountPattern.MatchString(e.Account) {
		return fmt.Errorf("%w: account %q is not a 12 digit AWS account ID", ErrInvalidEnv, e.Account)
	}
	if !regionPattern.MatchString(e.Region) {
		return fmt.Errorf("%w: region %q is not an AWS region name", ErrInvalidEnv, e.Region)
	}
	return nil
}

// String renders the pair the way CloudFormation tooling prints environments.
func (e Env) String() string {
	return fmt.Sprintf("aws://%s/%s", e.Account, e.Region)
}

// Resolver produces the deployment environment.
type Resolver interface {
	Resolve(ctx context.Context) (Env, error)
}

// Resolve runs r and validates its result.
func Resolve(ctx context.Context, r Resolver) (Env, error) {
	env, err := r.Resolve(ctx)
	if err != nil {
		return Env{}, err
	}
	if err := env.Validate(); err != nil {
		return Env{}, err
	}
	logrus.Debugf("Resolved environment %s", env)
	return env, nil
}

// StaticResolver returns literal values embedded in configuration.
type StaticResolver struct {
	Account string
	Region  string
}

// Resolve implements Resolver.
func (r StaticResolver) Resolve(context.Context) (Env, error) {
	return Env{Account: r.Account, Region: r.Region}, nil
}

// ContextResolver reads the pair from command-line context values.
type ContextResolver struct {
	Values map[string]string
}

// Resolve implements Resolver. Every absent key is reported at once.
func (r ContextResolver) Resolve(context.Context) (Env, error) {
	var missing []string
	for _, key := range []string{ContextAccount, ContextRegion} {
		if strings.TrimSpace(r.Values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Env{}, fmt.Errorf("%w: %s (pass -c %s=<value>)",
			ErrMissingContext, strings.Join(missing, ", "), missing[0])
	}
	return Env{
		Account: strings.TrimSpace(r.Values[ContextAccount]),
		Region:  strings.TrimSpace(r.Values[ContextRegion]),
	}, nil
}

// ParameterGetter fetches string parameters by name.
type ParameterGetter interface {
	GetParameters(ctx context.Context, names []string) (map[string]string, error)
}

// SSMResolver reads the pair from SSM Parameter Store.
type SSMResolver struct {
	Client           ParameterGetter
	AccountParameter string
	RegionParameter  string
}

// Resolve implements Resolver.
func (r SSMResolver) Resolve(ctx context.Context) (Env, error) {
	if r.Client == nil {
		return Env{}, errors.New("ssm-lookup mode requires an SSM client")
	}
	accountKey := r.AccountParameter
	if accountKey == "" {
		accountKey = DefaultAccountParameter
	}
	regionKey := r.RegionParameter
	if regionKey == "" {
		regionKey = DefaultRegionParameter
	}

	logrus.Debugf("Looking up %s and %s in SSM Parameter Store", accountKey, regionKey)
	values, err := r.Client.GetParameters(ctx, []string{accountKey, regionKey})
	if err != nil {
		return Env{}, fmt.Errorf("reading environment parameters: %w", err)
	}

	var missing []string
	for _, key := range []string{accountKey, regionKey} {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Env{}, fmt.Errorf("%w: SSM parameters %s are empty or absent",
			ErrInvalidEnv, strings.Join(missing, ", "))
	}

	return Env{Account: values[accountKey], Region: values[regionKey]}, nil
}

// Options carries what each mode needs to build its resolver.
type Options struct {
	Static           Env
	Context          map[string]string
	SSM              ParameterGetter
	AccountParameter string
	RegionParameter  string
}

// NewResolver returns the resolver for mode.
func NewResolver(mode Mode, opts Options) (Resolver, error) {
	switch mode {
	case ModeStaticLiteral:
		return StaticResolver{Account: opts.Static.Account, Region: opts.Static.Region}, nil
	case ModeCLIContext:
		return ContextResolver{Values: opts.Context}, nil
	case ModeSSMLookup:
		return SSMResolver{
			Client:           opts.SSM,
			AccountParameter: opts.AccountParameter,
			RegionParameter:  opts.RegionParameter,
		}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, mode)
	}
}

// ParseContext parses repeated key=value pairs from the command line.
func ParseContext(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context %q: expected key=value", pair)
		}
		values[key] = value
	}
	return values, nil
}
