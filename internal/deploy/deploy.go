// Package deploy creates, updates and deletes the deployment's stacks
// through CloudFormation in dependency order.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
	awscfn "github.com/fluffyengine/fluffy-engine/internal/aws/cloudformation"
	awselb "github.com/fluffyengine/fluffy-engine/internal/aws/elb"
	"github.com/fluffyengine/fluffy-engine/internal/differ"
	"github.com/fluffyengine/fluffy-engine/internal/network"
	"github.com/fluffyengine/fluffy-engine/internal/stack"
	"github.com/fluffyengine/fluffy-engine/internal/template"
)

// DefaultTimeout bounds each stack wait when Deployer.Timeout is zero.
const DefaultTimeout = 30 * time.Minute

// ErrPreflight wraps every preflight failure.
var ErrPreflight = errors.New("preflight check failed")

// Stacks is the CloudFormation surface the deployer drives.
type Stacks interface {
	DescribeStack(ctx context.Context, name string) (*awscfn.Stack, error)
	CreateStack(ctx context.Context, in awscfn.StackInput) (string, error)
	UpdateStack(ctx context.Context, in awscfn.StackInput) (string, error)
	DeleteStack(ctx context.Context, name string) error
	GetTemplate(ctx context.Context, name string) (string, error)
	FailureEvents(ctx context.Context, name string) ([]awscfn.StackEvent, error)
	Wait(ctx context.Context, name string, op awscfn.Operation, maxWait time.Duration) error
}

// KeyPairs checks that the instance key pair exists.
type KeyPairs interface {
	KeyPairExists(ctx context.Context, name string) (bool, error)
}

// Accounts returns the account of the active credentials.
type Accounts interface {
	AccountID(ctx context.Context) (string, error)
}

// Targets registers instances with a target group.
type Targets interface {
	RegisterInstances(ctx context.Context, targetGroupARN string, instanceIDs []string, port int) error
	TargetHealth(ctx context.Context, targetGroupARN string) ([]awselb.TargetHealth, error)
}

// Deployer applies an assembled app to an AWS account.
type Deployer struct {
	Stacks   Stacks
	KeyPairs KeyPairs
	Accounts Accounts
	Targets  Targets

	// Timeout bounds the wait for each stack operation.
	Timeout time.Duration
}

// Action is what Deploy did to one stack.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionDeleted   Action = "deleted"
	ActionAbsent    Action = "absent"
)

// StackResult reports the outcome for one stack.
type StackResult struct {
	Stack   string
	Action  Action
	Outputs []awscfn.StackOutput
}

func (d *Deployer) timeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Preflight verifies the credentials belong to the resolved account and the
// key pair exists before anything is created.
func (d *Deployer) Preflight(ctx context.Context, res *app.Result) error {
	env := res.App.Env()

	if d.Accounts != nil {
		account, err := d.Accounts.AccountID(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPreflight, err)
		}
		if account != env.Account {
			return fmt.Errorf("%w: credentials belong to account %s, deployment targets %s",
				ErrPreflight, account, env.Account)
		}
	}

	if d.KeyPairs != nil {
		name := res.Deployment.Compute.KeyPairName
		ok, err := d.KeyPairs.KeyPairExists(ctx, name)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPreflight, err)
		}
		if !ok {
			return fmt.Errorf("%w: key pair %q does not exist in %s", ErrPreflight, name, env.Region)
		}
	}

	logrus.Debugf("Preflight passed for %s", env)
	return nil
}

// Deploy creates or updates every stack in dependency order. A stack that
// fails stops the run; stacks after it are not touched.
func (d *Deployer) Deploy(ctx context.Context, res *app.Result) ([]StackResult, error) {
	if err := d.Preflight(ctx, res); err != nil {
		return nil, err
	}

	ordered, err := res.App.Order()
	if err != nil {
		return nil, err
	}

	var results []StackResult
	for _, s := range ordered {
		r, err := d.apply(ctx, res, s)
		if err != nil {
			return results, err
		}
		results = append(results, *r)
	}
	return results, nil
}

func (d *Deployer) apply(ctx context.Context, res *app.Result, s *stack.Stack) (*StackResult, error) {
	tmpl, err := s.Template()
	if err != nil {
		return nil, err
	}
	body, err := template.ToJSON(tmpl)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", s.Name(), err)
	}

	in := awscfn.StackInput{
		Name:         s.Name(),
		TemplateBody: string(body),
		Tags:         res.Deployment.Tags,
	}

	existing, err := d.Stacks.DescribeStack(ctx, s.Name())
	if err != nil {
		return nil, err
	}

	// A stack whose creation rolled back cannot be updated.
	if existing != nil && existing.Status == "ROLLBACK_COMPLETE" {
		logrus.Warnf("Stack %s is in ROLLBACK_COMPLETE, deleting before recreating", s.Name())
		if err := d.delete(ctx, s.Name()); err != nil {
			return nil, err
		}
		existing = nil
	}

	action := ActionCreated
	op := awscfn.OpCreate
	if existing == nil {
		logrus.Infof("Creating stack %s", s.Name())
		if _, err := d.Stacks.CreateStack(ctx, in); err != nil {
			return nil, err
		}
	} else {
		logrus.Infof("Updating stack %s", s.Name())
		_, err := d.Stacks.UpdateStack(ctx, in)
		switch {
		case errors.Is(err, awscfn.ErrNoUpdates):
			logrus.Infof("Stack %s is up to date", s.Name())
			return &StackResult{Stack: s.Name(), Action: ActionUnchanged, Outputs: existing.Outputs}, nil
		case err != nil:
			return nil, err
		}
		action, op = ActionUpdated, awscfn.OpUpdate
	}

	if err := d.Stacks.Wait(ctx, s.Name(), op, d.timeout()); err != nil {
		return nil, d.describeFailure(ctx, s.Name(), err)
	}

	deployed, err := d.Stacks.DescribeStack(ctx, s.Name())
	if err != nil {
		return nil, err
	}
	result := &StackResult{Stack: s.Name(), Action: action}
	if deployed != nil {
		result.Outputs = deployed.Outputs
	}
	logrus.Infof("Stack %s %s", s.Name(), action)
	return result, nil
}

// describeFailure decorates a failed wait with the resource events that
// explain it.
func (d *Deployer) describeFailure(ctx context.Context, name string, waitErr error) error {
	events, err := d.Stacks.FailureEvents(ctx, name)
	if err != nil || len(events) == 0 {
		return waitErr
	}
	reasons := make([]string, 0, len(events))
	for _, e := range events {
		reasons = append(reasons, fmt.Sprintf("%s %s: %s", e.LogicalID, e.Status, e.Reason))
	}
	return fmt.Errorf("%w\n  %s", waitErr, strings.Join(reasons, "\n  "))
}

// Destroy deletes every stack in reverse dependency order.
func (d *Deployer) Destroy(ctx context.Context, res *app.Result) ([]StackResult, error) {
	ordered, err := res.App.Order()
	if err != nil {
		return nil, err
	}
	slices.Reverse(ordered)

	var results []StackResult
	for _, s := range ordered {
		existing, err := d.Stacks.DescribeStack(ctx, s.Name())
		if err != nil {
			return results, err
		}
		if existing == nil {
			logrus.Infof("Stack %s does not exist", s.Name())
			results = append(results, StackResult{Stack: s.Name(), Action: ActionAbsent})
			continue
		}
		logrus.Infof("Deleting stack %s", s.Name())
		if err := d.delete(ctx, s.Name()); err != nil {
			return results, err
		}
		results = append(results, StackResult{Stack: s.Name(), Action: ActionDeleted})
	}
	return results, nil
}

func (d *Deployer) delete(ctx context.Context, name string) error {
	if err := d.Stacks.DeleteStack(ctx, name); err != nil {
		return err
	}
	if err := d.Stacks.Wait(ctx, name, awscfn.OpDelete, d.timeout()); err != nil {
		return d.describeFailure(ctx, name, err)
	}
	return nil
}

// Outputs returns the outputs of every deployed stack in dependency order.
// Stacks that do not exist are reported with no outputs.
func (d *Deployer) Outputs(ctx context.Context, res *app.Result) ([]StackResult, error) {
	ordered, err := res.App.Order()
	if err != nil {
		return nil, err
	}

	var results []StackResult
	for _, s := range ordered {
		existing, err := d.Stacks.DescribeStack(ctx, s.Name())
		if err != nil {
			return nil, err
		}
		r := StackResult{Stack: s.Name(), Action: ActionAbsent}
		if existing != nil {
			r.Action = ActionUnchanged
			r.Outputs = existing.Outputs
		}
		results = append(results, r)
	}
	return results, nil
}

// StackDiff is the comparison of one synthesized stack with its deployed
// template.
type StackDiff struct {
	Stack    string
	Deployed bool
	Result   *differ.Result
}

// Diff compares every synthesized template with the deployed one.
func (d *Deployer) Diff(ctx context.Context, res *app.Result, opts differ.Options) ([]StackDiff, error) {
	ordered, err := res.App.Order()
	if err != nil {
		return nil, err
	}

	var diffs []StackDiff
	for _, s := range ordered {
		tmpl, err := s.Template()
		if err != nil {
			return nil, err
		}
		desired, err := differ.Normalize(tmpl)
		if err != nil {
			return nil, fmt.Errorf("normalizing %s: %w", s.Name(), err)
		}

		existing, err := d.Stacks.DescribeStack(ctx, s.Name())
		if err != nil {
			return nil, err
		}

		sd := StackDiff{Stack: s.Name(), Deployed: existing != nil}
		var current *fluffy.Template
		if existing != nil {
			body, err := d.Stacks.GetTemplate(ctx, s.Name())
			if err != nil {
				return nil, err
			}
			current, err = differ.Parse([]byte(body))
			if err != nil {
				return nil, fmt.Errorf("parsing deployed template of %s: %w", s.Name(), err)
			}
		}

		sd.Result, err = differ.Compare(current, desired, opts)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, sd)
	}
	return diffs, nil
}

// Registration is the outcome of Register.
type Registration struct {
	TargetGroupARN string
	InstanceIDs    []string
	Health         []awselb.TargetHealth
}

// Register adds the deployed instances to the network load balancer's
// target group on the VPN port and reports target health.
func (d *Deployer) Register(ctx context.Context, res *app.Result) (*Registration, error) {
	if d.Targets == nil {
		return nil, errors.New("no load balancer client configured")
	}

	netName := res.Network.Stack.Name()
	netStack, err := d.Stacks.DescribeStack(ctx, netName)
	if err != nil {
		return nil, err
	}
	if netStack == nil {
		return nil, fmt.Errorf("stack %s is not deployed", netName)
	}
	arn, ok := netStack.Output(network.OutputTargetGroupArn)
	if !ok {
		return nil, fmt.Errorf("stack %s has no %s output", netName, network.OutputTargetGroupArn)
	}

	srvName := res.Server.Stack.Name()
	srvStack, err := d.Stacks.DescribeStack(ctx, srvName)
	if err != nil {
		return nil, err
	}
	if srvStack == nil {
		return nil, fmt.Errorf("stack %s is not deployed", srvName)
	}

	var ids []string
	for _, key := range res.Server.InstanceIDOutputs {
		id, ok := srvStack.Output(key)
		if !ok {
			return nil, fmt.Errorf("stack %s has no %s output", srvName, key)
		}
		ids = append(ids, id)
	}

	port := res.Deployment.Network.VPNPort
	logrus.Infof("Registering %d instance(s) with %s on port %d", len(ids), arn, port)
	if err := d.Targets.RegisterInstances(ctx, arn, ids, port); err != nil {
		return nil, err
	}

	health, err := d.Targets.TargetHealth(ctx, arn)
	if err != nil {
		return nil, err
	}
	return &Registration{TargetGroupARN: arn, InstanceIDs: ids, Health: health}, nil
}
