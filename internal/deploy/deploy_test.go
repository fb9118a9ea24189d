package deploy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluffyengine/fluffy-engine/internal/app"
	awscfn "github.com/fluffyengine/fluffy-engine/internal/aws/cloudformation"
	awselb "github.com/fluffyengine/fluffy-engine/internal/aws/elb"
	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/differ"
	"github.com/fluffyengine/fluffy-engine/internal/environment"
)

// fakeStacks is an in-memory CloudFormation.
type fakeStacks struct {
	stacks    map[string]*awscfn.Stack
	templates map[string]string
	calls     []string

	noUpdates bool
	failWait  string
	outputs   map[string][]awscfn.StackOutput
}

func newFakeStacks() *fakeStacks {
	return &fakeStacks{
		stacks:    map[string]*awscfn.Stack{},
		templates: map[string]string{},
		outputs:   map[string][]awscfn.StackOutput{},
	}
}

func (f *fakeStacks) DescribeStack(ctx context.Context, name string) (*awscfn.Stack, error) {
	return f.stacks[name], nil
}

func (f *fakeStacks) CreateStack(ctx context.Context, in awscfn.StackInput) (string, error) {
	f.calls = append(f.calls, "create "+in.Name)
	f.stacks[in.Name] = &awscfn.Stack{Name: in.Name, Status: "CREATE_IN_PROGRESS", Outputs: f.outputs[in.Name]}
	f.templates[in.Name] = in.TemplateBody
	return "id-" + in.Name, nil
}

func (f *fakeStacks) UpdateStack(ctx context.Context, in awscfn.StackInput) (string, error) {
	f.calls = append(f.calls, "update "+in.Name)
	if f.noUpdates {
		return "", awscfn.ErrNoUpdates
	}
	f.templates[in.Name] = in.TemplateBody
	return "id-" + in.Name, nil
}

func (f *fakeStacks) DeleteStack(ctx context.Context, name string) error {
	f.calls = append(f.calls, "delete "+name)
	delete(f.stacks, name)
	return nil
}

func (f *fakeStacks) GetTemplate(ctx context.Context, name string) (string, error) {
	return f.templates[name], nil
}

func (f *fakeStacks) FailureEvents(ctx context.Context, name string) ([]awscfn.StackEvent, error) {
	return []awscfn.StackEvent{{LogicalID: "FluffyEngineServer0", Status: "CREATE_FAILED", Reason: "key pair not found"}}, nil
}

func (f *fakeStacks) Wait(ctx context.Context, name string, op awscfn.Operation, maxWait time.Duration) error {
	f.calls = append(f.calls, fmt.Sprintf("wait %s %s", op, name))
	if name == f.failWait {
		return errors.New("waiter state transitioned to Failure")
	}
	if s, ok := f.stacks[name]; ok {
		s.Status = "CREATE_COMPLETE"
	}
	return nil
}

type fakeKeyPairs struct{ exists bool }

func (f fakeKeyPairs) KeyPairExists(ctx context.Context, name string) (bool, error) {
	return f.exists, nil
}

type fakeAccounts struct{ account string }

func (f fakeAccounts) AccountID(ctx context.Context) (string, error) { return f.account, nil }

type fakeTargets struct {
	arn   string
	ids   []string
	port  int
	calls int
}

func (f *fakeTargets) RegisterInstances(ctx context.Context, arn string, ids []string, port int) error {
	f.calls++
	f.arn, f.ids, f.port = arn, ids, port
	return nil
}

func (f *fakeTargets) TargetHealth(ctx context.Context, arn string) ([]awselb.TargetHealth, error) {
	var out []awselb.TargetHealth
	for _, id := range f.ids {
		out = append(out, awselb.TargetHealth{InstanceID: id, Port: f.port, State: "initial"})
	}
	return out, nil
}

func buildApp(t *testing.T, count int) *app.Result {
	t.Helper()
	d := config.Default()
	d.Env = environment.Env{Account: "123456789012", Region: "us-east-1"}
	d.Network.AdminCIDR = "203.0.113.10/32"
	d.Compute.Count = count
	res, err := app.Build(&d)
	require.NoError(t, err)
	return res
}

func newDeployer(stacks *fakeStacks) *Deployer {
	return &Deployer{
		Stacks:   stacks,
		KeyPairs: fakeKeyPairs{exists: true},
		Accounts: fakeAccounts{account: "123456789012"},
		Timeout:  time.Minute,
	}
}

func TestDeploy_CreatesInDependencyOrder(t *testing.T) {
	stacks := newFakeStacks()
	stacks.outputs["FluffyEngineNetworkStack"] = []awscfn.StackOutput{{Key: "VpcId", Value: "vpc-0abc"}}

	results, err := newDeployer(stacks).Deploy(context.Background(), buildApp(t, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"create FluffyEngineNetworkStack",
		"wait create FluffyEngineNetworkStack",
		"create FluffyEngineServerStack",
		"wait create FluffyEngineServerStack",
	}, stacks.calls)
	require.Len(t, results, 2)
	assert.Equal(t, ActionCreated, results[0].Action)
	assert.Equal(t, "vpc-0abc", results[0].Outputs[0].Value)
	assert.Contains(t, stacks.templates["FluffyEngineServerStack"], `"Fn::ImportValue"`)
}

func TestDeploy_NoUpdatesIsSuccess(t *testing.T) {
	stacks := newFakeStacks()
	stacks.stacks["FluffyEngineNetworkStack"] = &awscfn.Stack{Status: "CREATE_COMPLETE"}
	stacks.stacks["FluffyEngineServerStack"] = &awscfn.Stack{Status: "UPDATE_COMPLETE"}
	stacks.noUpdates = true

	results, err := newDeployer(stacks).Deploy(context.Background(), buildApp(t, 1))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ActionUnchanged, results[0].Action)
	assert.Equal(t, ActionUnchanged, results[1].Action)
	assert.NotContains(t, stacks.calls, "wait update FluffyEngineNetworkStack")
}

func TestDeploy_Update(t *testing.T) {
	stacks := newFakeStacks()
	stacks.stacks["FluffyEngineNetworkStack"] = &awscfn.Stack{Status: "CREATE_COMPLETE"}

	results, err := newDeployer(stacks).Deploy(context.Background(), buildApp(t, 1))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, results[0].Action)
	assert.Equal(t, ActionCreated, results[1].Action)
	assert.Contains(t, stacks.calls, "wait update FluffyEngineNetworkStack")
}

func TestDeploy_RecreatesRolledBackStack(t *testing.T) {
	stacks := newFakeStacks()
	stacks.stacks["FluffyEngineNetworkStack"] = &awscfn.Stack{Status: "ROLLBACK_COMPLETE"}

	_, err := newDeployer(stacks).Deploy(context.Background(), buildApp(t, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"delete FluffyEngineNetworkStack",
		"wait delete FluffyEngineNetworkStack",
		"create FluffyEngineNetworkStack",
	}, stacks.calls[:3])
}

func TestDeploy_FailureStopsAndExplains(t *testing.T) {
	stacks := newFakeStacks()
	stacks.failWait = "FluffyEngineNetworkStack"

	results, err := newDeployer(stacks).Deploy(context.Background(), buildApp(t, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key pair not found")
	assert.Empty(t, results)
	assert.NotContains(t, stacks.calls, "create FluffyEngineServerStack")
}

func TestPreflight(t *testing.T) {
	res := buildApp(t, 1)

	t.Run("account mismatch", func(t *testing.T) {
		d := newDeployer(newFakeStacks())
		d.Accounts = fakeAccounts{account: "210987654321"}
		err := d.Preflight(context.Background(), res)
		assert.ErrorIs(t, err, ErrPreflight)
		assert.Contains(t, err.Error(), "210987654321")
	})

	t.Run("missing key pair", func(t *testing.T) {
		stacks := newFakeStacks()
		d := newDeployer(stacks)
		d.KeyPairs = fakeKeyPairs{exists: false}
		_, err := d.Deploy(context.Background(), res)
		assert.ErrorIs(t, err, ErrPreflight)
		assert.Contains(t, err.Error(), `"fluffyengine"`)
		assert.Empty(t, stacks.calls)
	})

	t.Run("checks optional", func(t *testing.T) {
		d := &Deployer{Stacks: newFakeStacks()}
		assert.NoError(t, d.Preflight(context.Background(), res))
	})
}

func TestDestroy_ReverseOrder(t *testing.T) {
	stacks := newFakeStacks()
	stacks.stacks["FluffyEngineNetworkStack"] = &awscfn.Stack{Status: "CREATE_COMPLETE"}
	stacks.stacks["FluffyEngineServerStack"] = &awscfn.Stack{Status: "CREATE_COMPLETE"}

	results, err := newDeployer(stacks).Destroy(context.Background(), buildApp(t, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"delete FluffyEngineServerStack",
		"wait delete FluffyEngineServerStack",
		"delete FluffyEngineNetworkStack",
		"wait delete FluffyEngineNetworkStack",
	}, stacks.calls)
	assert.Equal(t, ActionDeleted, results[0].Action)
}

func TestDestroy_SkipsAbsent(t *testing.T) {
	stacks := newFakeStacks()
	results, err := newDeployer(stacks).Destroy(context.Background(), buildApp(t, 1))
	require.NoError(t, err)
	assert.Empty(t, stacks.calls)
	require.Len(t, results, 2)
	assert.Equal(t, ActionAbsent, results[0].Action)
}

func TestOutputs(t *testing.T) {
	stacks := newFakeStacks()
	stacks.stacks["FluffyEngineNetworkStack"] = &awscfn.Stack{Outputs: []awscfn.StackOutput{{Key: "NlbDnsName", Value: "nlb.example"}}}

	results, err := newDeployer(stacks).Outputs(context.Background(), buildApp(t, 1))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "nlb.example", results[0].Outputs[0].Value)
	assert.Equal(t, ActionAbsent, results[1].Action)
}

func TestDiff(t *testing.T) {
	stacks := newFakeStacks()
	d := newDeployer(stacks)

	_, err := d.Deploy(context.Background(), buildApp(t, 1))
	require.NoError(t, err)

	diffs, err := d.Diff(context.Background(), buildApp(t, 1), differ.Options{})
	require.NoError(t, err)
	require.Len(t, diffs, 2)
	for _, sd := range diffs {
		assert.True(t, sd.Deployed)
		assert.True(t, sd.Result.Empty(), "stack %s should match", sd.Stack)
	}

	diffs, err = d.Diff(context.Background(), buildApp(t, 2), differ.Options{})
	require.NoError(t, err)
	assert.True(t, diffs[0].Result.Empty())
	assert.Equal(t, 1, diffs[1].Result.Summary.Added)
	assert.Equal(t, "FluffyEngineServer1", diffs[1].Result.Diff.Added[0].Resource)
}

func TestDiff_NotDeployed(t *testing.T) {
	diffs, err := newDeployer(newFakeStacks()).Diff(context.Background(), buildApp(t, 1), differ.Options{})
	require.NoError(t, err)
	assert.False(t, diffs[0].Deployed)
	assert.Greater(t, diffs[0].Result.Summary.Added, 0)
}

func TestRegister(t *testing.T) {
	stacks := newFakeStacks()
	stacks.stacks["FluffyEngineNetworkStack"] = &awscfn.Stack{Outputs: []awscfn.StackOutput{
		{Key: "TargetGroupArn", Value: "arn:tg"},
	}}
	stacks.stacks["FluffyEngineServerStack"] = &awscfn.Stack{Outputs: []awscfn.StackOutput{
		{Key: "InstanceId0", Value: "i-0a"},
		{Key: "InstanceId1", Value: "i-0b"},
	}}
	targets := &fakeTargets{}
	d := newDeployer(stacks)
	d.Targets = targets

	reg, err := d.Register(context.Background(), buildApp(t, 2))
	require.NoError(t, err)
	assert.Equal(t, "arn:tg", targets.arn)
	assert.Equal(t, []string{"i-0a", "i-0b"}, targets.ids)
	assert.Equal(t, 51260, targets.port)
	assert.Len(t, reg.Health, 2)
}

func TestRegister_NotDeployed(t *testing.T) {
	d := newDeployer(newFakeStacks())
	d.Targets = &fakeTargets{}
	_, err := d.Register(context.Background(), buildApp(t, 1))
	assert.ErrorContains(t, err, "is not deployed")
}

func TestRegister_MissingInstanceOutput(t *testing.T) {
	stacks := newFakeStacks()
	stacks.stacks["FluffyEngineNetworkStack"] = &awscfn.Stack{Outputs: []awscfn.StackOutput{{Key: "TargetGroupArn", Value: "arn:tg"}}}
	stacks.stacks["FluffyEngineServerStack"] = &awscfn.Stack{}
	targets := &fakeTargets{}
	d := newDeployer(stacks)
	d.Targets = targets

	_, err := d.Register(context.Background(), buildApp(t, 1))
	assert.ErrorContains(t, err, "InstanceId0")
	assert.Equal(t, 0, targets.calls)
}
