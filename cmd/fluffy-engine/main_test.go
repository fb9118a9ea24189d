package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fluffy "github.com/fluffyengine/fluffy-engine"
	awscfn "github.com/fluffyengine/fluffy-engine/internal/aws/cloudformation"
	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/deploy"
	"github.com/fluffyengine/fluffy-engine/internal/environment"
)

var exampleContext = []string{"-c", "account=123456789012", "-c", "region=us-east-1"}

// run executes the CLI in a fresh working directory.
func run(t *testing.T, o *rootOptions, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	o.stdout, o.stderr = &stdout, &stderr
	root := newRootCmd(o)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func newTestOptions() *rootOptions {
	return newRootOptions(&bytes.Buffer{}, &bytes.Buffer{})
}

func TestSynth_ExampleScenario(t *testing.T) {
	t.Chdir(t.TempDir())

	args := append([]string{"synth", "-o", "out", "--json", "-c", "count=1"}, exampleContext...)
	stdout, stderr, err := run(t, newTestOptions(), args...)
	require.NoError(t, err, stderr)

	var result fluffy.SynthResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "cli-context", result.Env.Mode)
	assert.Equal(t, "123456789012", result.Env.Account)
	assert.Equal(t, "us-east-1", result.Env.Region)

	require.Len(t, result.Stacks, 2)
	assert.Equal(t, "FluffyEngineNetworkStack", result.Stacks[0].Name)
	assert.Equal(t, "FluffyEngineServerStack", result.Stacks[1].Name)
	assert.Equal(t, []string{"FluffyEngineNetworkStack"}, result.Stacks[1].DependsOn)

	for _, s := range result.Stacks {
		assert.FileExists(t, s.File)
	}
	assert.FileExists(t, filepath.Join("out", "manifest.json"))

	data, err := os.ReadFile(filepath.Join("out", "FluffyEngineServerStack.template.json"))
	require.NoError(t, err)
	var server fluffy.Template
	require.NoError(t, json.Unmarshal(data, &server))
	assert.Contains(t, server.Resources, "FluffyEngineServer0")
	assert.NotContains(t, server.Resources, "FluffyEngineServer1")
	assert.Contains(t, server.Outputs, "InstancePublicIP0")
}

func TestSynth_MissingContextFailsBeforeRendering(t *testing.T) {
	t.Chdir(t.TempDir())

	_, _, err := run(t, newTestOptions(), "synth", "-o", "out", "-c", "account=123456789012")
	require.ErrorIs(t, err, environment.ErrMissingContext)
	assert.Contains(t, err.Error(), "region")
	assert.NoDirExists(t, "out")
}

func TestSynth_UnknownMode(t *testing.T) {
	t.Chdir(t.TempDir())

	_, _, err := run(t, newTestOptions(), "synth", "--mode", "guess")
	require.ErrorIs(t, err, environment.ErrUnknownMode)
}

func TestSynth_StaticLiteralFromConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg := `mode: static-literal
prefix: Vpn
static:
  account: "210987654321"
  region: eu-west-1
compute:
  count: 2
output:
  dir: rendered
  format: yaml
`
	require.NoError(t, os.WriteFile(config.FileName+".yaml", []byte(cfg), 0o644))

	stdout, stderr, err := run(t, newTestOptions(), "synth")
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "210987654321/eu-west-1 (static-literal mode)")
	assert.FileExists(t, filepath.Join("rendered", "VpnNetworkStack.template.yaml"))
	assert.FileExists(t, filepath.Join("rendered", "VpnServerStack.template.yaml"))
}

type fakeParameters map[string]string

func (f fakeParameters) GetParameters(ctx context.Context, names []string) (map[string]string, error) {
	return f, nil
}

func TestSynth_SSMLookup(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FLUFFY_AWS_REGION", "ap-southeast-2")
	o := newTestOptions()
	var sdkRegion string
	o.newParameterGetter = func(ctx context.Context, profile, region string) (environment.ParameterGetter, error) {
		sdkRegion = region
		return fakeParameters{
			environment.DefaultAccountParameter: "123456789012",
			environment.DefaultRegionParameter:  "ap-southeast-2",
		}, nil
	}

	stdout, stderr, err := run(t, o, "synth", "--mode", "ssm-lookup", "--stack", "FluffyEngineNetworkStack")
	require.NoError(t, err, stderr)

	var tmpl fluffy.Template
	require.NoError(t, json.Unmarshal([]byte(stdout), &tmpl))
	assert.Contains(t, tmpl.Resources, "FluffyEngineVPC")
	assert.Equal(t, "ap-southeast-2", sdkRegion)
}

func TestSynth_WarnsOnUnusedContext(t *testing.T) {
	t.Chdir(t.TempDir())

	args := append([]string{"synth", "--mode", "static-literal", "--stack", "FluffyEngineNetworkStack"}, exampleContext...)
	_, stderr, err := run(t, newTestOptions(), args...)
	require.NoError(t, err, stderr)
	assert.Contains(t, stderr, "Ignoring -c account=123456789012: mode static-literal")
	assert.Contains(t, stderr, "Ignoring -c region=us-east-1: mode static-literal")
}

func TestUnusedContextKeys(t *testing.T) {
	values := map[string]string{"account": "123456789012", "region": "us-east-1", "count": "2"}
	assert.Empty(t, unusedContextKeys(environment.ModeCLIContext, values))
	assert.Equal(t, []string{"account", "region"}, unusedContextKeys(environment.ModeSSMLookup, values))
	assert.Equal(t, []string{"region"}, unusedContextKeys(environment.ModeStaticLiteral, map[string]string{"region": "eu-west-1"}))
}

func TestSynth_UnknownStack(t *testing.T) {
	t.Chdir(t.TempDir())
	args := append([]string{"synth", "--stack", "Nope"}, exampleContext...)
	_, _, err := run(t, newTestOptions(), args...)
	assert.ErrorContains(t, err, "unknown stack Nope")
}

func TestList_JSON(t *testing.T) {
	t.Chdir(t.TempDir())

	args := append([]string{"list", "--format", "json", "-c", "count=2"}, exampleContext...)
	stdout, _, err := run(t, newTestOptions(), args...)
	require.NoError(t, err)

	var result fluffy.ListResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))

	byName := map[string]fluffy.ListResource{}
	for _, r := range result.Resources {
		byName[r.Name] = r
	}
	assert.Equal(t, "FluffyEngineNetworkStack", byName["FluffyEngineVPC"].Stack)
	assert.Equal(t, "AWS::EC2::Instance", byName["FluffyEngineServer1"].Type)
	assert.Equal(t, "FluffyEngineNetworkStack", result.Resources[0].Stack)
	assert.Equal(t, "FluffyEngineServerStack", result.Resources[len(result.Resources)-1].Stack)
}

func TestList_Text(t *testing.T) {
	t.Chdir(t.TempDir())

	args := append([]string{"list"}, exampleContext...)
	stdout, _, err := run(t, newTestOptions(), args...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "FluffyEngineServerStack\n")
	assert.Contains(t, stdout, "  FluffyEngineServer0: AWS::EC2::Instance")
}

func TestGraph_Mermaid(t *testing.T) {
	t.Chdir(t.TempDir())

	args := append([]string{"graph", "-f", "mermaid"}, exampleContext...)
	stdout, _, err := run(t, newTestOptions(), args...)
	require.NoError(t, err)
	assert.NotContains(t, stdout, "digraph")
	assert.Contains(t, stdout, "FluffyEngineVPC")

	_, _, err = run(t, newTestOptions(), append([]string{"graph", "-f", "svg"}, exampleContext...)...)
	assert.ErrorContains(t, err, "unknown format")
}

func TestValidate_ReportsPolicyWarnings(t *testing.T) {
	t.Chdir(t.TempDir())

	args := append([]string{"validate", "--format", "json", "--rules", "FE006,FE007"}, exampleContext...)
	stdout, _, _ := run(t, newTestOptions(), args...)

	var result fluffy.ValidateResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &result))
	assert.Greater(t, result.Resources, 0)

	var rules []string
	for _, w := range result.Warnings {
		if bytes.Contains([]byte(w), []byte("FE006")) {
			rules = append(rules, "FE006")
		}
		if bytes.Contains([]byte(w), []byte("FE007")) {
			rules = append(rules, "FE007")
		}
	}
	assert.ElementsMatch(t, []string{"FE006", "FE007"}, rules)
}

func TestDiff_Files(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile("a.json", []byte(`{"Resources":{"VPC":{"Type":"AWS::EC2::VPC"}}}`), 0o644))
	require.NoError(t, os.WriteFile("b.json", []byte(`{"Resources":{}}`), 0o644))

	stdout, _, err := run(t, newTestOptions(), "diff", "a.json", "b.json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[-] AWS::EC2::VPC VPC")

	_, _, err = run(t, newTestOptions(), "diff", "a.json")
	assert.Error(t, err)
}

// memStacks is a CloudFormation stand-in holding already deployed stacks.
type memStacks struct {
	stacks map[string]*awscfn.Stack
}

func (m *memStacks) DescribeStack(ctx context.Context, name string) (*awscfn.Stack, error) {
	return m.stacks[name], nil
}
func (m *memStacks) CreateStack(ctx context.Context, in awscfn.StackInput) (string, error) {
	m.stacks[in.Name] = &awscfn.Stack{Name: in.Name}
	return in.Name, nil
}
func (m *memStacks) UpdateStack(ctx context.Context, in awscfn.StackInput) (string, error) {
	return "", awscfn.ErrNoUpdates
}
func (m *memStacks) DeleteStack(ctx context.Context, name string) error {
	delete(m.stacks, name)
	return nil
}
func (m *memStacks) GetTemplate(ctx context.Context, name string) (string, error) {
	return `{"Resources":{}}`, nil
}
func (m *memStacks) FailureEvents(ctx context.Context, name string) ([]awscfn.StackEvent, error) {
	return nil, nil
}
func (m *memStacks) Wait(ctx context.Context, name string, op awscfn.Operation, maxWait time.Duration) error {
	return nil
}

func withStacks(o *rootOptions, stacks *memStacks) *rootOptions {
	o.newDeployer = func(ctx context.Context, d *config.Deployment) (*deploy.Deployer, error) {
		return &deploy.Deployer{Stacks: stacks, Timeout: d.AWS.Timeout}, nil
	}
	return o
}

func TestOutputs(t *testing.T) {
	t.Chdir(t.TempDir())
	stacks := &memStacks{stacks: map[string]*awscfn.Stack{
		"FluffyEngineNetworkStack": {Outputs: []awscfn.StackOutput{{Key: "NlbDnsName", Value: "fluffy-nlb.elb.us-east-1.amazonaws.com"}}},
	}}

	stdout, _, err := run(t, withStacks(newTestOptions(), stacks), append([]string{"outputs"}, exampleContext...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "NlbDnsName = fluffy-nlb.elb.us-east-1.amazonaws.com")
	assert.Contains(t, stdout, "absent")
}

func TestDeployAndDestroy(t *testing.T) {
	t.Chdir(t.TempDir())
	stacks := &memStacks{stacks: map[string]*awscfn.Stack{}}
	o := withStacks(newTestOptions(), stacks)

	stdout, stderr, err := run(t, o, append([]string{"deploy", "-c", "admin_cidr=81.2.69.142"}, exampleContext...)...)
	require.NoError(t, err, stderr)
	assert.Contains(t, stdout, "created")
	assert.Len(t, stacks.stacks, 2)

	stdout, _, err = run(t, o, append([]string{"destroy"}, exampleContext...)...)
	require.NoError(t, err)
	assert.Contains(t, stdout, "deleted")
	assert.Empty(t, stacks.stacks)
}

func TestDiff_Deployed(t *testing.T) {
	t.Chdir(t.TempDir())
	stacks := &memStacks{stacks: map[string]*awscfn.Stack{
		"FluffyEngineNetworkStack": {Name: "FluffyEngineNetworkStack"},
	}}

	stdout, _, err := run(t, withStacks(newTestOptions(), stacks), append([]string{"diff", "--format", "json"}, exampleContext...)...)
	require.NoError(t, err)

	var out []diffOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out, 2)
	assert.True(t, out[0].Deployed)
	assert.False(t, out[1].Deployed)
	assert.Greater(t, out[0].Summary.Added, 0)
}
