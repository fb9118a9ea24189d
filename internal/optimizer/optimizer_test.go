package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/environment"
	"github.com/fluffyengine/fluffy-engine/internal/policy"
)

func build(t *testing.T, mutate func(d *config.Deployment)) *app.Result {
	t.Helper()
	d := config.Default()
	d.Env = environment.Env{Account: "123456789012", Region: "us-east-1"}
	d.Network.AdminCIDR = "203.0.113.10/32"
	if mutate != nil {
		mutate(&d)
	}
	res, err := app.Build(&d)
	require.NoError(t, err)
	return res
}

func rulesOf(r *Result) []string {
	var ids []string
	for _, s := range r.Suggestions {
		ids = append(ids, s.Rule)
	}
	return ids
}

func TestOptimize_Defaults(t *testing.T) {
	result, err := Optimize(build(t, nil), Options{})
	require.NoError(t, err)

	ids := rulesOf(result)
	assert.Contains(t, ids, "OPT-EC2-002")
	assert.Contains(t, ids, "OPT-EC2-003")
	assert.Contains(t, ids, "OPT-NET-002")
	assert.Contains(t, ids, "OPT-NLB-001")
	assert.NotContains(t, ids, "OPT-EC2-001")
	assert.NotContains(t, ids, "OPT-NET-001")
	assert.NotContains(t, ids, "OPT-NLB-002")

	assert.Positive(t, result.ResourceCount)
	assert.Equal(t, len(result.Suggestions), result.Summary.Total)
}

func TestOptimize_HealthCheckFinding(t *testing.T) {
	result, err := Optimize(build(t, nil), Options{Category: "reliability"})
	require.NoError(t, err)

	var found *fluffy.OptimizeSuggestion
	for i := range result.Suggestions {
		if result.Suggestions[i].Rule == "OPT-NLB-001" {
			found = &result.Suggestions[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "high", found.Severity)
	assert.Equal(t, "FluffyEngineNetworkStack", found.Stack)
	assert.Contains(t, found.Description, "TCP port 22")
}

func TestOptimize_CategoryFilter(t *testing.T) {
	result, err := Optimize(build(t, nil), Options{Category: "security"})
	require.NoError(t, err)

	require.NotEmpty(t, result.Suggestions)
	for _, s := range result.Suggestions {
		assert.Equal(t, "security", s.Category)
	}
	assert.Zero(t, result.Summary.Reliability)
	assert.Equal(t, result.Summary.Security, result.Summary.Total)
}

func TestOptimize_TunedDeployment(t *testing.T) {
	res := build(t, func(d *config.Deployment) {
		d.Compute.Count = 2
		d.Compute.InstanceType = "c5.large"
	})

	result, err := Optimize(res, Options{Category: "all"})
	require.NoError(t, err)

	ids := rulesOf(result)
	assert.Contains(t, ids, "OPT-EC2-001")
	assert.NotContains(t, ids, "OPT-EC2-002")
	assert.NotContains(t, ids, "OPT-NET-002")
	assert.Equal(t, 1, result.Summary.Cost)
}

func TestOptimize_SingleAZ(t *testing.T) {
	res := build(t, func(d *config.Deployment) { d.Network.MaxAZs = 1 })

	result, err := Optimize(res, Options{Category: "reliability"})
	require.NoError(t, err)
	assert.Contains(t, rulesOf(result), "OPT-NET-001")
	assert.NotContains(t, rulesOf(result), "OPT-NET-002")
}

func TestAnalyze_ReachableHealthCheck(t *testing.T) {
	in := &policy.Input{Templates: map[string]*fluffy.Template{
		"Net": {Resources: map[string]fluffy.ResourceDef{
			"TG": {Type: "AWS::ElasticLoadBalancingV2::TargetGroup", Properties: map[string]any{
				"Protocol":            "UDP",
				"Port":                float64(51820),
				"HealthCheckProtocol": "TCP",
				"HealthCheckPort":     "22",
			}},
			"FromNLB": {Type: "AWS::EC2::SecurityGroupIngress", Properties: map[string]any{
				"IpProtocol":            "tcp",
				"FromPort":              float64(22),
				"ToPort":                float64(22),
				"SourceSecurityGroupId": map[string]any{"Fn::GetAtt": []any{"EdgeSG", "GroupId"}},
			}},
		}},
	}}

	result := Analyze(in, Options{Category: "reliability"})
	assert.NotContains(t, rulesOf(result), "OPT-NLB-001")
	assert.Equal(t, 2, result.ResourceCount)
}

func TestAnalyze_UDPHealthCheckSkipped(t *testing.T) {
	in := &policy.Input{Templates: map[string]*fluffy.Template{
		"Net": {Resources: map[string]fluffy.ResourceDef{
			"TG": {Type: "AWS::ElasticLoadBalancingV2::TargetGroup", Properties: map[string]any{
				"Protocol": "UDP",
				"Port":     float64(51820),
			}},
		}},
	}}

	assert.Empty(t, Analyze(in, Options{}).Suggestions)
}

func TestCalculateSummary(t *testing.T) {
	summary := calculateSummary([]fluffy.OptimizeSuggestion{
		{Category: "security"},
		{Category: "cost"},
		{Category: "cost"},
		{Category: "reliability"},
	})
	assert.Equal(t, fluffy.OptimizeSummary{Security: 1, Cost: 2, Reliability: 1, Total: 4}, summary)
}

func TestValidCategory(t *testing.T) {
	assert.True(t, ValidCategory("all"))
	assert.True(t, ValidCategory("performance"))
	assert.False(t, ValidCategory("speed"))
}
