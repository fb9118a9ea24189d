package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
	"github.com/fluffyengine/fluffy-engine/internal/config"
	"github.com/fluffyengine/fluffy-engine/internal/environment"
)

func testStacks() []Stack {
	return []Stack{
		{
			Name: "Network",
			Resources: []fluffy.DeclaredResource{
				{Name: "VPC", Type: "AWS::EC2::VPC"},
				{Name: "EdgeSG", Type: "AWS::EC2::SecurityGroup", Dependencies: []string{"VPC"}},
				{
					Name:         "VPNIngress",
					Type:         "AWS::EC2::SecurityGroupIngress",
					Dependencies: []string{"EdgeSG"},
					AttrRefUsages: []fluffy.AttrRefUsage{
						{ResourceName: "EdgeSG", Attribute: "GroupId"},
					},
				},
			},
		},
		{
			Name:         "Server",
			Dependencies: []string{"Network"},
			Parameters:   []string{"ImageId"},
			Resources: []fluffy.DeclaredResource{
				{Name: "Server0", Type: "AWS::EC2::Instance"},
			},
		},
	}
}

func TestGenerator_Generate_SimpleGraph(t *testing.T) {
	gen := &Generator{}
	output, err := gen.GenerateString(testStacks())
	require.NoError(t, err)

	assert.Contains(t, output, "digraph")
	assert.Contains(t, output, "VPC")
	assert.Contains(t, output, "Server0")
	assert.Contains(t, output, "AWS::EC2::SecurityGroup")
	assert.Contains(t, output, "cluster_")
}

func TestGenerator_Generate_WithGetAtt(t *testing.T) {
	output, err := (&Generator{}).GenerateString(testStacks())
	require.NoError(t, err)
	assert.Contains(t, output, "blue")
}

func TestGenerator_Generate_StackDependency(t *testing.T) {
	output, err := (&Generator{}).GenerateString(testStacks())
	require.NoError(t, err)
	assert.Contains(t, output, "depends on")
	assert.Contains(t, output, "dashed")
}

func TestGenerator_Generate_Parameters(t *testing.T) {
	without, err := (&Generator{}).GenerateString(testStacks())
	require.NoError(t, err)
	assert.NotContains(t, without, "ImageId")

	with, err := (&Generator{IncludeParameters: true}).GenerateString(testStacks())
	require.NoError(t, err)
	assert.Contains(t, with, "ImageId")
	assert.Contains(t, with, "ellipse")
}

func TestGenerator_Generate_ClusterByType(t *testing.T) {
	output, err := (&Generator{ClusterByType: true}).GenerateString(testStacks())
	require.NoError(t, err)
	assert.Contains(t, output, "lightyellow")
}

func TestGenerator_Generate_Mermaid(t *testing.T) {
	output, err := (&Generator{Format: FormatMermaid}).GenerateString(testStacks())
	require.NoError(t, err)
	assert.True(t, strings.Contains(output, "graph") || strings.Contains(output, "flowchart"), output)
	assert.NotContains(t, output, "digraph")
}

func TestExtractService(t *testing.T) {
	assert.Equal(t, "EC2", extractService("AWS::EC2::VPC"))
	assert.Equal(t, "ElasticLoadBalancingV2", extractService("AWS::ElasticLoadBalancingV2::Listener"))
	assert.Equal(t, "Other", extractService("Custom"))
}

func TestFromApp(t *testing.T) {
	d := config.Default()
	d.Env = environment.Env{Account: "123456789012", Region: "us-east-1"}
	res, err := app.Build(&d)
	require.NoError(t, err)

	stacks, err := FromApp(res.App)
	require.NoError(t, err)
	require.Len(t, stacks, 2)
	assert.Equal(t, "FluffyEngineNetworkStack", stacks[0].Name)
	assert.Equal(t, []string{"FluffyEngineNetworkStack"}, stacks[1].Dependencies)
	assert.Equal(t, []string{"FluffyEngineImageId"}, stacks[1].Parameters)
	assert.Len(t, stacks[1].Resources, 1)
}
