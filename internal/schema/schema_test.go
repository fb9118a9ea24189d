package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fluffy "github.com/fluffyengine/fluffy-engine"
)

func TestValidateTemplate_Valid(t *testing.T) {
	tmpl := &fluffy.Template{Resources: map[string]fluffy.ResourceDef{
		"VPC": {Type: "AWS::EC2::VPC", Properties: map[string]any{
			"CidrBlock":        "172.31.0.0/16",
			"EnableDnsSupport": true,
		}},
		"Subnet": {Type: "AWS::EC2::Subnet", Properties: map[string]any{
			"VpcId":     map[string]any{"Ref": "VPC"},
			"CidrBlock": "172.31.0.0/24",
		}},
	}}

	result := ValidateTemplate(tmpl, Options{})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateTemplate_MissingRequired(t *testing.T) {
	tmpl := &fluffy.Template{Resources: map[string]fluffy.ResourceDef{
		"SG": {Type: "AWS::EC2::SecurityGroup", Properties: map[string]any{}},
	}}

	result := ValidateTemplate(tmpl, Options{})
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "GroupDescription", result.Errors[0].Property)
	assert.Contains(t, result.Errors[0].Message, "missing required property")
}

func TestValidateTemplate_WrongType(t *testing.T) {
	tmpl := &fluffy.Template{Resources: map[string]fluffy.ResourceDef{
		"TG": {Type: "AWS::ElasticLoadBalancingV2::TargetGroup", Properties: map[string]any{
			"Port": "51820",
		}},
	}}

	result := ValidateTemplate(tmpl, Options{})
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "expected type Integer", result.Errors[0].Message)
}

func TestValidateTemplate_AllowedValues(t *testing.T) {
	tmpl := &fluffy.Template{Resources: map[string]fluffy.ResourceDef{
		"NLB": {Type: "AWS::ElasticLoadBalancingV2::LoadBalancer", Properties: map[string]any{
			"Scheme": "public",
			"Type":   "network",
		}},
	}}

	result := ValidateTemplate(tmpl, Options{})
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Scheme", result.Errors[0].Property)
}

func TestValidateTemplate_UnknownTypeAndProperty(t *testing.T) {
	tmpl := &fluffy.Template{Resources: map[string]fluffy.ResourceDef{
		"Bucket": {Type: "AWS::S3::Bucket"},
		"VPC":    {Type: "AWS::EC2::VPC", Properties: map[string]any{"Bogus": "x"}},
		"Bad":    {Type: "EC2::VPC"},
	}}

	result := ValidateTemplate(tmpl, Options{Strict: true})
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Bad", result.Errors[0].Resource)
	require.Len(t, result.Warnings, 2)
	assert.Equal(t, "Bucket", result.Warnings[0].Resource)
	assert.Equal(t, "Bogus", result.Warnings[1].Property)

	lenient := ValidateTemplate(tmpl, Options{})
	assert.Len(t, lenient.Warnings, 1)
}

func TestValidateTemplates_TagsStack(t *testing.T) {
	templates := map[string]*fluffy.Template{
		"Net": {Resources: map[string]fluffy.ResourceDef{
			"SG": {Type: "AWS::EC2::SecurityGroup"},
		}},
		"Srv": nil,
	}

	result := ValidateTemplates(templates, Options{})
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "Net", result.Errors[0].Stack)
	assert.Equal(t, "Net/SG.GroupDescription: missing required property: GroupDescription", result.Errors[0].String())
}

func TestIsValidResourceType(t *testing.T) {
	assert.True(t, isValidResourceType("AWS::EC2::Instance"))
	assert.True(t, isValidResourceType("Custom::Thing"))
	assert.False(t, isValidResourceType("AWS::EC2"))
	assert.False(t, isValidResourceType("Google::Compute::Instance"))
}

func TestEnumService(t *testing.T) {
	assert.Equal(t, "ec2", enumService("AWS::EC2::Instance"))
	assert.Equal(t, "elbv2", enumService("AWS::ElasticLoadBalancingV2::TargetGroup"))
	assert.Equal(t, "", enumService("bad"))
}
