// Package fluffyengine declares a WireGuard VPN deployment on AWS as typed Go
// values and renders it into CloudFormation templates.
//
// A deployment is made of two stacks:
//
//	FluffyEngineNetworkStack  VPC, public subnets, UDP network load balancer,
//	                          edge and instance security groups
//	FluffyEngineServerStack   one or more EC2 instances that bootstrap
//	                          wireguard-manager (depends on the network stack)
//
// The types in this package are the rendered template model and the JSON
// results printed by the fluffy-engine CLI.
package fluffyengine

import (
	"encoding/json"
)

// Resource represents a CloudFormation resource.
// All resource types (ec2.VPC, elasticloadbalancingv2.TargetGroup, etc.) implement this interface.
type Resource interface {
	// ResourceType returns the CloudFormation type (e.g., "AWS::EC2::VPC")
	ResourceType() string
}

// AttrRef represents a GetAtt reference to a resource attribute.
//
// When serialized to CloudFormation JSON, AttrRef becomes:
//
//	{"Fn::GetAtt": ["FluffyEngineNLB", "DNSName"]}
type AttrRef struct {
	// Resource is the logical name of the referenced resource
	Resource string
	// Attribute is the attribute name (e.g., "DNSName", "PublicIp")
	Attribute string
}

// MarshalJSON serializes AttrRef to CloudFormation GetAtt syntax.
func (a AttrRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string][]string{
		"Fn::GetAtt": {a.Resource, a.Attribute},
	})
}

// IsZero returns true if the AttrRef has not been populated.
func (a AttrRef) IsZero() bool {
	return a.Resource == "" && a.Attribute == ""
}

// DeclaredResource describes a resource added to a stack.
type DeclaredResource struct {
	// Name is the logical ID inside the stack template
	Name string
	// Type is the CloudFormation type (e.g., "AWS::EC2::Instance")
	Type string
	// Stack is the name of the owning stack
	Stack string
	// Dependencies are logical names of referenced resources in the same stack
	Dependencies []string
	// AttrRefUsages records which dependencies are GetAtt references
	AttrRefUsages []AttrRefUsage
}

// AttrRefUsage is a GetAtt reference from one resource to another.
type AttrRefUsage struct {
	ResourceName string
	Attribute    string
}

// Template represents a CloudFormation template.
type Template struct {
	AWSTemplateFormatVersion string                 `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description              string                 `json:"Description,omitempty" yaml:"Description,omitempty"`
	Parameters               map[string]Parameter   `json:"Parameters,omitempty" yaml:"Parameters,omitempty"`
	Resources                map[string]ResourceDef `json:"Resources" yaml:"Resources"`
	Outputs                  map[string]Output      `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

// ResourceDef is a single resource in the CloudFormation template.
type ResourceDef struct {
	Type       string         `json:"Type" yaml:"Type"`
	Properties map[string]any `json:"Properties,omitempty" yaml:"Properties,omitempty"`
	DependsOn  []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
}

// Parameter is a CloudFormation template parameter.
type Parameter struct {
	Type          string `json:"Type" yaml:"Type"`
	Description   string `json:"Description,omitempty" yaml:"Description,omitempty"`
	Default       any    `json:"Default,omitempty" yaml:"Default,omitempty"`
	AllowedValues []any  `json:"AllowedValues,omitempty" yaml:"AllowedValues,omitempty"`
}

// Output is a CloudFormation template output.
type Output struct {
	Description string        `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any           `json:"Value" yaml:"Value"`
	Export      *OutputExport `json:"Export,omitempty" yaml:"Export,omitempty"`
}

// OutputExport names a cross-stack export.
type OutputExport struct {
	Name string `json:"Name" yaml:"Name"`
}

// Manifest describes a synthesized deployment (written as manifest.json).
type Manifest struct {
	Mode    string          `json:"mode"`
	Account string          `json:"account"`
	Region  string          `json:"region"`
	Stacks  []ManifestStack `json:"stacks"`
}

// ManifestStack is one stack entry in the manifest, in deployment order.
type ManifestStack struct {
	Name         string   `json:"name"`
	TemplateFile string   `json:"templateFile"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// SynthResult is the JSON output from `fluffy-engine synth --json`.
type SynthResult struct {
	Success bool          `json:"success"`
	Stacks  []SynthStack  `json:"stacks,omitempty"`
	Errors  []string      `json:"errors,omitempty"`
	Output  string        `json:"output,omitempty"`
	Env     *SynthEnvInfo `json:"env,omitempty"`
}

// SynthStack summarises one synthesized stack.
type SynthStack struct {
	Name      string   `json:"name"`
	File      string   `json:"file,omitempty"`
	Resources []string `json:"resources"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// SynthEnvInfo is the resolved environment of a synth run.
type SynthEnvInfo struct {
	Mode    string `json:"mode"`
	Account string `json:"account"`
	Region  string `json:"region"`
}

// ValidateResult is the JSON output from `fluffy-engine validate`.
type ValidateResult struct {
	Success   bool     `json:"success"`
	Resources int      `json:"resources"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ListResult is the JSON output from `fluffy-engine list`.
type ListResult struct {
	Resources []ListResource `json:"resources"`
}

// ListResource is a single resource in the list output.
type ListResource struct {
	Stack     string   `json:"stack"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	DependsOn []string `json:"dependsOn,omitempty"`
}

// DiffEntry is a single changed resource.
type DiffEntry struct {
	Resource string   `json:"resource"`
	Type     string   `json:"type"`
	Changes  []string `json:"changes,omitempty"`
}

// TemplateDiff groups resource changes between two templates.
type TemplateDiff struct {
	Added    []DiffEntry `json:"added,omitempty"`
	Removed  []DiffEntry `json:"removed,omitempty"`
	Modified []DiffEntry `json:"modified,omitempty"`
}

// DiffSummary counts the changes in a TemplateDiff.
type DiffSummary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
	Total    int `json:"total"`
}

// OptimizeSuggestion is a single improvement suggested by the optimizer.
type OptimizeSuggestion struct {
	Rule        string `json:"rule"`
	Stack       string `json:"stack,omitempty"`
	Resource    string `json:"resource"`
	Category    string `json:"category"` // security, cost, performance, reliability
	Severity    string `json:"severity"` // high, medium, low
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
}

// OptimizeSummary counts suggestions per category.
type OptimizeSummary struct {
	Security    int `json:"security"`
	Cost        int `json:"cost"`
	Performance int `json:"performance"`
	Reliability int `json:"reliability"`
	Total       int `json:"total"`
}

// OptimizeResult is the JSON output from `fluffy-engine optimize`.
type OptimizeResult struct {
	Success       bool                 `json:"success"`
	Suggestions   []OptimizeSuggestion `json:"suggestions"`
	ResourceCount int                  `json:"resourceCount"`
	Summary       OptimizeSummary      `json:"summary"`
}
