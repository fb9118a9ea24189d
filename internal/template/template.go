// Package template provides CloudFormation template building from declared resources.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/serialize"
)

// ErrCycle is returned when resources reference each other in a loop.
var ErrCycle = errors.New("circular dependency detected")

// Builder constructs a CloudFormation template from declared resources.
type Builder struct {
	stack       string
	description string
	names       []string // declaration order
	values      map[string]fluffy.Resource
	dependsOn   map[string][]string
	parameters  map[string]fluffy.Parameter
	outputs     map[string]fluffy.Output
	outputNames []string
}

// NewBuilder creates a template builder for the named stack.
func NewBuilder(stack, description string) *Builder {
	return &Builder{
		stack:       stack,
		description: description,
		values:      make(map[string]fluffy.Resource),
		dependsOn:   make(map[string][]string),
		parameters:  make(map[string]fluffy.Parameter),
		outputs:     make(map[string]fluffy.Output),
	}
}

// AddResource declares a resource under a logical name. Explicit DependsOn
// entries are added on top of the dependencies found in its properties.
func (b *Builder) AddResource(name string, res fluffy.Resource, dependsOn ...string) error {
	if name == "" {
		return errors.New("resource logical name is empty")
	}
	if _, exists := b.values[name]; exists {
		return fmt.Errorf("duplicate resource %q in stack %s", name, b.stack)
	}
	if _, exists := b.parameters[name]; exists {
		return fmt.Errorf("resource %q collides with a parameter in stack %s", name, b.stack)
	}
	b.names = append(b.names, name)
	b.values[name] = res
	if len(dependsOn) > 0 {
		b.dependsOn[name] = append([]string(nil), dependsOn...)
	}
	return nil
}

// AddParameter declares a template parameter.
func (b *Builder) AddParameter(name string, p fluffy.Parameter) error {
	if _, exists := b.values[name]; exists {
		return fmt.Errorf("parameter %q collides with a resource in stack %s", name, b.stack)
	}
	b.parameters[name] = p
	return nil
}

// AddOutput declares a template output.
func (b *Builder) AddOutput(name string, o fluffy.Output) error {
	if _, exists := b.outputs[name]; exists {
		return fmt.Errorf("duplicate output %q in stack %s", name, b.stack)
	}
	b.outputs[name] = o
	b.outputNames = append(b.outputNames, name)
	return nil
}

// OutputNames returns output names in declaration order.
func (b *Builder) OutputNames() []string {
	return append([]string(nil), b.outputNames...)
}

// Declared returns the declared resources with their resolved dependencies.
func (b *Builder) Declared() (map[string]fluffy.DeclaredResource, error) {
	declared, _, err := b.analyze()
	return declared, err
}

// Order returns the logical names of the resources in dependency order.
func (b *Builder) Order() ([]string, error) {
	declared, _, err := b.analyze()
	if err != nil {
		return nil, err
	}
	return topologicalSort(declared)
}

// Build constructs the CloudFormation template.
func (b *Builder) Build() (*fluffy.Template, error) {
	declared, props, err := b.analyze()
	if err != nil {
		return nil, err
	}

	// Get resources in dependency order; this also rejects cycles.
	if _, err := topologicalSort(declared); err != nil {
		return nil, err
	}

	template := &fluffy.Template{
		AWSTemplateFormatVersion: "2010-09-09",
		Description:              b.description,
		Resources:                make(map[string]fluffy.ResourceDef, len(declared)),
	}

	if len(b.parameters) > 0 {
		template.Parameters = make(map[string]fluffy.Parameter, len(b.parameters))
		for name, p := range b.parameters {
			template.Parameters[name] = p
		}
	}

	for _, name := range b.names {
		def := fluffy.ResourceDef{
			Type:       declared[name].Type,
			Properties: props[name],
		}
		if explicit := b.dependsOn[name]; len(explicit) > 0 {
			def.DependsOn = append([]string(nil), explicit...)
		}
		template.Resources[name] = def
	}

	if len(b.outputs) > 0 {
		template.Outputs = make(map[string]fluffy.Output, len(b.outputs))
		for name, o := range b.outputs {
			value, err := normalizeValue(o.Value)
			if err != nil {
				return nil, fmt.Errorf("serializing output %s: %w", name, err)
			}
			if refs := referencedNames(value); len(refs) > 0 {
				for _, ref := range refs {
					if _, ok := declared[ref]; !ok {
						if _, isParam := b.parameters[ref]; !isParam {
							return nil, fmt.Errorf("output %s references undefined resource %q", name, ref)
						}
					}
				}
			}
			o.Value = value
			template.Outputs[name] = o
		}
	}

	return template, nil
}

// analyze serializes every resource and resolves its dependencies.
func (b *Builder) analyze() (map[string]fluffy.DeclaredResource, map[string]map[string]any, error) {
	declared := make(map[string]fluffy.DeclaredResource, len(b.names))
	allProps := make(map[string]map[string]any, len(b.names))

	for _, name := range b.names {
		res := b.values[name]
		if res == nil {
			return nil, nil, fmt.Errorf("resource %s is nil", name)
		}

		props, err := serializeResource(res)
		if err != nil {
			return nil, nil, fmt.Errorf("serializing %s: %w", name, err)
		}

		refs, usages := serialize.References(props)
		var deps []string
		for _, ref := range refs {
			if _, isParam := b.parameters[ref]; isParam {
				continue
			}
			if _, exists := b.values[ref]; !exists {
				return nil, nil, fmt.Errorf("%s references undefined resource %q", name, ref)
			}
			deps = append(deps, ref)
		}
		for _, dep := range b.dependsOn[name] {
			if _, exists := b.values[dep]; !exists {
				return nil, nil, fmt.Errorf("%s depends on undefined resource %q", name, dep)
			}
			if !contains(deps, dep) {
				deps = append(deps, dep)
			}
		}
		sort.Strings(deps)

		declared[name] = fluffy.DeclaredResource{
			Name:          name,
			Type:          res.ResourceType(),
			Stack:         b.stack,
			Dependencies:  deps,
			AttrRefUsages: usages,
		}
		allProps[name] = props
	}

	return declared, allProps, nil
}

// serializeResource converts a Go struct to normalized CloudFormation properties.
func serializeResource(res fluffy.Resource) (map[string]any, error) {
	props, err := serialize.Resource(res)
	if err != nil {
		return nil, err
	}
	return serialize.Normalize(props)
}

func normalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func referencedNames(v any) []string {
	refs, _ := serialize.References(map[string]any{"v": v})
	return refs
}

// topologicalSort returns resources in dependency order.
func topologicalSort(resources map[string]fluffy.DeclaredResource) ([]string, error) {
	// Build adjacency list
	graph := make(map[string][]string)
	inDegree := make(map[string]int)

	for name := range resources {
		graph[name] = nil
		inDegree[name] = 0
	}

	for name, res := range resources {
		for _, dep := range res.Dependencies {
			if _, exists := resources[dep]; exists {
				graph[dep] = append(graph[dep], name)
				inDegree[name]++
			}
		}
	}

	// Kahn's algorithm
	var queue []string
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue) // Deterministic order

	var result []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, neighbor := range graph[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
				sort.Strings(queue)
			}
		}
	}

	if len(result) != len(resources) {
		return nil, detectCycle(resources)
	}

	return result, nil
}

// detectCycle finds and reports a cycle in the dependency graph.
func detectCycle(resources map[string]fluffy.DeclaredResource) error {
	visited := make(map[string]bool)
	path := make(map[string]bool)

	var cycle []string
	var findCycle func(node string) bool
	findCycle = func(node string) bool {
		visited[node] = true
		path[node] = true

		for _, dep := range resources[node].Dependencies {
			if _, exists := resources[dep]; !exists {
				continue
			}
			if !visited[dep] {
				if findCycle(dep) {
					cycle = append([]string{node}, cycle...)
					return true
				}
			} else if path[dep] {
				cycle = append([]string{dep, node}, cycle...)
				return true
			}
		}

		path[node] = false
		return false
	}

	names := make([]string, 0, len(resources))
	for name := range resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !visited[name] && findCycle(name) {
			break
		}
	}

	if len(cycle) > 0 {
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " → "))
	}
	return ErrCycle
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ToJSON serializes the template to JSON.
func ToJSON(t *fluffy.Template) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// ToYAML serializes the template to YAML.
func ToYAML(t *fluffy.Template) ([]byte, error) {
	return yaml.Marshal(t)
}

// Marshal serializes the template in the named format ("json" or "yaml").
func Marshal(t *fluffy.Template, format string) ([]byte, error) {
	switch format {
	case "json", "":
		return ToJSON(t)
	case "yaml", "yml":
		return ToYAML(t)
	default:
		return nil, fmt.Errorf("unknown format: %s", format)
	}
}
