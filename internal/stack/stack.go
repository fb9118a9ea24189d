// Package stack groups declared resources into named CloudFormation stacks
// and orders stacks into a deployable application.
package stack

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/environment"
	"github.com/fluffyengine/fluffy-engine/internal/template"
	"github.com/fluffyengine/fluffy-engine/intrinsics"
)

// ErrCycle is returned when stacks depend on each other in a loop.
var ErrCycle = errors.New("circular stack dependency")

// ManifestFile is the name of the manifest written next to the templates.
const ManifestFile = "manifest.json"

// Handle refers to a resource declared in a stack. It serializes as a Ref
// to the resource's logical name.
type Handle struct {
	stack string
	name  string
	typ   string
}

// LogicalID returns the resource's logical name inside its template.
func (h Handle) LogicalID() string { return h.name }

// Type returns the CloudFormation type of the resource.
func (h Handle) Type() string { return h.typ }

// Stack returns the name of the owning stack.
func (h Handle) Stack() string { return h.stack }

// Ref returns a Ref intrinsic for the resource.
func (h Handle) Ref() intrinsics.Ref {
	return intrinsics.Ref{LogicalName: h.name}
}

// GetAtt returns a GetAtt intrinsic for an attribute of the resource.
func (h Handle) GetAtt(attribute string) intrinsics.GetAtt {
	return intrinsics.GetAtt{LogicalName: h.name, Attribute: attribute}
}

// IsZero reports whether the handle was never returned by Stack.Add.
func (h Handle) IsZero() bool { return h.name == "" }

// MarshalJSON serializes the handle as {"Ref": "<LogicalID>"}.
func (h Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"Ref": h.name})
}

// Stack is a named unit of deployment holding resources, parameters,
// outputs and cross-stack exports.
type Stack struct {
	name        string
	description string
	env         environment.Env
	builder     *template.Builder
	deps        []string
	exports     map[string]string
}

// New creates an empty stack bound to env.
func New(name, description string, env environment.Env) *Stack {
	return &Stack{
		name:        name,
		description: description,
		env:         env,
		builder:     template.NewBuilder(name, description),
		exports:     make(map[string]string),
	}
}

// Name returns the stack name.
func (s *Stack) Name() string { return s.name }

// Env returns the environment the stack deploys into.
func (s *Stack) Env() environment.Env { return s.env }

// Add declares a resource. Explicit dependencies are rendered as DependsOn.
func (s *Stack) Add(name string, res fluffy.Resource, dependsOn ...Handle) (Handle, error) {
	var deps []string
	for _, h := range dependsOn {
		if h.stack != s.name {
			return Handle{}, fmt.Errorf("%s cannot depend on %s in stack %s; use a stack dependency", name, h.name, h.stack)
		}
		deps = append(deps, h.name)
	}
	if err := s.builder.AddResource(name, res, deps...); err != nil {
		return Handle{}, err
	}
	return Handle{stack: s.name, name: name, typ: res.ResourceType()}, nil
}

// AddParameter declares a template parameter and returns a Ref to it.
func (s *Stack) AddParameter(name string, p fluffy.Parameter) (intrinsics.Ref, error) {
	if err := s.builder.AddParameter(name, p); err != nil {
		return intrinsics.Ref{}, err
	}
	return intrinsics.Param(name), nil
}

// AddOutput declares a plain output.
func (s *Stack) AddOutput(name, description string, value any) error {
	return s.builder.AddOutput(name, fluffy.Output{Description: description, Value: value})
}

// Export declares an output exported under "<stack>-<name>" and returns the
// export name for Fn::ImportValue in dependent stacks.
func (s *Stack) Export(name, description string, value any) (string, error) {
	exportName := s.name + "-" + name
	err := s.builder.AddOutput(name, fluffy.Output{
		Description: description,
		Value:       value,
		Export:      &fluffy.OutputExport{Name: exportName},
	})
	if err != nil {
		return "", err
	}
	s.exports[name] = exportName
	return exportName, nil
}

// Exports returns output name to export name.
func (s *Stack) Exports() map[string]string {
	out := make(map[string]string, len(s.exports))
	for k, v := range s.exports {
		out[k] = v
	}
	return out
}

// OutputNames returns output names in declaration order.
func (s *Stack) OutputNames() []string {
	return s.builder.OutputNames()
}

// AddDependency records that s must be deployed after other.
func (s *Stack) AddDependency(other *Stack) error {
	if other == nil {
		return errors.New("dependency stack is nil")
	}
	if other.name == s.name {
		return fmt.Errorf("stack %s cannot depend on itself", s.name)
	}
	for _, d := range s.deps {
		if d == other.name {
			return nil
		}
	}
	s.deps = append(s.deps, other.name)
	sort.Strings(s.deps)
	return nil
}

// Dependencies returns the names of stacks s depends on.
func (s *Stack) Dependencies() []string {
	return append([]string(nil), s.deps...)
}

// Template renders the stack's CloudFormation template.
func (s *Stack) Template() (*fluffy.Template, error) {
	t, err := s.builder.Build()
	if err != nil {
		return nil, fmt.Errorf("stack %s: %w", s.name, err)
	}
	return t, nil
}

// Resources returns the declared resources in dependency order.
func (s *Stack) Resources() ([]fluffy.DeclaredResource, error) {
	declared, err := s.builder.Declared()
	if err != nil {
		return nil, fmt.Errorf("stack %s: %w", s.name, err)
	}
	order, err := s.builder.Order()
	if err != nil {
		return nil, fmt.Errorf("stack %s: %w", s.name, err)
	}
	out := make([]fluffy.DeclaredResource, 0, len(order))
	for _, name := range order {
		out = append(out, declared[name])
	}
	return out, nil
}

// App is an ordered collection of stacks sharing one environment.
type App struct {
	env    environment.Env
	mode   environment.Mode
	stacks []*Stack
}

// NewApp creates an application for env, resolved through mode.
func NewApp(env environment.Env, mode environment.Mode) *App {
	return &App{env: env, mode: mode}
}

// Env returns the application environment.
func (a *App) Env() environment.Env { return a.env }

// Mode returns the environment mode the application was resolved with.
func (a *App) Mode() environment.Mode { return a.mode }

// Add registers a stack. Stack names must be unique.
func (a *App) Add(s *Stack) error {
	if _, ok := a.Stack(s.name); ok {
		return fmt.Errorf("duplicate stack %q", s.name)
	}
	a.stacks = append(a.stacks, s)
	return nil
}

// Stack looks a stack up by name.
func (a *App) Stack(name string) (*Stack, bool) {
	for _, s := range a.stacks {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// Stacks returns the stacks in registration order.
func (a *App) Stacks() []*Stack {
	return append([]*Stack(nil), a.stacks...)
}

// Order returns the stacks in deployment order: every stack follows the
// stacks it depends on.
func (a *App) Order() ([]*Stack, error) {
	inDegree := make(map[string]int, len(a.stacks))
	dependents := make(map[string][]string, len(a.stacks))
	for _, s := range a.stacks {
		inDegree[s.name] += 0
		for _, dep := range s.deps {
			if _, ok := a.Stack(dep); !ok {
				return nil, fmt.Errorf("stack %s depends on unknown stack %q", s.name, dep)
			}
			inDegree[s.name]++
			dependents[dep] = append(dependents[dep], s.name)
		}
	}

	var queue []string
	for _, s := range a.stacks {
		if inDegree[s.name] == 0 {
			queue = append(queue, s.name)
		}
	}

	var ordered []*Stack
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		s, _ := a.Stack(name)
		ordered = append(ordered, s)
		for _, next := range dependents[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) != len(a.stacks) {
		var stuck []string
		for _, s := range a.stacks {
			if inDegree[s.name] > 0 {
				stuck = append(stuck, s.name)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return ordered, nil
}

// Templates renders every stack's template.
func (a *App) Templates() (map[string]*fluffy.Template, error) {
	out := make(map[string]*fluffy.Template, len(a.stacks))
	for _, s := range a.stacks {
		t, err := s.Template()
		if err != nil {
			return nil, err
		}
		out[s.name] = t
	}
	return out, nil
}

// TemplateFile returns the file name used for a stack's template.
func TemplateFile(stackName, format string) string {
	ext := "json"
	if format == "yaml" || format == "yml" {
		ext = "yaml"
	}
	return stackName + ".template." + ext
}

// Synth renders all templates into dir in deployment order and writes the
// manifest. Nothing is written when any stack fails to render.
func (a *App) Synth(dir, format string) (*fluffy.Manifest, error) {
	ordered, err := a.Order()
	if err != nil {
		return nil, err
	}

	rendered := make(map[string][]byte, len(ordered))
	for _, s := range ordered {
		t, err := s.Template()
		if err != nil {
			return nil, err
		}
		data, err := template.Marshal(t, format)
		if err != nil {
			return nil, fmt.Errorf("stack %s: %w", s.name, err)
		}
		rendered[s.name] = data
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	manifest := &fluffy.Manifest{
		Mode:    string(a.mode),
		Account: a.env.Account,
		Region:  a.env.Region,
	}
	for _, s := range ordered {
		file := TemplateFile(s.name, format)
		if err := os.WriteFile(filepath.Join(dir, file), rendered[s.name], 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", file, err)
		}
		logrus.Debugf("Wrote %s", filepath.Join(dir, file))
		manifest.Stacks = append(manifest.Stacks, fluffy.ManifestStack{
			Name:         s.name,
			TemplateFile: file,
			Dependencies: s.Dependencies(),
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	return manifest, nil
}

// ReadManifest loads a manifest written by Synth.
func ReadManifest(dir string) (*fluffy.Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m fluffy.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}
