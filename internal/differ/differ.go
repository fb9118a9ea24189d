// Package differ compares CloudFormation templates: a freshly synthesized
// one against a file or the template of a deployed stack.
package differ

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	fluffy "github.com/fluffyengine/fluffy-engine"
)

// Options configures the differ.
type Options struct {
	// IgnoreOrder ignores array element order in comparisons
	IgnoreOrder bool
}

// Result contains the difference between two templates.
type Result struct {
	Diff    fluffy.TemplateDiff
	Summary fluffy.DiffSummary

	// Outputs lists added, removed and modified outputs.
	Outputs []string
}

// Empty reports whether the templates are equivalent.
func (r *Result) Empty() bool {
	return r.Summary.Total == 0 && len(r.Outputs) == 0
}

// Compare compares two CloudFormation templates and returns differences.
// current is the deployed template, desired the synthesized one.
func Compare(current, desired *fluffy.Template, opts Options) (*Result, error) {
	if current == nil {
		current = &fluffy.Template{}
	}
	if desired == nil {
		desired = &fluffy.Template{}
	}
	result := &Result{}

	for name, def := range desired.Resources {
		if _, exists := current.Resources[name]; !exists {
			result.Diff.Added = append(result.Diff.Added, fluffy.DiffEntry{
				Resource: name,
				Type:     def.Type,
			})
		}
	}

	for name, def := range current.Resources {
		if _, exists := desired.Resources[name]; !exists {
			result.Diff.Removed = append(result.Diff.Removed, fluffy.DiffEntry{
				Resource: name,
				Type:     def.Type,
			})
		}
	}

	for name, def1 := range current.Resources {
		if def2, exists := desired.Resources[name]; exists {
			changes := compareResources(def1, def2, opts)
			if len(changes) > 0 {
				result.Diff.Modified = append(result.Diff.Modified, fluffy.DiffEntry{
					Resource: name,
					Type:     def1.Type,
					Changes:  changes,
				})
			}
		}
	}

	sortEntries(result.Diff.Added)
	sortEntries(result.Diff.Removed)
	sortEntries(result.Diff.Modified)

	result.Summary = fluffy.DiffSummary{
		Added:    len(result.Diff.Added),
		Removed:  len(result.Diff.Removed),
		Modified: len(result.Diff.Modified),
	}
	result.Summary.Total = result.Summary.Added + result.Summary.Removed + result.Summary.Modified

	result.Outputs = compareOutputs(current.Outputs, desired.Outputs, opts)

	return result, nil
}

// CompareFiles compares two template files.
func CompareFiles(file1, file2 string, opts Options) (*Result, error) {
	t1, err := LoadTemplate(file1)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", file1, err)
	}

	t2, err := LoadTemplate(file2)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", file2, err)
	}

	return Compare(t1, t2, opts)
}

// LoadTemplate loads a CloudFormation template from a file.
func LoadTemplate(path string) (*fluffy.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a JSON or YAML template body. Numbers are normalized to
// float64 so that JSON and YAML sources compare equal.
func Parse(data []byte) (*fluffy.Template, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse as JSON or YAML: %w", err)
		}
		// Re-encode YAML through JSON to get JSON number and map types.
		normalized, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("normalizing YAML template: %w", err)
		}
		data = normalized
	}

	var template fluffy.Template
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("decoding template: %w", err)
	}
	return &template, nil
}

// Normalize round-trips a template through JSON so values built in Go
// compare equal to parsed ones.
func Normalize(t *fluffy.Template) (*fluffy.Template, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// compareResources compares two resource definitions and returns changes.
func compareResources(def1, def2 fluffy.ResourceDef, opts Options) []string {
	var changes []string

	if def1.Type != def2.Type {
		changes = append(changes, fmt.Sprintf("Type changed: %s → %s", def1.Type, def2.Type))
	}

	changes = append(changes, compareProperties("", def1.Properties, def2.Properties, opts)...)

	if !equalStringSlices(sortedCopy(def1.DependsOn), sortedCopy(def2.DependsOn)) {
		changes = append(changes, "DependsOn changed")
	}

	return changes
}

// compareProperties recursively compares property maps.
func compareProperties(prefix string, props1, props2 map[string]any, opts Options) []string {
	var changes []string

	for key, val2 := range props2 {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		val1, exists := props1[key]
		if !exists {
			changes = append(changes, fmt.Sprintf("%s added", path))
			continue
		}

		m1, ok1 := val1.(map[string]any)
		m2, ok2 := val2.(map[string]any)
		if ok1 && ok2 && !isIntrinsic(m1) && !isIntrinsic(m2) {
			changes = append(changes, compareProperties(path, m1, m2, opts)...)
			continue
		}
		if !deepEqual(val1, val2, opts) {
			changes = append(changes, fmt.Sprintf("%s modified", path))
		}
	}

	for key := range props1 {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}

		if _, exists := props2[key]; !exists {
			changes = append(changes, fmt.Sprintf("%s removed", path))
		}
	}

	sort.Strings(changes)
	return changes
}

func compareOutputs(current, desired map[string]fluffy.Output, opts Options) []string {
	var changes []string
	for name, o2 := range desired {
		o1, exists := current[name]
		switch {
		case !exists:
			changes = append(changes, fmt.Sprintf("Output %s added", name))
		case !deepEqual(o1.Value, o2.Value, opts) || !reflect.DeepEqual(o1.Export, o2.Export):
			changes = append(changes, fmt.Sprintf("Output %s modified", name))
		}
	}
	for name := range current {
		if _, exists := desired[name]; !exists {
			changes = append(changes, fmt.Sprintf("Output %s removed", name))
		}
	}
	sort.Strings(changes)
	return changes
}

// isIntrinsic reports whether m is a single-key intrinsic function call.
func isIntrinsic(m map[string]any) bool {
	if len(m) != 1 {
		return false
	}
	for k := range m {
		return k == "Ref" || len(k) > 4 && k[:4] == "Fn::"
	}
	return false
}

// deepEqual compares two values deeply, optionally ignoring order.
func deepEqual(a, b any, opts Options) bool {
	if opts.IgnoreOrder {
		a = normalizeValue(a)
		b = normalizeValue(b)
	}
	return reflect.DeepEqual(a, b)
}

// normalizeValue sorts every slice by the JSON encoding of its elements.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = normalizeValue(item)
		}
		sort.SliceStable(result, func(i, j int) bool {
			return encode(result[i]) < encode(result[j])
		})
		return result
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, v := range val {
			result[k] = normalizeValue(v)
		}
		return result
	default:
		return v
	}
}

func encode(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

// equalStringSlices compares two string slices for equality.
func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

// sortEntries sorts diff entries by resource name.
func sortEntries(entries []fluffy.DiffEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Resource < entries[j].Resource
	})
}

// Print writes a human readable diff for one stack.
func Print(w io.Writer, stackName string, r *Result) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	modified := color.New(color.FgYellow)

	fmt.Fprintf(w, "Stack %s\n", stackName)
	if r.Empty() {
		fmt.Fprintln(w, "  There were no differences")
		return
	}
	for _, e := range r.Diff.Added {
		added.Fprintf(w, "  [+] %s %s\n", e.Type, e.Resource)
	}
	for _, e := range r.Diff.Removed {
		removed.Fprintf(w, "  [-] %s %s\n", e.Type, e.Resource)
	}
	for _, e := range r.Diff.Modified {
		modified.Fprintf(w, "  [~] %s %s\n", e.Type, e.Resource)
		for _, c := range e.Changes {
			fmt.Fprintf(w, "      %s\n", c)
		}
	}
	for _, o := range r.Outputs {
		modified.Fprintf(w, "  [~] %s\n", o)
	}
}
