// Package validation checks a synthesized deployment: cfn-lint-go over
// every template, offline schema checks and the deployment policy rules.
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lex00/cfn-lint-go/pkg/lint"
	"github.com/sirupsen/logrus"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
	"github.com/fluffyengine/fluffy-engine/internal/policy"
	"github.com/fluffyengine/fluffy-engine/internal/schema"
)

// CfnLintResult contains the result of running cfn-lint on one template.
type CfnLintResult struct {
	Stack         string   `json:"stack,omitempty"`
	TemplatePath  string   `json:"template_path,omitempty"`
	Passed        bool     `json:"passed"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Informational []string `json:"informational"`
}

// TotalIssues returns the total number of issues found.
func (r CfnLintResult) TotalIssues() int {
	return len(r.Errors) + len(r.Warnings) + len(r.Informational)
}

// Result contains the validation results of a whole deployment.
type Result struct {
	Resources int
	CfnLint   []*CfnLintResult
	Schema    *schema.Result
	Policy    policy.Result
}

// Passed reports whether no template or policy error was found.
func (r *Result) Passed() bool {
	for _, c := range r.CfnLint {
		if !c.Passed {
			return false
		}
	}
	if r.Schema != nil && !r.Schema.Valid {
		return false
	}
	return r.Policy.Success
}

// Summary flattens the result into the CLI's JSON shape.
func (r *Result) Summary() fluffy.ValidateResult {
	out := fluffy.ValidateResult{
		Success:   r.Passed(),
		Resources: r.Resources,
	}
	for _, c := range r.CfnLint {
		for _, e := range c.Errors {
			out.Errors = append(out.Errors, c.Stack+": "+e)
		}
		for _, w := range c.Warnings {
			out.Warnings = append(out.Warnings, c.Stack+": "+w)
		}
	}
	if r.Schema != nil {
		for _, e := range r.Schema.Errors {
			out.Errors = append(out.Errors, e.String())
		}
		for _, w := range r.Schema.Warnings {
			out.Warnings = append(out.Warnings, w.String())
		}
	}
	for _, issue := range r.Policy.Errors() {
		out.Errors = append(out.Errors, policy.Format(issue))
	}
	for _, issue := range r.Policy.Warnings() {
		out.Warnings = append(out.Warnings, policy.Format(issue))
	}
	return out
}

// RunCfnLint runs cfn-lint-go on the given template file.
func RunCfnLint(templatePath string) (*CfnLintResult, error) {
	if _, err := os.Stat(templatePath); err != nil {
		return &CfnLintResult{
			TemplatePath: templatePath,
			Passed:       false,
			Errors:       []string{fmt.Sprintf("Template file not found: %s", templatePath)},
		}, nil
	}

	linter := lint.New(lint.Options{})
	matches, err := linter.LintFile(templatePath)
	if err != nil {
		return &CfnLintResult{
			TemplatePath: templatePath,
			Passed:       false,
			Errors:       []string{fmt.Sprintf("Linter error: %v", err)},
		}, nil
	}

	result := &CfnLintResult{
		TemplatePath:  templatePath,
		Errors:        []string{},
		Warnings:      []string{},
		Informational: []string{},
	}

	for _, match := range matches {
		formatted := formatMatch(match)

		switch match.Level {
		case "Error":
			result.Errors = append(result.Errors, formatted)
		case "Warning":
			result.Warnings = append(result.Warnings, formatted)
		default:
			result.Informational = append(result.Informational, formatted)
		}
	}

	// Warnings are acceptable.
	result.Passed = len(result.Errors) == 0

	return result, nil
}

// formatMatch formats a cfn-lint-go match for display.
func formatMatch(match lint.Match) string {
	pathStr := ""
	if len(match.Location.Path) > 0 {
		parts := make([]string, len(match.Location.Path))
		for i, p := range match.Location.Path {
			parts[i] = fmt.Sprintf("%v", p)
		}
		pathStr = strings.Join(parts, "/")
	}

	if pathStr != "" {
		return fmt.Sprintf("%s: %s (at %s)", match.Rule.ID, match.Message, pathStr)
	}
	return fmt.Sprintf("%s: %s", match.Rule.ID, match.Message)
}

// Validate synthesizes res into dir, lints every template and runs the
// policy rules. An empty dir uses a temporary directory.
func Validate(res *app.Result, dir string, opts policy.Options) (*Result, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "fluffy-validate-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	manifest, err := res.App.Synth(dir, "json")
	if err != nil {
		return nil, err
	}

	out := &Result{}
	for _, s := range manifest.Stacks {
		path := filepath.Join(dir, s.TemplateFile)
		logrus.Debugf("Running cfn-lint on %s", path)
		c, err := RunCfnLint(path)
		if err != nil {
			return nil, fmt.Errorf("running cfn-lint on %s: %w", s.Name, err)
		}
		c.Stack = s.Name
		out.CfnLint = append(out.CfnLint, c)
	}

	for _, s := range res.App.Stacks() {
		resources, err := s.Resources()
		if err != nil {
			return nil, err
		}
		out.Resources += len(resources)
	}

	in, err := policy.InputFrom(res)
	if err != nil {
		return nil, err
	}
	out.Schema = schema.ValidateTemplates(in.Templates, schema.Options{})
	out.Policy = policy.Check(in, opts)

	return out, nil
}
