// Package policy checks synthesized templates against the security and
// structure rules of a VPN deployment.
package policy

import (
	"fmt"
	"sort"

	corelint "github.com/lex00/wetwire-core-go/lint"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
	"github.com/fluffyengine/fluffy-engine/internal/config"
)

// Type aliases shared with the wetwire lint tooling.
type (
	// Issue is an alias for corelint.Issue.
	Issue = corelint.Issue
	// Severity is an alias for corelint.Severity.
	Severity = corelint.Severity
)

// Severity constants.
const (
	SeverityError   = corelint.SeverityError
	SeverityWarning = corelint.SeverityWarning
	SeverityInfo    = corelint.SeverityInfo
)

// Rule is a single policy check.
type Rule interface {
	ID() string
	Description() string
	Check(in *Input) []Issue
}

// Input is what rules inspect: the deployment settings, the rendered
// template of every stack and the stack dependency edges.
type Input struct {
	Deployment   *config.Deployment
	Templates    map[string]*fluffy.Template
	Dependencies map[string][]string
}

// InputFrom renders every stack of an assembled application.
func InputFrom(res *app.Result) (*Input, error) {
	templates, err := res.App.Templates()
	if err != nil {
		return nil, err
	}
	deps := make(map[string][]string)
	for _, s := range res.App.Stacks() {
		deps[s.Name()] = s.Dependencies()
	}
	return &Input{Deployment: res.Deployment, Templates: templates, Dependencies: deps}, nil
}

// Result contains the outcome of a policy run.
type Result struct {
	// Success is false when any error-severity issue was found.
	Success bool
	Issues  []Issue
}

// Errors returns the error-severity issues.
func (r Result) Errors() []Issue {
	return r.filter(SeverityError)
}

// Warnings returns the warning-severity issues.
func (r Result) Warnings() []Issue {
	return r.filter(SeverityWarning)
}

func (r Result) filter(s Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

// Options configures a policy run.
type Options struct {
	// Rules to enable. If empty, all rules are enabled.
	EnabledRules []string
}

// Check runs the enabled rules over in.
func Check(in *Input, opts Options) Result {
	var issues []Issue
	for _, rule := range getRules(opts) {
		issues = append(issues, rule.Check(in)...)
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].File != issues[j].File {
			return issues[i].File < issues[j].File
		}
		return issues[i].Rule < issues[j].Rule
	})

	success := true
	for _, issue := range issues {
		if issue.Severity == SeverityError {
			success = false
		}
	}
	return Result{Success: success, Issues: issues}
}

// Format renders an issue on one line.
func Format(issue Issue) string {
	if issue.File != "" {
		return fmt.Sprintf("%s: %s: %s [%s]", issue.File, issue.Severity.String(), issue.Message, issue.Rule)
	}
	return fmt.Sprintf("%s: %s [%s]", issue.Severity.String(), issue.Message, issue.Rule)
}

// getRules returns the rules to use based on options.
func getRules(opts Options) []Rule {
	all := AllRules()
	if len(opts.EnabledRules) == 0 {
		return all
	}

	enabled := make(map[string]bool)
	for _, id := range opts.EnabledRules {
		enabled[id] = true
	}

	var filtered []Rule
	for _, r := range all {
		if enabled[r.ID()] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
