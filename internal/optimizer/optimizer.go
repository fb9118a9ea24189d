// Package optimizer suggests security, cost, performance and reliability
// improvements for a synthesized deployment. Suggestions never fail a run;
// hard requirements live in the policy package.
package optimizer

import (
	"sort"

	fluffy "github.com/fluffyengine/fluffy-engine"
	"github.com/fluffyengine/fluffy-engine/internal/app"
	"github.com/fluffyengine/fluffy-engine/internal/policy"
)

// Categories lists the valid suggestion categories, "all" included.
var Categories = []string{"all", "security", "cost", "performance", "reliability"}

// Options configures the optimizer.
type Options struct {
	// Category filters suggestions: "all", "security", "cost", "performance", "reliability"
	Category string
}

// Result contains optimization suggestions.
type Result struct {
	Suggestions   []fluffy.OptimizeSuggestion
	Summary       fluffy.OptimizeSummary
	ResourceCount int
}

// ValidCategory reports whether category is one of Categories.
func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Optimize analyzes the deployment and returns optimization suggestions.
func Optimize(res *app.Result, opts Options) (*Result, error) {
	in, err := policy.InputFrom(res)
	if err != nil {
		return nil, err
	}
	return Analyze(in, opts), nil
}

// Analyze applies every rule in the selected category to in.
func Analyze(in *policy.Input, opts Options) *Result {
	category := opts.Category
	if category == "" {
		category = "all"
	}

	result := &Result{}
	for _, t := range in.Templates {
		result.ResourceCount += len(t.Resources)
	}

	for _, rule := range rules {
		if category != "all" && rule.Category != category {
			continue
		}
		for _, s := range rule.Check(in) {
			s.Rule = rule.ID
			s.Category = rule.Category
			if s.Title == "" {
				s.Title = rule.Title
			}
			result.Suggestions = append(result.Suggestions, s)
		}
	}

	sort.SliceStable(result.Suggestions, func(i, j int) bool {
		a, b := result.Suggestions[i], result.Suggestions[j]
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Resource < b.Resource
	})

	result.Summary = calculateSummary(result.Suggestions)
	return result
}

// calculateSummary tallies suggestions by category.
func calculateSummary(suggestions []fluffy.OptimizeSuggestion) fluffy.OptimizeSummary {
	summary := fluffy.OptimizeSummary{}
	for _, s := range suggestions {
		switch s.Category {
		case "security":
			summary.Security++
		case "cost":
			summary.Cost++
		case "performance":
			summary.Performance++
		case "reliability":
			summary.Reliability++
		}
		summary.Total++
	}
	return summary
}

// Rule represents an optimization rule.
type Rule struct {
	ID       string
	Category string
	Title    string
	Check    func(in *policy.Input) []fluffy.OptimizeSuggestion
}
