package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/flowaudit/flowaudit/internal/compliance"
	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// Run evaluates every invoice of scenario against its ruleset and checks
// the expectations.
//
// The registry holds the built-in rulesets plus the latest version of each
// ruleset found in scenario.RulesetDirs. An error is returned only when
// the scenario cannot run at all; failed expectations end up in
// Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	reg, err := ruleset.LoadRegistry(scenario.RulesetDirs)
	if err != nil {
		return nil, err
	}
	return RunWithRegistry(scenario, reg)
}

// RunWithRegistry is Run with a caller-supplied registry.
func RunWithRegistry(scenario *Scenario, reg *ruleset.Registry) (*Result, error) {
	rs, err := reg.Get(ruleset.ID(scenario.Ruleset))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := NewResult()
	for _, c := range scenario.Invoices {
		gross, err := compliance.ParseAmount(c.GrossAmount)
		if err != nil {
			return nil, fmt.Errorf("invoice %s: %w", c.Name, err)
		}

		report, err := compliance.Evaluate(rs, compliance.Invoice{
			GrossAmount: gross,
			Values:      c.Values,
			Facts:       c.Facts,
		})
		if err != nil {
			return nil, fmt.Errorf("invoice %s: %w", c.Name, err)
		}

		result.Reports = append(result.Reports, InvoiceReport{Invoice: c.Name, Report: report})
		for _, msg := range checkExpect(rs, c, report) {
			result.AddError(fmt.Sprintf("%s: %s", c.Name, msg))
		}
	}
	return result, nil
}

// checkExpect compares a report with the case's expectations.
func checkExpect(rs *ruleset.Ruleset, c InvoiceCase, report *compliance.Report) []string {
	var errs []string
	exp := c.Expect

	if exp.SmallAmount != nil && *exp.SmallAmount != report.SmallAmount {
		errs = append(errs, fmt.Sprintf("small_amount: expected %t, got %t", *exp.SmallAmount, report.SmallAmount))
	}
	if exp.Status != "" && compliance.Status(exp.Status) != report.Status {
		errs = append(errs, fmt.Sprintf("status: expected %s, got %s", exp.Status, report.Status))
	}
	if exp.Required != nil {
		var got []string
		for _, f := range compliance.RequiredFeatures(rs, report.SmallAmount) {
			got = append(got, f.ID)
		}
		if msg := compareSets("required", exp.Required, got); msg != "" {
			errs = append(errs, msg)
		}
	}
	if exp.Missing != nil {
		if msg := compareSets("missing", exp.Missing, report.WithOutcome(compliance.OutcomeMissing)); msg != "" {
			errs = append(errs, msg)
		}
	}
	if exp.Invalid != nil {
		if msg := compareSets("invalid", exp.Invalid, report.WithOutcome(compliance.OutcomeInvalid)); msg != "" {
			errs = append(errs, msg)
		}
	}
	return errs
}

// compareSets returns "" when want and got hold the same feature ids.
func compareSets(field string, want, got []string) string {
	w := slices.Sorted(slices.Values(want))
	g := slices.Sorted(slices.Values(got))
	w = slices.Compact(w)
	g = slices.Compact(g)
	if slices.Equal(w, g) {
		return ""
	}
	return fmt.Sprintf("%s: expected [%s], got [%s]", field, strings.Join(w, ", "), strings.Join(g, ", "))
}
