package compliance

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// Invoice is the evaluator's view of one invoice.
type Invoice struct {
	GrossAmount decimal.Decimal `json:"grossAmount"`
	// Values holds extracted feature values keyed by feature id.
	Values map[string]any `json:"values,omitempty"`
	// Facts holds boolean or scalar facts that CONDITIONAL features test,
	// e.g. reverse_charge or intra_community_supply.
	Facts map[string]any `json:"facts,omitempty"`
}

// IsSmallAmountInvoice reports whether gross is at or below the ruleset's
// small-amount threshold. Always false when no threshold is defined.
func IsSmallAmountInvoice(rs *ruleset.Ruleset, gross decimal.Decimal) bool {
	if rs.SmallAmountThreshold == nil {
		return false
	}
	return gross.LessThanOrEqual(*rs.SmallAmountThreshold)
}

// RequiredFeatures returns the REQUIRED features for an invoice class, in
// ruleset order. For small-amount invoices only features whose
// applicability covers small-amount invoices are returned.
func RequiredFeatures(rs *ruleset.Ruleset, isSmallAmount bool) []ruleset.Feature {
	out := []ruleset.Feature{}
	for _, f := range rs.Features {
		if f.Level != ruleset.LevelRequired {
			continue
		}
		if isSmallAmount && !f.AppliesTo.SmallAmountInvoice() {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ApplicableFeatures returns the REQUIRED features for the invoice's class
// plus the CONDITIONAL features whose applicability covers the class and
// whose condition, if any, holds for the invoice.
func ApplicableFeatures(rs *ruleset.Ruleset, inv Invoice) ([]ruleset.Feature, error) {
	small := IsSmallAmountInvoice(rs, inv.GrossAmount)
	data := conditionData(inv, small)

	out := []ruleset.Feature{}
	for _, f := range rs.Features {
		ok, err := applies(f, small, data)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func applies(f ruleset.Feature, small bool, data map[string]any) (bool, error) {
	switch f.Level {
	case ruleset.LevelRequired:
		return !small || f.AppliesTo.SmallAmountInvoice(), nil
	case ruleset.LevelConditional:
		if !f.AppliesTo.Covers(small) {
			return false, nil
		}
		if f.Condition == nil {
			return true, nil
		}
		ok, err := EvalCondition(f.Condition, data)
		if err != nil {
			return false, fmt.Errorf("feature %s: %w", f.ID, err)
		}
		return ok, nil
	}
	return false, nil
}

// Evaluate checks every feature of rs against inv.
func Evaluate(rs *ruleset.Ruleset, inv Invoice) (*Report, error) {
	small := IsSmallAmountInvoice(rs, inv.GrossAmount)
	data := conditionData(inv, small)

	report := &Report{
		RulesetID:   rs.ID,
		Version:     rs.Version,
		ContentHash: rs.ContentHash,
		GrossAmount: inv.GrossAmount.String(),
		SmallAmount: small,
		Results:     make([]FeatureResult, 0, len(rs.Features)),
	}

	for _, f := range rs.Features {
		result := FeatureResult{
			FeatureID:  f.ID,
			Level:      f.Level,
			Category:   f.Category,
			LegalBasis: f.LegalBasis,
		}

		value, has := inv.Values[f.ID]
		present := has && Present(value)

		switch f.Level {
		case ruleset.LevelOptional:
			switch {
			case !present:
				result.Outcome = OutcomeAdvisory
				result.Message = "optional feature not provided"
			default:
				if msg := checkValue(f, value); msg != "" {
					result.Outcome = OutcomeAdvisory
					result.Message = msg
				} else {
					result.Outcome = OutcomePass
				}
			}
		default:
			ok, err := applies(f, small, data)
			if err != nil {
				return nil, err
			}
			switch {
			case !ok:
				result.Outcome = OutcomeNotApplicable
			case !present:
				result.Outcome = OutcomeMissing
				result.Message = "required feature not provided"
			default:
				if msg := checkValue(f, value); msg != "" {
					result.Outcome = OutcomeInvalid
					result.Message = msg
				} else {
					result.Outcome = OutcomePass
				}
			}
		}

		report.add(result)
	}

	report.Status = StatusCompliant
	if report.Counts.Missing > 0 || report.Counts.Invalid > 0 {
		report.Status = StatusNonCompliant
	}
	return report, nil
}

// checkValue applies the feature's validation and returns a problem
// description, or "" when the value is acceptable.
func checkValue(f ruleset.Feature, value any) string {
	v := f.Validation
	if v == nil {
		return ""
	}
	s := strings.TrimSpace(ValueString(value))
	n := utf8.RuneCountInString(s)

	if v.MinLength != nil && n < *v.MinLength {
		return fmt.Sprintf("value shorter than %d characters", *v.MinLength)
	}
	if v.MaxLength != nil && n > *v.MaxLength {
		return fmt.Sprintf("value longer than %d characters", *v.MaxLength)
	}
	re, err := v.Regexp()
	if err != nil {
		return fmt.Sprintf("pattern does not compile: %v", err)
	}
	if re != nil && !re.MatchString(s) {
		return fmt.Sprintf("value does not match pattern %s", v.Pattern)
	}
	return ""
}
