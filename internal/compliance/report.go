package compliance

import (
	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// Outcome is the verdict for one feature.
type Outcome string

const (
	OutcomePass          Outcome = "PASS"
	OutcomeMissing       Outcome = "MISSING"
	OutcomeInvalid       Outcome = "INVALID"
	OutcomeNotApplicable Outcome = "NOT_APPLICABLE"
	OutcomeAdvisory      Outcome = "ADVISORY"
)

// Status is the verdict for a whole invoice.
type Status string

const (
	StatusCompliant    Status = "COMPLIANT"
	StatusNonCompliant Status = "NON_COMPLIANT"
)

// FeatureResult is the outcome for one feature.
type FeatureResult struct {
	FeatureID  string           `json:"featureId"`
	Level      ruleset.Level    `json:"requiredLevel"`
	Category   ruleset.Category `json:"category"`
	Outcome    Outcome          `json:"outcome"`
	Message    string           `json:"message,omitempty"`
	LegalBasis string           `json:"legalBasis,omitempty"`
}

// Counts tallies outcomes.
type Counts struct {
	Pass          int `json:"pass"`
	Missing       int `json:"missing"`
	Invalid       int `json:"invalid"`
	NotApplicable int `json:"notApplicable"`
	Advisory      int `json:"advisory"`
}

// Report is the compliance verdict for one invoice under one ruleset.
type Report struct {
	RulesetID   ruleset.ID      `json:"rulesetId"`
	Version     string          `json:"version"`
	ContentHash string          `json:"contentHash,omitempty"`
	GrossAmount string          `json:"grossAmount"`
	SmallAmount bool            `json:"smallAmount"`
	Status      Status          `json:"status"`
	Counts      Counts          `json:"counts"`
	Results     []FeatureResult `json:"results"`
}

func (r *Report) add(res FeatureResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case OutcomePass:
		r.Counts.Pass++
	case OutcomeMissing:
		r.Counts.Missing++
	case OutcomeInvalid:
		r.Counts.Invalid++
	case OutcomeNotApplicable:
		r.Counts.NotApplicable++
	case OutcomeAdvisory:
		r.Counts.Advisory++
	}
}

// Compliant reports whether no feature is missing or invalid.
func (r *Report) Compliant() bool {
	return r.Status == StatusCompliant
}

// WithOutcome returns the ids of features with the given outcome, in
// ruleset order.
func (r *Report) WithOutcome(o Outcome) []string {
	out := []string{}
	for _, res := range r.Results {
		if res.Outcome == o {
			out = append(out, res.FeatureID)
		}
	}
	return out
}

// Applicable returns the ids of REQUIRED and CONDITIONAL features that
// apply to the invoice.
func (r *Report) Applicable() []string {
	out := []string{}
	for _, res := range r.Results {
		if res.Level == ruleset.LevelOptional || res.Outcome == OutcomeNotApplicable {
			continue
		}
		out = append(out, res.FeatureID)
	}
	return out
}

// Snapshot returns a canonical-JSON friendly view of the report: ints,
// strings and bools only. Used for golden files and hashing.
func (r *Report) Snapshot() map[string]any {
	results := make([]any, len(r.Results))
	for i, res := range r.Results {
		entry := map[string]any{
			"feature_id": res.FeatureID,
			"level":      string(res.Level),
			"outcome":    string(res.Outcome),
		}
		if res.Message != "" {
			entry["message"] = res.Message
		}
		results[i] = entry
	}
	return map[string]any{
		"ruleset_id":   string(r.RulesetID),
		"version":      r.Version,
		"gross_amount": r.GrossAmount,
		"small_amount": r.SmallAmount,
		"status":       string(r.Status),
		"results":      results,
	}
}
