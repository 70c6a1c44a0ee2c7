package ruleset

import (
	"encoding/json"
	"fmt"

	"github.com/flowaudit/flowaudit/internal/canonical"
)

// ContentHash computes the content-addressed identity of rs.
//
// The hash covers everything an evaluation depends on. ContentHash and
// Builtin themselves are excluded. Conditions are folded in as their
// encoding/json form (sorted keys) because JSON-logic literals may be
// floats, which canonical JSON rejects.
func ContentHash(rs *Ruleset) (string, error) {
	obj, err := hashObject(rs)
	if err != nil {
		return "", fmt.Errorf("ruleset %s: %w", rs.ID, err)
	}
	return canonical.HashValue(canonical.DomainRuleset, obj)
}

func hashObject(rs *Ruleset) (map[string]any, error) {
	refs := make([]any, len(rs.LegalReferences))
	for i, ref := range rs.LegalReferences {
		refs[i] = map[string]any{
			"law":         ref.Law,
			"section":     ref.Section,
			"description": map[string]string(ref.Description),
		}
	}

	features := make([]any, len(rs.Features))
	for i, f := range rs.Features {
		obj := map[string]any{
			"feature_id":     f.ID,
			"name":           map[string]string(f.Name),
			"explanation":    map[string]string(f.Explanation),
			"legal_basis":    f.LegalBasis,
			"required_level": string(f.Level),
			"category":       string(f.Category),
			"applies_to":     applicabilityObject(f.AppliesTo),
		}
		if v := f.Validation; v != nil {
			vobj := map[string]any{"pattern": v.Pattern}
			if v.MinLength != nil {
				vobj["min_length"] = *v.MinLength
			}
			if v.MaxLength != nil {
				vobj["max_length"] = *v.MaxLength
			}
			obj["validation"] = vobj
		}
		if f.Condition != nil {
			data, err := json.Marshal(f.Condition)
			if err != nil {
				return nil, fmt.Errorf("feature %s condition: %w", f.ID, err)
			}
			obj["condition"] = string(data)
		}
		features[i] = obj
	}

	obj := map[string]any{
		"ruleset_id":       string(rs.ID),
		"version":          rs.Version,
		"jurisdiction":     rs.Jurisdiction,
		"title":            map[string]string(rs.Title),
		"currency":         rs.Currency,
		"legal_references": refs,
		"features":         features,
	}
	if rs.SmallAmountThreshold != nil {
		obj["small_amount_threshold"] = rs.SmallAmountThreshold.String()
		obj["small_amount_currency"] = rs.SmallAmountCurrency
	}
	return obj, nil
}

func applicabilityObject(a Applicability) any {
	if a.IsAll() {
		return "all"
	}
	return map[string]any{
		"standard_invoice":     a.StandardInvoice(),
		"small_amount_invoice": a.SmallAmountInvoice(),
	}
}
