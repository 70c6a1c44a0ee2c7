package compliance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/internal/ruleset"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func featureIDs(features []ruleset.Feature) []string {
	out := make([]string, len(features))
	for i, f := range features {
		out[i] = f.ID
	}
	return out
}

// scenarioRuleset: threshold 250, invoice_number for every invoice,
// vat_breakdown for standard invoices only.
func scenarioRuleset() *ruleset.Ruleset {
	threshold := dec("250")
	return &ruleset.Ruleset{
		ID:       ruleset.DEUStG,
		Version:  "1.0.0",
		Currency: "EUR",
		Features: []ruleset.Feature{
			{ID: "invoice_number", Level: ruleset.LevelRequired, AppliesTo: ruleset.AppliesOnly(true, true)},
			{ID: "vat_breakdown", Level: ruleset.LevelRequired, AppliesTo: ruleset.AppliesOnly(true, false)},
		},
		SmallAmountThreshold: &threshold,
		SmallAmountCurrency:  "EUR",
	}
}

// richRuleset mixes every level and applicability variant.
func richRuleset() *ruleset.Ruleset {
	rs := scenarioRuleset()
	rs.Features = []ruleset.Feature{
		{ID: "supplier_name", Level: ruleset.LevelRequired},
		{
			ID: "invoice_number", Level: ruleset.LevelRequired, AppliesTo: ruleset.AppliesOnly(true, false),
			Validation: &ruleset.Validation{Pattern: `^RE-[0-9]{4}$`},
		},
		{ID: "gross_amount", Level: ruleset.LevelRequired, AppliesTo: ruleset.AppliesOnly(false, true)},
		{
			ID: "reverse_charge_note", Level: ruleset.LevelConditional, AppliesTo: ruleset.AppliesOnly(true, false),
			Condition: map[string]any{"==": []any{map[string]any{"var": "reverse_charge"}, true}},
		},
		{
			ID: "large_order_ref", Level: ruleset.LevelConditional, AppliesTo: ruleset.AppliesOnly(true, true),
			Condition: map[string]any{">": []any{map[string]any{"var": "grossAmount"}, 10000}},
		},
		{ID: "always_conditional", Level: ruleset.LevelConditional, AppliesTo: ruleset.AppliesOnly(false, true)},
		{
			ID: "project_reference", Level: ruleset.LevelOptional,
			Validation: &ruleset.Validation{MinLength: intPtr(3)},
		},
	}
	return rs
}

func intPtr(n int) *int { return &n }

func TestIsSmallAmountInvoice_NoThreshold(t *testing.T) {
	rs := scenarioRuleset()
	rs.SmallAmountThreshold = nil

	for _, amount := range []string{"0", "0.01", "250", "-5", "1000000"} {
		assert.False(t, IsSmallAmountInvoice(rs, dec(amount)), amount)
	}
}

func TestIsSmallAmountInvoice_Boundary(t *testing.T) {
	rs := scenarioRuleset()

	assert.True(t, IsSmallAmountInvoice(rs, dec("250")))
	assert.True(t, IsSmallAmountInvoice(rs, dec("250.00")))
	assert.True(t, IsSmallAmountInvoice(rs, dec("249.99")))
	assert.False(t, IsSmallAmountInvoice(rs, dec("250.01")))
	assert.False(t, IsSmallAmountInvoice(rs, dec("250.0000001")))
}

func TestRequiredFeatures_Standard(t *testing.T) {
	rs := richRuleset()
	assert.Equal(t, []string{"supplier_name", "invoice_number", "gross_amount"}, featureIDs(RequiredFeatures(rs, false)))
}

func TestRequiredFeatures_SmallIsSubset(t *testing.T) {
	rs := richRuleset()
	small := RequiredFeatures(rs, true)
	standard := RequiredFeatures(rs, false)

	assert.Subset(t, featureIDs(standard), featureIDs(small))
	for _, f := range small {
		assert.True(t, f.AppliesTo.IsAll() || f.AppliesTo.SmallAmountInvoice(), f.ID)
	}
	assert.Equal(t, []string{"supplier_name", "gross_amount"}, featureIDs(small))
}

func TestRequiredFeatures_Empty(t *testing.T) {
	rs := &ruleset.Ruleset{ID: "EMPTY"}
	assert.Empty(t, RequiredFeatures(rs, true))
	assert.NotNil(t, RequiredFeatures(rs, false))
}

func TestScenario_DEUStG(t *testing.T) {
	rs := scenarioRuleset()

	small := dec("200")
	assert.True(t, IsSmallAmountInvoice(rs, small))
	assert.Equal(t, []string{"invoice_number"}, featureIDs(RequiredFeatures(rs, IsSmallAmountInvoice(rs, small))))

	large := dec("500")
	assert.False(t, IsSmallAmountInvoice(rs, large))
	assert.Equal(t, []string{"invoice_number", "vat_breakdown"}, featureIDs(RequiredFeatures(rs, IsSmallAmountInvoice(rs, large))))
}

func TestApplicableFeatures_Conditions(t *testing.T) {
	rs := richRuleset()

	got, err := ApplicableFeatures(rs, Invoice{GrossAmount: dec("500")})
	require.NoError(t, err)
	assert.Equal(t, []string{"supplier_name", "invoice_number"}, featureIDs(got))

	got, err = ApplicableFeatures(rs, Invoice{
		GrossAmount: dec("12000"),
		Facts:       map[string]any{"reverse_charge": true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"supplier_name", "invoice_number", "reverse_charge_note", "large_order_ref"}, featureIDs(got))

	got, err = ApplicableFeatures(rs, Invoice{GrossAmount: dec("100"), Facts: map[string]any{"reverse_charge": true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"supplier_name", "gross_amount", "always_conditional"}, featureIDs(got))
}

func TestEvaluate_Outcomes(t *testing.T) {
	rs := richRuleset()
	report, err := Evaluate(rs, Invoice{
		GrossAmount: dec("480.00"),
		Values: map[string]any{
			"supplier_name":     "Muster GmbH",
			"invoice_number":    "2024-17",
			"project_reference": "AB",
		},
		Facts: map[string]any{"reverse_charge": true},
	})
	require.NoError(t, err)

	assert.False(t, report.SmallAmount)
	assert.Equal(t, "480", report.GrossAmount)
	assert.Equal(t, StatusNonCompliant, report.Status)
	assert.False(t, report.Compliant())

	assert.Equal(t, []string{"supplier_name"}, report.WithOutcome(OutcomePass))
	assert.Equal(t, []string{"invoice_number"}, report.WithOutcome(OutcomeInvalid))
	assert.Equal(t, []string{"reverse_charge_note"}, report.WithOutcome(OutcomeMissing))
	assert.Equal(t, []string{"gross_amount", "large_order_ref", "always_conditional"}, report.WithOutcome(OutcomeNotApplicable))
	assert.Equal(t, []string{"project_reference"}, report.WithOutcome(OutcomeAdvisory))
	assert.Equal(t, []string{"supplier_name", "invoice_number", "reverse_charge_note"}, report.Applicable())

	assert.Equal(t, Counts{Pass: 1, Missing: 1, Invalid: 1, NotApplicable: 3, Advisory: 1}, report.Counts)
}

func TestEvaluate_Compliant(t *testing.T) {
	rs := scenarioRuleset()
	report, err := Evaluate(rs, Invoice{
		GrossAmount: dec("200"),
		Values:      map[string]any{"invoice_number": "RE-0001", "vat_breakdown": "   "},
	})
	require.NoError(t, err)

	assert.True(t, report.SmallAmount)
	assert.Equal(t, StatusCompliant, report.Status)
	assert.Equal(t, []string{"invoice_number"}, report.WithOutcome(OutcomePass))
	assert.Equal(t, []string{"vat_breakdown"}, report.WithOutcome(OutcomeNotApplicable))
}

func TestEvaluate_BlankValueIsMissing(t *testing.T) {
	rs := scenarioRuleset()
	report, err := Evaluate(rs, Invoice{
		GrossAmount: dec("900"),
		Values:      map[string]any{"invoice_number": "RE-1", "vat_breakdown": " "},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"vat_breakdown"}, report.WithOutcome(OutcomeMissing))
}

func TestEvaluate_BuiltinDE(t *testing.T) {
	builtin, err := ruleset.Builtin()
	require.NoError(t, err)
	reg, err := ruleset.NewRegistry(builtin...)
	require.NoError(t, err)
	rs, err := reg.Get(ruleset.DEUStG)
	require.NoError(t, err)

	report, err := Evaluate(rs, Invoice{
		GrossAmount: dec("119.00"),
		Values: map[string]any{
			"supplier_name_address": "Muster GmbH, Hauptstr. 1, 10115 Berlin",
			"invoice_date":          "2025-01-15",
			"supply_description":    "2x Druckerpapier A4",
			"tax_rate":              "19%",
			"gross_amount":          "119.00",
		},
	})
	require.NoError(t, err)
	assert.True(t, report.SmallAmount)
	assert.Equal(t, StatusCompliant, report.Status, "%+v", report.Results)
	assert.Equal(t, rs.ContentHash, report.ContentHash)
}

func TestSnapshot(t *testing.T) {
	rs := scenarioRuleset()
	report, err := Evaluate(rs, Invoice{GrossAmount: dec("500"), Values: map[string]any{"invoice_number": "1"}})
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, "NON_COMPLIANT", snap["status"])
	assert.Equal(t, false, snap["small_amount"])
	assert.Len(t, snap["results"], 2)
}
