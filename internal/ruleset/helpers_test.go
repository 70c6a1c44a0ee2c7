package ruleset

import (
	"github.com/shopspring/decimal"
)

func intPtr(n int) *int { return &n }

// scenarioRuleset is the two-feature DE_USTG example: invoice_number applies
// to every invoice, vat_breakdown only to standard invoices.
func scenarioRuleset() Ruleset {
	threshold := decimal.NewFromInt(250)
	return Ruleset{
		ID:           DEUStG,
		Version:      "1.0.0",
		Jurisdiction: "DE",
		Title:        LocalizedText{"de": "Testregeln", "en": "Test rules"},
		Currency:     "EUR",
		LegalReferences: []LegalReference{
			{Law: "UStG", Section: "§ 14 Abs. 4"},
		},
		Features: []Feature{
			{
				ID:        "invoice_number",
				Name:      LocalizedText{"en": "Invoice number"},
				Level:     LevelRequired,
				Category:  CategoryIdentity,
				AppliesTo: AppliesOnly(true, true),
			},
			{
				ID:        "vat_breakdown",
				Name:      LocalizedText{"en": "VAT breakdown"},
				Level:     LevelRequired,
				Category:  CategoryTax,
				AppliesTo: AppliesOnly(true, false),
			},
		},
		SmallAmountThreshold: &threshold,
		SmallAmountCurrency:  "EUR",
	}
}

// customRuleset is a valid, non built-in ruleset.
func customRuleset(version string) Ruleset {
	return Ruleset{
		ID:           "AT_USTG",
		Version:      version,
		Jurisdiction: "AT",
		Title:        LocalizedText{"de": "Österreich", "en": "Austria"},
		Currency:     "EUR",
		Features: []Feature{
			{ID: "invoice_number", Name: LocalizedText{"en": "Invoice number"}, Level: LevelRequired, Category: CategoryIdentity},
			{ID: "uid_number", Name: LocalizedText{"en": "UID"}, Level: LevelOptional, Category: CategoryTax},
		},
	}
}
