package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/ruleset"
)

func storedRuleset(version, hash string) ruleset.Ruleset {
	threshold := decimal.RequireFromString("400")
	return ruleset.Ruleset{
		ID:           "AT_USTG",
		Version:      version,
		Jurisdiction: "AT",
		Title:        ruleset.LocalizedText{"de": "Österreich", "en": "Austria"},
		Currency:     "EUR",
		Features: []ruleset.Feature{
			{
				ID:         "invoice_number",
				Name:       ruleset.LocalizedText{"en": "Invoice number"},
				LegalBasis: "§ 11 UStG",
				Level:      ruleset.LevelRequired,
				Category:   ruleset.CategoryIdentity,
				AppliesTo:  ruleset.AppliesOnly(true, false),
			},
			{
				ID:         "reverse_charge_note",
				Name:       ruleset.LocalizedText{"en": "Reverse charge"},
				LegalBasis: "§ 19 UStG",
				Level:      ruleset.LevelConditional,
				Category:   ruleset.CategoryTax,
				AppliesTo:  ruleset.AppliesToAll(),
				Condition:  map[string]any{"==": []any{map[string]any{"var": "reverse_charge"}, true}},
			},
		},
		SmallAmountThreshold: &threshold,
		SmallAmountCurrency:  "EUR",
		ContentHash:          hash,
	}
}

func TestInsertRulesetVersion_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRulesetVersion(ctx, storedRuleset("1.0.0", "h1")))

	got, err := s.ListRulesetVersions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)

	rs := got[0]
	assert.Equal(t, ruleset.ID("AT_USTG"), rs.ID)
	assert.Equal(t, "1.0.0", rs.Version)
	assert.Equal(t, "h1", rs.ContentHash)
	assert.False(t, rs.Builtin)
	require.NotNil(t, rs.SmallAmountThreshold)
	assert.True(t, rs.SmallAmountThreshold.Equal(decimal.NewFromInt(400)))
	require.Len(t, rs.Features, 2)
	assert.False(t, rs.Features[0].AppliesTo.IsAll())
	assert.True(t, rs.Features[0].AppliesTo.StandardInvoice())
	assert.False(t, rs.Features[0].AppliesTo.SmallAmountInvoice())
	assert.True(t, rs.Features[1].AppliesTo.IsAll())
	assert.Contains(t, rs.Features[1].Condition, "==")
}

func TestInsertRulesetVersion_DuplicateConflicts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertRulesetVersion(ctx, storedRuleset("1.0.0", "h1")))
	err := s.InsertRulesetVersion(ctx, storedRuleset("1.0.0", "h2"))

	assert.True(t, apperr.IsConflict(err))
	assert.Equal(t, "RULESET_VERSION_EXISTS", apperr.CodeOf(err))
}

func TestReplaceRulesetVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertRulesetVersion(ctx, storedRuleset("1.0.0", "h1")))

	t.Run("hash mismatch conflicts", func(t *testing.T) {
		err := s.ReplaceRulesetVersion(ctx, storedRuleset("1.0.0", "h2"), "stale")
		assert.True(t, apperr.IsConflict(err))
	})

	t.Run("matching hash replaces", func(t *testing.T) {
		require.NoError(t, s.ReplaceRulesetVersion(ctx, storedRuleset("1.0.0", "h2"), "h1"))
		got, err := s.ListRulesetVersions(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "h2", got[0].ContentHash)
	})

	t.Run("unknown version is not found", func(t *testing.T) {
		err := s.ReplaceRulesetVersion(ctx, storedRuleset("9.9.9", "h3"), "")
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestListRulesetVersions_EmptyAndOrdered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	got, err := s.ListRulesetVersions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	require.NoError(t, s.InsertRulesetVersion(ctx, storedRuleset("1.1.0", "b")))
	require.NoError(t, s.InsertRulesetVersion(ctx, storedRuleset("1.0.0", "a")))

	got, err = s.ListRulesetVersions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1.0.0", got[0].Version)
	assert.Equal(t, "1.1.0", got[1].Version)
}
