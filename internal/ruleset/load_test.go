package ruleset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCUE(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func loadCodes(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		var le *LoadError
		if errors.As(err, &le) {
			out = append(out, le.Code)
		} else {
			out = append(out, "?")
		}
	}
	return out
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "at.cue", compileSource)

	res, errs := LoadDir(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 1, res.FileCount)
	require.Len(t, res.Rulesets, 1)
	assert.Equal(t, ID("AT_USTG"), res.Rulesets[0].ID)
	assert.Len(t, res.Rulesets[0].ContentHash, 64)
}

func TestLoadDir_Missing(t *testing.T) {
	_, errs := LoadDir(filepath.Join(t.TempDir(), "nope"), LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNotFound}, loadCodes(errs))

	_, errs = LoadDir(t.TempDir(), LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeNoFiles}, loadCodes(errs))
}

func TestLoadDir_SchemaViolation(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", `ruleset: BAD: {
	version: "1.0.0"
	jurisdiction: "X"
	currency: "EUR"
	title: en: "Bad"
	feature: a: {
		name: en: "A"
		required_level: "MANDATORY"
		category: "identity"
	}
}`)

	_, errs := LoadDir(dir, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Equal(t, []string{ErrCodeBuildFailed}, loadCodes(errs))
	assert.Contains(t, errs[0].Error(), "ruleset.BAD")
}

func TestLoadDir_SyntaxError(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "broken.cue", `ruleset: X: {`)

	_, errs := LoadDir(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeLoadFailed}, loadCodes(errs))
}

func TestLoadDir_ValidationCodes(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "cond.cue", `ruleset: COND: {
	version: "1.0.0"
	jurisdiction: "X"
	currency: "EUR"
	title: en: "Cond"
	feature: reverse_charge: {
		name: en: "Reverse charge"
		required_level: "CONDITIONAL"
		category: "tax"
	}
	feature: notes: {
		name: en: "Notes"
		required_level: "OPTIONAL"
		category: "text"
		validation: pattern: "(oops"
	}
}`)

	res, errs := LoadDir(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrConditionalAppliesTo, ErrInvalidPattern}, loadCodes(errs))
	assert.Empty(t, res.Rulesets)

	_, errs = LoadDir(dir, LoadModeFailFast)
	assert.Equal(t, []string{ErrConditionalAppliesTo}, loadCodes(errs))
}

func TestLoadDir_DuplicateAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "a.cue", compileSource)
	writeCUE(t, dir, "b.cue", compileSource)

	res, errs := LoadDir(dir, LoadModeCollectAll)
	assert.Equal(t, []string{ErrCodeDuplicate}, loadCodes(errs))
	assert.Len(t, res.Rulesets, 1)
}

func TestBuiltin(t *testing.T) {
	rulesets, err := Builtin()
	require.NoError(t, err)
	require.Len(t, rulesets, 3)

	assert.Equal(t, DEUStG, rulesets[0].ID)
	assert.Equal(t, EUVAT, rulesets[1].ID)
	assert.Equal(t, UKHMRC, rulesets[2].ID)

	for _, rs := range rulesets {
		assert.True(t, rs.Builtin, rs.ID)
		assert.Empty(t, Validate(&rs), rs.ID)
		assert.NotEmpty(t, rs.ContentHash, rs.ID)
		require.NotNil(t, rs.SmallAmountThreshold, rs.ID)
		for _, f := range rs.Features {
			assert.NotEmpty(t, f.Name.Get("de"), "%s.%s", rs.ID, f.ID)
			assert.NotEmpty(t, f.Name.Get("en"), "%s.%s", rs.ID, f.ID)
		}
	}

	de := rulesets[0]
	assert.Equal(t, "250", de.SmallAmountThreshold.String())
	inv, ok := de.Feature("invoice_number")
	require.True(t, ok)
	assert.False(t, inv.AppliesTo.Covers(true))

	// Callers get copies.
	rulesets[0].Features = nil
	again, err := Builtin()
	require.NoError(t, err)
	assert.NotEmpty(t, again[0].Features)
}

func TestLoadRegistry(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "at.cue", compileSource)

	reg, err := LoadRegistry([]string{dir})
	require.NoError(t, err)
	assert.True(t, reg.Has(DEUStG))
	assert.True(t, reg.Has("AT_USTG"))

	rs, err := reg.Get("AT_USTG")
	require.NoError(t, err)
	assert.False(t, rs.Builtin)

	_, err = LoadRegistry([]string{filepath.Join(dir, "missing")})
	require.Error(t, err)
}
