package ruleset

import (
	"embed"
	"fmt"
	"sync"
)

//go:embed catalog/*.cue
var catalogFS embed.FS

var (
	builtinOnce sync.Once
	builtinSet  []Ruleset
	builtinErr  error
)

// Builtin returns the embedded DE_USTG, EU_VAT and UK_HMRC rulesets, sorted
// by id. Compilation happens once per process; callers receive copies.
func Builtin() ([]Ruleset, error) {
	builtinOnce.Do(func() {
		res, errs := LoadFS(catalogFS, "catalog", LoadModeCollectAll)
		if len(errs) > 0 {
			builtinErr = fmt.Errorf("compile built-in rulesets: %w", JoinLoadErrors(errs))
			return
		}
		for i := range res.Rulesets {
			res.Rulesets[i].Builtin = true
		}
		builtinSet = res.Rulesets
	})
	if builtinErr != nil {
		return nil, builtinErr
	}
	out := make([]Ruleset, len(builtinSet))
	for i := range builtinSet {
		out[i] = *builtinSet[i].Clone()
	}
	return out, nil
}

// IsBuiltin reports whether id names an embedded ruleset.
func IsBuiltin(id ID) bool {
	switch id {
	case DEUStG, EUVAT, UKHMRC:
		return true
	}
	return false
}
