// Package ruleset models jurisdiction-specific invoice rulesets: the
// features an invoice must, may or conditionally must carry, the
// small-amount threshold below which a reduced feature set applies, and the
// legal references behind them.
//
// Rulesets are authored in CUE and compiled into Ruleset values
// (CompileRuleset, LoadDir, LoadFS). Built-in catalogs for DE_USTG, EU_VAT
// and UK_HMRC are embedded in the binary (Builtin).
//
// A Registry is an immutable, injected snapshot of rulesets by id. The
// Catalog is the write side: it validates, versions and persists authored
// rulesets and atomically swaps in a new Registry after every change.
package ruleset
