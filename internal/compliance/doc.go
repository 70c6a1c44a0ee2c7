// Package compliance decides which features of a ruleset an invoice must
// carry and whether it does.
//
// All functions are pure: they take a ruleset and an invoice and never
// touch storage. Amounts are shopspring/decimal values so the small-amount
// boundary is exact. CONDITIONAL feature conditions are JSON-logic
// expressions evaluated against the invoice facts.
package compliance
