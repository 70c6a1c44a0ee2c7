// Package canonical produces RFC 8785 canonical JSON and domain-separated
// content hashes.
//
// Canonical bytes are the only input used for content identity: ruleset
// content hashes, solution-file hashes and match-preview fingerprints.
// Floats and null are rejected so that identical logical content always
// yields identical bytes. Monetary amounts travel as decimal strings.
package canonical
