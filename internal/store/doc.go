// Package store provides SQLite-backed storage for FlowAudit.
//
// Tables:
//   - rulesets: authored ruleset versions, keyed by (ruleset_id, version)
//   - projects, documents: audited invoices and their extracted values
//   - solution_files: uploaded ground truth with parsed entries
//   - corrections, examples: history written when a solution file is applied
//
// # Invariants
//
// Document filenames and positions are unique per project. A solution file's
// content hash is unique per project. A solution file flips from applied=0
// to applied=1 exactly once, inside the transaction that writes its
// corrections; a second apply finds no row to flip and fails with a
// conflict. Applied files cannot be deleted.
//
// All list queries carry an ORDER BY so results are deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Semantic failures (unknown id, duplicate, already applied) are returned
// as apperr errors; everything else is wrapped with the operation name.
package store
