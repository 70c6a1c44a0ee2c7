package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// InsertRulesetVersion stores a new ruleset version.
// Fails with a conflict if (id, version) already exists.
func (s *Store) InsertRulesetVersion(ctx context.Context, rs ruleset.Ruleset) error {
	body, err := marshalRuleset(rs)
	if err != nil {
		return err
	}
	now := formatTime(s.now())

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rulesets (ruleset_id, version, content_hash, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(rs.ID), rs.Version, rs.ContentHash, body, now, now)
	if isUniqueViolation(err) {
		return apperr.Conflict("RULESET_VERSION_EXISTS", "ruleset %s version %s already exists", rs.ID, rs.Version)
	}
	if err != nil {
		return fmt.Errorf("write ruleset: %w", err)
	}
	return nil
}

// ReplaceRulesetVersion overwrites a stored ruleset version.
//
// Returns NotFound if the version was never stored. When expectedHash is
// non-empty and differs from the stored hash, returns a conflict and leaves
// the row untouched.
func (s *Store) ReplaceRulesetVersion(ctx context.Context, rs ruleset.Ruleset, expectedHash string) error {
	body, err := marshalRuleset(rs)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var storedHash string
	err = tx.QueryRowContext(ctx, `
		SELECT content_hash FROM rulesets WHERE ruleset_id = ? AND version = ?
	`, string(rs.ID), rs.Version).Scan(&storedHash)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("RULESET_NOT_FOUND", "ruleset %s version %s not found", rs.ID, rs.Version)
	}
	if err != nil {
		return fmt.Errorf("read ruleset hash: %w", err)
	}
	if expectedHash != "" && expectedHash != storedHash {
		return apperr.Conflict("RULESET_HASH_MISMATCH",
			"ruleset %s version %s changed: expected hash %s, stored %s", rs.ID, rs.Version, expectedHash, storedHash)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rulesets SET content_hash = ?, body = ?, updated_at = ?
		WHERE ruleset_id = ? AND version = ?
	`, rs.ContentHash, body, formatTime(s.now()), string(rs.ID), rs.Version)
	if err != nil {
		return fmt.Errorf("update ruleset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ruleset: %w", err)
	}
	return nil
}

// ListRulesetVersions returns every stored ruleset version.
// Ordered by ruleset_id then version text for determinism.
func (s *Store) ListRulesetVersions(ctx context.Context) ([]ruleset.Ruleset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ruleset_id, version, content_hash, body
		FROM rulesets
		ORDER BY ruleset_id ASC, version ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query rulesets: %w", err)
	}
	defer rows.Close()

	out := []ruleset.Ruleset{}
	for rows.Next() {
		var id, version, hash, body string
		if err := rows.Scan(&id, &version, &hash, &body); err != nil {
			return nil, fmt.Errorf("scan ruleset: %w", err)
		}
		var rs ruleset.Ruleset
		if err := unmarshalJSON(body, &rs); err != nil {
			return nil, fmt.Errorf("unmarshal ruleset %s@%s: %w", id, version, err)
		}
		rs.ID = ruleset.ID(id)
		rs.Version = version
		rs.ContentHash = hash
		rs.Builtin = false
		out = append(out, rs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rulesets: %w", err)
	}
	return out, nil
}

func marshalRuleset(rs ruleset.Ruleset) (string, error) {
	body, err := marshalJSON(rs)
	if err != nil {
		return "", fmt.Errorf("marshal ruleset %s: %w", rs.ID, err)
	}
	return body, nil
}
