package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/ruleset"
	"github.com/flowaudit/flowaudit/internal/solution"
)

// InsertSolutionFile stores an uploaded solution file with its entries.
//
// Returns NotFound if the project does not exist and a conflict if the
// project already holds a file with the same content hash.
func (s *Store) InsertSolutionFile(ctx context.Context, f solution.File) error {
	entries := f.Entries
	if entries == nil {
		entries = []solution.Entry{}
	}
	body, err := marshalJSON(entries)
	if err != nil {
		return fmt.Errorf("marshal solution entries: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireProject(ctx, tx, f.ProjectID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO solution_files
			(id, project_id, filename, format, content_hash, entries, entry_count, valid_count, applied, applied_at, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)
	`, f.ID, f.ProjectID, f.Filename, string(f.Format), f.ContentHash, body,
		f.EntryCount, f.ValidCount, formatTime(f.UploadedAt))
	if isUniqueViolation(err) {
		return apperr.Conflict("DUPLICATE_SOLUTION_FILE",
			"project %s already has a solution file with content hash %s", f.ProjectID, f.ContentHash)
	}
	if err != nil {
		return fmt.Errorf("write solution file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit solution file: %w", err)
	}
	return nil
}

// GetSolutionFile retrieves a solution file including its entries.
// Returns NotFound if the file does not exist in the project.
func (s *Store) GetSolutionFile(ctx context.Context, projectID, fileID string) (solution.File, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, filename, format, content_hash, entry_count, valid_count,
		       applied, applied_at, uploaded_at, entries
		FROM solution_files WHERE project_id = ? AND id = ?
	`, projectID, fileID)

	var body string
	f, err := scanSolutionFile(row, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return solution.File{}, solutionFileNotFound(projectID, fileID)
	}
	if err != nil {
		return solution.File{}, fmt.Errorf("read solution file: %w", err)
	}

	entries := []solution.Entry{}
	if err := unmarshalJSON(body, &entries); err != nil {
		return solution.File{}, fmt.Errorf("unmarshal solution entries: %w", err)
	}
	f.Entries = entries
	return f, nil
}

// ListSolutionFiles returns a project's solution files without entries,
// ordered by upload time then ID.
func (s *Store) ListSolutionFiles(ctx context.Context, projectID string) ([]solution.File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, filename, format, content_hash, entry_count, valid_count,
		       applied, applied_at, uploaded_at
		FROM solution_files
		WHERE project_id = ?
		ORDER BY uploaded_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query solution files: %w", err)
	}
	defer rows.Close()

	out := []solution.File{}
	for rows.Next() {
		f, err := scanSolutionFile(rows, nil)
		if err != nil {
			return nil, fmt.Errorf("scan solution file: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate solution files: %w", err)
	}
	return out, nil
}

// DeleteSolutionFile removes an unapplied solution file.
//
// Returns NotFound if the file does not exist and a conflict if it has
// already been applied; applied files are correction history.
func (s *Store) DeleteSolutionFile(ctx context.Context, projectID, fileID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var applied bool
	err = tx.QueryRowContext(ctx, `
		SELECT applied FROM solution_files WHERE project_id = ? AND id = ?
	`, projectID, fileID).Scan(&applied)
	if errors.Is(err, sql.ErrNoRows) {
		return solutionFileNotFound(projectID, fileID)
	}
	if err != nil {
		return fmt.Errorf("read solution file: %w", err)
	}
	if applied {
		return apperr.Conflict("SOLUTION_FILE_APPLIED", "solution file %s has been applied and cannot be deleted", fileID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM solution_files WHERE id = ?`, fileID); err != nil {
		return fmt.Errorf("delete solution file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// ApplySolutionFile persists one apply in a single transaction: it flips
// the file to applied, rewrites the matched documents' extracted values and
// records corrections and examples.
//
// The flip is a conditional UPDATE on applied = 0, so of two concurrent
// applies exactly one succeeds; the other gets a conflict and writes
// nothing. Returns the corrections with their assigned IDs.
func (s *Store) ApplySolutionFile(ctx context.Context, rec solution.ApplyRecord) ([]solution.Correction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	appliedAt := formatTime(rec.AppliedAt)
	res, err := tx.ExecContext(ctx, `
		UPDATE solution_files SET applied = 1, applied_at = ?
		WHERE id = ? AND project_id = ? AND applied = 0
	`, appliedAt, rec.FileID, rec.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("mark solution file applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("mark solution file applied: %w", err)
	}
	if n == 0 {
		var one int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM solution_files WHERE id = ? AND project_id = ?
		`, rec.FileID, rec.ProjectID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, solutionFileNotFound(rec.ProjectID, rec.FileID)
		}
		if err != nil {
			return nil, fmt.Errorf("read solution file: %w", err)
		}
		return nil, apperr.Conflict("SOLUTION_FILE_APPLIED", "solution file %s has already been applied", rec.FileID)
	}

	for _, u := range rec.Updates {
		extracted, err := marshalJSON(nonNilValues(u.Extracted))
		if err != nil {
			return nil, fmt.Errorf("marshal extracted values: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE documents SET extracted = ? WHERE id = ? AND project_id = ?
		`, extracted, u.DocumentID, rec.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("update document %s: %w", u.DocumentID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, apperr.NotFound("DOCUMENT_NOT_FOUND",
				"document %s not found in project %s", u.DocumentID, rec.ProjectID)
		}
	}

	corrections := make([]solution.Correction, 0, len(rec.Corrections))
	for _, c := range rec.Corrections {
		c.SolutionFileID = rec.FileID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = rec.AppliedAt
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO corrections (solution_file_id, document_id, field, previous_value, corrected_value, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.SolutionFileID, c.DocumentID, c.Field, c.PreviousValue, c.CorrectedValue, formatTime(c.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("write correction: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("write correction: %w", err)
		}
		c.ID = id
		corrections = append(corrections, c)
	}

	for _, ex := range rec.Examples {
		fields, err := marshalJSON(nonNilValues(ex.Fields))
		if err != nil {
			return nil, fmt.Errorf("marshal example fields: %w", err)
		}
		createdAt := ex.CreatedAt
		if createdAt.IsZero() {
			createdAt = rec.AppliedAt
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO examples (document_id, ruleset_id, solution_file_id, fields, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, ex.DocumentID, string(ex.RulesetID), rec.FileID, fields, formatTime(createdAt))
		if isForeignKeyViolation(err) {
			return nil, apperr.NotFound("DOCUMENT_NOT_FOUND", "document %s not found", ex.DocumentID)
		}
		if err != nil {
			return nil, fmt.Errorf("write example: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit apply: %w", err)
	}
	return corrections, nil
}

// ListCorrections returns the corrections written by applying a file,
// in insertion order.
func (s *Store) ListCorrections(ctx context.Context, fileID string) ([]solution.Correction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, solution_file_id, document_id, field, previous_value, corrected_value, created_at
		FROM corrections
		WHERE solution_file_id = ?
		ORDER BY id ASC
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query corrections: %w", err)
	}
	defer rows.Close()

	out := []solution.Correction{}
	for rows.Next() {
		var (
			c         solution.Correction
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.SolutionFileID, &c.DocumentID, &c.Field,
			&c.PreviousValue, &c.CorrectedValue, &createdAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w", err)
	}
	return out, nil
}

// ListExamples returns the training examples stored for a ruleset,
// in insertion order.
func (s *Store) ListExamples(ctx context.Context, rulesetID ruleset.ID) ([]solution.Example, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ruleset_id, solution_file_id, fields, created_at
		FROM examples
		WHERE ruleset_id = ?
		ORDER BY id ASC
	`, string(rulesetID))
	if err != nil {
		return nil, fmt.Errorf("query examples: %w", err)
	}
	defer rows.Close()

	out := []solution.Example{}
	for rows.Next() {
		var (
			ex        solution.Example
			rsID      string
			fields    string
			createdAt string
		)
		if err := rows.Scan(&ex.ID, &ex.DocumentID, &rsID, &ex.SolutionFileID, &fields, &createdAt); err != nil {
			return nil, fmt.Errorf("scan example: %w", err)
		}
		ex.RulesetID = ruleset.ID(rsID)
		if ex.Fields, err = unmarshalValues(fields); err != nil {
			return nil, fmt.Errorf("unmarshal example fields: %w", err)
		}
		if ex.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate examples: %w", err)
	}
	return out, nil
}

// scanSolutionFile reads the common solution file columns. When body is
// non-nil the row carries a trailing entries column scanned into it.
func scanSolutionFile(sc scanner, body *string) (solution.File, error) {
	var (
		f          solution.File
		format     string
		appliedAt  sql.NullString
		uploadedAt string
	)
	dest := []any{&f.ID, &f.ProjectID, &f.Filename, &format, &f.ContentHash,
		&f.EntryCount, &f.ValidCount, &f.Applied, &appliedAt, &uploadedAt}
	if body != nil {
		dest = append(dest, body)
	}
	if err := sc.Scan(dest...); err != nil {
		return solution.File{}, err
	}
	f.Format = solution.Format(format)

	var err error
	if f.AppliedAt, err = parseNullTime(appliedAt); err != nil {
		return solution.File{}, err
	}
	if f.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return solution.File{}, err
	}
	return f, nil
}

func solutionFileNotFound(projectID, fileID string) error {
	return apperr.NotFound("SOLUTION_FILE_NOT_FOUND", "solution file %s not found in project %s", fileID, projectID)
}
