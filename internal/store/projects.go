package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/project"
	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// CreateProject stores a new project.
func (s *Store) CreateProject(ctx context.Context, p project.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, ruleset_id, created_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, p.Name, string(p.RulesetID), formatTime(p.CreatedAt))
	if isUniqueViolation(err) {
		return apperr.Conflict("PROJECT_EXISTS", "project %s already exists", p.ID)
	}
	if err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
// Returns NotFound if the project does not exist.
func (s *Store) GetProject(ctx context.Context, id string) (project.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, ruleset_id, created_at
		FROM projects WHERE id = ?
	`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return project.Project{}, apperr.NotFound("PROJECT_NOT_FOUND", "project %s not found", id)
	}
	if err != nil {
		return project.Project{}, fmt.Errorf("read project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by creation time then ID.
func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, ruleset_id, created_at
		FROM projects
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	out := []project.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

// InsertDocument stores a document at the next free position of its project
// and returns it with Position filled in.
//
// Returns NotFound if the project does not exist and a conflict if the
// project already has a document with the same filename.
func (s *Store) InsertDocument(ctx context.Context, d project.Document) (project.Document, error) {
	extracted, err := marshalJSON(nonNilValues(d.Extracted))
	if err != nil {
		return project.Document{}, fmt.Errorf("marshal extracted values: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return project.Document{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := requireProject(ctx, tx, d.ProjectID); err != nil {
		return project.Document{}, err
	}

	var next int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0) + 1 FROM documents WHERE project_id = ?
	`, d.ProjectID).Scan(&next)
	if err != nil {
		return project.Document{}, fmt.Errorf("read next position: %w", err)
	}
	d.Position = next

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, project_id, filename, position, gross_amount, extracted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ProjectID, d.Filename, d.Position, nullDecimal(d.GrossAmount), extracted, formatTime(d.CreatedAt))
	if isUniqueViolation(err) {
		return project.Document{}, apperr.Conflict("DUPLICATE_DOCUMENT",
			"project %s already has a document named %q", d.ProjectID, d.Filename)
	}
	if err != nil {
		return project.Document{}, fmt.Errorf("write document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return project.Document{}, fmt.Errorf("commit document: %w", err)
	}
	d.Extracted = nonNilValues(d.Extracted)
	return d, nil
}

// GetDocument retrieves one document of a project.
// Returns NotFound if no such document exists in that project.
func (s *Store) GetDocument(ctx context.Context, projectID, documentID string) (project.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, filename, position, gross_amount, extracted, created_at
		FROM documents WHERE project_id = ? AND id = ?
	`, projectID, documentID)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return project.Document{}, apperr.NotFound("DOCUMENT_NOT_FOUND",
			"document %s not found in project %s", documentID, projectID)
	}
	if err != nil {
		return project.Document{}, fmt.Errorf("read document: %w", err)
	}
	return d, nil
}

// ListDocuments returns a project's documents ordered by position.
// Returns an empty slice (not nil) for a project without documents.
func (s *Store) ListDocuments(ctx context.Context, projectID string) ([]project.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, filename, position, gross_amount, extracted, created_at
		FROM documents
		WHERE project_id = ?
		ORDER BY position ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := []project.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(sc scanner) (project.Project, error) {
	var (
		p         project.Project
		rulesetID string
		createdAt string
	)
	if err := sc.Scan(&p.ID, &p.Name, &rulesetID, &createdAt); err != nil {
		return project.Project{}, err
	}
	p.RulesetID = ruleset.ID(rulesetID)
	t, err := parseTime(createdAt)
	if err != nil {
		return project.Project{}, err
	}
	p.CreatedAt = t
	return p, nil
}

func scanDocument(sc scanner) (project.Document, error) {
	var (
		d         project.Document
		gross     sql.NullString
		extracted string
		createdAt string
	)
	if err := sc.Scan(&d.ID, &d.ProjectID, &d.Filename, &d.Position, &gross, &extracted, &createdAt); err != nil {
		return project.Document{}, err
	}
	if gross.Valid {
		amount, err := decimal.NewFromString(gross.String)
		if err != nil {
			return project.Document{}, fmt.Errorf("parse gross amount %q: %w", gross.String, err)
		}
		d.GrossAmount = &amount
	}
	values, err := unmarshalValues(extracted)
	if err != nil {
		return project.Document{}, fmt.Errorf("unmarshal extracted values: %w", err)
	}
	d.Extracted = values
	t, err := parseTime(createdAt)
	if err != nil {
		return project.Document{}, err
	}
	d.CreatedAt = t
	return d, nil
}

// requireProject returns NotFound unless the project exists.
func requireProject(ctx context.Context, tx *sql.Tx, projectID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, projectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("PROJECT_NOT_FOUND", "project %s not found", projectID)
	}
	if err != nil {
		return fmt.Errorf("read project: %w", err)
	}
	return nil
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nonNilValues(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
