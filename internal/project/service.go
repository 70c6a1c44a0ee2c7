package project

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/compliance"
	"github.com/flowaudit/flowaudit/internal/ids"
	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// Store is the persistence the service needs. *store.Store implements it.
type Store interface {
	CreateProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	InsertDocument(ctx context.Context, d Document) (Document, error)
	GetDocument(ctx context.Context, projectID, documentID string) (Document, error)
	ListDocuments(ctx context.Context, projectID string) ([]Document, error)
}

// Rulesets resolves ruleset IDs. Both *ruleset.Registry and
// *ruleset.Catalog implement it.
type Rulesets interface {
	Get(id ruleset.ID) (*ruleset.Ruleset, error)
}

// Service creates projects, adds documents and evaluates them.
type Service struct {
	store    Store
	rulesets Rulesets
	ids      ids.Generator
	now      func() time.Time
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithIDGenerator sets the generator for project and document IDs.
func WithIDGenerator(g ids.Generator) ServiceOption {
	return func(s *Service) { s.ids = g }
}

// WithClock sets the clock for creation timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service.
func NewService(store Store, rulesets Rulesets, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		rulesets: rulesets,
		ids:      ids.UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateProject creates a project audited under an existing ruleset.
func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("INVALID_PROJECT", "project name is required")
	}
	if _, err := s.rulesets.Get(req.RulesetID); err != nil {
		if apperr.IsNotFound(err) {
			return nil, apperr.Validation("UNKNOWN_RULESET", "unknown ruleset %q", req.RulesetID)
		}
		return nil, err
	}

	p := Project{
		ID:        s.ids.NewID(),
		Name:      name,
		RulesetID: req.RulesetID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project", p.ID, "ruleset", p.RulesetID)
	return &p, nil
}

// GetProject returns a project.
func (s *Service) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects.
func (s *Service) ListProjects(ctx context.Context) ([]Project, error) {
	return s.store.ListProjects(ctx)
}

// AddDocument appends a document to the project. The filename is reduced
// to its base name and must be unique within the project.
func (s *Service) AddDocument(ctx context.Context, projectID string, req AddDocumentRequest) (*Document, error) {
	filename := strings.TrimSpace(req.Filename)
	if filename != "" {
		filename = path.Base(strings.ReplaceAll(filename, `\`, "/"))
	}
	if filename == "" || filename == "." || filename == "/" {
		return nil, apperr.Validation("INVALID_DOCUMENT", "document filename is required")
	}
	if req.GrossAmount != nil && req.GrossAmount.IsNegative() {
		return nil, apperr.Validation("INVALID_DOCUMENT", "gross amount must not be negative, got %s", req.GrossAmount)
	}

	d, err := s.store.InsertDocument(ctx, Document{
		ID:          s.ids.NewID(),
		ProjectID:   projectID,
		Filename:    filename,
		GrossAmount: req.GrossAmount,
		Extracted:   req.Extracted,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("document added", "project", projectID, "document", d.ID, "position", d.Position)
	return &d, nil
}

// ListDocuments returns the project's documents in upload order.
func (s *Service) ListDocuments(ctx context.Context, projectID string) ([]Document, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListDocuments(ctx, projectID)
}

// EvaluateDocument checks a document against its project's ruleset.
//
// The gross amount comes from the document, or else from an extracted
// "gross_amount" value. Extracted values double as condition facts.
func (s *Service) EvaluateDocument(ctx context.Context, projectID, documentID string) (*compliance.Report, error) {
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rs, err := s.rulesets.Get(p.RulesetID)
	if err != nil {
		return nil, err
	}
	d, err := s.store.GetDocument(ctx, projectID, documentID)
	if err != nil {
		return nil, err
	}

	inv := compliance.Invoice{Values: d.Extracted, Facts: d.Extracted}
	switch {
	case d.GrossAmount != nil:
		inv.GrossAmount = *d.GrossAmount
	case compliance.Present(d.Extracted["gross_amount"]):
		gross, err := compliance.ParseAmount(d.Extracted["gross_amount"])
		if err != nil {
			return nil, apperr.Validation("INVALID_GROSS_AMOUNT", "document %s: %v", documentID, err)
		}
		inv.GrossAmount = gross
	default:
		return nil, apperr.Validation("MISSING_GROSS_AMOUNT", "document %s has no gross amount", documentID)
	}

	report, err := compliance.Evaluate(rs, inv)
	if err != nil {
		return nil, apperr.Internal("EVALUATION_FAILED", err, "evaluate document %s", documentID)
	}
	s.logger.Debug("document evaluated", "project", projectID, "document", documentID, "status", report.Status)
	return report, nil
}
