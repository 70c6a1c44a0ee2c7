package solution

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/canonical"
	"github.com/flowaudit/flowaudit/internal/compliance"
	"github.com/flowaudit/flowaudit/internal/ids"
	"github.com/flowaudit/flowaudit/internal/project"
)

// Store is the persistence the service needs. *store.Store implements it.
type Store interface {
	GetProject(ctx context.Context, id string) (project.Project, error)
	ListDocuments(ctx context.Context, projectID string) ([]project.Document, error)

	InsertSolutionFile(ctx context.Context, f File) error
	GetSolutionFile(ctx context.Context, projectID, fileID string) (File, error)
	ListSolutionFiles(ctx context.Context, projectID string) ([]File, error)
	DeleteSolutionFile(ctx context.Context, projectID, fileID string) error
	ApplySolutionFile(ctx context.Context, rec ApplyRecord) ([]Correction, error)
}

// Service uploads, previews and applies solution files.
type Service struct {
	store        Store
	ids          ids.Generator
	now          func() time.Time
	lowMatchRate float64
	logger       *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithIDGenerator sets the generator for solution file IDs.
// Default: UUIDv7.
func WithIDGenerator(g ids.Generator) ServiceOption {
	return func(s *Service) { s.ids = g }
}

// WithClock sets the clock for upload and apply timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLowMatchRate sets the match rate below which previews warn.
// Default: DefaultLowMatchRate.
func WithLowMatchRate(rate float64) ServiceOption {
	return func(s *Service) { s.lowMatchRate = rate }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a Service backed by store.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:        store,
		ids:          ids.UUIDv7Generator{},
		now:          time.Now,
		lowMatchRate: DefaultLowMatchRate,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload parses data and stores it as a new solution file of the project.
//
// Fails with NotFound for an unknown project, a validation error for
// unsupported or malformed content and a conflict when the project already
// holds a file with identical content.
func (s *Service) Upload(ctx context.Context, projectID, filename, contentType string, data []byte) (*File, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	format, entries, err := Parse(filename, contentType, data)
	if err != nil {
		return nil, err
	}

	valid := 0
	for _, e := range entries {
		if e.IsValid {
			valid++
		}
	}

	f := File{
		ID:          s.ids.NewID(),
		ProjectID:   projectID,
		Filename:    filename,
		Format:      format,
		ContentHash: canonical.Hash(canonical.DomainSolutionFile, data),
		EntryCount:  len(entries),
		ValidCount:  valid,
		UploadedAt:  s.now().UTC(),
		Entries:     entries,
	}
	if err := s.store.InsertSolutionFile(ctx, f); err != nil {
		return nil, err
	}

	s.logger.Info("solution file uploaded",
		"project", projectID, "file", f.ID, "format", f.Format,
		"entries", f.EntryCount, "valid", f.ValidCount)
	return &f, nil
}

// List returns the project's solution files without entries.
func (s *Service) List(ctx context.Context, projectID string) ([]File, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.store.ListSolutionFiles(ctx, projectID)
}

// Get returns one solution file with its entries.
func (s *Service) Get(ctx context.Context, projectID, fileID string) (*File, error) {
	f, err := s.store.GetSolutionFile(ctx, projectID, fileID)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Delete removes an unapplied solution file.
func (s *Service) Delete(ctx context.Context, projectID, fileID string) error {
	if err := s.store.DeleteSolutionFile(ctx, projectID, fileID); err != nil {
		return err
	}
	s.logger.Info("solution file deleted", "project", projectID, "file", fileID)
	return nil
}

// Preview matches the file against the project's current documents.
// It writes nothing; calling it twice with unchanged inputs returns equal
// previews with equal fingerprints.
func (s *Service) Preview(ctx context.Context, projectID, fileID string) (*Preview, error) {
	f, docs, err := s.load(ctx, projectID, fileID)
	if err != nil {
		return nil, err
	}
	p, err := s.preview(f, docs)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Apply writes the file's ground truth into the matched documents.
//
// A file is applied at most once: a second Apply, concurrent or not, fails
// with a conflict and writes nothing. When opts.PreviewFingerprint is set
// and no longer matches a fresh preview, Apply fails with a conflict
// before writing.
func (s *Service) Apply(ctx context.Context, projectID, fileID string, opts ApplyOptions) (*ApplyResult, error) {
	proj, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	f, docs, err := s.load(ctx, projectID, fileID)
	if err != nil {
		return nil, err
	}
	if f.Applied {
		return nil, apperr.Conflict("SOLUTION_FILE_APPLIED", "solution file %s has already been applied", fileID)
	}

	p, err := s.preview(f, docs)
	if err != nil {
		return nil, err
	}
	if opts.PreviewFingerprint != "" && opts.PreviewFingerprint != p.Fingerprint {
		return nil, apperr.Conflict("STALE_PREVIEW",
			"documents of project %s changed since the preview was taken", projectID)
	}

	appliedAt := s.now().UTC()
	rec := ApplyRecord{FileID: f.ID, ProjectID: projectID, AppliedAt: appliedAt}

	byID := make(map[string]project.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	for _, m := range p.Matches {
		doc := byID[m.DocumentID]
		update, corrections := correct(doc, m.Entry)
		if len(corrections) > 0 {
			rec.Updates = append(rec.Updates, update)
			for i := range corrections {
				corrections[i].SolutionFileID = f.ID
				corrections[i].CreatedAt = appliedAt
			}
			rec.Corrections = append(rec.Corrections, corrections...)
		}
		if opts.CreateExamples {
			rec.Examples = append(rec.Examples, Example{
				DocumentID:     doc.ID,
				RulesetID:      proj.RulesetID,
				SolutionFileID: f.ID,
				Fields:         m.Entry.Fields,
				CreatedAt:      appliedAt,
			})
		}
	}

	stored, err := s.store.ApplySolutionFile(ctx, rec)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{
		SolutionFileID: f.ID,
		AppliedCount:   len(p.Matches),
		SkippedCount:   len(p.UnmatchedSolutions),
		ExampleCount:   len(rec.Examples),
		Corrections:    stored,
		Errors:         []string{},
		AppliedAt:      appliedAt,
	}
	for _, e := range f.Entries {
		if e.IsValid {
			continue
		}
		result.ErrorCount++
		for _, ee := range e.Errors {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %s: %s", e.Position, ee.Field, ee.Message))
		}
	}

	s.logger.Info("solution file applied",
		"project", projectID, "file", f.ID,
		"applied", result.AppliedCount, "skipped", result.SkippedCount,
		"errors", result.ErrorCount, "corrections", len(result.Corrections))
	return result, nil
}

func (s *Service) load(ctx context.Context, projectID, fileID string) (File, []project.Document, error) {
	f, err := s.store.GetSolutionFile(ctx, projectID, fileID)
	if err != nil {
		return File{}, nil, err
	}
	docs, err := s.store.ListDocuments(ctx, projectID)
	if err != nil {
		return File{}, nil, err
	}
	return f, docs, nil
}

func (s *Service) preview(f File, docs []project.Document) (Preview, error) {
	p := Match(docs, f.Entries, s.lowMatchRate)
	p.SolutionFileID = f.ID
	fp, err := Fingerprint(f.ContentHash, docs)
	if err != nil {
		return Preview{}, err
	}
	p.Fingerprint = fp
	return p, nil
}

// Fingerprint identifies the inputs of a preview: the file content and the
// identity, name and position of every document.
func Fingerprint(contentHash string, docs []project.Document) (string, error) {
	list := make([]any, len(docs))
	for i, d := range docs {
		list[i] = map[string]any{
			"id":       d.ID,
			"filename": d.Filename,
			"position": d.Position,
		}
	}
	fp, err := canonical.HashValue(canonical.DomainPreview, map[string]any{
		"solution_file": contentHash,
		"documents":     list,
	})
	if err != nil {
		return "", apperr.Internal("FINGERPRINT_FAILED", err, "fingerprint preview")
	}
	return fp, nil
}

// correct merges an entry's fields into a copy of the document's extracted
// values and returns a correction for every value that changes.
func correct(doc project.Document, e Entry) (DocumentUpdate, []Correction) {
	values := make(map[string]any, len(doc.Extracted)+len(e.Fields))
	for k, v := range doc.Extracted {
		values[k] = v
	}

	fields := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		fields = append(fields, k)
	}
	slices.Sort(fields)

	var corrections []Correction
	for _, field := range fields {
		next := e.Fields[field]
		prev, had := doc.Extracted[field]
		if had && compliance.SameValue(prev, next) {
			continue
		}
		corrections = append(corrections, Correction{
			DocumentID:     doc.ID,
			Field:          field,
			PreviousValue:  compliance.ValueString(prev),
			CorrectedValue: compliance.ValueString(next),
		})
		values[field] = next
	}
	return DocumentUpdate{DocumentID: doc.ID, Extracted: values}, corrections
}
