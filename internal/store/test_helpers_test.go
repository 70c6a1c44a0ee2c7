package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/internal/project"
	"github.com/flowaudit/flowaudit/internal/solution"
	"github.com/flowaudit/flowaudit/internal/testutil"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	s.SetClock(testutil.NewDefaultClock().Now)
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = testutil.DefaultStart

// seedProject stores a DE_USTG project with the given ID.
func seedProject(t *testing.T, s *Store, id string) project.Project {
	t.Helper()
	p := project.Project{ID: id, Name: "Project " + id, RulesetID: "DE_USTG", CreatedAt: testTime}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

// seedDocument stores a document and returns it with its position.
func seedDocument(t *testing.T, s *Store, projectID, id, filename string, extracted map[string]any) project.Document {
	t.Helper()
	gross := decimal.RequireFromString("119.00")
	d, err := s.InsertDocument(context.Background(), project.Document{
		ID:          id,
		ProjectID:   projectID,
		Filename:    filename,
		GrossAmount: &gross,
		Extracted:   extracted,
		CreatedAt:   testTime,
	})
	require.NoError(t, err)
	return d
}

// testSolutionFile builds an unapplied solution file with two entries.
func testSolutionFile(id, projectID, hash string) solution.File {
	entries := []solution.Entry{
		{Position: 1, Filename: "a.pdf", Fields: map[string]any{"invoice_number": "RE-1"}, IsValid: true},
		{Position: 2, Fields: map[string]any{}, IsValid: false, Errors: []solution.EntryError{{Field: "fields", Message: "entry has no fields"}}},
	}
	return solution.File{
		ID:          id,
		ProjectID:   projectID,
		Filename:    "solution.json",
		Format:      solution.FormatJSON,
		ContentHash: hash,
		EntryCount:  len(entries),
		ValidCount:  1,
		UploadedAt:  testTime.Add(time.Minute),
		Entries:     entries,
	}
}
