package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowaudit/flowaudit/internal/solution"
)

func TestSolutionMatch_JSON(t *testing.T) {
	dir := t.TempDir()
	docs := writeFile(t, dir, "docs.json", `[{"filename": "a.pdf"}, {"id": "d-b", "filename": "b.pdf", "position": 2}]`)
	sol := writeFile(t, dir, "solutions.json", `[
		{"filename": "a.pdf", "net_amount": "84.03"},
		{"filename": "B.PDF", "net_amount": "10.00"}
	]`)

	out, _, err := execute(t, "--format", "json", "solution", "match", "--documents", docs, sol)
	require.NoError(t, err)

	var resp struct {
		Data solution.Preview `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	p := resp.Data
	assert.Equal(t, 2, p.MatchedCount)
	assert.Equal(t, 2, p.TotalDocuments)
	assert.Equal(t, solution.StrategyFilename, p.Strategy)
	require.Len(t, p.Matches, 2)
	assert.Equal(t, "doc-1", p.Matches[0].DocumentID)
	assert.Equal(t, "d-b", p.Matches[1].DocumentID)
	assert.Empty(t, p.Warnings)
}

func TestSolutionMatch_Text(t *testing.T) {
	dir := t.TempDir()
	docs := writeFile(t, dir, "docs.json", `[{"filename": "a.pdf"}, {"filename": "b.pdf"}]`)
	sol := writeFile(t, dir, "solutions.csv", "filename,net_amount\na.pdf,84.03\n")

	out, _, err := execute(t, "solution", "match", "--documents", docs, sol)
	require.NoError(t, err)
	assert.Contains(t, out, "Matched 1 of 2 document(s) (50%), strategy FILENAME")
	assert.Contains(t, out, "✓ 1 a.pdf ← entry 1 (FILENAME, 1.00)")
	assert.Contains(t, out, "✗ 2 b.pdf: no solution entry")
}

func TestSolutionMatch_Errors(t *testing.T) {
	dir := t.TempDir()
	docs := writeFile(t, dir, "docs.json", `[{"filename": "a.pdf"}]`)
	noName := writeFile(t, dir, "noname.json", `[{"id": "x"}]`)
	empty := writeFile(t, dir, "empty.csv", "")
	unsupported := writeFile(t, dir, "solutions.xlsx", "data")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"document without filename", []string{"--documents", noName, empty}, "INVALID_DOCUMENT"},
		{"empty file", []string{"--documents", docs, empty}, "EMPTY_SOLUTION_FILE"},
		{"unsupported format", []string{"--documents", docs, unsupported}, "UNSUPPORTED_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, append([]string{"solution", "match"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, tt.want)
		})
	}
}
