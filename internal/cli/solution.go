package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/project"
	"github.com/flowaudit/flowaudit/internal/solution"
)

// SolutionOptions holds flags for the solution commands.
type SolutionOptions struct {
	*RootOptions
	Documents    string
	LowMatchRate float64
}

// documentSpec is one line of the --documents file.
type documentSpec struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Position int    `json:"position"`
}

// NewSolutionCommand creates the solution command group.
func NewSolutionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SolutionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "solution",
		Short: "Work with ground-truth solution files",
	}

	match := &cobra.Command{
		Use:   "match <solution-file>",
		Short: "Preview how a solution file matches a list of documents",
		Long: `Parse a JSON, JSONL or CSV solution file and match its entries against
the documents listed in --documents, without touching any database.

The documents file is a JSON array of {"id", "filename", "position"}
objects. Missing ids and positions are filled in from the array order.

Example:
  flowaudit solution match --documents docs.json solutions.csv`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolutionMatch(opts, args[0], cmd)
		},
	}
	match.Flags().StringVar(&opts.Documents, "documents", "", "JSON file listing the project documents (required)")
	match.Flags().Float64Var(&opts.LowMatchRate, "low-match-rate", -1, "warn below this match rate (default: config low_match_rate)")
	_ = match.MarkFlagRequired("documents")

	cmd.AddCommand(match)
	return cmd
}

func runSolutionMatch(opts *SolutionOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	docs, err := readDocuments(opts.Documents)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read documents", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read solution file", err)
	}
	format, entries, err := solution.Parse(filepath.Base(path), "", data)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to parse solution file", err)
	}
	formatter.VerboseLog("Parsed %d %s entries from %s", len(entries), format, path)

	rate := opts.LowMatchRate
	if rate < 0 {
		rate = opts.settings().LowMatchRate
	}
	preview := solution.Match(docs, entries, rate)

	if formatter.IsJSON() {
		return formatter.Success(preview)
	}
	writePreviewText(cmd, &preview)
	return nil
}

func readDocuments(path string) ([]project.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []documentSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return nil, apperr.Validation("INVALID_JSON", "%s: %v", path, err)
	}

	docs := make([]project.Document, 0, len(specs))
	for i, s := range specs {
		if s.Filename == "" {
			return nil, apperr.Validation("INVALID_DOCUMENT", "%s: document %d has no filename", path, i+1)
		}
		d := project.Document{ID: s.ID, Filename: s.Filename, Position: s.Position}
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", i+1)
		}
		if d.Position == 0 {
			d.Position = i + 1
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// writePreviewText prints a matching preview.
func writePreviewText(cmd *cobra.Command, p *solution.Preview) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Matched %d of %d document(s) (%.0f%%), strategy %s\n",
		p.MatchedCount, p.TotalDocuments, p.MatchRate*100, p.Strategy)

	for _, m := range p.Matches {
		fmt.Fprintf(w, "  ✓ %d %s ← entry %d (%s, %.2f)\n",
			m.DocumentPosition, m.DocumentFilename, m.Entry.Position, m.Strategy, m.Confidence)
	}
	for _, d := range p.UnmatchedDocuments {
		fmt.Fprintf(w, "  ✗ %d %s: no solution entry\n", d.Position, d.Filename)
	}
	for _, e := range p.UnmatchedSolutions {
		fmt.Fprintf(w, "  ? entry %d %s: no document\n", e.Position, e.Filename)
	}
	for _, warning := range p.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
}
