package solution

import (
	"time"

	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// Format is the serialization of an uploaded solution file.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// EntryError describes why an entry cannot take part in matching.
type EntryError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Entry is one ground-truth record of a solution file.
type Entry struct {
	Position int            `json:"position"`
	Filename string         `json:"filename,omitempty"`
	Fields   map[string]any `json:"fields"`
	IsValid  bool           `json:"isValid"`
	Errors   []EntryError   `json:"errors,omitempty"`
}

// File is an uploaded solution file.
//
// A file is created by upload, read by preview and applied at most once;
// after that Applied is true and the file is immutable history.
type File struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Filename    string     `json:"filename"`
	Format      Format     `json:"format"`
	ContentHash string     `json:"contentHash"`
	EntryCount  int        `json:"entryCount"`
	ValidCount  int        `json:"validCount"`
	Applied     bool       `json:"applied"`
	AppliedAt   *time.Time `json:"appliedAt,omitempty"`
	UploadedAt  time.Time  `json:"uploadedAt"`
	Entries     []Entry    `json:"entries,omitempty"`
}

// Strategy names how an entry was paired with a document.
type Strategy string

const (
	StrategyFilename         Strategy = "FILENAME"
	StrategyFilenamePosition Strategy = "FILENAME_POSITION"
	StrategyPositionOnly     Strategy = "POSITION_ONLY"
)

// rank orders strategies from most to least specific.
func (s Strategy) rank() int {
	switch s {
	case StrategyFilename:
		return 0
	case StrategyFilenamePosition:
		return 1
	case StrategyPositionOnly:
		return 2
	}
	return 3
}

// Confidence scores per strategy. Exact filename beats equal stem beats
// filename+position beats position only.
const (
	ConfidenceExactFilename    = 1.0
	ConfidenceStemFilename     = 0.95
	ConfidenceFilenamePosition = 0.8
	ConfidencePositionOnly     = 0.5
)

// MatchItem pairs a document with a solution entry.
type MatchItem struct {
	DocumentID       string   `json:"documentId"`
	DocumentFilename string   `json:"documentFilename"`
	DocumentPosition int      `json:"documentPosition"`
	Entry            Entry    `json:"solutionEntry"`
	Confidence       float64  `json:"confidence"`
	Strategy         Strategy `json:"strategy"`
	MatchReason      string   `json:"matchReason"`
}

// DocumentRef identifies an unmatched document.
type DocumentRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Position int    `json:"position"`
}

// Preview is the side-effect-free result of matching a file against the
// project's documents.
type Preview struct {
	SolutionFileID     string        `json:"solutionFileId"`
	Strategy           Strategy      `json:"strategy"`
	MatchedCount       int           `json:"matchedCount"`
	TotalDocuments     int           `json:"totalDocuments"`
	MatchRate          float64       `json:"matchRate"`
	Matches            []MatchItem   `json:"matches"`
	UnmatchedDocuments []DocumentRef `json:"unmatchedDocuments"`
	UnmatchedSolutions []Entry       `json:"unmatchedSolutions"`
	Warnings           []string      `json:"warnings"`
	Fingerprint        string        `json:"fingerprint"`
}

// ApplyOptions controls Apply.
type ApplyOptions struct {
	CreateExamples bool `json:"createRagExamples"`
	// PreviewFingerprint, when set, must equal the fingerprint of a fresh
	// preview; otherwise the documents changed since the user looked.
	PreviewFingerprint string `json:"previewFingerprint,omitempty"`
}

// Correction records one extracted value replaced by ground truth.
type Correction struct {
	ID             int64     `json:"id"`
	SolutionFileID string    `json:"solutionFileId"`
	DocumentID     string    `json:"documentId"`
	Field          string    `json:"field"`
	PreviousValue  string    `json:"previousValue"`
	CorrectedValue string    `json:"correctedValue"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Example is a training example produced from an applied match.
type Example struct {
	ID             int64          `json:"id"`
	DocumentID     string         `json:"documentId"`
	RulesetID      ruleset.ID     `json:"rulesetId"`
	SolutionFileID string         `json:"solutionFileId"`
	Fields         map[string]any `json:"fields"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// ApplyResult summarizes an applied solution file.
type ApplyResult struct {
	SolutionFileID string       `json:"solutionFileId"`
	AppliedCount   int          `json:"appliedCount"`
	SkippedCount   int          `json:"skippedCount"`
	ErrorCount     int          `json:"errorCount"`
	ExampleCount   int          `json:"exampleCount"`
	Corrections    []Correction `json:"corrections"`
	Errors         []string     `json:"errors"`
	AppliedAt      time.Time    `json:"appliedAt"`
}

// DocumentUpdate replaces a document's extracted values.
type DocumentUpdate struct {
	DocumentID string
	Extracted  map[string]any
}

// ApplyRecord is everything Apply persists in one transaction.
type ApplyRecord struct {
	FileID      string
	ProjectID   string
	AppliedAt   time.Time
	Updates     []DocumentUpdate
	Corrections []Correction
	Examples    []Example
}
