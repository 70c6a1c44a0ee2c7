package solution

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/flowaudit/flowaudit/internal/project"
)

// DefaultLowMatchRate is the match rate below which a preview warns.
const DefaultLowMatchRate = 0.5

// Match pairs valid entries with documents. It is pure and deterministic:
// the same documents and entries always produce the same preview.
//
// The returned preview has no SolutionFileID or Fingerprint; Service fills
// those in.
func Match(docs []project.Document, entries []Entry, lowMatchRate float64) Preview {
	docs = slices.Clone(docs)
	slices.SortStableFunc(docs, func(a, b project.Document) int { return a.Position - b.Position })
	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, func(a, b Entry) int { return a.Position - b.Position })

	m := newMatcher(docs, entries)
	m.matchFilenames()
	m.matchFilenamePositions()
	m.matchPositions()
	return m.preview(lowMatchRate)
}

type docKey struct {
	name string // normalised base filename
	stem string // name without extension
}

type matcher struct {
	docs    []project.Document
	docKeys []docKey
	docUsed []bool

	entries    []Entry
	entryKeys  []docKey
	entryUsed  []bool
	invalid    int
	duplicates []string

	matches []MatchItem
}

func newMatcher(docs []project.Document, entries []Entry) *matcher {
	m := &matcher{
		docs:      docs,
		docKeys:   make([]docKey, len(docs)),
		docUsed:   make([]bool, len(docs)),
		entryKeys: make([]docKey, 0, len(entries)),
	}
	for i, d := range docs {
		m.docKeys[i] = filenameKey(d.Filename)
	}

	seen := map[string]int{}
	for _, e := range entries {
		if !e.IsValid {
			m.invalid++
			continue
		}
		key := filenameKey(e.Filename)
		m.entries = append(m.entries, e)
		m.entryKeys = append(m.entryKeys, key)
		if key.name != "" {
			seen[key.name]++
		}
	}
	m.entryUsed = make([]bool, len(m.entries))

	for name, n := range seen {
		if n > 1 {
			m.duplicates = append(m.duplicates, name)
		}
	}
	slices.Sort(m.duplicates)
	return m
}

// matchFilenames runs the FILENAME pass: exact names first so that a stem
// match never steals a document another entry names exactly.
func (m *matcher) matchFilenames() {
	for ei, ek := range m.entryKeys {
		if ek.name == "" {
			continue
		}
		if di := m.findDoc(func(dk docKey, _ project.Document) bool { return dk.name == ek.name }); di >= 0 {
			m.pair(di, ei, StrategyFilename, ConfidenceExactFilename,
				fmt.Sprintf("filename %q matches exactly", m.entries[ei].Filename))
		}
	}
	for ei, ek := range m.entryKeys {
		if m.entryUsed[ei] || ek.stem == "" {
			continue
		}
		if di := m.findDoc(func(dk docKey, _ project.Document) bool { return dk.stem == ek.stem }); di >= 0 {
			m.pair(di, ei, StrategyFilename, ConfidenceStemFilename,
				fmt.Sprintf("filename %q matches %q without extension", m.entries[ei].Filename, m.docs[di].Filename))
		}
	}
}

// matchFilenamePositions runs the FILENAME_POSITION pass.
func (m *matcher) matchFilenamePositions() {
	for ei, ek := range m.entryKeys {
		if m.entryUsed[ei] || ek.stem == "" {
			continue
		}
		pos := m.entries[ei].Position
		di := m.findDoc(func(dk docKey, d project.Document) bool {
			return d.Position == pos && stemsRelated(dk.stem, ek.stem)
		})
		if di >= 0 {
			m.pair(di, ei, StrategyFilenamePosition, ConfidenceFilenamePosition,
				fmt.Sprintf("filename %q resembles %q at position %d", m.entries[ei].Filename, m.docs[di].Filename, pos))
		}
	}
}

// matchPositions runs the POSITION_ONLY pass over everything left.
func (m *matcher) matchPositions() {
	for ei := range m.entries {
		if m.entryUsed[ei] {
			continue
		}
		pos := m.entries[ei].Position
		di := m.findDoc(func(_ docKey, d project.Document) bool { return d.Position == pos })
		if di >= 0 {
			m.pair(di, ei, StrategyPositionOnly, ConfidencePositionOnly,
				fmt.Sprintf("position %d", pos))
		}
	}
}

// findDoc returns the first unmatched document (by position) satisfying
// ok, or -1.
func (m *matcher) findDoc(ok func(docKey, project.Document) bool) int {
	for i, d := range m.docs {
		if !m.docUsed[i] && ok(m.docKeys[i], d) {
			return i
		}
	}
	return -1
}

func (m *matcher) pair(di, ei int, strategy Strategy, confidence float64, reason string) {
	m.docUsed[di] = true
	m.entryUsed[ei] = true
	d := m.docs[di]
	m.matches = append(m.matches, MatchItem{
		DocumentID:       d.ID,
		DocumentFilename: d.Filename,
		DocumentPosition: d.Position,
		Entry:            m.entries[ei],
		Confidence:       confidence,
		Strategy:         strategy,
		MatchReason:      reason,
	})
}

func (m *matcher) preview(lowMatchRate float64) Preview {
	matches := slices.Clone(m.matches)
	if matches == nil {
		matches = []MatchItem{}
	}
	slices.SortStableFunc(matches, func(a, b MatchItem) int { return a.DocumentPosition - b.DocumentPosition })

	p := Preview{
		Strategy:           StrategyFilename,
		MatchedCount:       len(matches),
		TotalDocuments:     len(m.docs),
		Matches:            matches,
		UnmatchedDocuments: []DocumentRef{},
		UnmatchedSolutions: []Entry{},
		Warnings:           []string{},
	}

	positional := 0
	for _, item := range matches {
		if item.Strategy.rank() > p.Strategy.rank() {
			p.Strategy = item.Strategy
		}
		if item.Strategy == StrategyPositionOnly {
			positional++
		}
	}
	if len(m.docs) > 0 {
		p.MatchRate = float64(len(matches)) / float64(len(m.docs))
	}

	for i, d := range m.docs {
		if !m.docUsed[i] {
			p.UnmatchedDocuments = append(p.UnmatchedDocuments, DocumentRef{ID: d.ID, Filename: d.Filename, Position: d.Position})
		}
	}
	for i, e := range m.entries {
		if !m.entryUsed[i] {
			p.UnmatchedSolutions = append(p.UnmatchedSolutions, e)
		}
	}

	if m.invalid > 0 {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%d invalid entries skipped", m.invalid))
	}
	for _, name := range m.duplicates {
		p.Warnings = append(p.Warnings, fmt.Sprintf("duplicate filename %q in solution file", name))
	}
	if positional > 0 {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%d entries matched by position only", positional))
	}
	if len(m.docs) == 0 {
		p.Warnings = append(p.Warnings, "project has no documents")
	} else if p.MatchRate < lowMatchRate {
		p.Warnings = append(p.Warnings, fmt.Sprintf("match rate %.0f%% is below %.0f%%", p.MatchRate*100, lowMatchRate*100))
	}
	return p
}

// filenameKey normalises a filename for comparison: base name only, NFC,
// case folded.
func filenameKey(filename string) docKey {
	name := strings.TrimSpace(filename)
	if name == "" {
		return docKey{}
	}
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	// Casers keep state, so each call gets its own.
	name = cases.Fold().String(norm.NFC.String(name))
	stem := strings.TrimSuffix(name, path.Ext(name))
	if stem == "" {
		stem = name
	}
	return docKey{name: name, stem: stem}
}

// stemsRelated reports whether one stem contains the other or both share a
// token of at least two characters.
func stemsRelated(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	tokens := map[string]bool{}
	for _, t := range tokenize(a) {
		tokens[t] = true
	}
	for _, t := range tokenize(b) {
		if tokens[t] {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
