package solution

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/flowaudit/flowaudit/internal/apperr"
)

// Reserved keys that carry entry metadata rather than ground-truth fields.
var (
	positionKeys = []string{"position"}
	filenameKeys = []string{"filename", "file_name", "file"}
)

// DetectFormat picks the format from the file extension, falling back to
// the MIME type. Returns a validation error for anything else.
func DetectFormat(filename, contentType string) (Format, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".json":
		return FormatJSON, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, nil
	case ".csv":
		return FormatCSV, nil
	}

	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			switch mediaType {
			case "application/json":
				return FormatJSON, nil
			case "application/x-ndjson", "application/jsonl", "application/jsonlines":
				return FormatJSONL, nil
			case "text/csv":
				return FormatCSV, nil
			}
		}
	}

	return "", apperr.Validation("UNSUPPORTED_FORMAT",
		"unsupported solution file %q (content type %q): expected .json, .jsonl or .csv", filename, contentType)
}

// Parse detects the format of data and parses it into entries.
//
// Syntax errors and empty files fail the whole file with a validation
// error. Entries with an unusable position or no fields are returned with
// IsValid false and the reasons in Errors.
func Parse(filename, contentType string, data []byte) (Format, []Entry, error) {
	format, err := DetectFormat(filename, contentType)
	if err != nil {
		return "", nil, err
	}
	entries, err := ParseFormat(format, data)
	if err != nil {
		return "", nil, err
	}
	return format, entries, nil
}

// ParseFormat parses data in the given format.
func ParseFormat(format Format, data []byte) ([]Entry, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperr.Validation("EMPTY_SOLUTION_FILE", "solution file is empty")
	}

	var (
		records []any
		err     error
	)
	switch format {
	case FormatJSON:
		records, err = parseJSON(data)
	case FormatJSONL:
		records, err = parseJSONL(data)
	case FormatCSV:
		records, err = parseCSV(data)
	default:
		return nil, apperr.Validation("UNSUPPORTED_FORMAT", "unsupported solution file format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperr.Validation("EMPTY_SOLUTION_FILE", "solution file contains no entries")
	}

	entries := make([]Entry, len(records))
	for i, rec := range records {
		entries[i] = buildEntry(i+1, rec)
	}
	return entries, nil
}

func parseJSON(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, malformed(FormatJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, apperr.Validation("MALFORMED_SOLUTION_FILE", "malformed json solution file: trailing data after top-level value")
	}

	switch v := doc.(type) {
	case []any:
		return v, nil
	case map[string]any:
		if raw, ok := v["entries"]; ok {
			list, ok := raw.([]any)
			if !ok {
				return nil, apperr.Validation("MALFORMED_SOLUTION_FILE", "malformed json solution file: \"entries\" must be an array")
			}
			return list, nil
		}
		return []any{v}, nil
	default:
		return nil, apperr.Validation("MALFORMED_SOLUTION_FILE", "malformed json solution file: top-level value must be an object or array")
	}
}

func parseJSONL(data []byte) ([]any, error) {
	var records []any
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var rec any
		if err := dec.Decode(&rec); err != nil {
			return nil, apperr.Validation("MALFORMED_SOLUTION_FILE", "malformed jsonl solution file: line %d: %v", i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseCSV(data []byte) ([]any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, malformed(FormatCSV, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
		if header[i] == "" {
			return nil, apperr.Validation("MALFORMED_SOLUTION_FILE", "malformed csv solution file: column %d has no header", i+1)
		}
	}

	records := make([]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(row))
		for i, cell := range row {
			cell = strings.TrimSpace(cell)
			// Blank cells mean "no ground truth", not "empty value".
			if cell == "" {
				continue
			}
			rec[header[i]] = cell
		}
		records = append(records, rec)
	}
	return records, nil
}

func malformed(format Format, err error) error {
	return apperr.Validation("MALFORMED_SOLUTION_FILE", "malformed %s solution file: %v", format, err)
}

// buildEntry turns one decoded record into an entry. index is the 1-based
// record index, used as the position when none is given.
func buildEntry(index int, rec any) Entry {
	e := Entry{Position: index, Fields: map[string]any{}}

	obj, ok := rec.(map[string]any)
	if !ok {
		e.Errors = append(e.Errors, EntryError{Field: "entry", Message: fmt.Sprintf("record %d is not an object", index)})
		return e
	}

	for key, value := range obj {
		switch {
		case slices.Contains(positionKeys, key):
			pos, err := parsePosition(value)
			if err != nil {
				e.Errors = append(e.Errors, EntryError{Field: key, Message: err.Error()})
				continue
			}
			e.Position = pos
		case slices.Contains(filenameKeys, key):
			name, ok := value.(string)
			if !ok {
				e.Errors = append(e.Errors, EntryError{Field: key, Message: "filename must be a string"})
				continue
			}
			name = strings.TrimSpace(name)
			// "filename" wins over the aliases.
			if e.Filename == "" || key == "filename" {
				e.Filename = name
			}
		default:
			e.Fields[key] = value
		}
	}

	if len(e.Fields) == 0 {
		e.Errors = append(e.Errors, EntryError{Field: "fields", Message: "entry has no fields"})
	}
	// Map iteration order is random; keep errors stable.
	slices.SortStableFunc(e.Errors, func(a, b EntryError) int {
		return strings.Compare(a.Field, b.Field)
	})
	e.IsValid = len(e.Errors) == 0
	return e
}

func parsePosition(value any) (int, error) {
	var s string
	switch v := value.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	default:
		return 0, fmt.Errorf("position must be an integer, got %T", value)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("position must be an integer, got %q", s)
	}
	if n < 1 {
		return 0, fmt.Errorf("position must be >= 1, got %d", n)
	}
	return n, nil
}
