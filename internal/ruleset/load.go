package ruleset

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSource []byte

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Load error codes (E001-E099), shared with the CLI's exit reporting.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE parse failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // Schema unification failed
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeDuplicate   = "E008" // Ruleset id declared twice
)

// LoadResult contains the rulesets compiled from a set of CUE files.
type LoadResult struct {
	Rulesets  []Ruleset
	FileCount int
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loader compiles CUE files against the embedded schema.
// Every file must declare its rulesets under a top-level "ruleset" struct.
type loader struct {
	ctx    *cue.Context
	schema cue.Value
	mode   LoadMode
	seen   map[ID]string
	result *LoadResult
	errs   []error
}

func newLoader(mode LoadMode) (*loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile ruleset schema: %w", err)
	}
	return &loader{
		ctx:    ctx,
		schema: schema.LookupPath(cue.ParsePath("#Ruleset")),
		mode:   mode,
		seen:   make(map[ID]string),
		result: &LoadResult{},
	}, nil
}

// fail records err and reports whether loading must stop.
func (l *loader) fail(err error) bool {
	l.errs = append(l.errs, err)
	return l.mode == LoadModeFailFast
}

// loadFile compiles one file. Returns false when loading must stop.
func (l *loader) loadFile(name string, data []byte) bool {
	l.result.FileCount++

	value := l.ctx.CompileBytes(data, cue.Filename(name))
	if err := value.Err(); err != nil {
		return !l.fail(convertCompileError(formatCUEError(err), ErrCodeLoadFailed, name))
	}

	rulesetsVal := value.LookupPath(cue.ParsePath("ruleset"))
	if !rulesetsVal.Exists() {
		return true
	}

	iter, err := rulesetsVal.Fields()
	if err != nil {
		return !l.fail(&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating rulesets in %s: %v", name, err)})
	}

	for iter.Next() {
		label := iter.Selector().Unquoted()
		rv := iter.Value()

		if err := rv.Unify(l.schema).Validate(cue.Concrete(true)); err != nil {
			if l.fail(convertCompileError(formatCUEError(err), ErrCodeBuildFailed, "ruleset."+label)) {
				return false
			}
			continue
		}

		rs, err := CompileRuleset(rv)
		if err != nil {
			if l.fail(convertCompileError(err, ErrCodeGeneric, "ruleset."+label)) {
				return false
			}
			continue
		}

		if prev, dup := l.seen[rs.ID]; dup {
			if l.fail(&LoadError{
				Code:    ErrCodeDuplicate,
				Message: fmt.Sprintf("ruleset %s already declared in %s", rs.ID, prev),
				Pos:     rv.Pos(),
			}) {
				return false
			}
			continue
		}
		l.seen[rs.ID] = name

		if verrs := Validate(rs); len(verrs) > 0 {
			stop := false
			for _, ve := range verrs {
				stop = l.fail(&LoadError{Code: ve.Code, Message: fmt.Sprintf("ruleset.%s: %s: %s", label, ve.Field, ve.Message), Pos: rv.Pos()})
				if stop {
					return false
				}
			}
			continue
		}

		hash, err := ContentHash(rs)
		if err != nil {
			if l.fail(&LoadError{Code: ErrCodeGeneric, Message: err.Error(), Pos: rv.Pos()}) {
				return false
			}
			continue
		}
		rs.ContentHash = hash
		l.result.Rulesets = append(l.result.Rulesets, *rs)
	}
	return true
}

func (l *loader) finish() (*LoadResult, []error) {
	if l.result.FileCount == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: "no CUE files found"}}
	}
	if len(l.result.Rulesets) == 0 && len(l.errs) == 0 {
		l.errs = append(l.errs, &LoadError{Code: ErrCodeGeneric, Message: "no rulesets found"})
	}
	sort.Slice(l.result.Rulesets, func(i, j int) bool {
		return l.result.Rulesets[i].ID < l.result.Rulesets[j].ID
	})
	return l.result, l.errs
}

// LoadDir loads and compiles all rulesets declared in .cue files under dir.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadDir(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("ruleset directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing ruleset directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	l, err := newLoader(mode)
	if err != nil {
		return nil, []error{err}
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			if l.fail(&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", file, err)}) {
				break
			}
			continue
		}
		if !l.loadFile(file, data) {
			break
		}
	}
	return l.finish()
}

// LoadFS loads rulesets from .cue files under root in fsys.
func LoadFS(fsys fs.FS, root string, mode LoadMode) (*LoadResult, []error) {
	var files []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path.Ext(p) == ".cue" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning %s: %v", root, err)}}
	}
	sort.Strings(files)

	l, err := newLoader(mode)
	if err != nil {
		return nil, []error{err}
	}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			if l.fail(&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", file, err)}) {
				break
			}
			continue
		}
		if !l.loadFile(file, data) {
			break
		}
	}
	return l.finish()
}

// FindCUEFiles walks the directory and returns all .cue file paths, sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(p) == ".cue" {
			files = append(files, p)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// convertCompileError converts a compile error to a LoadError with position info.
func convertCompileError(err error, code, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		msg := compileErr.Message
		if !strings.HasPrefix(msg, context) {
			msg = context + ": " + msg
		}
		return &LoadError{Code: code, Message: msg, Pos: compileErr.Pos}
	}
	return &LoadError{Code: code, Message: fmt.Sprintf("%s: %v", context, err)}
}

// JoinLoadErrors flattens loader errors into a single error, or nil.
func JoinLoadErrors(errs []error) error {
	return errors.Join(errs...)
}

// LoadDirs loads every directory in dirs and keeps the latest version of
// each ruleset id across them. Built-in ids are dropped.
func LoadDirs(dirs []string) ([]Ruleset, error) {
	var loaded []Ruleset
	for _, dir := range dirs {
		res, errs := LoadDir(dir, LoadModeCollectAll)
		if len(errs) > 0 {
			return nil, fmt.Errorf("load rulesets from %s: %w", dir, JoinLoadErrors(errs))
		}
		loaded = append(loaded, res.Rulesets...)
	}
	return LatestVersions(loaded), nil
}

// LoadRegistry builds a registry of the built-ins plus the rulesets found
// in dirs.
func LoadRegistry(dirs []string) (*Registry, error) {
	all, err := Builtin()
	if err != nil {
		return nil, err
	}
	extra, err := LoadDirs(dirs)
	if err != nil {
		return nil, err
	}
	reg, err := NewRegistry(append(all, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}
	return reg, nil
}
