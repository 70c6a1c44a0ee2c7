package ruleset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/mod/semver"

	"github.com/flowaudit/flowaudit/internal/apperr"
)

// Store persists authored ruleset versions.
type Store interface {
	// InsertRulesetVersion stores a new (id, version). Fails with a conflict
	// error if that version already exists.
	InsertRulesetVersion(ctx context.Context, rs Ruleset) error
	// ReplaceRulesetVersion overwrites an existing (id, version). When
	// expectedHash is non-empty the stored content hash must match it.
	ReplaceRulesetVersion(ctx context.Context, rs Ruleset, expectedHash string) error
	// ListRulesetVersions returns every stored version of every ruleset.
	ListRulesetVersions(ctx context.Context) ([]Ruleset, error)
}

// Catalog is the authoring side of the ruleset registry.
//
// Reads go through Registry, which returns the current immutable snapshot.
// Writes validate, persist and then publish a new snapshot holding the
// built-ins plus the highest semver of every stored ruleset.
type Catalog struct {
	mu      sync.Mutex // serializes writers
	store   Store
	builtin []Ruleset
	current atomic.Pointer[Registry]
	logger  *slog.Logger
}

// NewCatalog loads stored rulesets and publishes the first snapshot.
// Passing a nil store yields a read-only catalog of the built-ins.
func NewCatalog(ctx context.Context, store Store, builtin []Ruleset, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{store: store, builtin: builtin, logger: logger}
	if err := c.rebuild(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Registry returns the current snapshot.
func (c *Catalog) Registry() *Registry {
	return c.current.Load()
}

// Get looks id up in the current snapshot.
func (c *Catalog) Get(id ID) (*Ruleset, error) {
	return c.Registry().Get(id)
}

// Create validates rs and stores it as a new version.
func (c *Catalog) Create(ctx context.Context, rs Ruleset) (*Ruleset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.prepare(&rs); err != nil {
		return nil, err
	}
	if err := c.store.InsertRulesetVersion(ctx, rs); err != nil {
		return nil, fmt.Errorf("create ruleset %s@%s: %w", rs.ID, rs.Version, err)
	}
	if err := c.rebuild(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("ruleset created", "ruleset", rs.ID, "version", rs.Version, "hash", rs.ContentHash)
	return &rs, nil
}

// Update replaces the stored (id, version) with rs.
// A non-empty expectedHash must equal the stored content hash.
func (c *Catalog) Update(ctx context.Context, id ID, version string, rs Ruleset, expectedHash string) (*Ruleset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rs.ID == "" {
		rs.ID = id
	}
	if rs.Version == "" {
		rs.Version = version
	}
	if rs.ID != id || rs.Version != version {
		return nil, apperr.Validation("RULESET_PATH_MISMATCH",
			"body ruleset %s@%s does not match path %s@%s", rs.ID, rs.Version, id, version)
	}
	if err := c.prepare(&rs); err != nil {
		return nil, err
	}
	if err := c.store.ReplaceRulesetVersion(ctx, rs, expectedHash); err != nil {
		return nil, fmt.Errorf("update ruleset %s@%s: %w", id, version, err)
	}
	if err := c.rebuild(ctx); err != nil {
		return nil, err
	}

	c.logger.Info("ruleset updated", "ruleset", rs.ID, "version", rs.Version, "hash", rs.ContentHash)
	return &rs, nil
}

// prepare runs the checks shared by Create and Update and fills the hash.
func (c *Catalog) prepare(rs *Ruleset) error {
	if c.store == nil {
		return apperr.Conflict("CATALOG_READ_ONLY", "catalog has no store; rulesets cannot be authored")
	}
	if IsBuiltin(rs.ID) {
		return apperr.Conflict("RULESET_BUILTIN", "built-in ruleset %s cannot be overwritten", rs.ID)
	}
	if errs := Validate(rs); len(errs) > 0 {
		return ValidationFailure(rs.ID, errs)
	}
	rs.Builtin = false
	hash, err := ContentHash(rs)
	if err != nil {
		return apperr.Validation("INVALID_RULESET", "%v", err)
	}
	rs.ContentHash = hash
	return nil
}

// rebuild publishes a new snapshot from the built-ins and the store.
func (c *Catalog) rebuild(ctx context.Context) error {
	all := append([]Ruleset(nil), c.builtin...)

	if c.store != nil {
		stored, err := c.store.ListRulesetVersions(ctx)
		if err != nil {
			return fmt.Errorf("list ruleset versions: %w", err)
		}
		all = append(all, LatestVersions(stored)...)
	}

	reg, err := NewRegistry(all...)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	c.current.Store(reg)
	return nil
}

// LatestVersions keeps the highest semver of each ruleset id.
// Built-in ids are skipped.
func LatestVersions(rulesets []Ruleset) []Ruleset {
	latest := make(map[ID]Ruleset)
	var order []ID
	for _, rs := range rulesets {
		if IsBuiltin(rs.ID) {
			continue
		}
		prev, ok := latest[rs.ID]
		if !ok {
			order = append(order, rs.ID)
			latest[rs.ID] = rs
			continue
		}
		if CompareVersions(rs.Version, prev.Version) > 0 {
			latest[rs.ID] = rs
		}
	}
	out := make([]Ruleset, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

// CompareVersions compares two MAJOR.MINOR.PATCH versions by semver
// precedence.
func CompareVersions(a, b string) int {
	return semver.Compare("v"+a, "v"+b)
}
