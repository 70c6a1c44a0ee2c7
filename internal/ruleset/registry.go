package ruleset

import (
	"fmt"
	"sort"

	"github.com/flowaudit/flowaudit/internal/apperr"
)

// Registry is an immutable snapshot of rulesets keyed by id.
//
// Registries are built once and injected into consumers; a Catalog swaps in
// a fresh Registry after every authored change instead of mutating one.
// Safe for concurrent use.
type Registry struct {
	byID    map[ID]*Ruleset
	ordered []ID
}

// NewRegistry builds a registry. Duplicate or empty ids are rejected.
// Rulesets without a content hash get one computed.
func NewRegistry(rulesets ...Ruleset) (*Registry, error) {
	r := &Registry{byID: make(map[ID]*Ruleset, len(rulesets))}
	for i := range rulesets {
		rs := rulesets[i].Clone()
		if rs.ID == "" {
			return nil, fmt.Errorf("ruleset at index %d has no id", i)
		}
		if _, dup := r.byID[rs.ID]; dup {
			return nil, fmt.Errorf("duplicate ruleset id %s", rs.ID)
		}
		if rs.ContentHash == "" {
			hash, err := ContentHash(rs)
			if err != nil {
				return nil, err
			}
			rs.ContentHash = hash
		}
		r.byID[rs.ID] = rs
		r.ordered = append(r.ordered, rs.ID)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i] < r.ordered[j] })
	return r, nil
}

// Get returns a copy of the ruleset with the given id.
// Fails with an apperr not-found error for unknown ids.
func (r *Registry) Get(id ID) (*Ruleset, error) {
	rs, ok := r.byID[id]
	if !ok {
		return nil, apperr.NotFound("RULESET_NOT_FOUND", "ruleset %s not found", id)
	}
	return rs.Clone(), nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id ID) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns copies of all rulesets sorted by id.
func (r *Registry) All() []Ruleset {
	out := make([]Ruleset, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, *r.byID[id].Clone())
	}
	return out
}

// Summaries returns one summary per ruleset, in the same order as All.
func (r *Registry) Summaries() []Summary {
	out := make([]Summary, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.byID[id].Summarize())
	}
	return out
}

// Len returns the number of rulesets.
func (r *Registry) Len() int {
	return len(r.ordered)
}
