package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/compliance"
	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// EvaluateRequest is the body of POST /rulesets/{id}/evaluate.
type EvaluateRequest struct {
	GrossAmount *decimal.Decimal `json:"grossAmount"`
	Values      map[string]any   `json:"values,omitempty"`
	Facts       map[string]any   `json:"facts,omitempty"`
}

func (s *Server) handleListRulesets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Registry().All())
}

func (s *Server) handleRulesetSummaries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Registry().Summaries())
}

func (s *Server) handleGetRuleset(w http.ResponseWriter, r *http.Request) {
	rs, err := s.deps.Catalog.Get(ruleset.ID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleCreateRuleset(w http.ResponseWriter, r *http.Request) {
	var rs ruleset.Ruleset
	if err := decodeJSON(w, r, &rs, false); err != nil {
		s.writeError(w, err)
		return
	}
	created, err := s.deps.Catalog.Create(r.Context(), rs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+created.ContentHash+`"`)
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateRuleset replaces a stored version. An If-Match header, when
// present, must carry the stored content hash.
func (s *Server) handleUpdateRuleset(w http.ResponseWriter, r *http.Request) {
	var rs ruleset.Ruleset
	if err := decodeJSON(w, r, &rs, false); err != nil {
		s.writeError(w, err)
		return
	}
	updated, err := s.deps.Catalog.Update(r.Context(),
		ruleset.ID(r.PathValue("id")), r.PathValue("version"), rs, ifMatch(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("ETag", `"`+updated.ContentHash+`"`)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	rs, err := s.deps.Catalog.Get(ruleset.ID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req EvaluateRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, err)
		return
	}
	if req.GrossAmount == nil {
		s.writeError(w, apperr.Validation("MISSING_GROSS_AMOUNT", "grossAmount is required"))
		return
	}

	report, err := compliance.Evaluate(rs, compliance.Invoice{
		GrossAmount: *req.GrossAmount,
		Values:      req.Values,
		Facts:       req.Facts,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
