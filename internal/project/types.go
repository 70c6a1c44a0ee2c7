package project

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// Project groups the invoices audited under one ruleset.
type Project struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	RulesetID ruleset.ID `json:"rulesetId"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Document is one uploaded invoice and the values extracted from it.
type Document struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Filename  string `json:"filename"`
	// Position is the 1-based upload order within the project.
	Position    int              `json:"position"`
	GrossAmount *decimal.Decimal `json:"grossAmount,omitempty"`
	// Extracted maps feature ids to extracted values.
	Extracted map[string]any `json:"extracted"`
	CreatedAt time.Time      `json:"createdAt"`
}

// CreateProjectRequest is the input of Service.CreateProject.
type CreateProjectRequest struct {
	Name      string     `json:"name"`
	RulesetID ruleset.ID `json:"rulesetId"`
}

// AddDocumentRequest is the input of Service.AddDocument.
type AddDocumentRequest struct {
	Filename    string           `json:"filename"`
	GrossAmount *decimal.Decimal `json:"grossAmount,omitempty"`
	Extracted   map[string]any   `json:"extracted,omitempty"`
}
