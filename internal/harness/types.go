package harness

import (
	"github.com/flowaudit/flowaudit/internal/compliance"
)

// InvoiceReport pairs a scenario invoice with the report it produced.
type InvoiceReport struct {
	Invoice string             `json:"invoice"`
	Report  *compliance.Report `json:"report"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	// Reports holds one report per invoice, in scenario order.
	Reports []InvoiceReport `json:"reports"`

	// Errors holds one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Reports: []InvoiceReport{},
		Errors:  []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Snapshot returns the canonical-JSON view of every report in the result.
func (r *Result) Snapshot(scenario string) map[string]any {
	invoices := make([]any, len(r.Reports))
	for i, ir := range r.Reports {
		invoices[i] = map[string]any{
			"name":   ir.Invoice,
			"report": ir.Report.Snapshot(),
		}
	}
	return map[string]any{
		"scenario": scenario,
		"invoices": invoices,
	}
}
