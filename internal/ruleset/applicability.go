package ruleset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Applicability says which invoice classes a feature applies to.
//
// It is a two-variant sum type. The zero value is AppliesToAll, the variant
// used when the author omits appliesTo. AppliesOnly builds the restricted
// variant. An explicit {true, true} is restricted yet covers both classes,
// which keeps "author said so" distinguishable from "author said nothing".
type Applicability struct {
	restricted  bool
	standard    bool
	smallAmount bool
}

// AppliesToAll returns the applies-to-every-invoice variant.
func AppliesToAll() Applicability {
	return Applicability{}
}

// AppliesOnly returns the restricted variant.
func AppliesOnly(standardInvoice, smallAmountInvoice bool) Applicability {
	return Applicability{restricted: true, standard: standardInvoice, smallAmount: smallAmountInvoice}
}

// IsAll reports whether a is the AppliesToAll variant.
func (a Applicability) IsAll() bool {
	return !a.restricted
}

// StandardInvoice reports whether a covers invoices above the threshold.
func (a Applicability) StandardInvoice() bool {
	return !a.restricted || a.standard
}

// SmallAmountInvoice reports whether a covers small-amount invoices.
func (a Applicability) SmallAmountInvoice() bool {
	return !a.restricted || a.smallAmount
}

// Covers reports whether a covers an invoice of the given class.
func (a Applicability) Covers(smallAmount bool) bool {
	if smallAmount {
		return a.SmallAmountInvoice()
	}
	return a.StandardInvoice()
}

// String implements fmt.Stringer.
func (a Applicability) String() string {
	if a.IsAll() {
		return "all"
	}
	return fmt.Sprintf("standard=%t,smallAmount=%t", a.standard, a.smallAmount)
}

type applicabilityJSON struct {
	StandardInvoice    bool `json:"standardInvoice"`
	SmallAmountInvoice bool `json:"smallAmountInvoice"`
}

// MarshalJSON encodes AppliesToAll as "all" and the restricted variant as an
// object.
func (a Applicability) MarshalJSON() ([]byte, error) {
	if a.IsAll() {
		return []byte(`"all"`), nil
	}
	return json.Marshal(applicabilityJSON{StandardInvoice: a.standard, SmallAmountInvoice: a.smallAmount})
}

// UnmarshalJSON accepts "all", null or an object with both flags.
func (a *Applicability) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*a = AppliesToAll()
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		if s != "all" {
			return fmt.Errorf("appliesTo: unknown variant %q", s)
		}
		*a = AppliesToAll()
		return nil
	}
	var obj applicabilityJSON
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return fmt.Errorf("appliesTo: %w", err)
	}
	*a = AppliesOnly(obj.StandardInvoice, obj.SmallAmountInvoice)
	return nil
}
