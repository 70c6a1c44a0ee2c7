package ruleset

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/shopspring/decimal"
)

// CompileRuleset parses a CUE value into a Ruleset.
// Uses the CUE SDK's Go API directly.
//
// The CUE value should be the ruleset struct itself; its label becomes the
// ruleset id:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`ruleset: DE_USTG: { version: "1.0.0", ... }`)
//	rs, err := CompileRuleset(v.LookupPath(cue.ParsePath("ruleset.DE_USTG")))
//
// CompileRuleset checks structure only. Call Validate for catalog rules.
func CompileRuleset(v cue.Value) (*Ruleset, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rs := &Ruleset{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rs.ID = ID(labels[len(labels)-1].String())
	}

	var err error
	if rs.Version, err = lookupString(v, "version", true); err != nil {
		return nil, err
	}
	if rs.Jurisdiction, err = lookupString(v, "jurisdiction", true); err != nil {
		return nil, err
	}
	if rs.Currency, err = lookupString(v, "currency", true); err != nil {
		return nil, err
	}
	if rs.Title, err = lookupText(v, "title"); err != nil {
		return nil, err
	}

	if err := parseSmallAmount(v, rs); err != nil {
		return nil, err
	}

	if rs.LegalReferences, err = parseLegalReferences(v); err != nil {
		return nil, err
	}

	if rs.Features, err = parseFeatures(v); err != nil {
		return nil, err
	}

	return rs, nil
}

// parseSmallAmount reads small_amount: { threshold, currency }.
// The threshold may be written as a CUE number or a decimal string.
func parseSmallAmount(v cue.Value, rs *Ruleset) error {
	sv := v.LookupPath(cue.ParsePath("small_amount"))
	if !sv.Exists() {
		return nil
	}

	tv := sv.LookupPath(cue.ParsePath("threshold"))
	if !tv.Exists() {
		return &CompileError{Field: "small_amount.threshold", Message: "threshold is required", Pos: sv.Pos()}
	}

	var raw string
	if tv.IncompleteKind() == cue.StringKind {
		s, err := tv.String()
		if err != nil {
			return formatCUEError(err)
		}
		raw = s
	} else {
		b, err := tv.MarshalJSON()
		if err != nil {
			return formatCUEError(err)
		}
		raw = string(b)
	}

	threshold, err := decimal.NewFromString(raw)
	if err != nil {
		return &CompileError{
			Field:   "small_amount.threshold",
			Message: fmt.Sprintf("invalid decimal %q", raw),
			Pos:     tv.Pos(),
		}
	}
	rs.SmallAmountThreshold = &threshold

	currency, err := lookupString(sv, "currency", false)
	if err != nil {
		return err
	}
	if currency == "" {
		currency = rs.Currency
	}
	rs.SmallAmountCurrency = currency
	return nil
}

// parseLegalReferences reads the optional legal_references list.
func parseLegalReferences(v cue.Value) ([]LegalReference, error) {
	refs := []LegalReference{}

	lv := v.LookupPath(cue.ParsePath("legal_references"))
	if !lv.Exists() {
		return refs, nil
	}

	iter, err := lv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		rv := iter.Value()
		var ref LegalReference
		if ref.Law, err = lookupString(rv, "law", true); err != nil {
			return nil, err
		}
		if ref.Section, err = lookupString(rv, "section", false); err != nil {
			return nil, err
		}
		if ref.Description, err = lookupText(rv, "description"); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// parseFeatures reads the feature struct in declaration order.
func parseFeatures(v cue.Value) ([]Feature, error) {
	features := []Feature{}

	fv := v.LookupPath(cue.ParsePath("feature"))
	if !fv.Exists() {
		return features, nil
	}

	iter, err := fv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		f, err := parseFeature(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		features = append(features, f)
	}
	return features, nil
}

func parseFeature(id string, v cue.Value) (Feature, error) {
	f := Feature{ID: id}
	field := func(name string) string {
		return fmt.Sprintf("feature.%s.%s", id, name)
	}

	var err error
	if f.Name, err = lookupText(v, "name"); err != nil {
		return f, err
	}
	if f.Explanation, err = lookupText(v, "explanation"); err != nil {
		return f, err
	}
	if f.LegalBasis, err = lookupString(v, "legal_basis", false); err != nil {
		return f, err
	}

	level, err := lookupString(v, "required_level", true)
	if err != nil {
		return f, err
	}
	f.Level = Level(level)

	category, err := lookupString(v, "category", true)
	if err != nil {
		return f, err
	}
	f.Category = Category(category)

	if av := v.LookupPath(cue.ParsePath("applies_to")); av.Exists() {
		standard, err := lookupBool(av, "standard_invoice")
		if err != nil {
			return f, err
		}
		small, err := lookupBool(av, "small_amount_invoice")
		if err != nil {
			return f, err
		}
		f.AppliesTo = AppliesOnly(standard, small)
	}

	if vv := v.LookupPath(cue.ParsePath("validation")); vv.Exists() {
		val := &Validation{}
		if val.Pattern, err = lookupString(vv, "pattern", false); err != nil {
			return f, err
		}
		if val.MinLength, err = lookupInt(vv, "min_length"); err != nil {
			return f, err
		}
		if val.MaxLength, err = lookupInt(vv, "max_length"); err != nil {
			return f, err
		}
		f.Validation = val
	}

	if cv := v.LookupPath(cue.ParsePath("condition")); cv.Exists() {
		data, err := cv.MarshalJSON()
		if err != nil {
			return f, formatCUEError(err)
		}
		var cond map[string]any
		if err := json.Unmarshal(data, &cond); err != nil {
			return f, &CompileError{Field: field("condition"), Message: "condition must be a JSON-logic object", Pos: cv.Pos()}
		}
		f.Condition = cond
	}

	return f, nil
}

func lookupString(v cue.Value, path string, required bool) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		if required {
			return "", &CompileError{Field: path, Message: path + " is required", Pos: v.Pos()}
		}
		return "", nil
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func lookupBool(v cue.Value, path string) (bool, error) {
	bv := v.LookupPath(cue.ParsePath(path))
	if !bv.Exists() {
		return false, &CompileError{Field: path, Message: path + " is required", Pos: v.Pos()}
	}
	b, err := bv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func lookupInt(v cue.Value, path string) (*int, error) {
	iv := v.LookupPath(cue.ParsePath(path))
	if !iv.Exists() {
		return nil, nil
	}
	n, err := iv.Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	out := int(n)
	return &out, nil
}

// lookupText reads a {locale: text} struct. Missing means empty.
func lookupText(v cue.Value, path string) (LocalizedText, error) {
	tv := v.LookupPath(cue.ParsePath(path))
	if !tv.Exists() {
		return nil, nil
	}
	iter, err := tv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	text := LocalizedText{}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		text[iter.Selector().Unquoted()] = s
	}
	return text, nil
}

// CompileError is a compilation error with CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
