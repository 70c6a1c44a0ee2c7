package ruleset

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flowaudit/flowaudit/internal/apperr"
)

// Validation error codes (E100-E199)
const (
	ErrInvalidRulesetID     = "E101" // id must match ^[A-Z][A-Z0-9_]*$
	ErrInvalidVersion       = "E102" // version must be semver MAJOR.MINOR.PATCH
	ErrJurisdictionEmpty    = "E103" // jurisdiction is required
	ErrLegalReferenceLaw    = "E104" // legal reference needs a law
	ErrDuplicateFeature     = "E105" // duplicate featureId
	ErrInvalidFeatureID     = "E106" // featureId must match ^[a-z][a-z0-9_]*$
	ErrConditionalAppliesTo = "E107" // CONDITIONAL feature without explicit appliesTo
	ErrInvalidLevel         = "E108" // unknown requiredLevel
	ErrInvalidCategory      = "E109" // unknown category
	ErrInvalidPattern       = "E110" // validation pattern does not compile
	ErrInvalidLengthBounds  = "E111" // negative bounds or minLength > maxLength
	ErrInvalidThreshold     = "E112" // threshold must be > 0
	ErrThresholdCurrency    = "E113" // threshold needs an ISO-4217 currency
	ErrConditionNotAllowed  = "E114" // condition only on CONDITIONAL features
	ErrFeatureNameMissing   = "E115" // feature needs a name in at least one locale
	ErrInvalidCurrency      = "E116" // ruleset currency must be ISO-4217
)

var (
	rulesetIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)
	featureIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	versionPattern   = regexp.MustCompile(`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)(-[0-9A-Za-z.-]+)?$`)
	currencyPattern  = regexp.MustCompile(`^[A-Z]{3}$`)
)

// ValidationError represents a ruleset validation problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks rs against the catalog rules.
// Returns all errors found (does not fail-fast).
func Validate(rs *Ruleset) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if !rulesetIDPattern.MatchString(string(rs.ID)) {
		add(ErrInvalidRulesetID, "rulesetId", "invalid ruleset id %q", rs.ID)
	}
	if !versionPattern.MatchString(rs.Version) {
		add(ErrInvalidVersion, "version", "version %q is not MAJOR.MINOR.PATCH", rs.Version)
	}
	if strings.TrimSpace(rs.Jurisdiction) == "" {
		add(ErrJurisdictionEmpty, "jurisdiction", "jurisdiction is required")
	}
	if !currencyPattern.MatchString(rs.Currency) {
		add(ErrInvalidCurrency, "currency", "currency %q is not an ISO-4217 code", rs.Currency)
	}

	for i, ref := range rs.LegalReferences {
		if strings.TrimSpace(ref.Law) == "" {
			add(ErrLegalReferenceLaw, fmt.Sprintf("legalReferences[%d].law", i), "law is required")
		}
	}

	if th := rs.SmallAmountThreshold; th != nil {
		if !th.IsPositive() {
			add(ErrInvalidThreshold, "smallAmountThreshold", "threshold must be greater than zero, got %s", th.String())
		}
		if !currencyPattern.MatchString(rs.SmallAmountCurrency) {
			add(ErrThresholdCurrency, "smallAmountCurrency", "threshold currency %q is not an ISO-4217 code", rs.SmallAmountCurrency)
		}
	}

	seen := make(map[string]bool, len(rs.Features))
	for i, f := range rs.Features {
		errs = append(errs, validateFeature(i, f, seen)...)
	}
	return errs
}

func validateFeature(i int, f Feature, seen map[string]bool) []ValidationError {
	var errs []ValidationError
	field := func(name string) string {
		return fmt.Sprintf("features[%d].%s", i, name)
	}
	add := func(code, name, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field(name), Message: fmt.Sprintf(format, args...), Code: code})
	}

	if !featureIDPattern.MatchString(f.ID) {
		add(ErrInvalidFeatureID, "featureId", "invalid feature id %q", f.ID)
	}
	if seen[f.ID] {
		add(ErrDuplicateFeature, "featureId", "duplicate feature id %q", f.ID)
	}
	seen[f.ID] = true

	if f.Name.Get(FallbackLocale) == "" {
		add(ErrFeatureNameMissing, "name", "feature %q needs a name", f.ID)
	}
	if !f.Level.Valid() {
		add(ErrInvalidLevel, "requiredLevel", "unknown required level %q", f.Level)
	}
	if !f.Category.Valid() {
		add(ErrInvalidCategory, "category", "unknown category %q", f.Category)
	}
	if f.Level == LevelConditional && f.AppliesTo.IsAll() {
		add(ErrConditionalAppliesTo, "appliesTo", "conditional feature %q must declare appliesTo", f.ID)
	}
	if f.Condition != nil && f.Level != LevelConditional {
		add(ErrConditionNotAllowed, "condition", "condition is only allowed on CONDITIONAL features, %q is %s", f.ID, f.Level)
	}

	if v := f.Validation; v != nil {
		if _, err := v.Regexp(); err != nil {
			add(ErrInvalidPattern, "validation.pattern", "pattern does not compile: %v", err)
		}
		switch {
		case v.MinLength != nil && *v.MinLength < 0:
			add(ErrInvalidLengthBounds, "validation.minLength", "minLength must not be negative")
		case v.MaxLength != nil && *v.MaxLength < 0:
			add(ErrInvalidLengthBounds, "validation.maxLength", "maxLength must not be negative")
		case v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength:
			add(ErrInvalidLengthBounds, "validation", "minLength %d exceeds maxLength %d", *v.MinLength, *v.MaxLength)
		}
	}
	return errs
}

// ValidationFailure wraps a non-empty list of validation errors in an
// apperr validation error whose details carry the list.
func ValidationFailure(id ID, errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	return apperr.Validation("INVALID_RULESET", "ruleset %s has %d problem(s): %s", id, len(errs), errs[0].Error()).
		WithDetails(errs)
}
