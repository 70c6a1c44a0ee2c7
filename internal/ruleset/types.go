package ruleset

import (
	"regexp"
	"sort"

	"github.com/shopspring/decimal"
)

// ID identifies a ruleset, e.g. "DE_USTG".
type ID string

// Built-in ruleset identifiers.
const (
	DEUStG ID = "DE_USTG"
	EUVAT  ID = "EU_VAT"
	UKHMRC ID = "UK_HMRC"
)

// Level is the required level of a feature.
type Level string

const (
	LevelRequired    Level = "REQUIRED"
	LevelConditional Level = "CONDITIONAL"
	LevelOptional    Level = "OPTIONAL"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelRequired, LevelConditional, LevelOptional:
		return true
	}
	return false
}

// Category groups features by the kind of data they describe.
type Category string

const (
	CategoryIdentity Category = "identity"
	CategoryDate     Category = "date"
	CategoryAmount   Category = "amount"
	CategoryTax      Category = "tax"
	CategoryText     Category = "text"
	CategorySemantic Category = "semantic"
	CategoryProject  Category = "project"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryIdentity, CategoryDate, CategoryAmount, CategoryTax,
		CategoryText, CategorySemantic, CategoryProject:
		return true
	}
	return false
}

// FallbackLocale is used when a requested locale has no translation.
const FallbackLocale = "en"

// LocalizedText maps a locale ("de", "en") to text.
type LocalizedText map[string]string

// Get returns the text for locale, falling back to English and then to the
// first locale in sorted order. Returns "" for empty text.
func (t LocalizedText) Get(locale string) string {
	if s, ok := t[locale]; ok {
		return s
	}
	if s, ok := t[FallbackLocale]; ok {
		return s
	}
	if len(t) == 0 {
		return ""
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return t[keys[0]]
}

// LegalReference cites the law a ruleset is derived from.
type LegalReference struct {
	Law         string        `json:"law"`
	Section     string        `json:"section"`
	Description LocalizedText `json:"description,omitempty"`
}

// Validation constrains the textual form of a feature value.
type Validation struct {
	Pattern   string `json:"pattern,omitempty"`
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
}

// Regexp compiles Pattern. Returns nil when no pattern is set.
func (v *Validation) Regexp() (*regexp.Regexp, error) {
	if v == nil || v.Pattern == "" {
		return nil, nil
	}
	return regexp.Compile(v.Pattern)
}

// Feature is one mandatory, conditional or optional invoice element.
type Feature struct {
	ID          string         `json:"featureId"`
	Name        LocalizedText  `json:"name"`
	Explanation LocalizedText  `json:"explanation,omitempty"`
	LegalBasis  string         `json:"legalBasis"`
	Level       Level          `json:"requiredLevel"`
	Category    Category       `json:"category"`
	AppliesTo   Applicability  `json:"appliesTo"`
	Validation  *Validation    `json:"validation,omitempty"`
	Condition   map[string]any `json:"condition,omitempty"`
}

// Ruleset is a versioned, jurisdiction-specific set of invoice features.
type Ruleset struct {
	ID                   ID               `json:"rulesetId"`
	Version              string           `json:"version"`
	Jurisdiction         string           `json:"jurisdiction"`
	Title                LocalizedText    `json:"title"`
	Currency             string           `json:"currency"`
	LegalReferences      []LegalReference `json:"legalReferences"`
	Features             []Feature        `json:"features"`
	SmallAmountThreshold *decimal.Decimal `json:"smallAmountThreshold,omitempty"`
	SmallAmountCurrency  string           `json:"smallAmountCurrency,omitempty"`
	ContentHash          string           `json:"contentHash,omitempty"`
	Builtin              bool             `json:"builtin"`
}

// Feature looks up a feature by id.
func (rs *Ruleset) Feature(id string) (Feature, bool) {
	for _, f := range rs.Features {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// CountLevel returns the number of features with the given level.
func (rs *Ruleset) CountLevel(level Level) int {
	n := 0
	for _, f := range rs.Features {
		if f.Level == level {
			n++
		}
	}
	return n
}

// Clone returns a copy whose slices can be modified without affecting rs.
// Nested maps are shared; rulesets are treated as immutable values.
func (rs *Ruleset) Clone() *Ruleset {
	out := *rs
	out.LegalReferences = append([]LegalReference(nil), rs.LegalReferences...)
	out.Features = append([]Feature(nil), rs.Features...)
	if rs.SmallAmountThreshold != nil {
		th := *rs.SmallAmountThreshold
		out.SmallAmountThreshold = &th
	}
	return &out
}

// Summary is the list view of a ruleset.
type Summary struct {
	ID           ID            `json:"rulesetId"`
	Title        LocalizedText `json:"title"`
	Version      string        `json:"version"`
	Jurisdiction string        `json:"jurisdiction"`
	// FeatureCount is the number of REQUIRED features.
	FeatureCount int `json:"featureCount"`
}

// Summarize builds the summary of rs.
func (rs *Ruleset) Summarize() Summary {
	return Summary{
		ID:           rs.ID,
		Title:        rs.Title,
		Version:      rs.Version,
		Jurisdiction: rs.Jurisdiction,
		FeatureCount: rs.CountLevel(LevelRequired),
	}
}
