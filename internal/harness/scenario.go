package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowaudit/flowaudit/internal/compliance"
)

// Scenario defines a compliance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Ruleset is the id of the ruleset every invoice is checked against.
	Ruleset string `yaml:"ruleset"`

	// RulesetDirs lists directories of authored CUE rulesets to load next
	// to the built-ins. Relative paths are resolved against the scenario
	// file.
	RulesetDirs []string `yaml:"ruleset_dirs,omitempty"`

	// Invoices are evaluated in order.
	Invoices []InvoiceCase `yaml:"invoices"`
}

// InvoiceCase is one invoice and what its report must look like.
type InvoiceCase struct {
	Name string `yaml:"name"`

	// GrossAmount is kept as text so "119.00" is not rounded through a
	// float.
	GrossAmount string `yaml:"gross_amount"`

	Values map[string]any `yaml:"values,omitempty"`
	Facts  map[string]any `yaml:"facts,omitempty"`

	Expect Expect `yaml:"expect"`
}

// Expect lists the checks for one invoice. Unset fields are not checked.
type Expect struct {
	SmallAmount *bool    `yaml:"small_amount,omitempty"`
	Status      string   `yaml:"status,omitempty"`
	Required    []string `yaml:"required,omitempty"`
	Missing     []string `yaml:"missing,omitempty"`
	Invalid     []string `yaml:"invalid,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "invoice:" vs "invoices:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, dir := range scenario.RulesetDirs {
		if !filepath.IsAbs(dir) {
			scenario.RulesetDirs[i] = filepath.Join(base, dir)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml and .yml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	names := make(map[string]string, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		if prev, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("scenario %q declared in both %s and %s", s.Name, prev, p)
		}
		names[s.Name] = p
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(s.Name, `/\`) {
		return fmt.Errorf("name %q must not contain path separators", s.Name)
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Ruleset == "" {
		return fmt.Errorf("ruleset is required")
	}
	if len(s.Invoices) == 0 {
		return fmt.Errorf("invoices list is required and must be non-empty")
	}

	for _, dir := range s.RulesetDirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("ruleset directory not found: %s", dir)
		}
	}

	seen := make(map[string]bool, len(s.Invoices))
	for i, inv := range s.Invoices {
		if inv.Name == "" {
			return fmt.Errorf("invoices[%d]: name is required", i)
		}
		if seen[inv.Name] {
			return fmt.Errorf("invoices[%d]: duplicate invoice name %q", i, inv.Name)
		}
		seen[inv.Name] = true

		if inv.GrossAmount == "" {
			return fmt.Errorf("invoices[%d]: gross_amount is required", i)
		}
		if _, err := compliance.ParseAmount(inv.GrossAmount); err != nil {
			return fmt.Errorf("invoices[%d]: %w", i, err)
		}
		switch compliance.Status(inv.Expect.Status) {
		case "", compliance.StatusCompliant, compliance.StatusNonCompliant:
		default:
			return fmt.Errorf("invoices[%d].expect: unknown status %q", i, inv.Expect.Status)
		}
	}
	return nil
}
