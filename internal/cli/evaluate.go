package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowaudit/flowaudit/internal/apperr"
	"github.com/flowaudit/flowaudit/internal/compliance"
	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// EvaluateOptions holds flags for the evaluate command.
type EvaluateOptions struct {
	*RootOptions
	Ruleset    string
	Gross      string
	ValuesFile string
	FactsFile  string
	Dirs       []string
}

// NewEvaluateCommand creates the evaluate command.
func NewEvaluateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvaluateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Check one invoice against a ruleset",
		Long: `Evaluate extracted invoice values against a ruleset and print the
compliance report.

The values file is a JSON object keyed by feature id; the facts file is a
JSON object of facts that conditional features test (reverse_charge, ...).

Exit codes:
  0 - Invoice is compliant
  1 - Invoice is non-compliant
  2 - Command error (unknown ruleset, unreadable files, etc.)

Example:
  flowaudit evaluate --ruleset DE_USTG --gross 119.00 --values invoice.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ruleset, "ruleset", "", "ruleset id (required)")
	cmd.Flags().StringVar(&opts.Gross, "gross", "", "gross amount of the invoice (required)")
	cmd.Flags().StringVar(&opts.ValuesFile, "values", "", "JSON file with extracted values")
	cmd.Flags().StringVar(&opts.FactsFile, "facts", "", "JSON file with invoice facts")
	cmd.Flags().StringSliceVar(&opts.Dirs, "dir", nil, "additional ruleset directory (repeatable)")
	_ = cmd.MarkFlagRequired("ruleset")
	_ = cmd.MarkFlagRequired("gross")

	return cmd
}

func runEvaluate(opts *EvaluateOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	dirs := opts.Dirs
	if len(dirs) == 0 {
		dirs = opts.settings().RulesetDirs
	}
	reg, err := ruleset.LoadRegistry(dirs)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load rulesets", err)
	}
	rs, err := reg.Get(ruleset.ID(opts.Ruleset))
	if err != nil {
		return formatter.Fail(ExitCommandError, "unknown ruleset", err)
	}

	gross, err := compliance.ParseAmount(opts.Gross)
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid gross amount", apperr.Validation("INVALID_AMOUNT", "%v", err))
	}
	values, err := readJSONObject(opts.ValuesFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read values", err)
	}
	facts, err := readJSONObject(opts.FactsFile)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read facts", err)
	}

	report, err := compliance.Evaluate(rs, compliance.Invoice{GrossAmount: gross, Values: values, Facts: facts})
	if err != nil {
		return formatter.Fail(ExitFailure, "evaluation failed", err)
	}
	opts.logger().Debug("invoice evaluated", "ruleset", rs.ID, "status", report.Status)

	if formatter.IsJSON() {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		writeReportText(cmd, report)
	}

	if !report.Compliant() {
		exitErr := NewExitError(ExitFailure, "invoice is not compliant")
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

// writeReportText prints a report as one line per feature.
func writeReportText(cmd *cobra.Command, report *compliance.Report) {
	w := cmd.OutOrStdout()
	class := "standard invoice"
	if report.SmallAmount {
		class = "small-amount invoice"
	}
	fmt.Fprintf(w, "%s %s: gross %s (%s)\n", report.RulesetID, report.Version, report.GrossAmount, class)

	for _, res := range report.Results {
		fmt.Fprintf(w, "  %s %-28s %-14s %s", outcomeMark(res.Outcome), res.FeatureID, res.Outcome, res.Level)
		if res.Message != "" {
			fmt.Fprintf(w, "  %s", res.Message)
		}
		fmt.Fprintln(w)
	}

	c := report.Counts
	fmt.Fprintf(w, "\nStatus: %s (%d pass, %d missing, %d invalid, %d not applicable, %d advisory)\n",
		report.Status, c.Pass, c.Missing, c.Invalid, c.NotApplicable, c.Advisory)
}

func outcomeMark(o compliance.Outcome) string {
	switch o {
	case compliance.OutcomePass:
		return "✓"
	case compliance.OutcomeMissing, compliance.OutcomeInvalid:
		return "✗"
	case compliance.OutcomeAdvisory:
		return "!"
	}
	return "-"
}

// readJSONObject reads a JSON object from path, keeping numbers exact.
// An empty path yields nil.
func readJSONObject(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, apperr.Validation("INVALID_JSON", "%s: %v", path, err)
	}
	return out, nil
}
