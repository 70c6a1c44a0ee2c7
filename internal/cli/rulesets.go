package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/flowaudit/flowaudit/internal/ruleset"
)

// RulesetsOptions holds flags shared by the rulesets subcommands.
type RulesetsOptions struct {
	*RootOptions
	Dirs   []string // extra ruleset directories (default: config ruleset_dirs)
	Locale string
	Output string // compile output file
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool               `json:"valid"`
	FileCount int                `json:"fileCount"`
	Rulesets  []ruleset.ID       `json:"rulesets"`
	Errors    []ValidationDetail `json:"errors,omitempty"`
}

// ValidationDetail is one loader or catalog problem.
type ValidationDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// CompilationResult is the output of rulesets compile.
type CompilationResult struct {
	Rulesets []ruleset.Ruleset `json:"rulesets"`
}

// NewRulesetsCommand creates the rulesets command group.
func NewRulesetsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RulesetsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rulesets",
		Short: "Inspect, validate and compile rulesets",
	}
	cmd.PersistentFlags().StringSliceVar(&opts.Dirs, "dir", nil, "additional ruleset directory (repeatable)")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List available rulesets",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesetsList(opts, cmd)
		},
	}
	list.Flags().StringVar(&opts.Locale, "locale", "", "locale for titles (default: config default_locale)")

	show := &cobra.Command{
		Use:           "show <ruleset-id>",
		Short:         "Show the features of a ruleset",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesetsShow(opts, ruleset.ID(args[0]), cmd)
		},
	}
	show.Flags().StringVar(&opts.Locale, "locale", "", "locale for names (default: config default_locale)")

	validate := &cobra.Command{
		Use:   "validate <rulesets-dir>",
		Short: "Validate CUE rulesets without writing output",
		Long: `Compile and validate every ruleset in a directory and report all
problems at once (E0xx load errors, E1xx catalog rules).`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesetsValidate(opts, args[0], cmd)
		},
	}

	compile := &cobra.Command{
		Use:           "compile <rulesets-dir>",
		Short:         "Compile CUE rulesets to JSON with content hashes",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesetsCompile(opts, args[0], cmd)
		},
	}
	compile.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	cmd.AddCommand(list, show, validate, compile)
	return cmd
}

func (o *RulesetsOptions) registry() (*ruleset.Registry, error) {
	dirs := o.Dirs
	if len(dirs) == 0 {
		dirs = o.settings().RulesetDirs
	}
	return ruleset.LoadRegistry(dirs)
}

func (o *RulesetsOptions) locale() string {
	if o.Locale != "" {
		return o.Locale
	}
	return o.settings().DefaultLocale
}

func runRulesetsList(opts *RulesetsOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	reg, err := opts.registry()
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load rulesets", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(reg.Summaries())
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tJURISDICTION\tREQUIRED\tTITLE")
	for _, s := range reg.Summaries() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Version, s.Jurisdiction, s.FeatureCount, s.Title.Get(opts.locale()))
	}
	return tw.Flush()
}

func runRulesetsShow(opts *RulesetsOptions, id ruleset.ID, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	reg, err := opts.registry()
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load rulesets", err)
	}
	rs, err := reg.Get(id)
	if err != nil {
		return formatter.Fail(ExitCommandError, "unknown ruleset", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(rs)
	}

	locale := opts.locale()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s (%s, %s)\n", rs.ID, rs.Version, rs.Jurisdiction, rs.Currency)
	fmt.Fprintf(w, "%s\n", rs.Title.Get(locale))
	if rs.SmallAmountThreshold != nil {
		fmt.Fprintf(w, "Small-amount threshold: %s %s\n", rs.SmallAmountThreshold.String(), rs.SmallAmountCurrency)
	}
	fmt.Fprintf(w, "Content hash: %s\n\n", rs.ContentHash)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tLEVEL\tCATEGORY\tAPPLIES TO\tNAME")
	for _, f := range rs.Features {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Level, f.Category, f.AppliesTo.String(), f.Name.Get(locale))
	}
	return tw.Flush()
}

func runRulesetsValidate(opts *RulesetsOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	res, loadErrors := ruleset.LoadDir(dir, ruleset.LoadModeCollectAll)
	result := ValidationResult{Valid: len(loadErrors) == 0, Rulesets: []ruleset.ID{}}
	if res != nil {
		result.FileCount = res.FileCount
		for _, rs := range res.Rulesets {
			result.Rulesets = append(result.Rulesets, rs.ID)
		}
		formatter.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)
	}
	for _, err := range loadErrors {
		result.Errors = append(result.Errors, toValidationDetail(err))
	}

	if formatter.IsJSON() {
		if err := formatter.Success(result); err != nil {
			return err
		}
		if !result.Valid {
			exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
			exitErr.Reported = true
			return exitErr
		}
		return nil
	}

	w := cmd.OutOrStdout()
	if !result.Valid {
		for _, d := range result.Errors {
			if d.File != "" {
				fmt.Fprintf(w, "✗ [%s] %s:%d: %s\n", d.Code, d.File, d.Line, d.Message)
			} else {
				fmt.Fprintf(w, "✗ [%s] %s\n", d.Code, d.Message)
			}
		}
		exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(result.Errors)))
		exitErr.Reported = true
		fmt.Fprintf(w, "\n%s\n", exitErr.Message)
		return exitErr
	}

	fmt.Fprintf(w, "✓ %d ruleset(s) valid in %d file(s)\n", len(result.Rulesets), result.FileCount)
	return nil
}

func toValidationDetail(err error) ValidationDetail {
	var le *ruleset.LoadError
	if errors.As(err, &le) {
		d := ValidationDetail{Code: le.Code, Message: le.Message}
		if le.Pos.IsValid() {
			d.File = le.Pos.Filename()
			d.Line = le.Pos.Line()
		}
		return d
	}
	return ValidationDetail{Code: ruleset.ErrCodeGeneric, Message: err.Error()}
}

func runRulesetsCompile(opts *RulesetsOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	res, loadErrors := ruleset.LoadDir(dir, ruleset.LoadModeCollectAll)
	if len(loadErrors) > 0 {
		details := make([]ValidationDetail, 0, len(loadErrors))
		for _, err := range loadErrors {
			details = append(details, toValidationDetail(err))
		}
		_ = formatter.Error(details[0].Code, fmt.Sprintf("compilation failed with %d error(s)", len(details)), details)
		exitErr := NewExitError(ExitFailure, "compilation failed")
		exitErr.Reported = true
		return exitErr
	}
	formatter.VerboseLog("Compiled %d ruleset(s) from %d file(s)", len(res.Rulesets), res.FileCount)

	result := CompilationResult{Rulesets: res.Rulesets}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return formatter.Fail(ExitFailure, "failed to encode rulesets", err)
	}
	data = append(data, '\n')

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return formatter.Fail(ExitCommandError, "failed to write output", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(map[string]any{"output": opts.Output, "rulesets": len(res.Rulesets)})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Compiled %d ruleset(s) to %s\n", len(res.Rulesets), opts.Output)
	return nil
}
