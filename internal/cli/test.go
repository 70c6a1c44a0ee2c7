package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flowaudit/flowaudit/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string // glob over scenario file names without extension
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult aggregates all scenario outcomes.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r *TestResult) add(s ScenarioResult) {
	r.Scenarios = append(r.Scenarios, s)
	r.Total++
	if s.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run compliance scenarios",
		Long: `Run every scenario file under <scenarios-dir> through the compliance
evaluator and check the expectations each invoice declares.

When <scenarios-dir>/golden/<name>.golden exists, the rendered reports
must match it byte for byte. --update rewrites the golden files.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  flowaudit test ./scenarios
  flowaudit test ./scenarios --filter "de_*"
  flowaudit test ./scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	formatter := opts.formatter(cmd)
	r := &scenarioRunner{opts: opts, goldenDir: filepath.Join(dir, "golden")}
	if !formatter.IsJSON() {
		r.progress = cmd.OutOrStdout()
	}

	if len(files) == 0 && r.progress != nil {
		fmt.Fprintln(r.progress, "No scenarios found.")
		return nil
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, f := range files {
		result.add(r.run(f))
	}

	if formatter.IsJSON() {
		if result.Failed > 0 {
			_ = formatter.Error("E_TEST_FAILED", fmt.Sprintf("%d scenario(s) failed", result.Failed), result)
		} else if err := formatter.Success(result); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(r.progress, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	}

	if result.Failed > 0 {
		exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
		exitErr.Reported = true
		return exitErr
	}
	if r.progress != nil {
		fmt.Fprintln(r.progress, "✓ All scenarios passed")
	}
	return nil
}

// findScenarioFiles returns the .yaml and .yml files below dir in lexical
// order, skipping the golden directory.
func findScenarioFiles(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && d.Name() == "golden" {
				return fs.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	slices.Sort(files)
	return files, err
}

// scenarioRunner runs scenario files one at a time, printing a line per
// scenario to progress when set.
type scenarioRunner struct {
	opts      *TestOptions
	goldenDir string
	progress  io.Writer
}

func (r *scenarioRunner) run(path string) ScenarioResult {
	res := r.evaluate(path)
	if r.progress != nil {
		mark := "✓"
		if !res.Pass {
			mark = "✗"
		}
		note := ""
		if res.Pass && r.opts.Update {
			note = " (golden updated)"
		}
		fmt.Fprintf(r.progress, "%s %s%s\n", mark, res.Name, note)
		for _, e := range res.Errors {
			fmt.Fprintf(r.progress, "  %s\n", e)
		}
	}
	return res
}

func (r *scenarioRunner) evaluate(path string) ScenarioResult {
	failed := func(name string, errs ...string) ScenarioResult {
		return ScenarioResult{Name: name, Errors: errs}
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return failed(filepath.Base(path), fmt.Sprintf("failed to load scenario: %v", err))
	}
	result, err := harness.Run(scenario)
	if err != nil {
		return failed(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}
	r.opts.logger().Debug("scenario evaluated", "scenario", scenario.Name, "invoices", len(result.Reports))

	rendered, err := harness.MarshalReports(scenario.Name, result)
	if err != nil {
		return failed(scenario.Name, fmt.Sprintf("failed to render reports: %v", err))
	}

	errs := slices.Clone(result.Errors)
	if msg := r.checkGolden(scenario.Name, rendered); msg != "" {
		errs = append(errs, msg)
	}
	if len(errs) > 0 {
		return failed(scenario.Name, errs...)
	}
	return ScenarioResult{Name: scenario.Name, Pass: true}
}

// checkGolden compares or, with --update, rewrites the golden file of a
// scenario. A scenario without a golden file only checks expectations.
func (r *scenarioRunner) checkGolden(name string, rendered []byte) string {
	path := filepath.Join(r.goldenDir, name+".golden")

	if r.opts.Update {
		if err := os.MkdirAll(r.goldenDir, 0o755); err != nil {
			return fmt.Sprintf("failed to update golden file: %v", err)
		}
		if err := os.WriteFile(path, rendered, 0o644); err != nil {
			return fmt.Sprintf("failed to update golden file: %v", err)
		}
		return ""
	}

	golden, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ""
	case err != nil:
		return fmt.Sprintf("golden comparison failed: %v", err)
	case !bytes.Equal(bytes.TrimSpace(golden), rendered):
		return "reports do not match golden file (run with --update to regenerate)"
	}
	return ""
}
