package cli

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowaudit/flowaudit/internal/client"
	"github.com/flowaudit/flowaudit/internal/solution"
)

// RemoteOptions holds flags for the remote commands.
type RemoteOptions struct {
	*RootOptions
	URL            string
	Project        string
	File           string
	Retries        int
	Timeout        time.Duration
	Fingerprint    string
	CreateExamples bool
}

// NewRemoteCommand creates the remote command group, which talks to a
// running FlowAudit API.
func NewRemoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RemoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Drive solution files on a running FlowAudit API",
		Long: `Upload, preview and apply solution files through the HTTP API.

Reads and previews are retried on network errors; upload and apply are
sent once.

Example:
  flowaudit remote upload --url http://localhost:8080 --project P solutions.csv
  flowaudit remote preview --url http://localhost:8080 --project P --file F
  flowaudit remote apply --url http://localhost:8080 --project P --file F --fingerprint X`,
	}
	cmd.PersistentFlags().StringVar(&opts.URL, "url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().StringVar(&opts.Project, "project", "", "project id (required)")
	cmd.PersistentFlags().IntVar(&opts.Retries, "retries", client.DefaultRetries, "retries for idempotent calls")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", client.DefaultTimeout, "per-request timeout")
	_ = cmd.MarkPersistentFlagRequired("project")

	upload := &cobra.Command{
		Use:           "upload <solution-file>",
		Short:         "Upload a solution file",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteUpload(opts, args[0], cmd)
		},
	}

	preview := &cobra.Command{
		Use:           "preview",
		Short:         "Preview how an uploaded solution file matches the project",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemotePreview(opts, cmd)
		},
	}
	preview.Flags().StringVar(&opts.File, "file", "", "solution file id (required)")
	_ = preview.MarkFlagRequired("file")

	apply := &cobra.Command{
		Use:           "apply",
		Short:         "Apply an uploaded solution file",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemoteApply(opts, cmd)
		},
	}
	apply.Flags().StringVar(&opts.File, "file", "", "solution file id (required)")
	apply.Flags().StringVar(&opts.Fingerprint, "fingerprint", "", "fingerprint of the preview that was reviewed")
	apply.Flags().BoolVar(&opts.CreateExamples, "examples", false, "create training examples from matched entries")
	_ = apply.MarkFlagRequired("file")

	cmd.AddCommand(upload, preview, apply)
	return cmd
}

func (o *RemoteOptions) client() (*client.Client, error) {
	return client.New(o.URL,
		client.WithHTTPClient(&http.Client{Timeout: o.Timeout}),
		client.WithRetries(o.Retries),
		client.WithLogger(o.logger()),
	)
}

func runRemoteUpload(opts *RemoteOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	c, err := opts.client()
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid api url", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read solution file", err)
	}

	f, err := c.UploadSolutionFile(cmd.Context(), opts.Project, filepath.Base(path), data)
	if err != nil {
		return formatter.Fail(exitCodeFor(err), "upload failed", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(f)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Uploaded %s as %s (%d entries, %d valid)\n", f.Filename, f.ID, f.EntryCount, f.ValidCount)
	return nil
}

func runRemotePreview(opts *RemoteOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	c, err := opts.client()
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid api url", err)
	}

	p, err := c.PreviewSolutionMatching(cmd.Context(), opts.Project, opts.File)
	if err != nil {
		return formatter.Fail(exitCodeFor(err), "preview failed", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(p)
	}
	writePreviewText(cmd, p)
	fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", p.Fingerprint)
	return nil
}

func runRemoteApply(opts *RemoteOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	c, err := opts.client()
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid api url", err)
	}

	res, err := c.ApplySolutionFile(cmd.Context(), opts.Project, opts.File, solution.ApplyOptions{
		CreateExamples:     opts.CreateExamples,
		PreviewFingerprint: opts.Fingerprint,
	})
	if err != nil {
		return formatter.Fail(exitCodeFor(err), "apply failed", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(res)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "✓ Applied %s: %d applied, %d skipped, %d errors, %d corrections, %d examples\n",
		res.SolutionFileID, res.AppliedCount, res.SkippedCount, res.ErrorCount, len(res.Corrections), res.ExampleCount)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	return nil
}
