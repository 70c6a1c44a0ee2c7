// Command flowaudit checks invoices against jurisdiction rulesets and
// serves the FlowAudit API.
package main

import (
	"fmt"
	"os"

	"github.com/flowaudit/flowaudit/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		if !cli.IsReported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
