// Command flowforge runs and validates flow documents.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code:
// 0 success, 1 failure, 2 usage error.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	cfg := loadConfig()
	switch args[0] {
	case "run":
		return runFlow(cfg, args[1:], stdout, stderr)
	case "validate":
		return runValidate(cfg, args[1:], stdout, stderr)
	case "actions":
		return runActions(args[1:], stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, version)
		return 0
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", args[0])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: flowforge <command> [flags] <args>

Commands:
  run [flags] <flow>        execute a flow and print the run result as JSON
  validate [flags] <flow>   check a flow document without running it
  actions [-json]           list registered actions
  version                   print the version

<flow> is a file path or an identifier resolved under the flows directory
(extensions .yaml, .yml and .json are tried in that order).

Configuration: ~/.flowforge/settings.json, overridden by FLOWFORGE_FLOWS_DIR,
FLOWFORGE_LOG_LEVEL, FLOWFORGE_LOG_FORMAT, FLOWFORGE_DEBUG, FLOWFORGE_POOL_SIZE.
`)
}
