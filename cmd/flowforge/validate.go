package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/rendis/flowforge/internal/actions"
	"github.com/rendis/flowforge/internal/loader"
	"github.com/rendis/flowforge/internal/validation"
)

func runValidate(cfg Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flowsDir := fs.String("flows-dir", cfg.FlowsDir, "directory flow identifiers resolve against")
	checkActions := fs.Bool("check-actions", true, "report actions missing from the built-in registry")
	asJSON := fs.Bool("json", false, "print the validation result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: validate requires exactly one flow argument")
		return 2
	}

	fl, err := loader.NewFileLoader(*flowsDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	path, err := fl.Resolve(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	flow, err := loader.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var lookup validation.ActionLookup
	if *checkActions {
		reg, err := actions.NewBuiltinRegistry()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		lookup = reg
	}
	v, err := validation.NewFlowValidator(lookup)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	result := v.Validate(flow)

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{
			"flow_id":  flow.ID,
			"valid":    result.Valid(),
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
	} else {
		for _, w := range result.Warnings {
			fmt.Fprintf(stdout, "warning: %s\n", w)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(stdout, "error: %s [%s]\n", e, e.Code)
		}
		if result.Valid() {
			fmt.Fprintf(stdout, "flow %q is valid (%d warnings)\n", flow.ID, len(result.Warnings))
		} else {
			fmt.Fprintf(stdout, "flow %q is invalid (%d errors)\n", flow.ID, len(result.Errors))
		}
	}

	if !result.Valid() {
		return 1
	}
	return 0
}
