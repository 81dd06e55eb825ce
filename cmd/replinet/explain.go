package main

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/replinet/replinet/internal/errors"
)

func errorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors [code]",
		Short: "Explain error codes",
		Long: `List the error codes the CLI reports, or explain one of them.

Codes E100-E139 come from configuration, E200-E239 from the commands.`,
		Example: `  replinet errors
  replinet errors E205`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				return listCodes(out)
			}
			return explainCode(out, args[0])
		},
	}
	return cmd
}

func listCodes(w io.Writer) error {
	codes := errors.GetAllCodes()
	slices.Sort(codes)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tCATEGORY\tMESSAGE")
	for _, code := range codes {
		t, _ := errors.GetTemplate(code)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", code, t.Category, t.Message)
	}
	return tw.Flush()
}

func explainCode(w io.Writer, code string) error {
	code = strings.ToUpper(code)
	t, ok := errors.GetTemplate(code)
	if !ok {
		return errors.Newf(errors.CategoryCLI, "Unknown error code %q", code).
			WithSuggestion("Run 'replinet errors' to list the known codes").
			WithExample("replinet errors E205")
	}
	fmt.Fprintf(w, "%s: %s\n", code, t.Message)
	fmt.Fprintf(w, "  Category:   %s\n", t.Category)
	if t.Detail != "" {
		fmt.Fprintf(w, "  Detail:     %s\n", t.Detail)
	}
	if t.Suggestion != "" {
		fmt.Fprintf(w, "  Suggestion: %s\n", t.Suggestion)
	}
	return nil
}
