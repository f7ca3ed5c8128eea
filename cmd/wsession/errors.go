package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/wsession/internal/errors"
)

func errorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "errors [code]",
		Short: "Explain error codes",
		Long: `List every error code, or explain one.

Examples:
  wsession errors
  wsession errors E301`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, code := range errors.AllCodes() {
					tmpl, _ := errors.GetTemplate(code)
					fmt.Fprintf(out, "  %s  %-9s %s\n", code, tmpl.Category, tmpl.Message)
				}
				return nil
			}

			code := strings.ToUpper(args[0])
			tmpl, ok := errors.GetTemplate(code)
			if !ok {
				return errors.New(errors.CodeInvalidArgs).
					WithDetailf("unknown error code %q", args[0]).
					WithSuggestion("Run 'wsession errors' to list all codes")
			}
			fmt.Fprintf(out, "%s: %s (%s)\n\n%s\n", code, tmpl.Message, tmpl.Category, tmpl.Explanation)
			return nil
		},
	}
}
