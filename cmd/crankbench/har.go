package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/torosent/crankbench/internal/har"
)

// newImportHARCommand converts a browser recording into a script file.
func newImportHARCommand() *cobra.Command {
	var (
		opts   har.Options
		output string
	)
	cmd := &cobra.Command{
		Use:   "import-har recording.har",
		Short: "Generate a benchmark script from an HTTP Archive recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := har.ParseFile(args[0])
			if err != nil {
				return err
			}
			doc, err := har.Convert(entries, opts)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := har.Write(w, doc); err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d benchmarks to %s\n", len(doc.Benchmarks), output)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&opts.IncludeHosts, "include-host", nil, "Only import requests to these hosts")
	f.StringSliceVar(&opts.ExcludeHosts, "exclude-host", nil, "Skip requests to these hosts")
	f.StringSliceVar(&opts.Methods, "method", nil, "Only import these HTTP methods")
	f.BoolVar(&opts.KeepStatic, "keep-static", false, "Keep requests for scripts, stylesheets, images and fonts")
	f.BoolVar(&opts.DropHeaders, "drop-headers", false, "Do not copy recorded request headers")
	f.BoolVar(&opts.ExpectStatus, "expect-status", false, "Require each benchmark to return the recorded status")
	f.StringVarP(&output, "output", "o", "", "Write the script to this file instead of stdout")
	return cmd
}
