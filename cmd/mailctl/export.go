package main

import (
	"context"
	"errors"

	"github.com/matheus3301/mailctl/internal/app"
	"github.com/matheus3301/mailctl/internal/export"
	"github.com/matheus3301/mailctl/internal/paths"
	"github.com/matheus3301/mailctl/internal/store"
	"github.com/spf13/cobra"
)

func newExportCmd(opts *globalOptions) *cobra.Command {
	var (
		format string
		output string
		pf     pageFlags
		ff     filterFlags
	)

	cmd := &cobra.Command{
		Use:   "export [FILE]",
		Short: "Export stored messages to JSON or CSV",
		Long: `Export locally stored messages, newest first, to a JSON or CSV file.
The destination is --output or the positional FILE; parent directories are
created.`,
		Example: `  mailctl export --format csv --output ~/mail.csv
  mailctl export mail.json --from billing@example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmtv, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			dest := output
			if len(args) == 1 {
				if dest != "" && dest != args[0] {
					return errors.New("give the destination either as FILE or with --output, not both")
				}
				dest = args[0]
			}
			if dest == "" {
				return errors.New("an output file is required (--output FILE)")
			}
			dest = paths.Expand(dest)
			f, err := ff.build(cmd.Flags())
			if err != nil {
				return err
			}

			p := opts.printer(cmd)
			var messages *store.MessageRepository
			return app.Run(cmd.Context(), opts.params(), func(ctx context.Context) error {
				msgs, err := pf.query(ctx, cmd.Flags(), messages, f)
				if err != nil {
					return err
				}
				if err := export.ToFile(dest, fmtv, msgs); err != nil {
					return err
				}
				p.Summaryf("Exported %d message(s) to %s.", len(msgs), dest)
				return nil
			}, &messages)
		},
	}

	cmd.Flags().StringVar(&format, "format", string(export.JSON), "export format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file")
	pf.register(cmd.Flags())
	ff.register(cmd.Flags())
	return cmd
}
