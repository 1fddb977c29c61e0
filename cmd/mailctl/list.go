package main

import (
	"context"
	"errors"

	"github.com/matheus3301/mailctl/internal/app"
	"github.com/matheus3301/mailctl/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// pageFlags selects a window of locally stored messages.
type pageFlags struct {
	limit  int
	offset int
}

func (pf *pageFlags) register(fs *pflag.FlagSet) {
	fs.IntVarP(&pf.limit, "limit", "l", 0, "maximum number of messages (default all)")
	fs.IntVar(&pf.offset, "offset", 0, "messages to skip from the newest")
}

// query reads stored messages newest first. Without filters a bounded query
// uses ListAll.
func (pf *pageFlags) query(ctx context.Context, fs *pflag.FlagSet, repo *store.MessageRepository, f filters) ([]store.Message, error) {
	if pf.limit < 0 || pf.offset < 0 {
		return nil, errors.New("--limit and --offset must not be negative")
	}
	var limit *int
	if fs.Changed("limit") {
		limit = &pf.limit
	}
	if !f.Set && limit != nil {
		return repo.ListAll(ctx, *limit, pf.offset)
	}
	filter := f.Local
	filter.Limit = limit
	filter.Offset = pf.offset
	return repo.Search(ctx, filter)
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var (
		pf      pageFlags
		ff      filterFlags
		showIDs bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List messages stored locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
				if len(msgs) == 0 {
					p.Summaryf("No messages found.")
					return nil
				}
				p.Summaryf("%s", messageTable(msgs, showIDs))
				p.Infof("%d message(s).", len(msgs))
				if showIDs {
					printIDs(p, msgs)
				}
				return nil
			}, &messages)
		},
	}

	pf.register(cmd.Flags())
	ff.register(cmd.Flags())
	cmd.Flags().BoolVar(&showIDs, "ids", false, "show message ids")
	return cmd
}
