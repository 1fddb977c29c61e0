package main

import (
	"context"
	"errors"

	"github.com/matheus3301/mailctl/internal/app"
	"github.com/matheus3301/mailctl/internal/bus"
	"github.com/matheus3301/mailctl/internal/store"
	intsync "github.com/matheus3301/mailctl/internal/sync"
	"github.com/spf13/cobra"
)

const allPageSize = 100

func newFetchCmd(opts *globalOptions) *cobra.Command {
	var (
		folder   string
		limit    int
		skip     int
		all      bool
		pageSize int
		showIDs  bool
		ff       filterFlags
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch messages from a mail folder into the local store",
		Long: `Fetch one page of messages, newest first, and store them locally.
Messages already stored are updated in place. With --all, pages are fetched
until the folder (or --limit) is exhausted.`,
		Example: `  mailctl fetch --limit 50
  mailctl fetch --folder archive --from billing@example.com --after 2024-01-01
  mailctl fetch --all --unread`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := ff.build(cmd.Flags())
			if err != nil {
				return err
			}
			if limit < 0 || skip < 0 {
				return errors.New("--limit and --skip must not be negative")
			}
			if limit == 0 && !all {
				return errors.New("--limit must be at least 1; use --all to fetch the whole folder")
			}
			req := intsync.Request{Folder: folder, Limit: limit, Skip: skip, Filter: f.Remote}
			if all && !cmd.Flags().Changed("limit") {
				req.Limit = 0
			}

			p := opts.printer(cmd)
			var (
				orch   *intsync.Orchestrator
				events *bus.Bus
			)
			return app.Run(cmd.Context(), opts.params(), func(ctx context.Context) error {
				var res *intsync.Result
				if all {
					stop := follow(events, "sync.", pageProgress(p))
					res, err = orch.FetchAll(ctx, req, pageSize)
					stop()
				} else {
					res, err = orch.FetchAndPersist(ctx, req)
				}
				if res != nil {
					reportFetch(p, res, showIDs)
				}
				return err
			}, &orch, &events)
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "f", "inbox", "mail folder: well-known name, display name or id")
	cmd.Flags().IntVarP(&limit, "limit", "l", intsync.DefaultPageSize, "messages to fetch; with --all the total cap, 0 for none")
	cmd.Flags().IntVar(&skip, "skip", 0, "messages to skip from the newest")
	cmd.Flags().BoolVar(&all, "all", false, "keep fetching pages until the folder is exhausted")
	cmd.Flags().IntVar(&pageSize, "page-size", allPageSize, "page size used with --all")
	cmd.Flags().BoolVar(&showIDs, "ids", false, "print copy-friendly message ids")
	ff.register(cmd.Flags())
	return cmd
}

func reportFetch(p *printer, res *intsync.Result, showIDs bool) {
	if len(res.Messages) > 0 {
		p.Block(messageTable(res.Messages, false))
	}
	for _, s := range res.Skipped {
		p.Infof("Skipped malformed record %s: %s", s.RemoteID, s.Reason)
	}
	p.Summaryf("Fetched %d message(s), stored %d, skipped %d.", res.Fetched, res.Persisted, len(res.Skipped))
	if showIDs {
		printIDs(p, res.Messages)
	}
}

func printIDs(p *printer, msgs []store.Message) {
	if len(msgs) == 0 {
		return
	}
	p.Summaryf("Message IDs (copy/paste):")
	for _, m := range msgs {
		p.Summaryf("%s", m.RemoteID)
	}
}
