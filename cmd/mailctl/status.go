package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/mailctl/internal/app"
	"github.com/matheus3301/mailctl/internal/auth"
	"github.com/matheus3301/mailctl/internal/config"
	"github.com/matheus3301/mailctl/internal/store"
	intsync "github.com/matheus3301/mailctl/internal/sync"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sign-in state and local store statistics",
		Long: `Show the sign-in state without contacting the network, the number of
stored messages, downloaded attachments and the last fetch per folder.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				cfg         *config.Config
				mgr         *auth.Manager
				messages    *store.MessageRepository
				atts        *store.AttachmentRepository
				checkpoints *store.CheckpointRepository
			)
			return app.Run(cmd.Context(), opts.params(), func(ctx context.Context) error {
				st, err := mgr.Status()
				if err != nil {
					return err
				}
				count, err := messages.Count(ctx)
				if err != nil {
					return err
				}
				stats, err := atts.Stats(ctx)
				if err != nil {
					return err
				}
				cps, err := checkpoints.ListCheckpoints(ctx)
				if err != nil {
					return err
				}

				now := time.Now()
				lines := authLines(st, now)
				lines = append(lines,
					kv{"Database", fmt.Sprintf("%s (%s messages)", cfg.Database.Path, humanize.Comma(int64(count)))},
					kv{"Attachments", fmt.Sprintf("%s (%d of %d downloaded, %s)",
						cfg.Storage.AttachmentsDir, stats.Downloaded, stats.Total, humanize.Bytes(uint64(stats.DownloadedBytes)))},
				)
				for _, cp := range cps {
					lines = append(lines, kv{"Last fetch " + strings.TrimPrefix(cp.Key, intsync.CheckpointKey("")),
						fmt.Sprintf("newest message %s, fetched %s", cp.Value, relative(cp.UpdatedAt, now))})
				}
				fmt.Fprintln(cmd.OutOrStdout(), panel("Status", lines))
				return nil
			}, &cfg, &mgr, &messages, &atts, &checkpoints)
		},
	}
}

func authLines(st *auth.Status, now time.Time) []kv {
	var state string
	switch st.State {
	case auth.IdentityCachedValid:
		state = okStyle.Render("Signed in")
	case auth.IdentityCachedExpiring:
		state = warnStyle.Render("Signed in (token refresh due)")
	case auth.IdentityInvalid:
		state = badStyle.Render("Session invalid, run `mailctl login`")
	default:
		state = badStyle.Render("Not signed in")
	}
	lines := []kv{{"Authentication", state}}

	id := st.Identity
	if id == nil {
		return lines
	}
	lines = append(lines,
		kv{"Account", id.Account},
		kv{"Token expires", fmt.Sprintf("%s (%s)", id.AccessExpiresAt.Local().Format(time.DateTime), relative(id.AccessExpiresAt, now))},
	)
	if !id.LastRefreshedAt.IsZero() {
		lines = append(lines, kv{"Last refreshed", relative(id.LastRefreshedAt, now)})
	}
	if len(id.Scopes) > 0 {
		lines = append(lines, kv{"Scopes", strings.Join(id.Scopes, ", ")})
	}
	return lines
}
