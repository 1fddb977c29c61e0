package main

import (
	"context"
	"errors"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/mailctl/internal/app"
	"github.com/matheus3301/mailctl/internal/attachments"
	"github.com/matheus3301/mailctl/internal/bus"
	"github.com/matheus3301/mailctl/internal/config"
	"github.com/matheus3301/mailctl/internal/paths"
	"github.com/matheus3301/mailctl/internal/store"
	"github.com/spf13/cobra"
)

func newDownloadCmd(opts *globalOptions) *cobra.Command {
	var (
		attachmentID string
		dest         string
		ff           filterFlags
	)

	cmd := &cobra.Command{
		Use:   "download [MESSAGE-ID]",
		Short: "Download message attachments to disk",
		Long: `Download the attachments of one message, or of every stored message
matching the filter flags. Files land in <dest>/<message id>/; attachments
already on disk are not fetched again and name clashes get a numeric suffix.`,
		Example: `  mailctl download AAMkAGI2... --dest ~/Downloads/mail
  mailctl download AAMkAGI2... --attachment AAMkAGI2...=
  mailctl download --unread --has-attachments`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var messageID string
			if len(args) == 1 {
				messageID = normalizeID(args[0])
			}
			attachmentID = normalizeID(attachmentID)
			f, err := ff.build(cmd.Flags())
			if err != nil {
				return err
			}
			switch {
			case attachmentID != "" && messageID == "":
				return errors.New("--attachment requires a MESSAGE-ID argument")
			case messageID == "" && !f.Set:
				return errors.New("give a MESSAGE-ID or filters such as --unread or --has-attachments")
			case messageID != "" && f.Set:
				return errors.New("filters cannot be combined with a MESSAGE-ID")
			}

			p := opts.printer(cmd)
			var (
				cfg      *config.Config
				mat      *attachments.Materializer
				messages *store.MessageRepository
				events   *bus.Bus
			)
			return app.Run(cmd.Context(), opts.params(), func(ctx context.Context) error {
				root := cfg.Storage.AttachmentsDir
				if dest != "" {
					root = paths.Expand(dest)
				}

				if attachmentID != "" {
					return downloadOne(ctx, p, mat, messageID, attachmentID, root)
				}

				ids := []string{messageID}
				if messageID == "" {
					msgs, err := messages.Search(ctx, f.Local)
					if err != nil {
						return err
					}
					ids = ids[:0]
					for _, m := range msgs {
						if !m.HasAttachments {
							p.Infof("No attachments for %s", subjectLabel(m.Subject))
							continue
						}
						ids = append(ids, m.RemoteID)
					}
					if len(ids) == 0 {
						p.Summaryf("No stored messages with attachments match the filters.")
						return nil
					}
				}
				return downloadMessages(ctx, p, mat, events, ids, root)
			}, &cfg, &mat, &messages, &events)
		},
	}

	cmd.Flags().StringVarP(&attachmentID, "attachment", "a", "", "download only this attachment id")
	cmd.Flags().StringVarP(&dest, "dest", "d", "", "content directory (default storage.attachments_dir)")
	ff.register(cmd.Flags())
	return cmd
}

func downloadOne(ctx context.Context, p *printer, mat *attachments.Materializer, messageID, attachmentID, root string) error {
	path, err := mat.Download(ctx, attachmentID, root)
	if errors.Is(err, store.ErrNotFound) {
		if _, err := mat.RefreshMetadata(ctx, messageID); err != nil {
			return err
		}
		path, err = mat.Download(ctx, attachmentID, root)
	}
	if err != nil {
		return err
	}
	p.Summaryf("Saved %s", path)
	return nil
}

func downloadMessages(ctx context.Context, p *printer, mat *attachments.Materializer, events *bus.Bus, messageIDs []string, root string) error {
	var (
		saved, reused, failed int
		bytes                 int64
	)
	stop := follow(events, "attachment.", attachmentProgress(p))
	defer stop()

	for _, id := range messageIDs {
		report, err := mat.DownloadAllForMessage(ctx, id, root)
		if err != nil {
			return err
		}
		if len(report.Downloaded)+len(report.Failed) == 0 {
			p.Infof("Message %s has no attachments.", id)
		}
		for _, d := range report.Downloaded {
			if d.Reused {
				reused++
				p.Infof("  %s (already downloaded)", d.Path)
				continue
			}
			saved++
			bytes += d.Bytes
		}
		for _, f := range report.Failed {
			failed++
			p.Summaryf("  failed: %s (%s): %v", f.Name, f.AttachmentID, f.Err)
		}
	}
	stop()

	p.Summaryf("Downloaded %d attachment(s) (%s) from %d message(s); %d already on disk, %d failed.",
		saved, humanize.Bytes(uint64(bytes)), len(messageIDs), reused, failed)
	if failed > 0 {
		return errPartialDownload
	}
	return nil
}
