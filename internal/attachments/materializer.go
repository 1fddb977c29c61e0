// Package attachments downloads attachment content into the local content
// directory and records where it landed.
package attachments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/mailctl/internal/auth"
	"github.com/matheus3301/mailctl/internal/bus"
	"github.com/matheus3301/mailctl/internal/graph"
	"github.com/matheus3301/mailctl/internal/logging"
	"github.com/matheus3301/mailctl/internal/metrics"
	"github.com/matheus3301/mailctl/internal/store"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SessionProvider yields an authorized session.
type SessionProvider interface {
	ActiveSession(ctx context.Context) (*auth.Session, error)
}

// Remote is the part of the mail API used for attachments.
type Remote interface {
	ListAttachments(ctx context.Context, a graph.Authorizer, messageID string) ([]json.RawMessage, error)
	AttachmentContent(ctx context.Context, a graph.Authorizer, messageID, attachmentID string) ([]byte, error)
	AttachmentValue(ctx context.Context, a graph.Authorizer, messageID, attachmentID string) ([]byte, error)
}

// Repository persists attachment records.
type Repository interface {
	SaveMany(ctx context.Context, atts []store.Attachment) (int, error)
	GetByID(ctx context.Context, remoteID string) (*store.Attachment, error)
	ListByMessage(ctx context.Context, messageID string) ([]store.Attachment, error)
	MarkDownloaded(ctx context.Context, remoteID, localPath string, at time.Time) error
	PathOwner(ctx context.Context, localPath string) (string, error)
}

// ContentUnavailableError is returned when neither the inline content nor the
// raw value endpoint produced the attachment bytes.
type ContentUnavailableError struct {
	AttachmentID string
	Err          error
}

func (e *ContentUnavailableError) Error() string {
	return fmt.Sprintf("content of attachment %s unavailable: %v", e.AttachmentID, e.Err)
}

func (e *ContentUnavailableError) Unwrap() error { return e.Err }

// Downloaded describes one materialized attachment. It is also the payload of
// attachment.downloaded events.
type Downloaded struct {
	AttachmentID string
	MessageID    string
	Name         string
	Path         string
	Bytes        int64
	Reused       bool // the file was already on disk; nothing was fetched
}

// Failure is one attachment that could not be materialized. It is also the
// payload of attachment.failed events.
type Failure struct {
	AttachmentID string
	MessageID    string
	Name         string
	Err          error
}

// Report is the outcome of DownloadAllForMessage.
type Report struct {
	MessageID  string
	Downloaded []Downloaded
	Failed     []Failure
}

// Err aggregates the failures, or returns nil when everything succeeded.
func (r *Report) Err() error {
	var err error
	for _, f := range r.Failed {
		err = multierr.Append(err, fmt.Errorf("%s (%s): %w", f.Name, f.AttachmentID, f.Err))
	}
	return err
}

// Options configures a Materializer.
type Options struct {
	Workers int // concurrent downloads in DownloadAllForMessage; default 4
	Bus     *bus.Bus
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Materializer downloads attachments to disk.
type Materializer struct {
	sessions SessionProvider
	remote   Remote
	repo     Repository

	workers int
	bus     *bus.Bus
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	dirs dirLocks
}

// New creates a Materializer.
func New(sessions SessionProvider, remote Remote, repo Repository, opts Options) *Materializer {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Materializer{
		sessions: sessions,
		remote:   remote,
		repo:     repo,
		workers:  opts.Workers,
		bus:      opts.Bus,
		logger:   logging.OrNop(opts.Logger).Named("attachments"),
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// RefreshMetadata lists the message's attachments remotely, stores their
// metadata and returns the stored records. Unparseable entries are skipped.
func (m *Materializer) RefreshMetadata(ctx context.Context, messageID string) ([]store.Attachment, error) {
	sess, err := m.sessions.ActiveSession(ctx)
	if err != nil {
		return nil, err
	}
	raws, err := m.remote.ListAttachments(ctx, sess, messageID)
	if err != nil {
		return nil, err
	}
	atts := make([]store.Attachment, 0, len(raws))
	for _, raw := range raws {
		a, err := graph.ParseAttachment(raw, messageID)
		if err != nil {
			m.logger.Warn("skipping attachment", zap.String("message_id", messageID), zap.Error(err))
			continue
		}
		atts = append(atts, *a)
	}
	if len(atts) > 0 {
		if _, err := m.repo.SaveMany(ctx, atts); err != nil {
			return nil, fmt.Errorf("save attachment metadata: %w", err)
		}
	}
	return m.repo.ListByMessage(ctx, messageID)
}

// Download materializes one attachment under root/<message id>/ and returns
// its path. An attachment already on disk is returned without network I/O.
func (m *Materializer) Download(ctx context.Context, attachmentID, root string) (string, error) {
	d, err := m.download(ctx, attachmentID, root)
	if err != nil {
		return "", err
	}
	return d.Path, nil
}

// DownloadAllForMessage refreshes the message's attachment metadata and
// downloads every attachment with a bounded worker pool. Individual failures
// are collected in the report; only a failed metadata refresh is returned as
// an error.
func (m *Materializer) DownloadAllForMessage(ctx context.Context, messageID, root string) (*Report, error) {
	atts, err := m.RefreshMetadata(ctx, messageID)
	if err != nil {
		return nil, err
	}

	report := &Report{MessageID: messageID}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(m.workers)
	for _, a := range atts {
		g.Go(func() error {
			d, err := m.download(ctx, a.RemoteID, root)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, Failure{
					AttachmentID: a.RemoteID, MessageID: a.MessageID, Name: a.Name, Err: err,
				})
				return nil
			}
			report.Downloaded = append(report.Downloaded, d)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Downloaded, func(i, j int) bool { return report.Downloaded[i].Path < report.Downloaded[j].Path })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Name < report.Failed[j].Name })
	return report, nil
}

func (m *Materializer) download(ctx context.Context, attachmentID, root string) (Downloaded, error) {
	att, err := m.repo.GetByID(ctx, attachmentID)
	if err != nil {
		return Downloaded{}, err
	}
	d, err := m.materialize(ctx, att, root)
	if err != nil {
		m.metrics.ObserveDownload(err)
		m.logger.Warn("attachment download failed",
			zap.String("attachment_id", att.RemoteID), zap.String("name", att.Name), zap.Error(err))
		m.bus.Publish(bus.Event{
			Kind:    bus.KindAttachmentFailed,
			Payload: Failure{AttachmentID: att.RemoteID, MessageID: att.MessageID, Name: att.Name, Err: err},
		})
		return Downloaded{}, err
	}
	if !d.Reused {
		m.metrics.ObserveDownload(nil)
		m.bus.Publish(bus.Event{Kind: bus.KindAttachmentDownloaded, Payload: d})
	}
	return d, nil
}

func (m *Materializer) materialize(ctx context.Context, att *store.Attachment, root string) (Downloaded, error) {
	d := Downloaded{AttachmentID: att.RemoteID, MessageID: att.MessageID, Name: att.Name}

	if att.Materialized() {
		if info, err := os.Stat(*att.LocalPath); err == nil {
			d.Path, d.Bytes, d.Reused = *att.LocalPath, info.Size(), true
			return d, nil
		}
		m.logger.Info("downloaded file is gone, fetching again", zap.String("path", *att.LocalPath))
	}

	sess, err := m.sessions.ActiveSession(ctx)
	if err != nil {
		return d, err
	}
	data, err := m.fetch(ctx, sess, att)
	if err != nil {
		return d, err
	}

	dir := filepath.Join(root, SanitizeFilename(att.MessageID))
	path, fresh, err := m.claim(ctx, att, dir)
	if err != nil {
		return d, err
	}
	if err := writeFile(dir, path, data); err != nil {
		if fresh {
			_ = os.Remove(path)
		}
		return d, err
	}
	if err := m.repo.MarkDownloaded(ctx, att.RemoteID, path, m.now()); err != nil {
		_ = os.Remove(path)
		return d, fmt.Errorf("record download of %s: %w", att.RemoteID, err)
	}

	m.logger.Debug("attachment downloaded", zap.String("attachment_id", att.RemoteID), zap.String("path", path))
	d.Path, d.Bytes = path, int64(len(data))
	return d, nil
}

// fetch reads the inline content and falls back to the raw value endpoint.
func (m *Materializer) fetch(ctx context.Context, sess *auth.Session, att *store.Attachment) ([]byte, error) {
	data, err := m.remote.AttachmentContent(ctx, sess, att.MessageID, att.RemoteID)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, graph.ErrContentUnavailable) {
		return nil, err
	}
	m.logger.Debug("inline content missing, using $value", zap.String("attachment_id", att.RemoteID))
	data, err = m.remote.AttachmentValue(ctx, sess, att.MessageID, att.RemoteID)
	if err != nil {
		return nil, &ContentUnavailableError{AttachmentID: att.RemoteID, Err: err}
	}
	return data, nil
}

// claim reserves a file name in dir for att. An existing file owned by att is
// reused (fresh is false); any other existing file moves on to the next
// <stem>_<n><ext>.
func (m *Materializer) claim(ctx context.Context, att *store.Attachment, dir string) (path string, fresh bool, err error) {
	l := m.dirs.get(dir)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", false, fmt.Errorf("create %s: %w", dir, err)
	}

	name := SanitizeFilename(att.Name)
	stem, ext := splitName(name)
	for n := 0; n <= maxSuffix; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		path := filepath.Join(dir, candidate)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_ = f.Close()
			return path, true, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", false, fmt.Errorf("claim %s: %w", path, err)
		}
		owner, err := m.repo.PathOwner(ctx, path)
		if err != nil {
			return "", false, err
		}
		if owner == att.RemoteID {
			return path, false, nil
		}
	}
	return "", false, fmt.Errorf("no free file name for %q in %s after %d attempts", name, dir, maxSuffix)
}

// writeFile writes data next to path and renames it into place.
func writeFile(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".mailctl-*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
