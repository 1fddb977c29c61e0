// Package sync pulls remote messages into the local store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/mailctl/internal/auth"
	"github.com/matheus3301/mailctl/internal/bus"
	"github.com/matheus3301/mailctl/internal/graph"
	"github.com/matheus3301/mailctl/internal/logging"
	"github.com/matheus3301/mailctl/internal/metrics"
	"github.com/matheus3301/mailctl/internal/store"
	"go.uber.org/zap"
)

// DefaultPageSize is used when a request does not set Limit.
const DefaultPageSize = 25

// SessionProvider yields an authorized session.
type SessionProvider interface {
	ActiveSession(ctx context.Context) (*auth.Session, error)
}

// Remote is the part of the mail API used for fetching.
type Remote interface {
	ResolveFolder(ctx context.Context, a graph.Authorizer, name string) (string, error)
	ListMessages(ctx context.Context, a graph.Authorizer, req graph.ListMessagesRequest) (*graph.Page, error)
}

// MessageStore persists fetched messages.
type MessageStore interface {
	SaveMany(ctx context.Context, msgs []store.Message) (int, error)
}

// Checkpointer records per-folder fetch progress.
type Checkpointer interface {
	UpdateCheckpoint(ctx context.Context, key, value string) error
}

// Request selects what to fetch.
type Request struct {
	Folder string // friendly name, display name or id; default "inbox"
	Limit  int    // records per page for FetchAndPersist, total for FetchAll (0 = no cap)
	Skip   int
	Filter graph.Filter
}

// Result summarizes a fetch.
type Result struct {
	FolderID  string
	Fetched   int // remote records received
	Persisted int // distinct records upserted
	Skipped   []*graph.MalformedRecordError
	Pages     int
	Messages  []store.Message // parsed records in the order received
}

// PagePersisted is the payload of sync.page_persisted events.
type PagePersisted struct {
	FolderID  string
	Skip      int
	Fetched   int
	Persisted int
	Skipped   int
}

// CheckpointKey names the checkpoint of a folder.
func CheckpointKey(folderID string) string {
	return "fetch:" + folderID
}

// Orchestrator runs fetch → parse → save → checkpoint.
type Orchestrator struct {
	sessions    SessionProvider
	remote      Remote
	messages    MessageStore
	checkpoints Checkpointer
	bus         *bus.Bus
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewOrchestrator creates an Orchestrator. b, logger and m may be nil.
func NewOrchestrator(sessions SessionProvider, remote Remote, messages MessageStore, checkpoints Checkpointer,
	b *bus.Bus, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		sessions:    sessions,
		remote:      remote,
		messages:    messages,
		checkpoints: checkpoints,
		bus:         b,
		logger:      logging.OrNop(logger).Named("sync"),
		metrics:     m,
	}
}

// FetchAndPersist fetches one page of at most req.Limit messages, newest
// first, and upserts them. Malformed records are skipped and reported.
func (o *Orchestrator) FetchAndPersist(ctx context.Context, req Request) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	top := req.Limit
	if top == 0 {
		top = DefaultPageSize
	}
	folderID, err := o.resolve(ctx, req.Folder)
	if err != nil {
		return nil, err
	}
	res := &Result{FolderID: folderID}
	if _, _, err := o.page(ctx, res, folderID, req.Filter.OData(), top, req.Skip); err != nil {
		return nil, err
	}
	return res, nil
}

// FetchAll pages through the folder with pageSize requests until a short page,
// a page without a next link, or req.Limit records have been received. Pages persisted before an error
// stay persisted; the partial result is returned with the error.
func (o *Orchestrator) FetchAll(ctx context.Context, req Request, pageSize int) (*Result, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	folderID, err := o.resolve(ctx, req.Folder)
	if err != nil {
		return nil, err
	}
	filter := req.Filter.OData()

	res := &Result{FolderID: folderID}
	skip := req.Skip
	for {
		top := pageSize
		if req.Limit > 0 {
			top = min(top, req.Limit-res.Fetched)
		}
		if top <= 0 {
			break
		}
		n, more, err := o.page(ctx, res, folderID, filter, top, skip)
		if err != nil {
			return res, err
		}
		if !more || n < top {
			break
		}
		skip += n
	}
	o.logger.Info("fetch complete",
		zap.String("folder", folderID), zap.Int("pages", res.Pages),
		zap.Int("fetched", res.Fetched), zap.Int("persisted", res.Persisted))
	return res, nil
}

func validate(req Request) error {
	if req.Limit < 0 || req.Skip < 0 {
		return fmt.Errorf("limit and skip must be non-negative (got %d, %d)", req.Limit, req.Skip)
	}
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, folder string) (string, error) {
	if folder == "" {
		folder = "inbox"
	}
	sess, err := o.sessions.ActiveSession(ctx)
	if err != nil {
		return "", err
	}
	return o.remote.ResolveFolder(ctx, sess, folder)
}

// page fetches and persists one page, accumulating into res. It returns the
// number of raw records received and whether the server advertised a next page.
func (o *Orchestrator) page(ctx context.Context, res *Result, folderID, filter string, top, skip int) (int, bool, error) {
	sess, err := o.sessions.ActiveSession(ctx)
	if err != nil {
		return 0, false, err
	}
	page, err := o.remote.ListMessages(ctx, sess, graph.ListMessagesRequest{
		FolderID: folderID,
		Top:      top,
		Skip:     skip,
		Filter:   filter,
		Select:   graph.MessageSelect,
		OrderBy:  graph.OrderByReceivedDesc,
	})
	if err != nil {
		return 0, false, err
	}

	msgs := make([]store.Message, 0, len(page.Records))
	var skipped []*graph.MalformedRecordError
	var newest time.Time
	for _, raw := range page.Records {
		m, err := graph.ParseMessage(raw, folderID)
		if err != nil {
			var mre *graph.MalformedRecordError
			if !errors.As(err, &mre) {
				return 0, false, err
			}
			o.logger.Warn("skipping malformed record", zap.String("remote_id", mre.RemoteID), zap.String("reason", mre.Reason))
			skipped = append(skipped, mre)
			continue
		}
		if m.ReceivedAt.After(newest) {
			newest = m.ReceivedAt
		}
		msgs = append(msgs, *m)
	}

	persisted, err := o.messages.SaveMany(ctx, msgs)
	if err != nil {
		return 0, false, fmt.Errorf("persist page: %w", err)
	}

	if !newest.IsZero() {
		if err := o.checkpoints.UpdateCheckpoint(ctx, CheckpointKey(folderID), newest.Format(time.RFC3339)); err != nil {
			return 0, false, fmt.Errorf("update checkpoint: %w", err)
		}
	}

	fetched := len(page.Records)
	res.Fetched += fetched
	res.Persisted += persisted
	res.Skipped = append(res.Skipped, skipped...)
	res.Messages = append(res.Messages, msgs...)
	res.Pages++

	o.metrics.ObserveSync(fetched, persisted, len(skipped))
	o.bus.Publish(bus.Event{
		Kind: bus.KindSyncPagePersisted,
		Payload: PagePersisted{
			FolderID: folderID, Skip: skip, Fetched: fetched, Persisted: persisted, Skipped: len(skipped),
		},
	})
	o.logger.Debug("page persisted",
		zap.String("folder", folderID), zap.Int("skip", skip),
		zap.Int("fetched", fetched), zap.Int("persisted", persisted), zap.Int("skipped", len(skipped)))
	return fetched, page.NextLink != "", nil
}
