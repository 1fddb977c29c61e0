package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/mailctl/internal/auth"
	"github.com/matheus3301/mailctl/internal/bus"
	"github.com/matheus3301/mailctl/internal/graph"
	"github.com/matheus3301/mailctl/internal/store"
	"golang.org/x/oauth2"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type sessions struct{ err error }

func (s sessions) ActiveSession(context.Context) (*auth.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return auth.NewSession("ada@contoso.com", &oauth2.Token{AccessToken: "tok"}, nil), nil
}

// fakeRemote serves records[skip:skip+top] and remembers the requests.
type fakeRemote struct {
	records  []string
	requests []graph.ListMessagesRequest
}

func (f *fakeRemote) ResolveFolder(_ context.Context, _ graph.Authorizer, name string) (string, error) {
	if id, ok := graph.WellKnownFolder(name); ok {
		return id, nil
	}
	return name, nil
}

func (f *fakeRemote) ListMessages(_ context.Context, _ graph.Authorizer, req graph.ListMessagesRequest) (*graph.Page, error) {
	f.requests = append(f.requests, req)
	start := min(req.Skip, len(f.records))
	end := min(start+req.Top, len(f.records))
	page := &graph.Page{}
	for _, r := range f.records[start:end] {
		page.Records = append(page.Records, json.RawMessage(r))
	}
	if end < len(f.records) {
		page.NextLink = fmt.Sprintf("https://graph.test/next?skip=%d", end)
	}
	return page, nil
}

func record(id string, day int) string {
	return fmt.Sprintf(`{"id":%q,"subject":"subject %s","sender":{"emailAddress":{"address":"%s@contoso.com"}},`+
		`"receivedDateTime":"2024-03-%02dT10:00:00Z","bodyPreview":"p","isRead":false,"hasAttachments":false,"parentFolderId":"inbox-id"}`,
		id, id, id, day)
}

type fixture struct {
	o           *Orchestrator
	remote      *fakeRemote
	messages    *store.MessageRepository
	checkpoints *store.CheckpointRepository
	events      <-chan bus.Event
}

func newFixture(t *testing.T, records ...string) *fixture {
	t.Helper()
	db := testDB(t)
	b := bus.New()
	events, unsub := b.Subscribe("sync.", 64)
	t.Cleanup(unsub)

	f := &fixture{
		remote:      &fakeRemote{records: records},
		messages:    store.NewMessageRepository(db),
		checkpoints: store.NewCheckpointRepository(db),
		events:      events,
	}
	f.o = NewOrchestrator(sessions{}, f.remote, f.messages, f.checkpoints, b, nil, nil)
	return f
}

func TestFetchAndPersist(t *testing.T) {
	f := newFixture(t, record("m1", 3), record("m2", 2), record("m3", 1))
	ctx := context.Background()
	read := false

	res, err := f.o.FetchAndPersist(ctx, Request{Folder: "Inbox", Limit: 2, Skip: 0, Filter: graph.Filter{IsRead: &read}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || res.Persisted != 2 || len(res.Skipped) != 0 || res.FolderID != "inbox" {
		t.Errorf("result = %+v", res)
	}

	req := f.remote.requests[0]
	if req.FolderID != "inbox" || req.Top != 2 || req.Filter != "isRead eq false" || req.OrderBy != graph.OrderByReceivedDesc {
		t.Errorf("request = %+v", req)
	}

	n, err := f.messages.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("stored %d messages, want 2", n)
	}

	cp, err := f.checkpoints.GetCheckpoint(ctx, CheckpointKey("inbox"))
	if err != nil {
		t.Fatal(err)
	}
	if cp.Value != "2024-03-03T10:00:00Z" {
		t.Errorf("checkpoint = %q, want newest received time", cp.Value)
	}

	select {
	case evt := <-f.events:
		p, ok := evt.Payload.(PagePersisted)
		if evt.Kind != bus.KindSyncPagePersisted || !ok || p.Persisted != 2 {
			t.Errorf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sync.page_persisted")
	}
}

func TestFetchAndPersistSkipsMalformed(t *testing.T) {
	f := newFixture(t, record("m1", 3), `{"id":"bad"}`, `not json`, record("m2", 2))

	res, err := f.o.FetchAndPersist(context.Background(), Request{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 4 || res.Persisted != 2 || len(res.Skipped) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if res.Skipped[0].RemoteID != "bad" {
		t.Errorf("first skipped = %+v", res.Skipped[0])
	}
	if len(res.Messages) != 2 || res.Messages[0].RemoteID != "m1" || res.Messages[1].RemoteID != "m2" {
		t.Errorf("Messages = %+v, want m1, m2 in page order", res.Messages)
	}
}

func TestFetchAndPersistCollapsesDuplicates(t *testing.T) {
	f := newFixture(t, record("m1", 1), record("m1", 2))

	res, err := f.o.FetchAndPersist(context.Background(), Request{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 2 || res.Persisted != 1 {
		t.Errorf("result = %+v, want 2 fetched, 1 persisted", res)
	}
	m, err := f.messages.GetByID(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if m.ReceivedAt.Day() != 2 {
		t.Errorf("ReceivedAt = %v, want the last occurrence", m.ReceivedAt)
	}
}

func TestFetchAndPersistIsIdempotent(t *testing.T) {
	f := newFixture(t, record("m1", 1), record("m2", 2))
	ctx := context.Background()

	for range 2 {
		if _, err := f.o.FetchAndPersist(ctx, Request{Limit: 10}); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := f.messages.Count(ctx); n != 2 {
		t.Errorf("stored %d messages, want 2", n)
	}
}

func TestFetchAndPersistDefaultsAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.o.FetchAndPersist(ctx, Request{}); err != nil {
		t.Fatal(err)
	}
	if got := f.remote.requests[0]; got.Top != DefaultPageSize || got.FolderID != "inbox" {
		t.Errorf("request = %+v, want default page size and inbox", got)
	}
	if _, err := f.o.FetchAndPersist(ctx, Request{Limit: -1}); err == nil {
		t.Error("expected error for negative limit")
	}
}

func TestFetchRequiresAuthentication(t *testing.T) {
	f := newFixture(t, record("m1", 1))
	f.o.sessions = sessions{err: auth.ErrAuthenticationRequired}

	_, err := f.o.FetchAndPersist(context.Background(), Request{})
	if !errors.Is(err, auth.ErrAuthenticationRequired) {
		t.Errorf("error = %v, want ErrAuthenticationRequired", err)
	}
	if len(f.remote.requests) != 0 {
		t.Error("no remote request expected without a session")
	}
}

func TestFetchStorageUnavailable(t *testing.T) {
	f := newFixture(t, record("m1", 1))
	db := testDB(t)
	_ = db.Close()
	f.o.messages = store.NewMessageRepository(db)

	_, err := f.o.FetchAndPersist(context.Background(), Request{})
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Errorf("error = %v, want ErrStorageUnavailable", err)
	}
}

func TestFetchAllPages(t *testing.T) {
	var records []string
	for i := 1; i <= 7; i++ {
		records = append(records, record(fmt.Sprintf("m%d", i), i))
	}
	f := newFixture(t, records...)

	res, err := f.o.FetchAll(context.Background(), Request{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 7 || res.Persisted != 7 || res.Pages != 3 {
		t.Errorf("result = %+v, want 7 fetched over 3 pages", res)
	}
	var skips []int
	for _, r := range f.remote.requests {
		skips = append(skips, r.Skip)
	}
	if fmt.Sprint(skips) != "[0 3 6]" {
		t.Errorf("skips = %v", skips)
	}
}

func TestFetchAllStopsWithoutNextLink(t *testing.T) {
	var records []string
	for i := 1; i <= 6; i++ {
		records = append(records, record(fmt.Sprintf("m%d", i), i))
	}
	f := newFixture(t, records...)

	res, err := f.o.FetchAll(context.Background(), Request{}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 6 || res.Pages != 2 {
		t.Errorf("result = %+v, want 6 fetched over 2 pages", res)
	}
	if len(f.remote.requests) != 2 {
		t.Errorf("made %d requests, want 2 (no request past the last page)", len(f.remote.requests))
	}
}

func TestFetchAllHonoursLimit(t *testing.T) {
	var records []string
	for i := 1; i <= 10; i++ {
		records = append(records, record(fmt.Sprintf("m%d", i), i))
	}
	f := newFixture(t, records...)

	res, err := f.o.FetchAll(context.Background(), Request{Limit: 5, Skip: 2}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if res.Fetched != 5 {
		t.Errorf("fetched %d, want 5", res.Fetched)
	}
	last := f.remote.requests[len(f.remote.requests)-1]
	if last.Skip != 5 || last.Top != 2 {
		t.Errorf("last request = skip %d top %d, want skip 5 top 2", last.Skip, last.Top)
	}
}
