package attachments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/mailctl/internal/auth"
	"github.com/matheus3301/mailctl/internal/bus"
	"github.com/matheus3301/mailctl/internal/graph"
	"github.com/matheus3301/mailctl/internal/store"
	"golang.org/x/oauth2"
)

type staticSessions struct{ err error }

func (s staticSessions) ActiveSession(context.Context) (*auth.Session, error) {
	if s.err != nil {
		return nil, s.err
	}
	return auth.NewSession("ada@contoso.com", &oauth2.Token{AccessToken: "tok"}, nil), nil
}

// fakeRemote serves attachment bytes by id. Ids in inlineMissing only answer
// on the value endpoint; ids in broken fail on both.
type fakeRemote struct {
	mu            sync.Mutex
	listing       map[string][]string // message id -> raw attachment JSON
	content       map[string]string
	inlineMissing map[string]bool
	broken        map[string]bool
	contentCalls  int
	valueCalls    int
}

func (f *fakeRemote) ListAttachments(_ context.Context, _ graph.Authorizer, messageID string) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for _, s := range f.listing[messageID] {
		out = append(out, json.RawMessage(s))
	}
	return out, nil
}

func (f *fakeRemote) AttachmentContent(_ context.Context, _ graph.Authorizer, _, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentCalls++
	if f.inlineMissing[id] || f.broken[id] {
		return nil, fmt.Errorf("attachment %s: %w", id, graph.ErrContentUnavailable)
	}
	return []byte(f.content[id]), nil
}

func (f *fakeRemote) AttachmentValue(_ context.Context, _ graph.Authorizer, _, id string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valueCalls++
	if f.broken[id] {
		return nil, &graph.APIError{StatusCode: 404, Code: "ErrorItemNotFound"}
	}
	return []byte(f.content[id]), nil
}

func (f *fakeRemote) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contentCalls, f.valueCalls
}

type harness struct {
	m      *Materializer
	remote *fakeRemote
	repo   *store.AttachmentRepository
	root   string
	events <-chan bus.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "mail.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	events, unsub := b.Subscribe("attachment.", 64)
	t.Cleanup(unsub)

	h := &harness{
		remote: &fakeRemote{
			listing:       map[string][]string{},
			content:       map[string]string{},
			inlineMissing: map[string]bool{},
			broken:        map[string]bool{},
		},
		repo:   store.NewAttachmentRepository(db),
		root:   filepath.Join(t.TempDir(), "attachments"),
		events: events,
	}
	h.m = New(staticSessions{}, h.remote, h.repo, Options{Workers: 4, Bus: b})
	return h
}

func (h *harness) add(t *testing.T, messageID, id, name, content string) {
	t.Helper()
	h.remote.listing[messageID] = append(h.remote.listing[messageID],
		fmt.Sprintf(`{"id":%q,"name":%q,"contentType":"application/octet-stream","size":%d}`, id, name, len(content)))
	h.remote.content[id] = content
	if _, err := h.repo.SaveMany(context.Background(), []store.Attachment{
		{RemoteID: id, MessageID: messageID, Name: name, SizeBytes: int64(len(content))},
	}); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestDownloadWritesAndRecords(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "report.pdf", "pdf-bytes")
	ctx := context.Background()

	path, err := h.m.Download(ctx, "a1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(h.root, "m1", "report.pdf"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if got := readFile(t, path); got != "pdf-bytes" {
		t.Errorf("content = %q", got)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}

	att, err := h.repo.GetByID(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !att.Materialized() || *att.LocalPath != path {
		t.Errorf("record not materialized: %+v", att)
	}

	select {
	case evt := <-h.events:
		d, ok := evt.Payload.(Downloaded)
		if evt.Kind != bus.KindAttachmentDownloaded || !ok || d.Path != path || d.Bytes != 9 {
			t.Errorf("unexpected event %+v", evt)
		}
	default:
		t.Error("no attachment.downloaded event")
	}
}

func TestDownloadSkipsExistingFile(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "report.pdf", "pdf-bytes")
	ctx := context.Background()

	first, err := h.m.Download(ctx, "a1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.m.Download(ctx, "a1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("second download path %q != %q", second, first)
	}
	if content, value := h.remote.calls(); content != 1 || value != 0 {
		t.Errorf("remote calls = %d content, %d value; want 1, 0", content, value)
	}
}

func TestDownloadRefetchesMissingFileInPlace(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "report.pdf", "pdf-bytes")
	ctx := context.Background()

	first, err := h.m.Download(ctx, "a1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(first); err != nil {
		t.Fatal(err)
	}
	second, err := h.m.Download(ctx, "a1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("path = %q, want reuse of %q", second, first)
	}
	if got := readFile(t, second); got != "pdf-bytes" {
		t.Errorf("content = %q", got)
	}
}

func TestDownloadFallsBackToValue(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "scan.png", "png-bytes")
	h.remote.inlineMissing["a1"] = true

	path, err := h.m.Download(context.Background(), "a1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	if got := readFile(t, path); got != "png-bytes" {
		t.Errorf("content = %q", got)
	}
	if content, value := h.remote.calls(); content != 1 || value != 1 {
		t.Errorf("remote calls = %d content, %d value; want 1, 1", content, value)
	}
}

func TestDownloadContentUnavailable(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "gone.bin", "x")
	h.remote.broken["a1"] = true
	ctx := context.Background()

	_, err := h.m.Download(ctx, "a1", h.root)
	var cue *ContentUnavailableError
	if !errors.As(err, &cue) || cue.AttachmentID != "a1" {
		t.Fatalf("error = %v, want ContentUnavailableError", err)
	}
	att, err := h.repo.GetByID(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if att.Materialized() {
		t.Error("failed download must not be recorded")
	}
	if _, err := os.Stat(filepath.Join(h.root, "m1", "gone.bin")); !os.IsNotExist(err) {
		t.Errorf("no file expected, stat error = %v", err)
	}
}

func TestDownloadUnknownAttachment(t *testing.T) {
	h := newHarness(t)
	if _, err := h.m.Download(context.Background(), "nope", h.root); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDownloadRequiresSession(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "a.txt", "a")
	h.m.sessions = staticSessions{err: auth.ErrAuthenticationRequired}

	if _, err := h.m.Download(context.Background(), "a1", h.root); !errors.Is(err, auth.ErrAuthenticationRequired) {
		t.Errorf("error = %v, want ErrAuthenticationRequired", err)
	}
}

func TestSameNameAttachmentsGetDistinctFiles(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "invoice.pdf", "first")
	h.add(t, "m1", "a2", "invoice.pdf", "second")

	report, err := h.m.DownloadAllForMessage(context.Background(), "m1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	if err := report.Err(); err != nil {
		t.Fatal(err)
	}
	if len(report.Downloaded) != 2 {
		t.Fatalf("downloaded %d, want 2", len(report.Downloaded))
	}

	dir := filepath.Join(h.root, "m1")
	want := []string{filepath.Join(dir, "invoice.pdf"), filepath.Join(dir, "invoice_1.pdf")}
	contents := map[string]bool{}
	for i, d := range report.Downloaded {
		if d.Path != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, d.Path, want[i])
		}
		contents[readFile(t, d.Path)] = true
	}
	if !contents["first"] || !contents["second"] {
		t.Errorf("files do not hold both payloads: %v", contents)
	}
}

func TestExistingForeignFileIsNotOverwritten(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "notes.txt", "new")
	dir := filepath.Join(h.root, "m1")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("mine"), 0600); err != nil {
		t.Fatal(err)
	}

	path, err := h.m.Download(context.Background(), "a1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "notes_1.txt") {
		t.Errorf("path = %q, want notes_1.txt", path)
	}
	if got := readFile(t, filepath.Join(dir, "notes.txt")); got != "mine" {
		t.Errorf("foreign file changed to %q", got)
	}
}

func TestPartialFailureKeepsSuccesses(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "a.txt", "a")
	h.add(t, "m1", "a2", "b.txt", "b")
	h.add(t, "m1", "a3", "c.txt", "c")
	h.remote.broken["a2"] = true
	ctx := context.Background()

	report, err := h.m.DownloadAllForMessage(ctx, "m1", h.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Downloaded) != 2 || len(report.Failed) != 1 {
		t.Fatalf("report = %d downloaded, %d failed; want 2, 1", len(report.Downloaded), len(report.Failed))
	}
	if report.Failed[0].AttachmentID != "a2" || report.Err() == nil {
		t.Errorf("unexpected failure %+v", report.Failed[0])
	}

	for id, want := range map[string]bool{"a1": true, "a2": false, "a3": true} {
		att, err := h.repo.GetByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if att.Materialized() != want {
			t.Errorf("%s materialized = %v, want %v", id, att.Materialized(), want)
		}
	}
}

func TestRefreshMetadataSkipsMalformed(t *testing.T) {
	h := newHarness(t)
	h.remote.listing["m9"] = []string{
		`{"id":"x1","name":"ok.txt","size":3}`,
		`{"id":"x2"}`,
	}

	atts, err := h.m.RefreshMetadata(context.Background(), "m9")
	if err != nil {
		t.Fatal(err)
	}
	if len(atts) != 1 || atts[0].RemoteID != "x1" || atts[0].MessageID != "m9" {
		t.Errorf("RefreshMetadata = %+v", atts)
	}
}

func TestDownloadUsesInjectedClock(t *testing.T) {
	h := newHarness(t)
	h.add(t, "m1", "a1", "a.txt", "a")
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	h.m.now = func() time.Time { return at }

	if _, err := h.m.Download(context.Background(), "a1", h.root); err != nil {
		t.Fatal(err)
	}
	att, err := h.repo.GetByID(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if !att.DownloadedAt.Equal(at) {
		t.Errorf("DownloadedAt = %v, want %v", att.DownloadedAt, at)
	}
}
