package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/matheus3301/mailctl/internal/attachments"
	"github.com/matheus3301/mailctl/internal/bus"
	intsync "github.com/matheus3301/mailctl/internal/sync"
)

func TestFollowDrainsBufferedEvents(t *testing.T) {
	b := bus.New()
	var out bytes.Buffer
	p := &printer{out: &out}

	stop := follow(b, "attachment.", attachmentProgress(p))
	b.Publish(bus.Event{Kind: bus.KindAttachmentDownloaded, Payload: attachments.Downloaded{Path: "/tmp/a.pdf", Bytes: 2048}})
	b.Publish(bus.Event{Kind: bus.KindSyncPagePersisted, Payload: intsync.PagePersisted{Fetched: 1}})
	b.Publish(bus.Event{Kind: bus.KindAttachmentDownloaded, Payload: attachments.Downloaded{Path: "/tmp/b.txt", Bytes: 10}})
	stop()
	stop()

	want := "  /tmp/a.pdf (2.0 kB)\n  /tmp/b.txt (10 B)\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}

	b.Publish(bus.Event{Kind: bus.KindAttachmentDownloaded, Payload: attachments.Downloaded{Path: "/tmp/late"}})
	if strings.Contains(out.String(), "late") {
		t.Error("event printed after stop")
	}
}

func TestFollowNilBus(t *testing.T) {
	stop := follow(nil, "sync.", func(bus.Event) { t.Error("handler called") })
	stop()
}

func TestQuietSuppressesProgress(t *testing.T) {
	b := bus.New()
	var out bytes.Buffer
	p := &printer{out: &out, quiet: true}

	stop := follow(b, "sync.", pageProgress(p))
	b.Publish(bus.Event{Kind: bus.KindSyncPagePersisted, Payload: intsync.PagePersisted{Fetched: 3, Persisted: 3}})
	stop()

	if out.Len() != 0 {
		t.Errorf("quiet output = %q", out.String())
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestDownloadPrintsEachFile(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages/m2/attachments", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"value": []map[string]any{
			{"id": "a1", "name": "report.pdf", "contentType": "application/pdf", "size": 5},
			{"id": "a2", "name": "notes.txt", "contentType": "text/plain", "size": 3},
		}})
	})
	mux.HandleFunc("/me/messages/m2/attachments/a1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"contentBytes": base64.StdEncoding.EncodeToString([]byte("hello"))})
	})
	mux.HandleFunc("/me/messages/m2/attachments/a2", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"contentBytes": base64.StdEncoding.EncodeToString([]byte("abc"))})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := newEnv(t)
	e.useGraph(t, srv.URL)
	e.signIn(t)
	dest := filepath.Join(e.dir, "out")

	code, out, stderr := e.run(t, "download", "m2", "--dest", dest)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{
		filepath.Join(dest, "m2", "report.pdf") + " (5 B)",
		filepath.Join(dest, "m2", "notes.txt") + " (3 B)",
		"Downloaded 2 attachment(s) (8 B) from 1 message(s); 0 already on disk, 0 failed.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	data, err := os.ReadFile(filepath.Join(dest, "m2", "report.pdf"))
	if err != nil || string(data) != "hello" {
		t.Errorf("report.pdf = %q, %v", data, err)
	}

	code, out, _ = e.run(t, "download", "m2", "--dest", dest)
	if code != 0 {
		t.Fatalf("second run exit %d", code)
	}
	if !strings.Contains(out, "(already downloaded)") || !strings.Contains(out, "2 already on disk") {
		t.Errorf("second run output:\n%s", out)
	}
}

func graphMessage(id string, day int) map[string]any {
	return map[string]any{
		"id":               id,
		"subject":          "subject " + id,
		"sender":           map[string]any{"emailAddress": map[string]any{"address": id + "@contoso.com"}},
		"receivedDateTime": fmt.Sprintf("2024-03-%02dT10:00:00Z", day),
		"bodyPreview":      "p",
		"parentFolderId":   "inbox-id",
	}
}

func TestFetchAllPrintsPageProgress(t *testing.T) {
	records := []map[string]any{graphMessage("m3", 3), graphMessage("m2", 2), graphMessage("m1", 1)}
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/mailFolders/inbox/messages" {
			http.NotFound(w, r)
			return
		}
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
		top, _ := strconv.Atoi(r.URL.Query().Get("$top"))
		start := min(skip, len(records))
		end := min(start+top, len(records))
		body := map[string]any{"value": records[start:end]}
		if end < len(records) {
			body["@odata.nextLink"] = fmt.Sprintf("%s/me/mailFolders/inbox/messages?$skip=%d&$top=%d", srvURL, end, top)
		}
		writeJSON(w, body)
	}))
	defer srv.Close()
	srvURL = srv.URL

	e := newEnv(t)
	e.useGraph(t, srv.URL)
	e.signIn(t)

	code, out, stderr := e.run(t, "fetch", "--all", "--page-size", "2")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, want := range []string{
		"page 1: fetched 2, stored 2 (offset 0)",
		"page 2: fetched 1, stored 1 (offset 2)",
		"Fetched 3 message(s), stored 3, skipped 0.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
