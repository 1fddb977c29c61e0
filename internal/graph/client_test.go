package graph

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bearer string

func (b bearer) Authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+string(b))
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, WithHTTPClient(srv.Client()), WithRetry(3, time.Millisecond))
}

func TestListMessagesQuery(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		fmt.Fprint(w, `{"value":[{"id":"m1"},{"id":"m2"}],"@odata.nextLink":"https://next"}`)
	}))

	page, err := c.ListMessages(context.Background(), bearer("tok"), ListMessagesRequest{
		FolderID: "inbox",
		Top:      25,
		Skip:     50,
		Filter:   "isRead eq false",
		Select:   []string{"id", "subject"},
		OrderBy:  OrderByReceivedDesc,
	})
	require.NoError(t, err)

	assert.Len(t, page.Records, 2)
	assert.Equal(t, "https://next", page.NextLink)
	assert.Equal(t, "/me/mailFolders/inbox/messages", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "25", q.Get("$top"))
	assert.Equal(t, "50", q.Get("$skip"))
	assert.Equal(t, "isRead eq false", q.Get("$filter"))
	assert.Equal(t, "id,subject", q.Get("$select"))
	assert.Equal(t, "receivedDateTime desc", q.Get("$orderby"))
	assert.Equal(t, "Bearer tok", got.Header.Get("Authorization"))
	assert.Contains(t, got.Header.Get("Prefer"), "outlook.body-content-type")
}

func TestRetriesThrottling(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"value":[]}`)
	}))

	_, err := c.ListMessages(context.Background(), bearer("tok"), ListMessagesRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Me(context.Background(), bearer("tok"))
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"ErrorItemNotFound","message":"The specified object was not found in the store."}}`)
	}))

	_, err := c.AttachmentValue(context.Background(), bearer("tok"), "m1", "a1")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "ErrorItemNotFound")
	assert.EqualValues(t, 1, calls.Load())
}

func TestAttachmentContent(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("%PDF-1.7"))
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages/m1/attachments/a1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":"a1","contentBytes":%q}`, encoded)
	})
	mux.HandleFunc("/me/messages/m1/attachments/a2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"a2","@odata.type":"#microsoft.graph.itemAttachment"}`)
	})
	mux.HandleFunc("/me/messages/m1/attachments/a2/$value", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/octet-stream", r.Header.Get("Accept"))
		fmt.Fprint(w, "raw-bytes")
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	data, err := c.AttachmentContent(ctx, bearer("tok"), "m1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	_, err = c.AttachmentContent(ctx, bearer("tok"), "m1", "a2")
	assert.ErrorIs(t, err, ErrContentUnavailable)

	data, err = c.AttachmentValue(ctx, bearer("tok"), "m1", "a2")
	require.NoError(t, err)
	assert.Equal(t, "raw-bytes", string(data))
}

func TestListAttachmentsFollowsNextLink(t *testing.T) {
	var srvURL string
	mux := http.NewServeMux()
	mux.HandleFunc("/me/messages/m1/attachments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"a2","name":"b.txt"}]}`)
			return
		}
		assert.Equal(t, "id,name,contentType,size", r.URL.Query().Get("$select"))
		fmt.Fprintf(w, `{"value":[{"id":"a1","name":"a.txt"}],"@odata.nextLink":"%s/me/messages/m1/attachments?page=2"}`, srvURL)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL
	c := NewClient(srv.URL, WithHTTPClient(srv.Client()))

	raws, err := c.ListAttachments(context.Background(), bearer("tok"), "m1")
	require.NoError(t, err)
	assert.Len(t, raws, 2)
}

func TestResolveFolder(t *testing.T) {
	var listed atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listed.Add(1)
		fmt.Fprint(w, `{"value":[{"id":"AAMk-reports","displayName":"Reports"}]}`)
	}))
	ctx := context.Background()

	tests := []struct {
		name string
		want string
	}{
		{"inbox", "inbox"},
		{"Sent", "sentitems"},
		{"Deleted Items", "deleteditems"},
		{"junk", "junkemail"},
		{"reports", "AAMk-reports"},
		{"AAMk-raw-id", "AAMk-raw-id"},
	}
	for _, tt := range tests {
		got, err := c.ResolveFolder(ctx, bearer("tok"), tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	assert.EqualValues(t, 2, listed.Load(), "only non well-known names hit the API")

	_, err := c.ResolveFolder(ctx, bearer("tok"), "  ")
	assert.Error(t, err)
}

func TestMe(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me", r.URL.Path)
		fmt.Fprint(w, `{"id":"u1","displayName":"Ada Lovelace","mail":null,"userPrincipalName":"ada@contoso.com"}`)
	}))

	u, err := c.Me(context.Background(), bearer("tok"))
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", u.DisplayName)
	assert.Equal(t, "ada@contoso.com", u.Address())
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, false},
		{"7", 7 * time.Second, true},
		{now.Add(3 * time.Second).Format(http.TimeFormat), 3 * time.Second, true},
		{"soon", 0, false},
	}
	for _, tt := range tests {
		got, ok := retryAfter(tt.in, now)
		if got != tt.want || ok != tt.ok {
			t.Errorf("retryAfter(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
