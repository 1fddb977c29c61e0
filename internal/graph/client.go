// Package graph is a small Microsoft Graph REST client covering the mail
// endpoints mailctl needs.
package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/matheus3301/mailctl/internal/logging"
	"go.uber.org/zap"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// OrderByReceivedDesc sorts messages newest first.
const OrderByReceivedDesc = "receivedDateTime desc"

// MessageSelect is the $select used for message listings.
var MessageSelect = []string{
	"id", "subject", "sender", "from", "receivedDateTime", "bodyPreview",
	"body", "isRead", "hasAttachments", "parentFolderId",
}

// Authorizer adds credentials to an outgoing request.
type Authorizer interface {
	Authorize(req *http.Request)
}

// Client talks to Microsoft Graph. It retries throttling and gateway errors
// with exponential backoff, honouring Retry-After.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxTries    uint
	initialWait time.Duration
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(l).Named("graph") }
}

// WithRetry sets the number of attempts per request and the first backoff interval.
func WithRetry(maxTries uint, initialWait time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.initialWait = initialWait
	}
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxTries:    5,
		initialWait: 500 * time.Millisecond,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListMessagesRequest selects one page of messages.
type ListMessagesRequest struct {
	FolderID string // empty lists across all folders
	Top      int
	Skip     int
	Filter   string // OData $filter, see Filter.OData
	Select   []string
	OrderBy  string
}

// Page is one page of raw message records.
type Page struct {
	Records  []json.RawMessage
	NextLink string
}

type collection struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// ListMessages fetches one page of messages. Records are returned unparsed;
// see ParseMessage.
func (c *Client) ListMessages(ctx context.Context, auth Authorizer, req ListMessagesRequest) (*Page, error) {
	path := "/me/messages"
	if req.FolderID != "" {
		path = "/me/mailFolders/" + url.PathEscape(req.FolderID) + "/messages"
	}
	q := url.Values{}
	if req.Top > 0 {
		q.Set("$top", strconv.Itoa(req.Top))
	}
	if req.Skip > 0 {
		q.Set("$skip", strconv.Itoa(req.Skip))
	}
	if req.Filter != "" {
		q.Set("$filter", req.Filter)
	}
	if len(req.Select) > 0 {
		q.Set("$select", strings.Join(req.Select, ","))
	}
	if req.OrderBy != "" {
		q.Set("$orderby", req.OrderBy)
	}

	header := http.Header{}
	header.Set("Prefer", `outlook.body-content-type="text"`)

	var page collection
	if err := c.getJSON(ctx, auth, path, q, header, &page); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &Page{Records: page.Value, NextLink: page.NextLink}, nil
}

// ListAttachments returns the raw attachment metadata of a message; see
// ParseAttachment. Content bytes are not requested.
func (c *Client) ListAttachments(ctx context.Context, auth Authorizer, messageID string) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("$select", "id,name,contentType,size")

	var out []json.RawMessage
	next := "/me/messages/" + url.PathEscape(messageID) + "/attachments"
	for next != "" {
		var page collection
		if err := c.getJSON(ctx, auth, next, q, nil, &page); err != nil {
			return nil, fmt.Errorf("list attachments of %s: %w", messageID, err)
		}
		out = append(out, page.Value...)
		next, q = page.NextLink, nil
	}
	return out, nil
}

// AttachmentContent fetches an attachment and decodes its inline contentBytes.
// Attachments without inline content yield ErrContentUnavailable.
func (c *Client) AttachmentContent(ctx context.Context, auth Authorizer, messageID, attachmentID string) ([]byte, error) {
	var payload struct {
		ContentBytes *string `json:"contentBytes"`
	}
	if err := c.getJSON(ctx, auth, attachmentPath(messageID, attachmentID), nil, nil, &payload); err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", attachmentID, err)
	}
	if payload.ContentBytes == nil {
		return nil, fmt.Errorf("attachment %s: %w", attachmentID, ErrContentUnavailable)
	}
	data, err := base64.StdEncoding.DecodeString(*payload.ContentBytes)
	if err != nil {
		return nil, fmt.Errorf("attachment %s: decode contentBytes: %w: %w", attachmentID, ErrContentUnavailable, err)
	}
	return data, nil
}

// AttachmentValue downloads the raw attachment bytes from the $value endpoint.
func (c *Client) AttachmentValue(ctx context.Context, auth Authorizer, messageID, attachmentID string) ([]byte, error) {
	header := http.Header{}
	header.Set("Accept", "application/octet-stream")
	data, err := c.get(ctx, auth, attachmentPath(messageID, attachmentID)+"/$value", nil, header)
	if err != nil {
		return nil, fmt.Errorf("get attachment %s value: %w", attachmentID, err)
	}
	return data, nil
}

// User is the signed-in mailbox owner.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Address returns the primary SMTP address, falling back to the UPN.
func (u *User) Address() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// Me returns the profile of the signed-in user.
func (c *Client) Me(ctx context.Context, auth Authorizer) (*User, error) {
	q := url.Values{}
	q.Set("$select", "id,displayName,mail,userPrincipalName")
	var u User
	if err := c.getJSON(ctx, auth, "/me", q, nil, &u); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &u, nil
}

func attachmentPath(messageID, attachmentID string) string {
	return "/me/messages/" + url.PathEscape(messageID) + "/attachments/" + url.PathEscape(attachmentID)
}

func (c *Client) getJSON(ctx context.Context, auth Authorizer, path string, q url.Values, header http.Header, out any) error {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")
	body, err := c.get(ctx, auth, path, q, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// get performs a GET with retries. path is either relative to the base URL or
// an absolute @odata.nextLink.
func (c *Client) get(ctx context.Context, auth Authorizer, path string, q url.Values, header http.Header) ([]byte, error) {
	target := path
	if !strings.HasPrefix(path, "https://") && !strings.HasPrefix(path, "http://") {
		target = c.baseURL + path
	}
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if auth != nil {
			auth.Authorize(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("GET %s: %w", path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response from %s: %w", path, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		apiErr := newAPIError(resp.StatusCode, data)
		if !retryable(resp.StatusCode) {
			return nil, backoff.Permanent(apiErr)
		}
		if wait, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			return nil, fmt.Errorf("%w: %w", apiErr, &backoff.RetryAfterError{Duration: wait})
		}
		return nil, apiErr
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialWait
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.logger.Warn("retrying graph request", zap.String("path", path), zap.Duration("wait", wait), zap.Error(err))
		}),
	)
}

func retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// IsNotFound reports whether err is a Graph 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
