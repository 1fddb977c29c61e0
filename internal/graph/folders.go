package graph

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

var wellKnownFolders = map[string]string{
	"inbox":        "inbox",
	"sent":         "sentitems",
	"sentitems":    "sentitems",
	"drafts":       "drafts",
	"archive":      "archive",
	"deleted":      "deleteditems",
	"deleteditems": "deleteditems",
	"junk":         "junkemail",
	"junkemail":    "junkemail",
	"outbox":       "outbox",
}

// WellKnownFolder maps a friendly folder name ("sent", "Deleted Items") to
// its Graph well-known name.
func WellKnownFolder(name string) (string, bool) {
	key := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
	id, ok := wellKnownFolders[key]
	return id, ok
}

// Folder is a mail folder of the signed-in mailbox.
type Folder struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	ParentFolderID   string `json:"parentFolderId"`
	ChildFolderCount int    `json:"childFolderCount"`
	TotalItemCount   int    `json:"totalItemCount"`
	UnreadItemCount  int    `json:"unreadItemCount"`
}

// ListFolders returns the top-level mail folders.
func (c *Client) ListFolders(ctx context.Context, auth Authorizer) ([]Folder, error) {
	q := url.Values{}
	q.Set("$select", "id,displayName,parentFolderId,childFolderCount,totalItemCount,unreadItemCount")
	q.Set("$top", "100")

	var out []Folder
	next := "/me/mailFolders"
	for next != "" {
		var page struct {
			Value    []Folder `json:"value"`
			NextLink string   `json:"@odata.nextLink"`
		}
		if err := c.getJSON(ctx, auth, next, q, nil, &page); err != nil {
			return nil, fmt.Errorf("list folders: %w", err)
		}
		out = append(out, page.Value...)
		next, q = page.NextLink, nil
	}
	return out, nil
}

// ResolveFolder turns a folder name into a Graph folder id. Well-known names
// resolve locally; anything else is matched against display names
// (case-insensitive) and, failing that, used verbatim as an id.
func (c *Client) ResolveFolder(ctx context.Context, auth Authorizer, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("resolve folder: empty folder name")
	}
	if id, ok := WellKnownFolder(name); ok {
		return id, nil
	}
	folders, err := c.ListFolders(ctx, auth)
	if err != nil {
		return "", err
	}
	for _, f := range folders {
		if strings.EqualFold(strings.TrimSpace(f.DisplayName), name) {
			return f.ID, nil
		}
	}
	c.logger.Debug("folder not found by name, using as id", zap.String("folder", name))
	return name, nil
}
