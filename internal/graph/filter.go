package graph

import (
	"strings"
	"time"
)

// Filter narrows a message listing on the server side. Zero-valued fields are
// ignored.
type Filter struct {
	Sender         string // exact sender address
	Subject        string // subject substring
	After          *time.Time
	Before         *time.Time
	IsRead         *bool
	HasAttachments *bool
}

// OData renders the filter as a $filter expression, or "" when empty.
func (f Filter) OData() string {
	var conds []string
	if s := strings.TrimSpace(f.Sender); s != "" {
		conds = append(conds, "from/emailAddress/address eq '"+quote(s)+"'")
	}
	if s := strings.TrimSpace(f.Subject); s != "" {
		conds = append(conds, "contains(subject,'"+quote(s)+"')")
	}
	if f.After != nil {
		conds = append(conds, "receivedDateTime ge "+odataTime(*f.After))
	}
	if f.Before != nil {
		conds = append(conds, "receivedDateTime le "+odataTime(*f.Before))
	}
	if f.IsRead != nil {
		conds = append(conds, "isRead eq "+boolString(*f.IsRead))
	}
	if f.HasAttachments != nil {
		conds = append(conds, "hasAttachments eq "+boolString(*f.HasAttachments))
	}
	return strings.Join(conds, " and ")
}

func quote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func odataTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
