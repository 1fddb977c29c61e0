package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/mailctl/internal/graph"
	"github.com/matheus3301/mailctl/internal/store"
	"github.com/spf13/pflag"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// filterFlags are the message filter options shared by fetch, list, export
// and download.
type filterFlags struct {
	from           string
	subject        string
	after          string
	before         string
	since          time.Duration
	read           bool
	unread         bool
	hasAttachments bool
}

func (f *filterFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.from, "from", "", "only messages from this sender address")
	fs.StringVar(&f.subject, "subject", "", "only messages whose subject contains this text")
	fs.StringVar(&f.after, "after", "", "only messages received on or after this date (YYYY-MM-DD or RFC3339)")
	fs.StringVar(&f.before, "before", "", "only messages received on or before this date (YYYY-MM-DD or RFC3339)")
	fs.DurationVar(&f.since, "since", 0, "only messages received within this long before now, e.g. 48h")
	fs.BoolVar(&f.read, "read", false, "only read messages")
	fs.BoolVar(&f.unread, "unread", false, "only unread messages")
	fs.BoolVar(&f.hasAttachments, "has-attachments", false, "only messages with attachments")
}

// filters is the parsed form of filterFlags for both the remote query and
// the local store.
type filters struct {
	Remote graph.Filter
	Local  store.MessageFilter
	Set    bool
}

func (f *filterFlags) build(fs *pflag.FlagSet) (filters, error) {
	var out filters

	sender, err := textFilter(fs, "from", f.from)
	if err != nil {
		return out, err
	}
	subject, err := textFilter(fs, "subject", f.subject)
	if err != nil {
		return out, err
	}
	out.Remote.Sender, out.Local.Sender = sender, sender
	out.Remote.Subject, out.Local.Subject = subject, subject

	if fs.Changed("after") {
		t, err := parseDate(f.after, "after", false)
		if err != nil {
			return out, err
		}
		out.Remote.After, out.Local.DateFrom = &t, &t
	}
	if fs.Changed("since") {
		if fs.Changed("after") {
			return out, errors.New("choose only one of --after or --since")
		}
		if f.since <= 0 {
			return out, errors.New("--since must be a positive duration such as 24h")
		}
		t := time.Now().UTC().Add(-f.since)
		out.Remote.After, out.Local.DateFrom = &t, &t
	}
	if fs.Changed("before") {
		t, err := parseDate(f.before, "before", true)
		if err != nil {
			return out, err
		}
		out.Remote.Before, out.Local.DateTo = &t, &t
	}
	if out.Remote.After != nil && out.Remote.Before != nil && out.Remote.After.After(*out.Remote.Before) {
		return out, errors.New("--after must be before or equal to --before")
	}

	isRead, err := readFilter(f.read, f.unread)
	if err != nil {
		return out, err
	}
	out.Remote.IsRead, out.Local.IsRead = isRead, isRead

	if f.hasAttachments {
		yes := true
		out.Remote.HasAttachments, out.Local.HasAttachments = &yes, &yes
	}

	out.Set = sender != "" || subject != "" || out.Remote.After != nil || out.Remote.Before != nil ||
		isRead != nil || f.hasAttachments
	return out, nil
}

func textFilter(fs *pflag.FlagSet, name, value string) (string, error) {
	if !fs.Changed(name) {
		return "", nil
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("--%s must not be empty", name)
	}
	return v, nil
}

func readFilter(read, unread bool) (*bool, error) {
	switch {
	case read && unread:
		return nil, errors.New("choose only one of --read or --unread")
	case read:
		v := true
		return &v, nil
	case unread:
		v := false
		return &v, nil
	default:
		return nil, nil
	}
}

// parseDate accepts YYYY-MM-DD or an RFC3339 timestamp. Values without a zone
// are UTC. A bare date used as an upper bound covers the whole day.
func parseDate(value, label string, endOfDay bool) (time.Time, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, fmt.Errorf("--%s date must not be empty", label)
	}
	if d, err := time.Parse(time.DateOnly, raw); err == nil {
		if endOfDay {
			d = d.Add(24*time.Hour - time.Millisecond)
		}
		return d, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s date %q: use YYYY-MM-DD or an RFC3339 timestamp", label, value)
}

// normalizeID strips the whitespace that creeps into ids copied from a
// wrapped terminal.
func normalizeID(v string) string {
	return strings.Join(strings.Fields(v), "")
}
