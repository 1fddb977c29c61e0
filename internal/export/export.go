// Package export writes stored messages to JSON or CSV files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/mailctl/internal/store"
)

// Format is an export file format.
type Format string

const (
	JSON Format = "json"
	CSV  Format = "csv"
)

// Formats lists the supported formats in help-text order.
var Formats = []Format{JSON, CSV}

// ParseFormat accepts a format name in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case JSON, CSV:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want json or csv)", s)
	}
}

// Columns is the field order of both formats.
var Columns = []string{
	"id",
	"subject",
	"sender_email",
	"sender_name",
	"received_at",
	"body_preview",
	"body_content",
	"is_read",
	"has_attachments",
	"folder_id",
}

// Record is the exported shape of one message.
type Record struct {
	ID             string  `json:"id"`
	Subject        string  `json:"subject"`
	SenderEmail    string  `json:"sender_email"`
	SenderName     string  `json:"sender_name"`
	ReceivedAt     string  `json:"received_at"`
	BodyPreview    string  `json:"body_preview"`
	BodyContent    *string `json:"body_content"`
	IsRead         bool    `json:"is_read"`
	HasAttachments bool    `json:"has_attachments"`
	FolderID       string  `json:"folder_id"`
}

// NewRecord converts a stored message.
func NewRecord(m store.Message) Record {
	return Record{
		ID:             m.RemoteID,
		Subject:        m.Subject,
		SenderEmail:    m.SenderAddress,
		SenderName:     m.SenderName,
		ReceivedAt:     m.ReceivedAt.UTC().Format(time.RFC3339),
		BodyPreview:    m.Preview,
		BodyContent:    m.Body,
		IsRead:         m.IsRead,
		HasAttachments: m.HasAttachments,
		FolderID:       m.FolderID,
	}
}

func (r Record) row() []string {
	body := ""
	if r.BodyContent != nil {
		body = *r.BodyContent
	}
	return []string{
		r.ID,
		r.Subject,
		r.SenderEmail,
		r.SenderName,
		r.ReceivedAt,
		r.BodyPreview,
		body,
		strconv.FormatBool(r.IsRead),
		strconv.FormatBool(r.HasAttachments),
		r.FolderID,
	}
}

// Write encodes msgs to w. An empty slice still yields a valid document:
// "[]" for JSON, the header line for CSV.
func Write(w io.Writer, format Format, msgs []store.Message) error {
	records := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, NewRecord(m))
	}

	switch format {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(records)
	case CSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(Columns); err != nil {
			return err
		}
		for _, r := range records {
			if err := cw.Write(r.row()); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// ToFile writes msgs to path, creating parent directories. The file is
// written beside its destination and renamed into place.
func ToFile(path string, format Format, msgs []store.Message) error {
	if _, err := ParseFormat(string(format)); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mailctl-export-*")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, format, msgs); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s export: %w", format, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
