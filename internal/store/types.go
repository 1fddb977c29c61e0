package store

import (
	"database/sql"
	"time"
)

// Message is a locally persisted mail message, keyed by the remote id.
type Message struct {
	RemoteID       string
	Subject        string
	SenderAddress  string
	SenderName     string
	ReceivedAt     time.Time
	Preview        string
	Body           *string // nil until the full body has been fetched
	IsRead         bool
	HasAttachments bool
	FolderID       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Attachment is attachment metadata plus its materialization state.
// LocalPath and DownloadedAt are either both nil or both set.
type Attachment struct {
	RemoteID     string
	MessageID    string
	Name         string
	ContentType  string
	SizeBytes    int64
	LocalPath    *string
	DownloadedAt *time.Time
	CreatedAt    time.Time
}

// Materialized reports whether the attachment has been written to disk.
func (a *Attachment) Materialized() bool {
	return a.LocalPath != nil && a.DownloadedAt != nil
}

// MessageFilter narrows Search. Zero-valued fields are ignored; all set
// fields are ANDed.
type MessageFilter struct {
	Sender         string     // case-insensitive substring of the sender address
	Subject        string     // case-insensitive substring of the subject
	DateFrom       *time.Time // inclusive
	DateTo         *time.Time // inclusive
	IsRead         *bool
	HasAttachments *bool

	Limit  *int // nil means unbounded; 0 yields no rows
	Offset int
}

// AttachmentStats summarizes the attachments table.
type AttachmentStats struct {
	Total           int   `db:"total"`
	Downloaded      int   `db:"downloaded"`
	DownloadedBytes int64 `db:"downloaded_bytes"`
}

type messageRow struct {
	RemoteID       string         `db:"remote_id"`
	Subject        string         `db:"subject"`
	SenderAddress  string         `db:"sender_address"`
	SenderName     string         `db:"sender_name"`
	ReceivedAt     int64          `db:"received_at"`
	Preview        string         `db:"preview"`
	Body           sql.NullString `db:"body"`
	IsRead         bool           `db:"is_read"`
	HasAttachments bool           `db:"has_attachments"`
	FolderID       string         `db:"folder_id"`
	CreatedAt      int64          `db:"created_at"`
	UpdatedAt      int64          `db:"updated_at"`
}

func (r messageRow) toMessage() Message {
	m := Message{
		RemoteID:       r.RemoteID,
		Subject:        r.Subject,
		SenderAddress:  r.SenderAddress,
		SenderName:     r.SenderName,
		ReceivedAt:     fromMillis(r.ReceivedAt),
		Preview:        r.Preview,
		IsRead:         r.IsRead,
		HasAttachments: r.HasAttachments,
		FolderID:       r.FolderID,
		CreatedAt:      fromMillis(r.CreatedAt),
		UpdatedAt:      fromMillis(r.UpdatedAt),
	}
	if r.Body.Valid {
		body := r.Body.String
		m.Body = &body
	}
	return m
}

type attachmentRow struct {
	RemoteID     string         `db:"remote_id"`
	MessageID    string         `db:"message_id"`
	Name         string         `db:"name"`
	ContentType  string         `db:"content_type"`
	SizeBytes    int64          `db:"size_bytes"`
	LocalPath    sql.NullString `db:"local_path"`
	DownloadedAt sql.NullInt64  `db:"downloaded_at"`
	CreatedAt    int64          `db:"created_at"`
}

func (r attachmentRow) toAttachment() Attachment {
	a := Attachment{
		RemoteID:    r.RemoteID,
		MessageID:   r.MessageID,
		Name:        r.Name,
		ContentType: r.ContentType,
		SizeBytes:   r.SizeBytes,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
	if r.LocalPath.Valid && r.DownloadedAt.Valid {
		path := r.LocalPath.String
		at := fromMillis(r.DownloadedAt.Int64)
		a.LocalPath = &path
		a.DownloadedAt = &at
	}
	return a
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
