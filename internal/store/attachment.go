package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const attachmentColumns = `remote_id, message_id, name, content_type, size_bytes, local_path, downloaded_at, created_at`

// AttachmentRepository persists Attachment records.
type AttachmentRepository struct {
	db  *DB
	now func() time.Time
}

// NewAttachmentRepository creates a repository over db.
func NewAttachmentRepository(db *DB) *AttachmentRepository {
	return &AttachmentRepository{db: db, now: time.Now}
}

// Re-observed metadata never touches local_path/downloaded_at.
var attachmentUpsert = upsert[Attachment]{
	op:  "upsert attachment",
	key: func(a Attachment) string { return a.RemoteID },
	query: `
		INSERT INTO attachments (remote_id, message_id, name, content_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			message_id = excluded.message_id,
			name = excluded.name,
			content_type = excluded.content_type,
			size_bytes = excluded.size_bytes`,
	args: func(a Attachment, now int64) []any {
		return []any{a.RemoteID, a.MessageID, a.Name, a.ContentType, a.SizeBytes, now}
	},
}

// SaveMany upserts attachment metadata atomically.
func (r *AttachmentRepository) SaveMany(ctx context.Context, atts []Attachment) (int, error) {
	return saveMany(ctx, r.db, attachmentUpsert, atts, r.now())
}

// GetByID returns the attachment with the given remote id, or ErrNotFound.
func (r *AttachmentRepository) GetByID(ctx context.Context, remoteID string) (*Attachment, error) {
	var row attachmentRow
	err := r.db.GetContext(ctx, &row, `SELECT `+attachmentColumns+` FROM attachments WHERE remote_id = ?`, remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attachment %q: %w", remoteID, ErrNotFound)
	}
	if err != nil {
		return nil, classify("get attachment", err)
	}
	a := row.toAttachment()
	return &a, nil
}

// ListByMessage returns the attachments of one message ordered by name.
func (r *AttachmentRepository) ListByMessage(ctx context.Context, messageID string) ([]Attachment, error) {
	var rows []attachmentRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE message_id = ?
		ORDER BY name, remote_id`, messageID)
	if err != nil {
		return nil, classify("list attachments", err)
	}
	atts := make([]Attachment, 0, len(rows))
	for _, row := range rows {
		atts = append(atts, row.toAttachment())
	}
	return atts, nil
}

// MarkDownloaded records where an attachment was written. Both columns change
// in one statement.
func (r *AttachmentRepository) MarkDownloaded(ctx context.Context, remoteID, localPath string, at time.Time) error {
	if localPath == "" {
		return fmt.Errorf("mark attachment %q downloaded: empty local path", remoteID)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE attachments SET local_path = ?, downloaded_at = ?
		WHERE remote_id = ?`, localPath, at.UnixMilli(), remoteID)
	if err != nil {
		return classify("mark attachment downloaded", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("mark attachment downloaded", err)
	}
	if n == 0 {
		return fmt.Errorf("attachment %q: %w", remoteID, ErrNotFound)
	}
	return nil
}

// PathOwner returns the remote id of the attachment materialized at
// localPath, or "" if none is.
func (r *AttachmentRepository) PathOwner(ctx context.Context, localPath string) (string, error) {
	var id string
	err := r.db.GetContext(ctx, &id, `SELECT remote_id FROM attachments WHERE local_path = ? LIMIT 1`, localPath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("lookup path owner", err)
	}
	return id, nil
}

// Stats summarizes stored attachments.
func (r *AttachmentRepository) Stats(ctx context.Context) (AttachmentStats, error) {
	var s AttachmentStats
	err := r.db.GetContext(ctx, &s, `
		SELECT
			COUNT(*) AS total,
			COUNT(local_path) AS downloaded,
			COALESCE(SUM(CASE WHEN local_path IS NOT NULL THEN size_bytes END), 0) AS downloaded_bytes
		FROM attachments`)
	if err != nil {
		return AttachmentStats{}, classify("attachment stats", err)
	}
	return s, nil
}
