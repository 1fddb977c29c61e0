package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const messageColumns = `remote_id, subject, sender_address, sender_name, received_at, preview, body,
	is_read, has_attachments, folder_id, created_at, updated_at`

// MessageRepository persists Message records.
type MessageRepository struct {
	db  *DB
	now func() time.Time
}

// NewMessageRepository creates a repository over db.
func NewMessageRepository(db *DB) *MessageRepository {
	return &MessageRepository{db: db, now: time.Now}
}

var messageUpsert = upsert[Message]{
	op:  "upsert message",
	key: func(m Message) string { return m.RemoteID },
	query: `
		INSERT INTO messages (remote_id, subject, sender_address, sender_name, received_at, preview, body,
			is_read, has_attachments, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			subject = excluded.subject,
			sender_address = excluded.sender_address,
			sender_name = excluded.sender_name,
			received_at = excluded.received_at,
			preview = excluded.preview,
			body = COALESCE(excluded.body, messages.body),
			is_read = excluded.is_read,
			has_attachments = excluded.has_attachments,
			folder_id = excluded.folder_id,
			updated_at = excluded.updated_at`,
	args: func(m Message, now int64) []any {
		var body sql.NullString
		if m.Body != nil {
			body = sql.NullString{String: *m.Body, Valid: true}
		}
		return []any{m.RemoteID, m.Subject, m.SenderAddress, m.SenderName, m.ReceivedAt.UnixMilli(), m.Preview, body,
			m.IsRead, m.HasAttachments, m.FolderID, now, now}
	},
}

// SaveMany upserts msgs atomically and returns the number of distinct remote
// ids written. A nil Body never clears a stored body.
func (r *MessageRepository) SaveMany(ctx context.Context, msgs []Message) (int, error) {
	return saveMany(ctx, r.db, messageUpsert, msgs, r.now())
}

// GetByID returns the message with the given remote id, or ErrNotFound.
func (r *MessageRepository) GetByID(ctx context.Context, remoteID string) (*Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE remote_id = ?`, remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %q: %w", remoteID, ErrNotFound)
	}
	if err != nil {
		return nil, classify("get message", err)
	}
	m := row.toMessage()
	return &m, nil
}

// ListAll returns messages newest first. limit 0 is a valid request for no rows.
func (r *MessageRepository) ListAll(ctx context.Context, limit, offset int) ([]Message, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("list messages: limit and offset must be non-negative (got %d, %d)", limit, offset)
	}
	if limit == 0 {
		return []Message{}, nil
	}
	return r.selectMessages(ctx, "list messages", `
		SELECT `+messageColumns+` FROM messages
		ORDER BY received_at DESC, remote_id
		LIMIT ? OFFSET ?`, limit, offset)
}

// Search returns messages matching every set field of f, newest first.
func (r *MessageRepository) Search(ctx context.Context, f MessageFilter) ([]Message, error) {
	if f.Offset < 0 || (f.Limit != nil && *f.Limit < 0) {
		return nil, errors.New("search messages: limit and offset must be non-negative")
	}
	if f.Limit != nil && *f.Limit == 0 {
		return []Message{}, nil
	}

	var conditions []string
	var args []any

	if f.Sender != "" {
		conditions = append(conditions, "instr(casefold(sender_address), casefold(?)) > 0")
		args = append(args, f.Sender)
	}
	if f.Subject != "" {
		conditions = append(conditions, "instr(casefold(subject), casefold(?)) > 0")
		args = append(args, f.Subject)
	}
	if f.DateFrom != nil {
		conditions = append(conditions, "received_at >= ?")
		args = append(args, f.DateFrom.UnixMilli())
	}
	if f.DateTo != nil {
		conditions = append(conditions, "received_at <= ?")
		args = append(args, f.DateTo.UnixMilli())
	}
	if f.IsRead != nil {
		conditions = append(conditions, "is_read = ?")
		args = append(args, *f.IsRead)
	}
	if f.HasAttachments != nil {
		conditions = append(conditions, "has_attachments = ?")
		args = append(args, *f.HasAttachments)
	}

	query := `SELECT ` + messageColumns + ` FROM messages`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY received_at DESC, remote_id"

	limit := -1
	if f.Limit != nil {
		limit = *f.Limit
	}
	if limit >= 0 || f.Offset > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, f.Offset)
	}

	return r.selectMessages(ctx, "search messages", query, args...)
}

// Count returns the number of stored messages.
func (r *MessageRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages`); err != nil {
		return 0, classify("count messages", err)
	}
	return n, nil
}

func (r *MessageRepository) selectMessages(ctx context.Context, op, query string, args ...any) ([]Message, error) {
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classify(op, err)
	}
	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	return msgs, nil
}
