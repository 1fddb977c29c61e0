package graph

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/mailctl/internal/store"
)

// UnknownSender is stored when a message carries neither sender nor from.
const UnknownSender = "unknown"

type emailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type recipient struct {
	EmailAddress *emailAddress `json:"emailAddress"`
}

type rawMessage struct {
	ID               string     `json:"id"`
	Subject          *string    `json:"subject"`
	Sender           *recipient `json:"sender"`
	From             *recipient `json:"from"`
	ReceivedDateTime string     `json:"receivedDateTime"`
	BodyPreview      string     `json:"bodyPreview"`
	Body             *struct {
		ContentType string  `json:"contentType"`
		Content     *string `json:"content"`
	} `json:"body"`
	IsRead         bool   `json:"isRead"`
	HasAttachments bool   `json:"hasAttachments"`
	ParentFolderID string `json:"parentFolderId"`
}

// ParseMessage maps a raw Graph message to a store.Message. folderID is used
// when the record has no parentFolderId. Records that cannot be mapped yield
// a *MalformedRecordError.
func ParseMessage(raw json.RawMessage, folderID string) (*store.Message, error) {
	var m rawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &MalformedRecordError{Reason: "invalid JSON: " + err.Error()}
	}
	if m.ID == "" {
		return nil, &MalformedRecordError{Reason: "missing id"}
	}
	if m.ReceivedDateTime == "" {
		return nil, &MalformedRecordError{RemoteID: m.ID, Reason: "missing receivedDateTime"}
	}
	received, err := time.Parse(time.RFC3339Nano, m.ReceivedDateTime)
	if err != nil {
		return nil, &MalformedRecordError{RemoteID: m.ID, Reason: "bad receivedDateTime " + m.ReceivedDateTime}
	}

	sender := emailAddress{Address: UnknownSender}
	if src := firstRecipient(m.Sender, m.From); src != nil {
		if src.EmailAddress == nil || src.EmailAddress.Address == "" {
			return nil, &MalformedRecordError{RemoteID: m.ID, Reason: "missing sender address"}
		}
		sender = *src.EmailAddress
	}

	folder := m.ParentFolderID
	if folder == "" {
		folder = folderID
	}
	if folder == "" {
		return nil, &MalformedRecordError{RemoteID: m.ID, Reason: "missing parentFolderId"}
	}

	msg := &store.Message{
		RemoteID:       m.ID,
		SenderAddress:  sender.Address,
		SenderName:     sender.Name,
		ReceivedAt:     received.UTC(),
		Preview:        m.BodyPreview,
		IsRead:         m.IsRead,
		HasAttachments: m.HasAttachments,
		FolderID:       folder,
	}
	if m.Subject != nil {
		msg.Subject = *m.Subject
	}
	if m.Body != nil && m.Body.Content != nil {
		body := *m.Body.Content
		msg.Body = &body
	}
	return msg, nil
}

func firstRecipient(rs ...*recipient) *recipient {
	for _, r := range rs {
		if r != nil {
			return r
		}
	}
	return nil
}

type rawAttachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// ParseAttachment maps raw attachment metadata to a store.Attachment owned by
// messageID.
func ParseAttachment(raw json.RawMessage, messageID string) (*store.Attachment, error) {
	var a rawAttachment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, &MalformedRecordError{Reason: "invalid JSON: " + err.Error()}
	}
	if a.ID == "" || a.Name == "" {
		return nil, &MalformedRecordError{RemoteID: a.ID, Reason: "missing attachment id or name"}
	}
	return &store.Attachment{
		RemoteID:    a.ID,
		MessageID:   messageID,
		Name:        a.Name,
		ContentType: a.ContentType,
		SizeBytes:   a.Size,
	}, nil
}
