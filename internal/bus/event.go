package bus

import "time"

// Event kinds published by mailctl components. Subscribers filter by prefix,
// e.g. "attachment." receives both attachment kinds.
const (
	KindAuthStateChanged     = "auth.state_changed"
	KindSyncPagePersisted    = "sync.page_persisted"
	KindAttachmentDownloaded = "attachment.downloaded"
	KindAttachmentFailed     = "attachment.failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
