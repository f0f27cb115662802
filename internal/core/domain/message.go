package domain

import "time"

// MessageID is the platform-assigned identifier of a message.
// IDs are monotonically increasing per conversation, so an ID range
// describes a contiguous slice of history.
type MessageID int64

// Attachment describes a downloadable artifact referenced by a message.
type Attachment struct {
	RemoteID string `json:"remote_id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Message represents a single exported history item.
type Message struct {
	ID         MessageID   `json:"id"`
	PeerID     PeerID      `json:"peer_id"`
	SenderID   PeerID      `json:"sender_id"`
	Date       time.Time   `json:"date"`
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// JobStatus is the terminal state of an export job.
type JobStatus string

const (
	JobStatusDone   JobStatus = "done"
	JobStatusFailed JobStatus = "failed"
)

// JobRecord summarizes one export job run for the archive store.
type JobRecord struct {
	ID           string
	Target       string
	Items        int64
	ShardCount   int
	FailedShards int
	Status       JobStatus
	StartedAt    time.Time
	FinishedAt   time.Time
}
