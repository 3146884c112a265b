package task

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Sample is one uploaded sample's processing state. Raw content is held in
// memory only; persisted snapshots carry status alone.
type Sample struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	RawContent  string    `json:"-"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	StatusText  string    `json:"status_text"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Options struct {
	DataDir string
	Store   SampleStore
}
