package worker

import "time"

type Status string

const (
	StatusOnline  Status = "online"
	StatusStale   Status = "stale"
	StatusOffline Status = "offline"
)

// Worker is the one remote execution agent of a user. Re-registering the
// same user updates the row in place and keeps its ID.
type Worker struct {
	ID            string    `gorm:"primaryKey;size:26" json:"id"`
	UserID        string    `gorm:"uniqueIndex;not null" json:"user_id"`
	Hostname      string    `json:"hostname"`
	WorkerVersion string    `json:"worker_version"`
	Capabilities  []string  `gorm:"serializer:json" json:"capabilities"`
	Status        Status    `gorm:"size:16;index" json:"status"`
	LastHeartbeat time.Time `gorm:"index" json:"last_heartbeat"`
	RegisteredAt  time.Time `json:"registered_at"`
}

func (w *Worker) EventData() map[string]any {
	return map[string]any{
		"worker_id":      w.ID,
		"user_id":        w.UserID,
		"hostname":       w.Hostname,
		"status":         string(w.Status),
		"last_heartbeat": w.LastHeartbeat,
	}
}
