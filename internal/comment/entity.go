package comment

import "time"

// Comment is a note on a card. Worker output is stored as a comment authored
// by the worker's owner and linked back from the task.
type Comment struct {
	ID        string    `json:"id" yaml:"id"`
	CardID    string    `json:"card_id" yaml:"card_id"`
	TaskID    string    `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Author    string    `json:"author" yaml:"author"`
	Body      string    `json:"body" yaml:"body"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
