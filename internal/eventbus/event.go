package eventbus

import (
	"time"
)

type EventType string

const (
	TypeTaskCreated   EventType = "task_created"
	TypeTaskClaimed   EventType = "task_claimed"
	TypeTaskProgress  EventType = "task_progress"
	TypeTaskCompleted EventType = "task_completed"
	TypeTaskFailed    EventType = "task_failed"
	TypeTaskCancelled EventType = "task_cancelled"
	TypeCardMoved     EventType = "card_moved"
	TypeWorkerOnline  EventType = "worker_online"
	TypeWorkerStale   EventType = "worker_stale"
	TypeWorkerOffline EventType = "worker_offline"
)

type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Channel   string         `json:"channel"`
	Data      map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}

// BoardChannel is the channel every event about a board is published on.
func BoardChannel(boardID string) string {
	return "board:" + boardID
}

// Frame flattens the event into the shape pushed to stream clients:
// {"type": ..., <data fields>}.
func (e *Event) Frame() map[string]any {
	frame := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		frame[k] = v
	}
	frame["type"] = e.Type
	return frame
}
