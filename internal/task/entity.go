package task

import "time"

type Type string

const (
	TypeAgentRun     Type = "agent_run"
	TypeBoardPlan    Type = "board_plan"
	TypeCardGen      Type = "card_gen"
	TypeGitlabPush   Type = "gitlab_push"
	TypeGitlabImport Type = "gitlab_import"
	TypeJiraSync     Type = "jira_sync"
)

var types = map[Type]bool{
	TypeAgentRun:     true,
	TypeBoardPlan:    true,
	TypeCardGen:      true,
	TypeGitlabPush:   true,
	TypeGitlabImport: true,
	TypeJiraSync:     true,
}

func (t Type) Valid() bool {
	return types[t]
}

type Task struct {
	ID              string         `gorm:"primaryKey;size:26" json:"id"`
	TaskType        Type           `gorm:"size:32;index" json:"task_type"`
	BoardID         string         `gorm:"not null;index" json:"board_id"`
	CardID          string         `gorm:"index:idx_tasks_card_source" json:"card_id,omitempty"`
	CreatedBy       string         `json:"created_by"`
	AssignedTo      string         `gorm:"index" json:"assigned_to,omitempty"` // "" means unassigned
	ClaimedByWorker string         `gorm:"index" json:"claimed_by_worker,omitempty"`
	AgentType       string         `json:"agent_type,omitempty"`
	AgentSkill      string         `json:"agent_skill,omitempty"`
	AgentModel      string         `json:"agent_model,omitempty"`
	PromptText      string         `gorm:"type:text" json:"prompt_text,omitempty"`
	Payload         map[string]any `gorm:"serializer:json" json:"payload,omitempty"`
	SourceColumnID  string         `gorm:"index:idx_tasks_card_source" json:"source_column_id,omitempty"`
	TargetColumnID  string         `json:"target_column_id,omitempty"`
	FailureColumnID string         `json:"failure_column_id,omitempty"`
	LoopCount       int            `json:"loop_count"`
	MaxLoopCount    int            `json:"max_loop_count"`
	Status          Status         `gorm:"size:16;index" json:"status"`
	ErrorSummary    string         `json:"error_summary,omitempty"`
	OutputCommentID string         `json:"output_comment_id,omitempty"`
	Priority        int            `gorm:"index" json:"priority"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
	ClaimedAt       *time.Time     `json:"claimed_at,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// EventData is the payload carried by task_* events.
func (t *Task) EventData() map[string]any {
	data := map[string]any{
		"task_id":   t.ID,
		"task_type": string(t.TaskType),
		"board_id":  t.BoardID,
		"status":    string(t.Status),
	}
	if t.CardID != "" {
		data["card_id"] = t.CardID
	}
	if t.AgentType != "" {
		data["agent_type"] = t.AgentType
	}
	if t.ErrorSummary != "" {
		data["error_summary"] = t.ErrorSummary
	}
	return data
}

// PayloadBool reads a boolean flag from the payload; anything else is false.
func (t *Task) PayloadBool(key string) bool {
	v, _ := t.Payload[key].(bool)
	return v
}
