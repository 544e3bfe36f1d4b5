package board

import (
	"slices"
	"time"
)

// IntegrationConfig controls which integration follow-ups the scheduler
// chains for a board.
type IntegrationConfig struct {
	Provider             string `json:"provider" yaml:"provider"` // gitlab, jira or ""
	PushOnCoderComplete  bool   `json:"push_on_coder_complete" yaml:"push_on_coder_complete"`
	SyncOnTerminalColumn bool   `json:"sync_on_terminal_column" yaml:"sync_on_terminal_column"`
}

type Board struct {
	ID          string            `gorm:"primaryKey" json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Members     []string          `gorm:"serializer:json" json:"members" yaml:"members"`
	Integration IntegrationConfig `gorm:"embedded;embeddedPrefix:integration_" json:"integration" yaml:"integration"`
	CreatedAt   time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"-"`
}

func (b *Board) IsMember(userID string) bool {
	return slices.Contains(b.Members, userID)
}

// Automation is the per-column trigger configuration. The scheduler only
// reads it.
type Automation struct {
	AgentType         string `json:"agent_type" yaml:"agent_type"`
	AgentSkill        string `json:"agent_skill" yaml:"agent_skill"`
	AgentModel        string `json:"agent_model" yaml:"agent_model"`
	AutoRun           bool   `json:"auto_run" yaml:"auto_run"`
	OnSuccessColumnID string `json:"on_success_column_id" yaml:"on_success_column_id"`
	OnFailureColumnID string `json:"on_failure_column_id" yaml:"on_failure_column_id"`
	MaxLoopCount      int    `json:"max_loop_count" yaml:"max_loop_count"`
	PromptTemplate    string `json:"prompt_template" yaml:"prompt_template"`
}

type Column struct {
	ID         string     `gorm:"primaryKey" json:"id" yaml:"id"`
	BoardID    string     `gorm:"index" json:"board_id" yaml:"-"`
	Name       string     `json:"name" yaml:"name"`
	Position   int        `json:"position" yaml:"position"`
	Automation Automation `gorm:"embedded;embeddedPrefix:automation_" json:"automation" yaml:"automation"`
}

// Automated reports whether entering the column spawns a task.
func (c *Column) Automated() bool {
	return c.Automation.AutoRun && c.Automation.AgentType != ""
}

// AgentStatus mirrors the latest task state on a card. It is a view kept in
// step with task writes, never the source of truth.
type AgentStatus string

const (
	AgentStatusNone      AgentStatus = ""
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
)

type Card struct {
	ID          string      `gorm:"primaryKey" json:"id" yaml:"id"`
	BoardID     string      `gorm:"index" json:"board_id" yaml:"-"`
	ColumnID    string      `gorm:"index" json:"column_id" yaml:"column_id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	Labels      []string    `gorm:"serializer:json" json:"labels" yaml:"labels"`
	Priority    string      `json:"priority" yaml:"priority"`
	Assignee    string      `json:"assignee" yaml:"assignee"`
	AgentStatus AgentStatus `json:"agent_status" yaml:"-"`
	CreatedBy   string      `json:"created_by" yaml:"-"`
	CreatedAt   time.Time   `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time   `json:"updated_at" yaml:"-"`
}

// MoveOptions tunes the card move primitive.
type MoveOptions struct {
	// SkipAutomation moves the card without running the destination
	// column's automation.
	SkipAutomation bool
}
