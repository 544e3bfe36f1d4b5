// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/task"
	"github.com/kazz187/cardflow/internal/worker"
	"github.com/kazz187/cardflow/pkg/db"
	"github.com/kazz187/cardflow/pkg/storage"
)

// Epoch is the start time of every fake clock handed out here.
var Epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// NewDB opens a private in-memory database with every table migrated.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, t.Name()) + "_" + ulid.Make().String()
	gdb, err := db.NewMemoryDB(name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })
	require.NoError(t, db.AutoMigrate(gdb,
		&board.Board{}, &board.Column{}, &board.Card{},
		&task.Task{},
		&worker.Worker{},
	))
	return gdb
}

func NewClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(Epoch)
}

func NewStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return s
}

// Pipeline is a three column board: todo → dev (coder) → review (reviewer)
// → done, with review failures sent to rework.
type Pipeline struct {
	Board  *board.Board
	Todo   *board.Column
	Dev    *board.Column
	Review *board.Column
	Done   *board.Column
	Rework *board.Column
}

// SeedPipeline inserts a board owned by members with automated dev and
// review columns.
func SeedPipeline(t *testing.T, gdb *gorm.DB, boardID string, members ...string) *Pipeline {
	t.Helper()
	p := &Pipeline{
		Board: &board.Board{ID: boardID, Name: "Pipeline " + boardID, Members: members},
		Todo:  &board.Column{ID: boardID + "-todo", BoardID: boardID, Name: "To Do", Position: 0},
		Dev: &board.Column{ID: boardID + "-dev", BoardID: boardID, Name: "Development", Position: 1, Automation: board.Automation{
			AgentType:         "coder",
			AutoRun:           true,
			OnSuccessColumnID: boardID + "-review",
			OnFailureColumnID: boardID + "-rework",
			PromptTemplate:    "Implement {card_title}: {card_description}",
		}},
		Review: &board.Column{ID: boardID + "-review", BoardID: boardID, Name: "Review", Position: 2, Automation: board.Automation{
			AgentType:         "reviewer",
			AutoRun:           true,
			OnSuccessColumnID: boardID + "-done",
			OnFailureColumnID: boardID + "-rework",
		}},
		Done:   &board.Column{ID: boardID + "-done", BoardID: boardID, Name: "Done", Position: 3},
		Rework: &board.Column{ID: boardID + "-rework", BoardID: boardID, Name: "Rework", Position: 4},
	}
	require.NoError(t, gdb.Create(p.Board).Error)
	for _, c := range []*board.Column{p.Todo, p.Dev, p.Review, p.Done, p.Rework} {
		require.NoError(t, gdb.Create(c).Error)
	}
	return p
}

func SeedCard(t *testing.T, gdb *gorm.DB, boardID, columnID, cardID string) *board.Card {
	t.Helper()
	c := &board.Card{
		ID:          cardID,
		BoardID:     boardID,
		ColumnID:    columnID,
		Title:       "Card " + cardID,
		Description: "Description of " + cardID,
		Labels:      []string{"backend"},
		Priority:    "high",
	}
	require.NoError(t, gdb.Create(c).Error)
	return c
}

// SeedTask inserts t directly, filling the fields a created task always has.
func SeedTask(t *testing.T, gdb *gorm.DB, tk *task.Task) *task.Task {
	t.Helper()
	if tk.ID == "" {
		tk.ID = ulid.Make().String()
	}
	if tk.TaskType == "" {
		tk.TaskType = task.TypeAgentRun
	}
	if tk.Status == "" {
		tk.Status = task.StatusPending
	}
	if tk.CreatedAt.IsZero() {
		tk.CreatedAt = Epoch
	}
	require.NoError(t, gdb.Create(tk).Error)
	return tk
}

func GetCard(t *testing.T, gdb *gorm.DB, id string) *board.Card {
	t.Helper()
	var c board.Card
	require.NoError(t, gdb.First(&c, "id = ?", id).Error)
	return &c
}

func GetTask(t *testing.T, gdb *gorm.DB, id string) *task.Task {
	t.Helper()
	var tk task.Task
	require.NoError(t, gdb.First(&tk, "id = ?", id).Error)
	return &tk
}
