package board_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/board/repositoryimpl"
	"github.com/kazz187/cardflow/internal/testutil"
)

const seedYAML = `
boards:
  - id: b1
    name: Product
    members: [alice, bob]
    integration:
      provider: gitlab
      push_on_coder_complete: true
    columns:
      - id: todo
        name: To Do
      - id: dev
        name: Development
        automation:
          agent_type: coder
          auto_run: true
          on_success_column_id: done
          max_loop_count: 2
      - id: done
        name: Done
    cards:
      - id: card-1
        column_id: todo
        title: First
        labels: [api]
`

func TestParseSeed(t *testing.T) {
	f, err := board.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, f.Boards, 1)
	b := f.Boards[0]
	assert.Equal(t, "Product", b.Name)
	assert.True(t, b.Integration.PushOnCoderComplete)
	require.Len(t, b.Columns, 3)
	assert.Equal(t, 2, b.Columns[1].Automation.MaxLoopCount)
	assert.Equal(t, []string{"api"}, b.Cards[0].Labels)

	invalid := map[string]string{
		"unknown field":    "boards:\n  - id: b1\n    colour: red\n",
		"missing board id": "boards:\n  - name: x\n",
		"unknown route":    "boards:\n  - id: b1\n    columns:\n      - id: dev\n        automation:\n          on_failure_column_id: nope\n",
		"card column":      "boards:\n  - id: b1\n    columns:\n      - id: todo\n    cards:\n      - id: c1\n        column_id: dev\n",
	}
	for name, doc := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := board.ParseSeed([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSeeder_Apply(t *testing.T) {
	gdb := testutil.NewDB(t)
	repo := repositoryimpl.NewGormRepository(gdb)
	seeder := board.NewSeeder(repo)
	f, err := board.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)

	stats, err := seeder.Apply(t.Context(), f)
	require.NoError(t, err)
	assert.Equal(t, board.SeedStats{Boards: 1, Columns: 3, Cards: 1}, stats)

	columns, err := repo.ListColumns(t.Context(), "b1")
	require.NoError(t, err)
	require.Len(t, columns, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{columns[0].Position, columns[1].Position, columns[2].Position})

	// Cards keep their runtime position across reloads.
	_, err = repo.MoveCard(t.Context(), "card-1", "dev")
	require.NoError(t, err)
	f, err = board.ParseSeed([]byte(seedYAML))
	require.NoError(t, err)
	stats, err = seeder.Apply(t.Context(), f)
	require.NoError(t, err)
	assert.Zero(t, stats.Cards)
	card := testutil.GetCard(t, gdb, "card-1")
	assert.Equal(t, "dev", card.ColumnID)
	assert.Equal(t, "seed", card.CreatedBy)
}

func TestSeeder_Watch(t *testing.T) {
	gdb := testutil.NewDB(t)
	repo := repositoryimpl.NewGormRepository(gdb)
	seeder := board.NewSeeder(repo)

	path := filepath.Join(t.TempDir(), "boards.yaml")
	require.NoError(t, os.WriteFile(path, []byte("boards: []\n"), 0o644))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- seeder.Watch(ctx, path) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	require.Eventually(t, func() bool {
		_, err := repo.GetBoard(ctx, "b1")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
