package repositoryimpl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/internal/board/repositoryimpl"
	"github.com/kazz187/cardflow/internal/testutil"
	"github.com/kazz187/cardflow/pkg/cerr"
)

func TestGormRepository_Boards(t *testing.T) {
	gdb := testutil.NewDB(t)
	repo := repositoryimpl.NewGormRepository(gdb)
	testutil.SeedPipeline(t, gdb, "b1", "alice", "bob")
	testutil.SeedPipeline(t, gdb, "b2", "bob")

	b, err := repo.GetBoard(t.Context(), "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, b.Members)

	boards, err := repo.ListBoardsForMember(t.Context(), "alice")
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "b1", boards[0].ID)

	boards, err = repo.ListBoardsForMember(t.Context(), "bob")
	require.NoError(t, err)
	assert.Len(t, boards, 2)

	_, err = repo.GetBoard(t.Context(), "missing")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
}

func TestGormRepository_Columns(t *testing.T) {
	gdb := testutil.NewDB(t)
	repo := repositoryimpl.NewGormRepository(gdb)
	testutil.SeedPipeline(t, gdb, "b1", "alice")

	columns, err := repo.ListColumns(t.Context(), "b1")
	require.NoError(t, err)
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"To Do", "Development", "Review", "Done", "Rework"}, names)

	dev, err := repo.GetColumn(t.Context(), "b1-dev")
	require.NoError(t, err)
	assert.True(t, dev.Automated())
	assert.Equal(t, "b1-review", dev.Automation.OnSuccessColumnID)
}

func TestGormRepository_MoveCard(t *testing.T) {
	gdb := testutil.NewDB(t)
	repo := repositoryimpl.NewGormRepository(gdb)
	testutil.SeedPipeline(t, gdb, "b1", "alice")
	testutil.SeedPipeline(t, gdb, "b2", "alice")
	testutil.SeedCard(t, gdb, "b1", "b1-todo", "card-1")

	moved, err := repo.MoveCard(t.Context(), "card-1", "b1-dev")
	require.NoError(t, err)
	assert.Equal(t, "b1-dev", moved.ColumnID)
	assert.Equal(t, []string{"backend"}, moved.Labels)
	assert.Equal(t, "b1-dev", testutil.GetCard(t, gdb, "card-1").ColumnID)

	_, err = repo.MoveCard(t.Context(), "card-1", "b2-dev")
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	_, err = repo.MoveCard(t.Context(), "card-1", "nowhere")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	_, err = repo.MoveCard(t.Context(), "missing", "b1-dev")
	assert.True(t, cerr.IsCode(err, cerr.NotFound))
	assert.Equal(t, "b1-dev", testutil.GetCard(t, gdb, "card-1").ColumnID)
}

func TestRequireMember(t *testing.T) {
	gdb := testutil.NewDB(t)
	repo := repositoryimpl.NewGormRepository(gdb)
	testutil.SeedPipeline(t, gdb, "b1", "alice")

	b, err := board.RequireMember(t.Context(), repo, "b1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "b1", b.ID)

	_, err = board.RequireMember(t.Context(), repo, "b1", "mallory")
	assert.True(t, cerr.IsCode(err, cerr.PermissionDenied))
}
