package repositoryimpl

import (
	"context"

	"gorm.io/gorm"

	"github.com/kazz187/cardflow/internal/board"
	"github.com/kazz187/cardflow/pkg/cerr"
)

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Models lists the tables owned by this repository for migration.
func Models() []any {
	return []any{&board.Board{}, &board.Column{}, &board.Card{}}
}

func (r *GormRepository) GetBoard(ctx context.Context, id string) (*board.Board, error) {
	var b board.Board
	if err := r.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, cerr.WrapDBError("board", err)
	}
	return &b, nil
}

func (r *GormRepository) ListBoards(ctx context.Context) ([]*board.Board, error) {
	var boards []*board.Board
	if err := r.db.WithContext(ctx).Order("id").Find(&boards).Error; err != nil {
		return nil, cerr.WrapDBError("boards", err)
	}
	return boards, nil
}

// ListBoardsForMember filters in memory: membership is a JSON column and
// the board count stays small.
func (r *GormRepository) ListBoardsForMember(ctx context.Context, userID string) ([]*board.Board, error) {
	all, err := r.ListBoards(ctx)
	if err != nil {
		return nil, err
	}
	var boards []*board.Board
	for _, b := range all {
		if b.IsMember(userID) {
			boards = append(boards, b)
		}
	}
	return boards, nil
}

func (r *GormRepository) SaveBoard(ctx context.Context, b *board.Board) error {
	if err := r.db.WithContext(ctx).Save(b).Error; err != nil {
		return cerr.WrapDBError("board", err)
	}
	return nil
}

func (r *GormRepository) GetColumn(ctx context.Context, id string) (*board.Column, error) {
	var c board.Column
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, cerr.WrapDBError("column", err)
	}
	return &c, nil
}

func (r *GormRepository) ListColumns(ctx context.Context, boardID string) ([]*board.Column, error) {
	var columns []*board.Column
	err := r.db.WithContext(ctx).
		Where("board_id = ?", boardID).
		Order("position ASC").Order("id ASC").
		Find(&columns).Error
	if err != nil {
		return nil, cerr.WrapDBError("columns", err)
	}
	return columns, nil
}

func (r *GormRepository) SaveColumn(ctx context.Context, c *board.Column) error {
	if err := r.db.WithContext(ctx).Save(c).Error; err != nil {
		return cerr.WrapDBError("column", err)
	}
	return nil
}

func (r *GormRepository) GetCard(ctx context.Context, id string) (*board.Card, error) {
	var c board.Card
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, cerr.WrapDBError("card", err)
	}
	return &c, nil
}

func (r *GormRepository) CreateCard(ctx context.Context, c *board.Card) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		return cerr.WrapDBError("card", err)
	}
	return nil
}

func (r *GormRepository) MoveCard(ctx context.Context, cardID, toColumnID string) (*board.Card, error) {
	var card board.Card
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var col board.Column
		if err := tx.First(&col, "id = ?", toColumnID).Error; err != nil {
			return cerr.WrapDBError("column", err)
		}
		if err := tx.First(&card, "id = ?", cardID).Error; err != nil {
			return cerr.WrapDBError("card", err)
		}
		if col.BoardID != card.BoardID {
			return board.ErrColumnNotOnBoard(toColumnID, card.BoardID)
		}
		if err := tx.Model(&card).Update("column_id", toColumnID).Error; err != nil {
			return cerr.WrapDBError("card", err)
		}
		card.ColumnID = toColumnID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}
