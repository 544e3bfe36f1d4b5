package board

import "context"

type Repository interface {
	GetBoard(ctx context.Context, id string) (*Board, error)
	ListBoards(ctx context.Context) ([]*Board, error)
	ListBoardsForMember(ctx context.Context, userID string) ([]*Board, error)
	SaveBoard(ctx context.Context, b *Board) error

	GetColumn(ctx context.Context, id string) (*Column, error)
	// ListColumns returns the board's columns ordered by position.
	ListColumns(ctx context.Context, boardID string) ([]*Column, error)
	SaveColumn(ctx context.Context, c *Column) error

	GetCard(ctx context.Context, id string) (*Card, error)
	CreateCard(ctx context.Context, c *Card) error
	// MoveCard sets the card's column and returns the updated card.
	MoveCard(ctx context.Context, cardID, toColumnID string) (*Card, error)
}
