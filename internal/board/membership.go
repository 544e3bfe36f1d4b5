package board

import (
	"context"
	"fmt"

	"github.com/kazz187/cardflow/pkg/cerr"
)

// RequireMember loads the board and checks userID belongs to it.
func RequireMember(ctx context.Context, repo Repository, boardID, userID string) (*Board, error) {
	b, err := repo.GetBoard(ctx, boardID)
	if err != nil {
		return nil, err
	}
	if !b.IsMember(userID) {
		return nil, cerr.NewError(cerr.PermissionDenied, "not a member of this board", nil)
	}
	return b, nil
}

func ErrColumnNotOnBoard(columnID, boardID string) error {
	return cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("column %s is not on board %s", columnID, boardID), nil)
}
