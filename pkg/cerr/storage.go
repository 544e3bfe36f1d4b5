package cerr

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kazz187/cardflow/pkg/storage"
)

func WrapStorageReadError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to read %s: %w", target, err))
}

func WrapStorageWriteError(target string, err error) error {
	return NewError(Internal, "server error", fmt.Errorf("failed to write %s: %w", target, err))
}

func WrapStorageDeleteError(target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to delete %s: %w", target, err))
}

// WrapDBError converts a gorm error. Errors that already carry a Code pass
// through unchanged so repositories can return them from transactions.
func WrapDBError(target string, err error) error {
	var cErr *Error
	if errors.As(err, &cErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewError(NotFound, fmt.Sprintf("%s not found", target), err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return NewError(AlreadyExists, fmt.Sprintf("%s already exists", target), err)
	}
	return NewError(Internal, "server error", fmt.Errorf("database error on %s: %w", target, err))
}
