package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/chirp-relay/pkg/config"
	"github.com/a-essam23/chirp-relay/pkg/state"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicate      = errors.New("record already exists")
	ErrQuery          = errors.New("failed to select")
	ErrCreationFailed = errors.New("failed to insert new row")
	ErrUpdateFailed   = errors.New("failed to update row")
)

// User is the persisted profile of a chat participant.
type User struct {
	ID        state.UserID
	Name      string
	ImageLink *string
}

// Repository is the persistent user-profile store. Records are never deleted.
type Repository interface {
	Find(ctx context.Context, id state.UserID) (*User, error)
	Exists(ctx context.Context, id state.UserID) (bool, error)
	// Insert fails with ErrDuplicate when a record with the same id exists.
	Insert(ctx context.Context, user *User) error
	UpdateName(ctx context.Context, id state.UserID, name string) error
	UpdateImage(ctx context.Context, id state.UserID, link string) error
	Close() error
}

// Open builds the repository selected by cfg.Driver.
func Open(cfg config.StoreConfig, logger *slog.Logger) (Repository, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory user store; profiles are lost on restart")
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
