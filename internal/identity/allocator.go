package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/a-essam23/chirp-relay/internal/store"
	"github.com/a-essam23/chirp-relay/pkg/state"
)

// MaxUserID is the largest id the allocator hands out. Ids start at 1.
const MaxUserID = 2_147_483_647

// Store is the part of the user repository the allocator needs.
type Store interface {
	Exists(ctx context.Context, id state.UserID) (bool, error)
	Insert(ctx context.Context, user *store.User) error
}

type Allocator struct {
	store  Store
	draw   func() state.UserID
	logger *slog.Logger
}

type Option func(*Allocator)

// WithDraw replaces the random source. Tests use it to force collisions.
func WithDraw(draw func() state.UserID) Option {
	return func(a *Allocator) { a.draw = draw }
}

func NewAllocator(s Store, logger *slog.Logger, opts ...Option) *Allocator {
	a := &Allocator{
		store:  s,
		draw:   randomID,
		logger: logger.With(slog.String("component", "identity_allocator")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func randomID() state.UserID {
	return state.UserID(rand.Int63n(MaxUserID) + 1)
}

// Allocate returns an id with no record in the store. It does not reserve it.
func (a *Allocator) Allocate(ctx context.Context) (state.UserID, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		id := a.draw()
		exists, err := a.store.Exists(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("check user id %d: %w", id, err)
		}
		if !exists {
			return id, nil
		}
		a.logger.Info("Generated user ID already exist. Creating a new ID", slog.Any("userID", id))
	}
}

// Create allocates an id and persists the record built for it. A duplicate
// insert means another allocation won the same id in between; draw again.
func (a *Allocator) Create(ctx context.Context, build func(id state.UserID) *store.User) (*store.User, error) {
	for {
		id, err := a.Allocate(ctx)
		if err != nil {
			return nil, err
		}
		user := build(id)
		user.ID = id
		err = a.store.Insert(ctx, user)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("insert user %d: %w", id, err)
		}
		a.logger.Info("User ID taken by a concurrent allocation, retrying", slog.Any("userID", id))
	}
}
