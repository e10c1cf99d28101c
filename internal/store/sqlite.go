package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/a-essam23/chirp-relay/pkg/state"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type userRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	Name      string
	ImageLink *string
}

func (userRow) TableName() string { return "users" }

// SQLite is a gorm-backed Repository.
type SQLite struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ Repository = (*SQLite)(nil)

func NewSQLite(dsn string, log *slog.Logger) (*SQLite, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}

	// SQLite allows a single writer; serialize at the pool instead of
	// surfacing "database is locked" to the store workers.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &SQLite{db: db, logger: log.With(slog.String("component", "store_sqlite"))}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	s.logger.Info("Going to start database migrations")
	if err := s.db.AutoMigrate(&userRow{}); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

func (s *SQLite) Find(ctx context.Context, id state.UserID) (*User, error) {
	var row userRow
	result := s.db.WithContext(ctx).Where("id = ?", uint64(id)).Limit(1).Find(&row)
	if result.Error != nil {
		s.logger.Error("Cannot retrieve user from the DB", slog.Any("userID", id), slog.Any("error", result.Error))
		return nil, fmt.Errorf("%w: %w", ErrQuery, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return &User{ID: state.UserID(row.ID), Name: row.Name, ImageLink: row.ImageLink}, nil
}

func (s *SQLite) Exists(ctx context.Context, id state.UserID) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", uint64(id)).Count(&count).Error; err != nil {
		return false, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	return count > 0, nil
}

func (s *SQLite) Insert(ctx context.Context, user *User) error {
	row := userRow{ID: uint64(user.ID), Name: user.Name, ImageLink: user.ImageLink}
	result := s.db.WithContext(ctx).Create(&row)
	if result.Error == nil {
		return nil
	}
	if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	// Not every driver build translates constraint errors; fall back to a lookup.
	if exists, err := s.Exists(ctx, user.ID); err == nil && exists {
		return ErrDuplicate
	}
	s.logger.Error("Cannot create new user", slog.Any("userID", user.ID), slog.Any("error", result.Error))
	return fmt.Errorf("%w: %w", ErrCreationFailed, result.Error)
}

func (s *SQLite) UpdateName(ctx context.Context, id state.UserID, name string) error {
	return s.update(ctx, id, "name", name)
}

func (s *SQLite) UpdateImage(ctx context.Context, id state.UserID, link string) error {
	return s.update(ctx, id, "image_link", link)
}

func (s *SQLite) update(ctx context.Context, id state.UserID, column string, value any) error {
	result := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", uint64(id)).Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpdateFailed, column, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
