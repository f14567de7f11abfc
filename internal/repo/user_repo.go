// Package repo implements the data persistence layer for the user directory,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no business logic, only CRUD persistence.
//
// Error semantics:
//   - When a user is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - Inserting an existing username returns ErrDuplicate.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-call-relay/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that a user with the same username already exists.
var ErrDuplicate = errors.New("duplicate")

// CreateUser inserts u and returns ErrDuplicate on a primary key collision.
func CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	if err := db.WithContext(ctx).Create(u).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetUser fetches a single user by username, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Where("username = ?", username).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every registered user ordered by username.
func ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Order("username asc").
		Find(&out).Error
	return out, err
}

// ListUsersPage returns a slice of the directory ordered by username. The
// caller computes offset and limit (e.g. (page-1)*pageSize).
func ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	var out []domain.User
	err := db.WithContext(ctx).
		Order("username asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateUserDevice overwrites platform and device tokens for username. An
// empty iosToken leaves the stored iOS token untouched. Returns ErrNotFound
// when no row matched.
func UpdateUserDevice(ctx context.Context, db *gorm.DB, username string, platform domain.Platform, fcmToken, iosToken string) error {
	fields := map[string]any{
		"platform":  platform,
		"fcm_token": fcmToken,
	}
	if iosToken != "" {
		fields["ios_token"] = iosToken
	}
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("username = ?", username).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes username. Returns ErrNotFound when no row matched.
func DeleteUser(ctx context.Context, db *gorm.DB, username string) error {
	res := db.WithContext(ctx).
		Where("username = ?", username).
		Delete(&domain.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
