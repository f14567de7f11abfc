// Package services – UserService
//
// This file implements the user directory: registration of a username with
// its platform and device tokens, device updates, removal, and the lookup
// the dispatcher performs for every signal. Platform names are case-folded
// before validation so "iOS" and "ios" are the same platform.
//
// Service-level errors (ErrInvalidUser, ErrUserExists, ErrUserNotFound) are
// returned for predictable cases so handlers can map them to HTTP results
// consistently.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/repo"
)

// UserRepo defines the repository contract required by UserService.
type UserRepo interface {
	// CreateUser inserts a new user; a taken username yields repo.ErrDuplicate.
	CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error

	// GetUser fetches a user by username.
	GetUser(ctx context.Context, db *gorm.DB, username string) (*domain.User, error)

	// ListUsers returns every registered user.
	ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error)

	// ListUsersPage returns users ordered by username within offset/limit.
	ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error)

	// UsersStats returns the user count and latest UpdatedAt (nil when empty).
	UsersStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error)

	// UpdateUserDevice replaces platform and tokens; an empty iosToken keeps
	// the stored one.
	UpdateUserDevice(ctx context.Context, db *gorm.DB, username string, platform domain.Platform, fcmToken, iosToken string) error

	// DeleteUser removes a user.
	DeleteUser(ctx context.Context, db *gorm.DB, username string) error
}

// RegisterInput carries a new directory entry.
type RegisterInput struct {
	Username string
	Platform string
	FCMToken string
	IOSToken string
}

// DeviceInput carries a device update. Platform and FCMToken are required;
// IOSToken is optional.
type DeviceInput struct {
	Platform string
	FCMToken string
	IOSToken string
}

// UserService manages directory users.
type UserService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the user repository used by this service.
	Repo UserRepo
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB, r UserRepo) *UserService {
	return &UserService{DB: db, Repo: r}
}

// Register creates a user. Username and platform are required.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	platform, err := parsePlatform(in.Platform)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		Username: username,
		Platform: platform,
		FCMToken: strings.TrimSpace(in.FCMToken),
		IOSToken: strings.TrimSpace(in.IOSToken),
	}
	if err := s.Repo.CreateUser(ctx, s.DB, u); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, err
	}
	return u, nil
}

// Get returns a single user.
func (s *UserService) Get(ctx context.Context, username string) (*domain.User, error) {
	u, err := s.Repo.GetUser(ctx, s.DB, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// Lookup satisfies Directory for the dispatcher.
func (s *UserService) Lookup(ctx context.Context, username string) (*domain.User, error) {
	return s.Get(ctx, username)
}

// List returns all users ordered by username.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.Repo.ListUsers(ctx, s.DB)
}

// ListPage returns a page of users ordered by username together with the
// directory size. Invalid page/pageSize fall back to 1 and 20.
func (s *UserService) ListPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	total, _, err := s.Repo.UsersStats(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.User{}, 0, nil
	}

	items, err := s.Repo.ListUsersPage(ctx, s.DB, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Stats reports the directory size and its most recent change, for
// conditional listing.
func (s *UserService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return s.Repo.UsersStats(ctx, s.DB)
}

// UpdateDevice replaces a user's platform and tokens and returns the stored
// result.
func (s *UserService) UpdateDevice(ctx context.Context, username string, in DeviceInput) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	platform, err := parsePlatform(in.Platform)
	if err != nil {
		return nil, err
	}
	fcm := strings.TrimSpace(in.FCMToken)
	if fcm == "" {
		return nil, fmt.Errorf("%w: fcmDeviceToken is required", ErrInvalidUser)
	}

	if err := s.Repo.UpdateUserDevice(ctx, s.DB, username, platform, fcm, strings.TrimSpace(in.IOSToken)); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.Get(ctx, username)
}

// Delete removes a user.
func (s *UserService) Delete(ctx context.Context, username string) error {
	err := s.Repo.DeleteUser(ctx, s.DB, strings.TrimSpace(username))
	if errors.Is(err, repo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}

func parsePlatform(raw string) (domain.Platform, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: platform is required", ErrInvalidUser)
	}
	p := domain.Platform(cases.Fold().String(raw)) // Casers are stateful; one per call
	if !p.Valid() {
		return "", fmt.Errorf("%w: platform must be one of ios, android, web", ErrInvalidUser)
	}
	return p, nil
}
