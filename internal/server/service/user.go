package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"vault/internal/server/metadata"
	"vault/internal/server/quota"
)

var validate = validator.New()

// RegisterInput is a new account request.
type RegisterInput struct {
	Username string `validate:"required,min=3,max=50,alphanum"`
	Email    string `validate:"required,email,max=255"`
	Password string `validate:"required,min=8,max=72"`
}

// UserService manages accounts and their storage usage.
type UserService struct {
	store        metadata.Store
	tracker      *quota.Tracker
	defaultQuota int64
	audit        auditor
	logger       *slog.Logger
}

// NewUserService creates a user service. New accounts get defaultQuota bytes.
func NewUserService(store metadata.Store, tracker *quota.Tracker, defaultQuota int64, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "users")
	return &UserService{
		store:        store,
		tracker:      tracker,
		defaultQuota: defaultQuota,
		audit:        auditor{store: store, logger: logger},
		logger:       logger,
	}
}

// Register creates an active account with the default quota.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*metadata.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	u := &metadata.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		StorageQuota: s.defaultQuota,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, metadata.ErrConflict) {
			return nil, fmt.Errorf("%w: username or email", ErrDuplicateName)
		}
		return nil, storeErr(err, "user")
	}

	s.audit.record(ctx, u.ID, &u.ID, metadata.RegisterDetails{Username: u.Username, Email: u.Email}, "")
	s.logger.Info("user registered", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// Login checks a username/password pair. Every mismatch, including an
// unknown or inactive user, is ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, username, password string) (*metadata.User, error) {
	u, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, storeErr(err, "user")
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	s.audit.record(ctx, u.ID, &u.ID, metadata.LoginDetails{Method: "password"}, "")
	return u, nil
}

// Get returns an account.
func (s *UserService) Get(ctx context.Context, userID string) (*metadata.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	return u, storeErr(err, "user")
}

// Exists reports whether userID names an active account.
func (s *UserService) Exists(ctx context.Context, userID string) (bool, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, metadata.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err, "user")
	}
	return u.IsActive, nil
}

// Usage reports the user's storage ledger.
func (s *UserService) Usage(ctx context.Context, userID string) (*quota.Usage, error) {
	u, err := s.tracker.Usage(ctx, userID)
	return u, storeErr(err, "user")
}

// RecomputeUsage rebuilds the user's usage from their active files.
func (s *UserService) RecomputeUsage(ctx context.Context, userID string) (*quota.Usage, error) {
	if _, err := s.tracker.Recompute(ctx, userID); err != nil {
		return nil, storeErr(err, "user")
	}
	return s.Usage(ctx, userID)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%w: %s failed on '%s'", ErrValidation, strings.ToLower(e.Field()), e.Tag())
	}
	return fmt.Errorf("%w: %v", ErrValidation, err)
}
