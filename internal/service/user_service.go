package service

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowtrack/be-sales-approvals/internal/errors"
	"github.com/flowtrack/be-sales-approvals/internal/logger"
	"github.com/flowtrack/be-sales-approvals/internal/store"
)

// UserService handles account CRUD (admin-only at the API layer), login
// checks and the cosmetic role-label mapping. None of this carries workflow
// semantics; the engine never consults it.
type UserService struct {
	store store.Store
	log   *logger.Logger
}

// NewUserService creates a new UserService.
func NewUserService(st store.Store, log *logger.Logger) *UserService {
	return &UserService{store: st, log: log}
}

// Authenticate matches a username and password against the user table.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.New(errors.CodeUnauthorized, "invalid username or password")
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, errors.New(errors.CodeUnauthorized, "invalid username or password")
	}
	return user, nil
}

// ListUsers returns all accounts.
func (s *UserService) ListUsers(ctx context.Context) ([]*store.User, error) {
	return s.store.ListUsers(ctx)
}

// SaveUserInput carries account fields for create or update. Password is
// required on create; leaving it empty on update keeps the current hash.
type SaveUserInput struct {
	ID       string
	Name     string
	Username string
	Password string
	Role     store.Role
}

// SaveUser creates or updates an account. Deleting a user never retroactively
// alters past requests: requests reference the creator by a denormalized name.
func (s *UserService) SaveUser(ctx context.Context, in SaveUserInput) (*store.User, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, errors.InvalidInput("name", "must not be empty")
	}
	if strings.TrimSpace(in.Username) == "" {
		return nil, errors.InvalidInput("username", "must not be empty")
	}
	if !in.Role.Valid() {
		return nil, errors.InvalidInput("role", "unknown role")
	}

	user := &store.User{
		ID:       in.ID,
		Name:     in.Name,
		Username: in.Username,
		Role:     in.Role,
	}

	if user.ID == "" {
		if in.Password == "" {
			return nil, errors.InvalidInput("password", "required for a new user")
		}
		user.ID = uuid.NewString()
	} else {
		existing, err := s.store.GetUser(ctx, user.ID)
		if err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return nil, errors.NotFound("user", user.ID)
			}
			return nil, err
		}
		user.PasswordHash = existing.PasswordHash
	}

	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to hash password")
		}
		user.PasswordHash = string(hash)
	}

	if err := s.store.PutUser(ctx, user); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to save user")
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Str("role", string(user.Role)).
		Msg("User saved")

	return user, nil
}

// DeleteUser removes an account.
func (s *UserService) DeleteUser(ctx context.Context, id string) error {
	if err := s.store.DeleteUser(ctx, id); err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.NotFound("user", id)
		}
		return err
	}

	s.log.Info().Str("user_id", id).Msg("User deleted")
	return nil
}

// RoleLabels returns the display-name mapping.
func (s *UserService) RoleLabels(ctx context.Context) (store.RoleLabels, error) {
	return s.store.GetRoleLabels(ctx)
}

// UpdateRoleLabels replaces the display-name mapping. Labels are cosmetic;
// unknown roles are rejected, empty labels are not.
func (s *UserService) UpdateRoleLabels(ctx context.Context, labels store.RoleLabels) error {
	for role := range labels {
		if !role.Valid() {
			return errors.InvalidInput("role", "unknown role "+string(role))
		}
	}
	if err := s.store.PutRoleLabels(ctx, labels); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to save role labels")
	}

	s.log.Info().Int("labels", len(labels)).Msg("Role labels updated")
	return nil
}
