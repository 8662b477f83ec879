package store

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrVersionConflict is returned by UpdateRequest when the record was
// modified by a concurrent writer since the caller read it.
var ErrVersionConflict = errors.New("store: version conflict")

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract: four independent logical tables with
// no cross-table foreign-key enforcement. Implementations must make each
// single-record write atomic with respect to concurrent callers.
type Store interface {
	// Requests. ListRequests returns newest-first by creation time.
	// UpdateRequest performs a compare-and-swap on req.Version and
	// increments it on success; ErrVersionConflict signals a lost race.
	ListRequests(ctx context.Context) ([]*SalesRequest, error)
	GetRequest(ctx context.Context, id string) (*SalesRequest, error)
	InsertRequest(ctx context.Context, req *SalesRequest) error
	UpdateRequest(ctx context.Context, req *SalesRequest) error
	DeleteRequest(ctx context.Context, id string) error

	// Users.
	ListUsers(ctx context.Context) ([]*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	PutUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, id string) error

	// Role display labels (cosmetic only).
	GetRoleLabels(ctx context.Context) (RoleLabels, error)
	PutRoleLabels(ctx context.Context, labels RoleLabels) error

	// Notifications. ListNotificationsFor returns newest-first.
	ListNotificationsFor(ctx context.Context, recipient string) ([]*Notification, error)
	GetNotification(ctx context.Context, id string) (*Notification, error)
	InsertNotification(ctx context.Context, n *Notification) error
	UpdateNotification(ctx context.Context, n *Notification) error
}

// defaultSeedPassword is the password for seeded demo accounts.
const defaultSeedPassword = "password123"

// Seed installs the five default accounts (one per role) when the user
// table is empty, and the default role-label mapping when none is stored.
func Seed(ctx context.Context, s Store) error {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		hash, err := bcrypt.GenerateFromPassword([]byte(defaultSeedPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		defaults := []*User{
			{ID: "1", Name: "System Admin", Username: "admin", PasswordHash: string(hash), Role: RoleAdmin},
			{ID: "2", Name: "John Sales", Username: "john", PasswordHash: string(hash), Role: RoleSalesperson},
			{ID: "3", Name: "Sarah Manager", Username: "sarah", PasswordHash: string(hash), Role: RoleApproverL1},
			{ID: "4", Name: "Mike VP", Username: "mike", PasswordHash: string(hash), Role: RoleApproverL2},
			{ID: "5", Name: "David Director", Username: "david", PasswordHash: string(hash), Role: RoleApproverL3},
		}
		for _, u := range defaults {
			if err := s.PutUser(ctx, u); err != nil {
				return err
			}
		}
	}

	labels, err := s.GetRoleLabels(ctx)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		if err := s.PutRoleLabels(ctx, DefaultRoleLabels()); err != nil {
			return err
		}
	}
	return nil
}
