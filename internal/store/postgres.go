package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/flowtrack/be-sales-approvals/internal/database"
)

// PostgresStore is the durable Store backend. Each logical table holds one
// JSONB document per record keyed by id; requests additionally carry a
// version column used for compare-and-swap updates.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// EnsureSchema creates the backing tables when they do not exist yet.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sales_requests (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			version    BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			id       TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			doc      JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS role_labels (
			id  INT PRIMARY KEY DEFAULT 1,
			doc JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			recipient  TEXT NOT NULL,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient
			ON notifications (recipient, created_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ── Requests ─────────────────────────────────────────────────────────────────

func (p *PostgresStore) ListRequests(ctx context.Context) ([]*SalesRequest, error) {
	query := `
		SELECT doc, version
		FROM sales_requests
		ORDER BY created_at DESC
	`
	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SalesRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (*SalesRequest, error) {
	query := `SELECT doc, version FROM sales_requests WHERE id = $1`

	req, err := scanRequest(p.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (p *PostgresStore) InsertRequest(ctx context.Context, req *SalesRequest) error {
	doc, err := json.Marshal(req)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sales_requests (id, doc, version, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = p.db.Exec(ctx, query, req.ID, doc, req.Version, req.CreatedAt)
	return err
}

// UpdateRequest swaps the document only when the stored version matches the
// caller's copy, closing the read-modify-write race window.
func (p *PostgresStore) UpdateRequest(ctx context.Context, req *SalesRequest) error {
	doc, err := json.Marshal(req)
	if err != nil {
		return err
	}

	query := `
		UPDATE sales_requests
		SET doc = $2, version = version + 1
		WHERE id = $1 AND version = $3
		RETURNING version
	`
	err = p.db.QueryRow(ctx, query, req.ID, doc, req.Version).Scan(&req.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		// Missing row and stale version both return no rows; disambiguate.
		var exists bool
		checkErr := p.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM sales_requests WHERE id = $1)`, req.ID).Scan(&exists)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return err
}

func (p *PostgresStore) DeleteRequest(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM sales_requests WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type docScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row docScanner) (*SalesRequest, error) {
	var doc []byte
	var version int64
	if err := row.Scan(&doc, &version); err != nil {
		return nil, err
	}
	req := &SalesRequest{}
	if err := json.Unmarshal(doc, req); err != nil {
		return nil, err
	}
	req.Version = version
	return req, nil
}

// ── Users ────────────────────────────────────────────────────────────────────

// userDoc carries the bcrypt hash, which User itself never serializes.
type userDoc struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Role         Role   `json:"role"`
}

func toUserDoc(u *User) userDoc {
	return userDoc{ID: u.ID, Name: u.Name, Username: u.Username, PasswordHash: u.PasswordHash, Role: u.Role}
}

func (d userDoc) user() *User {
	return &User{ID: d.ID, Name: d.Name, Username: d.Username, PasswordHash: d.PasswordHash, Role: d.Role}
}

func (p *PostgresStore) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := p.db.Query(ctx, `SELECT doc FROM app_users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(p.db.QueryRow(ctx, `SELECT doc FROM app_users WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(p.db.QueryRow(ctx, `SELECT doc FROM app_users WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (p *PostgresStore) PutUser(ctx context.Context, user *User) error {
	doc, err := json.Marshal(toUserDoc(user))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO app_users (id, username, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET username = $2, doc = $3
	`
	_, err = p.db.Exec(ctx, query, user.ID, user.Username, doc)
	return err
}

func (p *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM app_users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row docScanner) (*User, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return nil, err
	}
	var d userDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, err
	}
	return d.user(), nil
}

// ── Role labels ──────────────────────────────────────────────────────────────

func (p *PostgresStore) GetRoleLabels(ctx context.Context) (RoleLabels, error) {
	var doc []byte
	err := p.db.QueryRow(ctx, `SELECT doc FROM role_labels WHERE id = 1`).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return RoleLabels{}, nil
	}
	if err != nil {
		return nil, err
	}
	var labels RoleLabels
	if err := json.Unmarshal(doc, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func (p *PostgresStore) PutRoleLabels(ctx context.Context, labels RoleLabels) error {
	doc, err := json.Marshal(labels)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO role_labels (id, doc)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET doc = $1
	`
	_, err = p.db.Exec(ctx, query, doc)
	return err
}

// ── Notifications ────────────────────────────────────────────────────────────

func (p *PostgresStore) ListNotificationsFor(ctx context.Context, recipient string) ([]*Notification, error) {
	query := `
		SELECT doc
		FROM notifications
		WHERE recipient = $1
		ORDER BY created_at DESC
	`
	rows, err := p.db.Query(ctx, query, recipient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetNotification(ctx context.Context, id string) (*Notification, error) {
	n, err := scanNotification(p.db.QueryRow(ctx, `SELECT doc FROM notifications WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (p *PostgresStore) InsertNotification(ctx context.Context, n *Notification) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (id, recipient, doc, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err = p.db.Exec(ctx, query, n.ID, n.Recipient, doc, n.Timestamp)
	return err
}

func (p *PostgresStore) UpdateNotification(ctx context.Context, n *Notification) error {
	doc, err := json.Marshal(n)
	if err != nil {
		return err
	}

	tag, err := p.db.Exec(ctx, `UPDATE notifications SET doc = $2 WHERE id = $1`, n.ID, doc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(row docScanner) (*Notification, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		return nil, err
	}
	n := &Notification{}
	if err := json.Unmarshal(doc, n); err != nil {
		return nil, err
	}
	return n, nil
}
