package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type UsersStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	Get(ctx context.Context, userID int64) (*User, error)
	List(ctx context.Context) ([]User, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, user *User) (int64, error)
	Update(ctx context.Context, user *User) error
	UpdatePassword(ctx context.Context, userID int64, hash, salt string, requireChange bool) error
	SetTOTP(ctx context.Context, userID int64, secretEnc string, enabled bool) error
	Delete(ctx context.Context, userID int64) error
}

type usersStore struct {
	db *sql.DB
}

func NewUsersStore(db *sql.DB) UsersStore {
	return &usersStore{db: db}
}

const userColumns = `id, username, email, password_hash, salt, role, acl_template_id, perms_json, totp_secret, totp_enabled, require_password_change, created_at, updated_at`

func (s *usersStore) FindByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username=?`, username)
	return scanUser(row)
}

func (s *usersStore) Get(ctx context.Context, userID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, userID)
	return scanUser(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := User{}
	var templateID sql.NullInt64
	var perms sql.NullString
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Salt, &u.Role,
		&templateID, &perms, &u.TOTPSecret, &u.TOTPEnabled,
		&u.RequirePasswordChange, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.ACLTemplateID = idFromNull(templateID)
	if perms.Valid && perms.String != "" {
		u.PermsJSON = json.RawMessage(perms.String)
	}
	return &u, nil
}

func (s *usersStore) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *usersStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&n)
	return n, err
}

func (s *usersStore) Create(ctx context.Context, user *User) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users(username, email, password_hash, salt, role, acl_template_id, perms_json, totp_secret, totp_enabled, require_password_change, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		user.Username, user.Email, user.PasswordHash, user.Salt, user.Role,
		nullableID(user.ACLTemplateID), nullableJSON(user.PermsJSON),
		user.TOTPSecret, boolToInt(user.TOTPEnabled), boolToInt(user.RequirePasswordChange),
		now, now)
	if err != nil {
		return 0, wrapWriteError(err)
	}
	return res.LastInsertId()
}

// Update rewrites the administrator-editable fields: email, role, template
// reference and the custom permission override.
func (s *usersStore) Update(ctx context.Context, user *User) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET email=?, role=?, acl_template_id=?, perms_json=?, updated_at=?
		WHERE id=?`,
		user.Email, user.Role, nullableID(user.ACLTemplateID), nullableJSON(user.PermsJSON),
		time.Now().UTC(), user.ID)
	if err != nil {
		return wrapWriteError(err)
	}
	return requireRow(res)
}

func (s *usersStore) UpdatePassword(ctx context.Context, userID int64, hash, salt string, requireChange bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=?, salt=?, require_password_change=?, updated_at=?
		WHERE id=?`,
		hash, salt, boolToInt(requireChange), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *usersStore) SetTOTP(ctx context.Context, userID int64, secretEnc string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET totp_secret=?, totp_enabled=?, updated_at=?
		WHERE id=?`,
		secretEnc, boolToInt(enabled), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *usersStore) Delete(ctx context.Context, userID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id=?`, userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
