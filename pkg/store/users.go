package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, username, password_hash, role, created_at`

// ErrInvalidCredentials is returned when a username/password pair does not
// match a stored account.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CreateUser creates an account with a bcrypt-hashed password. The first
// account created becomes the admin.
func (s *Store) CreateUser(ctx context.Context, username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	role := RoleUser
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	if count == 0 {
		role = RoleAdmin
	}

	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, u.Role, formatTime(u.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	return u, nil
}

// Authenticate verifies a username/password pair and returns the account.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.GetUserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// ChangePassword verifies the old password and stores a hash of the new one.
func (s *Store) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ?`, string(hash), userID,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return nil
}

// GetUser returns a user by id, or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

// GetUserByUsername returns a user by username, or ErrNotFound.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username,
	)
	return scanUser(row)
}

// ListUsers returns a page of users, newest first, plus the total count.
func (s *Store) ListUsers(ctx context.Context, page, pageSize int) ([]User, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		pageSize, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, *u)
	}
	return users, total, rows.Err()
}

// DeleteUser deletes an account.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInviteCode registers an invite code.
func (s *Store) CreateInviteCode(ctx context.Context, code, createdBy string, maxUses int, expiresAt *time.Time) (*InviteCode, error) {
	ic := &InviteCode{
		ID:        uuid.NewString(),
		Code:      code,
		CreatedBy: createdBy,
		MaxUses:   maxUses,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}

	var creator any
	if createdBy != "" {
		creator = createdBy
	}
	var expires any
	if expiresAt != nil {
		expires = formatTime(*expiresAt)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invite_codes (id, code, created_by, max_uses, use_count, expires_at, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?)`,
		ic.ID, ic.Code, creator, ic.MaxUses, expires, formatTime(ic.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting invite code: %w", err)
	}

	return ic, nil
}

// GetInviteCode returns an invite code by its code string, or ErrNotFound.
func (s *Store) GetInviteCode(ctx context.Context, code string) (*InviteCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, code, created_by, max_uses, use_count, expires_at, created_at
		 FROM invite_codes WHERE code = ?`,
		code,
	)

	var ic InviteCode
	var createdBy, expiresAt sql.NullString
	var createdAt string
	err := row.Scan(&ic.ID, &ic.Code, &createdBy, &ic.MaxUses, &ic.UseCount, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying invite code: %w", err)
	}

	if createdBy.Valid {
		ic.CreatedBy = createdBy.String
	}
	ic.ExpiresAt = parseNullTime(expiresAt)
	ic.CreatedAt = parseTime(createdAt)

	return &ic, nil
}

// ValidInviteCode reports whether a code exists, has uses left, and is not
// expired.
func (s *Store) ValidInviteCode(ctx context.Context, code string) (bool, error) {
	ic, err := s.GetInviteCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if ic.UseCount >= ic.MaxUses {
		return false, nil
	}
	if ic.ExpiresAt != nil && time.Now().After(*ic.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

// UseInviteCode bumps a code's use counter.
func (s *Store) UseInviteCode(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invite_codes SET use_count = use_count + 1 WHERE code = ?`, code,
	)
	if err != nil {
		return fmt.Errorf("using invite code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInviteCodes returns all invite codes, newest first.
func (s *Store) ListInviteCodes(ctx context.Context) ([]InviteCode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, created_by, max_uses, use_count, expires_at, created_at
		 FROM invite_codes ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying invite codes: %w", err)
	}
	defer rows.Close()

	var codes []InviteCode
	for rows.Next() {
		var ic InviteCode
		var createdBy, expiresAt sql.NullString
		var createdAt string
		if err := rows.Scan(&ic.ID, &ic.Code, &createdBy, &ic.MaxUses, &ic.UseCount, &expiresAt, &createdAt); err != nil {
			return nil, err
		}
		if createdBy.Valid {
			ic.CreatedBy = createdBy.String
		}
		ic.ExpiresAt = parseNullTime(expiresAt)
		ic.CreatedAt = parseTime(createdAt)
		codes = append(codes, ic)
	}
	return codes, rows.Err()
}

// DeleteInviteCode deletes an invite code by id.
func (s *Store) DeleteInviteCode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invite_codes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting invite code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var createdAt string

	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}
