package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/quantrail/trade-gateway/internal/model"
)

// UserRepo reads and writes the 'users' table. Usernames are trimmed but
// never case-folded; uniqueness is case-sensitive by schema.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,username,email,password_hash,is_admin,is_active,created_at,updated_at"

// Create inserts a user with a pre-hashed password and returns its ID.
func (r *UserRepo) Create(ctx context.Context, username, email, passwordHash string) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash) VALUES (?,?,?)",
		strings.TrimSpace(username), strings.TrimSpace(email), passwordHash)
	if err != nil {
		// MySQL 1062 = duplicate entry for a unique key.
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrUsernameExists
		}
		return 0, wrapStoreErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, wrapStoreErr(err)
	}
	return uint64(id), nil
}

// GetByUsername fetches a user by exact username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username=? LIMIT 1",
		strings.TrimSpace(username)))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// SetAdmin flips the administrative flag. Takes effect on the very next
// request: the admin gate reads this column, not the token claim.
func (r *UserRepo) SetAdmin(ctx context.Context, id uint64, isAdmin bool) error {
	return r.exec(ctx, "UPDATE users SET is_admin=? WHERE id=?", isAdmin, id)
}

// SetActive enables or disables an account. Rows are never deleted.
func (r *UserRepo) SetActive(ctx context.Context, id uint64, isActive bool) error {
	return r.exec(ctx, "UPDATE users SET is_active=? WHERE id=?", isActive, id)
}

// UpdatePassword stores a new bcrypt hash for the user.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uint64, passwordHash string) error {
	return r.exec(ctx, "UPDATE users SET password_hash=? WHERE id=?", passwordHash, id)
}

// List returns users ordered by id, for the admin console.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]model.User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
			&u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, wrapStoreErr(err)
		}
		users = append(users, u)
	}
	return users, wrapStoreErr(rows.Err())
}

func (r *UserRepo) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.DB.ExecContext(ctx, query, args...)
	return wrapStoreErr(err)
}

func (r *UserRepo) scanOne(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash,
		&u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, err
	}
	return u, wrapStoreErr(err)
}
