package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/chatline/internal/common"
	"github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts user and fills its ID and CreatedAt. A username collision
// returns common.ErrAlreadyExists.
func (r *SQLiteRepository) Create(ctx context.Context, user *User) (*User, error) {
	query := `INSERT INTO users (username, password, name, created_at) VALUES (?, ?, ?, ?)`

	createdAt := r.now().UTC()
	res, err := r.db.ExecContext(ctx, query, user.Username, user.PasswordHash, user.Name, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("error reading inserted id: %w", err)
	}

	user.ID = id
	user.CreatedAt = createdAt
	return user, nil
}

func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT id, username, password, name, avatar, created_at FROM users WHERE username = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	query := `SELECT id, username, password, name, avatar, created_at FROM users WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) SetAvatar(ctx context.Context, id int64, reference string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET avatar = ? WHERE id = ?`, reference, id)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) scanOne(row *sql.Row) (*User, error) {
	user := &User{}
	var name, avatar sql.NullString

	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &name, &avatar, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}

	user.Name = name.String
	if avatar.Valid {
		user.Avatar = &avatar.String
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
