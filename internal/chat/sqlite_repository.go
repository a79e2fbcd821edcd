package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/chatline/internal/common"
)

const (
	selectMessages = `SELECT m.id, m.user_id, m.text, m.img, m.created_at, u.username, u.name, u.avatar
	FROM messages m LEFT JOIN users u ON u.id = m.user_id`

	selectStatuses = `SELECT s.id, s.user_id, s.img, s.created_at, u.username, u.name, u.avatar
	FROM statuses s LEFT JOIN users u ON u.id = s.user_id`
)

type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) AppendMessage(ctx context.Context, authorID int64, text string, img *string) (*Message, error) {
	query := `INSERT INTO messages (user_id, text, img, created_at) VALUES (?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query, authorID, text, img, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("error inserting message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("error reading inserted id: %w", err)
	}

	msg, err := scanMessage(r.db.QueryRowContext(ctx, selectMessages+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *SQLiteRepository) ListMessages(ctx context.Context) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, selectMessages+` ORDER BY m.created_at ASC, m.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error listing messages: %w", err)
	}

	return messages, nil
}

func (r *SQLiteRepository) AppendStatus(ctx context.Context, authorID int64, img string) (*Status, error) {
	query := `INSERT INTO statuses (user_id, img, created_at) VALUES (?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query, authorID, img, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("error inserting status: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("error reading inserted id: %w", err)
	}

	return scanStatus(r.db.QueryRowContext(ctx, selectStatuses+` WHERE s.id = ?`, id))
}

func (r *SQLiteRepository) ListStatuses(ctx context.Context) ([]Status, error) {
	rows, err := r.db.QueryContext(ctx, selectStatuses+` ORDER BY s.created_at DESC, s.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("error listing statuses: %w", err)
	}
	defer rows.Close()

	statuses := make([]Status, 0)
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error listing statuses: %w", err)
	}

	return statuses, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg    Message
		userID sql.NullInt64
		text   sql.NullString
		img    sql.NullString
		author nullAuthor
	)

	err := row.Scan(&msg.ID, &userID, &text, &img, &msg.CreatedAt, &author.username, &author.name, &author.avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning message: %w", err)
	}

	msg.UserID = int64Ptr(userID)
	msg.Text = stringPtr(text)
	msg.Img = stringPtr(img)
	msg.Author = author.toAuthor()
	return &msg, nil
}

func scanStatus(row rowScanner) (*Status, error) {
	var (
		st     Status
		userID sql.NullInt64
		author nullAuthor
	)

	err := row.Scan(&st.ID, &userID, &st.Img, &st.CreatedAt, &author.username, &author.name, &author.avatar)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("error scanning status: %w", err)
	}

	st.UserID = int64Ptr(userID)
	st.Author = author.toAuthor()
	return &st, nil
}

type nullAuthor struct {
	username sql.NullString
	name     sql.NullString
	avatar   sql.NullString
}

func (a nullAuthor) toAuthor() Author {
	return Author{
		Username: stringPtr(a.username),
		Name:     stringPtr(a.name),
		Avatar:   stringPtr(a.avatar),
	}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
