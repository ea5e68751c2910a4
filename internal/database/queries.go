package database

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	uniqueViolation = "23505"

	selectMessageColumns = "SELECT id, scope, sender_id, sender_username, receiver_id, receiver_username, " +
		"content, type, image_url, created_at FROM messages "
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		msg              Message
		receiverId       sql.NullString
		receiverUsername sql.NullString
		imageUrl         sql.NullString
	)

	err := row.Scan(
		&msg.Id,
		&msg.Scope,
		&msg.SenderId,
		&msg.SenderUsername,
		&receiverId,
		&receiverUsername,
		&msg.Content,
		&msg.Type,
		&imageUrl,
		&msg.CreatedAt,
	)

	msg.ReceiverId = receiverId.String
	msg.ReceiverUsername = receiverUsername.String
	msg.ImageUrl = imageUrl.String
	return msg, err
}

func (db *PgRepository) CreateAccount(params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (id, username, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, created_at, updated_at",
		uuid.NewString(),
		params.Username,
		params.PasswordHash,
		now,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return User{}, ErrUsernameTaken
	}

	return u, err
}

func (db *PgRepository) GetAccountById(id string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgRepository) GetAccountByUsername(username string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, password_hash, created_at, updated_at FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

// DeleteAccount removes the account together with every message it sent
// or received.
func (db *PgRepository) DeleteAccount(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM messages WHERE sender_id = $1 OR receiver_id = $1", id)
	if err != nil {
		return err
	}

	var res sql.Result
	res, err = tx.Exec("DELETE FROM accounts WHERE id = $1", id)
	if err != nil {
		return err
	}

	var n int64
	if n, err = res.RowsAffected(); err != nil {
		return err
	}
	if n == 0 {
		err = sql.ErrNoRows
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) AppendMessage(msg Message) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (id, scope, sender_id, sender_username, receiver_id, receiver_username, "+
			"content, type, image_url, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		msg.Id,
		msg.Scope,
		msg.SenderId,
		msg.SenderUsername,
		nullString(msg.ReceiverId),
		nullString(msg.ReceiverUsername),
		msg.Content,
		msg.Type,
		nullString(msg.ImageUrl),
		msg.CreatedAt,
	)

	return err
}

func (db *PgRepository) ListBroadcastMessages() ([]Message, error) {
	rows, err := db.conn.Query(
		selectMessageColumns+"WHERE scope = $1 ORDER BY created_at, id",
		ScopeBroadcast,
	)
	if err != nil {
		return nil, err
	}

	return collectMessages(rows)
}

func (db *PgRepository) ListDirectMessages(userIdA, userIdB string) ([]Message, error) {
	rows, err := db.conn.Query(
		selectMessageColumns+"WHERE scope = $1 AND "+
			"((sender_id = $2 AND receiver_id = $3) OR (sender_id = $3 AND receiver_id = $2)) "+
			"ORDER BY created_at, id",
		ScopeDirect,
		userIdA,
		userIdB,
	)
	if err != nil {
		return nil, err
	}

	return collectMessages(rows)
}

func (db *PgRepository) GetMessage(scope, id string) (Message, error) {
	row := db.conn.QueryRow(
		selectMessageColumns+"WHERE scope = $1 AND id = $2 LIMIT 1",
		scope,
		id,
	)

	return scanMessage(row)
}

func (db *PgRepository) RemoveMessage(scope, id string) (Message, error) {
	row := db.conn.QueryRow(
		"DELETE FROM messages WHERE scope = $1 AND id = $2 "+
			"RETURNING id, scope, sender_id, sender_username, receiver_id, receiver_username, "+
			"content, type, image_url, created_at",
		scope,
		id,
	)

	return scanMessage(row)
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
