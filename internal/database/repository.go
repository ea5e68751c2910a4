package database

import "errors"

// ErrUsernameTaken is returned by CreateAccount when the username is
// already registered.
var ErrUsernameTaken = errors.New("username already exists")

// MessageStore is the append log the relay persists messages to. Lookups
// and removals of a missing record return sql.ErrNoRows.
type MessageStore interface {
	AppendMessage(msg Message) error
	GetMessage(scope, id string) (Message, error)
	ListBroadcastMessages() ([]Message, error)
	ListDirectMessages(userIdA, userIdB string) ([]Message, error)
	RemoveMessage(scope, id string) (Message, error)
}

type AccountStore interface {
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(id string) (User, error)
	GetAccountByUsername(username string) (User, error)
	DeleteAccount(id string) error
}

type Repository interface {
	Ping() error
	AccountStore
	MessageStore
}
