package database

import (
	"database/sql"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps accounts and messages in process memory. It backs
// the relay when no database is configured and in tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]User
	messages []Message
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts: make(map[string]User),
	}
}

func (m *MemoryRepository) Ping() error {
	return nil
}

func (m *MemoryRepository) CreateAccount(params CreateAccountParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.accounts {
		if u.Username == params.Username {
			return User{}, ErrUsernameTaken
		}
	}

	now := time.Now().UTC()
	u := User{
		Id:           uuid.NewString(),
		Username:     params.Username,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.accounts[u.Id] = u

	return u, nil
}

func (m *MemoryRepository) GetAccountById(id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.accounts[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}

	return u, nil
}

func (m *MemoryRepository) GetAccountByUsername(username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.accounts {
		if u.Username == username {
			return u, nil
		}
	}

	return User{}, sql.ErrNoRows
}

func (m *MemoryRepository) DeleteAccount(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; !ok {
		return sql.ErrNoRows
	}

	delete(m.accounts, id)
	m.messages = slices.DeleteFunc(m.messages, func(msg Message) bool {
		return msg.SenderId == id || msg.ReceiverId == id
	})

	return nil
}

func (m *MemoryRepository) AppendMessage(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryRepository) ListBroadcastMessages() ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]Message, 0)
	for _, msg := range m.messages {
		if msg.Scope == ScopeBroadcast {
			res = append(res, msg)
		}
	}

	return res, nil
}

func (m *MemoryRepository) ListDirectMessages(userIdA, userIdB string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res := make([]Message, 0)
	for _, msg := range m.messages {
		if msg.Scope != ScopeDirect {
			continue
		}

		if (msg.SenderId == userIdA && msg.ReceiverId == userIdB) ||
			(msg.SenderId == userIdB && msg.ReceiverId == userIdA) {
			res = append(res, msg)
		}
	}

	return res, nil
}

func (m *MemoryRepository) GetMessage(scope, id string) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages {
		if msg.Scope == scope && msg.Id == id {
			return msg, nil
		}
	}

	return Message{}, sql.ErrNoRows
}

func (m *MemoryRepository) RemoveMessage(scope, id string) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.messages, func(msg Message) bool {
		return msg.Scope == scope && msg.Id == id
	})
	if i < 0 {
		return Message{}, sql.ErrNoRows
	}

	removed := m.messages[i]
	m.messages = slices.Delete(m.messages, i, i+1)

	return removed, nil
}
