package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByUsername(username string) (User, error) {
	args := m.Called(username)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) DeleteAccount(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) AppendMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockRepository) ListBroadcastMessages() ([]Message, error) {
	args := m.Called()
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) ListDirectMessages(userIdA, userIdB string) ([]Message, error) {
	args := m.Called(userIdA, userIdB)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockRepository) GetMessage(scope, id string) (Message, error) {
	args := m.Called(scope, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) RemoveMessage(scope, id string) (Message, error) {
	args := m.Called(scope, id)
	return args.Get(0).(Message), args.Error(1)
}
