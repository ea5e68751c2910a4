package database

import "time"

type User struct {
	Id           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	Id               string
	Scope            string
	SenderId         string
	SenderUsername   string
	ReceiverId       string
	ReceiverUsername string
	Content          string
	Type             string
	ImageUrl         string
	CreatedAt        time.Time
}

type CreateAccountParams struct {
	Username     string
	PasswordHash string
}

const (
	ScopeBroadcast = "broadcast"
	ScopeDirect    = "direct"
)
