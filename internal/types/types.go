package types

import (
	"time"
)

type User struct {
	Id        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Presence records that a live connection represents a user.
type Presence struct {
	ConnectionId string `json:"connection_id"`
	UserId       string `json:"user_id"`
	Username     string `json:"username"`
}

type MessageScope string

const (
	ScopeBroadcast MessageScope = "broadcast"
	ScopeDirect    MessageScope = "direct"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

// Message is either a broadcast message, visible to everyone, or a direct
// message between a sender and a receiver.
type Message struct {
	Id               string       `json:"id"`
	Scope            MessageScope `json:"scope"`
	SenderId         string       `json:"sender_id"`
	SenderUsername   string       `json:"sender_username"`
	ReceiverId       string       `json:"receiver_id,omitempty"`
	ReceiverUsername string       `json:"receiver_username,omitempty"`
	Content          string       `json:"content"`
	Type             MessageType  `json:"type"`
	ImageUrl         string       `json:"image_url,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

type CallStatus string

const (
	CallRinging  CallStatus = "ringing"
	CallAccepted CallStatus = "accepted"
)

// Call is the client-facing view of a call session.
type Call struct {
	Id          string     `json:"call_id"`
	Caller      Presence   `json:"caller"`
	Participant Presence   `json:"participant"`
	IsVideo     bool       `json:"is_video"`
	Status      CallStatus `json:"status"`
}
