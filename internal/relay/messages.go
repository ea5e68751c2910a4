package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/types"
)

type EventKind string

const (
	KindAnnounce         EventKind = "announce"
	KindPostBroadcast    EventKind = "post_broadcast"
	KindPostDirect       EventKind = "post_direct"
	KindRetractBroadcast EventKind = "retract_broadcast"
	KindRetractDirect    EventKind = "retract_direct"
	KindInitiateCall     EventKind = "initiate_call"
	KindAcceptCall       EventKind = "accept_call"
	KindRejectCall       EventKind = "reject_call"
	KindEndCall          EventKind = "end_call"
	KindRelaySignal      EventKind = "relay_signal"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is an event received from a client. Exactly one payload
// field is set.
type ClientMessage struct {
	BaseMessage
	Announce         *Announce      `json:"announce,omitempty"`
	PostBroadcast    *PostBroadcast `json:"post_broadcast,omitempty"`
	PostDirect       *PostDirect    `json:"post_direct,omitempty"`
	RetractBroadcast *Retract       `json:"retract_broadcast,omitempty"`
	RetractDirect    *Retract       `json:"retract_direct,omitempty"`
	InitiateCall     *InitiateCall  `json:"initiate_call,omitempty"`
	AcceptCall       *CallRef       `json:"accept_call,omitempty"`
	RejectCall       *CallRef       `json:"reject_call,omitempty"`
	EndCall          *CallRef       `json:"end_call,omitempty"`
	RelaySignal      *Signal        `json:"relay_signal,omitempty"`
	client           *Client        `json:"-"`
}

// Kind reports which payload the message carries, or "" when it carries
// none or more than one.
func (cm *ClientMessage) Kind() EventKind {
	var kind EventKind
	set := func(present bool, k EventKind) {
		if !present {
			return
		}
		if kind != "" {
			kind = "-"
			return
		}
		kind = k
	}

	set(cm.Announce != nil, KindAnnounce)
	set(cm.PostBroadcast != nil, KindPostBroadcast)
	set(cm.PostDirect != nil, KindPostDirect)
	set(cm.RetractBroadcast != nil, KindRetractBroadcast)
	set(cm.RetractDirect != nil, KindRetractDirect)
	set(cm.InitiateCall != nil, KindInitiateCall)
	set(cm.AcceptCall != nil, KindAcceptCall)
	set(cm.RejectCall != nil, KindRejectCall)
	set(cm.EndCall != nil, KindEndCall)
	set(cm.RelaySignal != nil, KindRelaySignal)

	if kind == "-" {
		return ""
	}
	return kind
}

// validate checks the payload selected by Kind for required fields.
func (cm *ClientMessage) validate() error {
	switch cm.Kind() {
	case KindAnnounce:
		return cm.Announce.validate()
	case KindPostBroadcast:
		return validateContent(cm.PostBroadcast.Content, cm.PostBroadcast.Type, cm.PostBroadcast.ImageUrl)
	case KindPostDirect:
		return cm.PostDirect.validate()
	case KindRetractBroadcast:
		return cm.RetractBroadcast.validate()
	case KindRetractDirect:
		return cm.RetractDirect.validate()
	case KindInitiateCall:
		return cm.InitiateCall.validate()
	case KindAcceptCall:
		return cm.AcceptCall.validate()
	case KindRejectCall:
		return cm.RejectCall.validate()
	case KindEndCall:
		return cm.EndCall.validate()
	case KindRelaySignal:
		return cm.RelaySignal.validate()
	default:
		return errors.New("message must carry exactly one event")
	}
}

type Announce struct {
	UserId   string `json:"user_id"`
	Username string `json:"username"`
}

func (a *Announce) validate() error {
	if a.UserId == "" || a.Username == "" {
		return errors.New("user_id and username are required")
	}
	return nil
}

type PostBroadcast struct {
	Content  string            `json:"content"`
	Type     types.MessageType `json:"type,omitempty"`
	ImageUrl string            `json:"image_url,omitempty"`
}

type PostDirect struct {
	ReceiverId       string            `json:"receiver_id"`
	ReceiverUsername string            `json:"receiver_username"`
	Content          string            `json:"content"`
	Type             types.MessageType `json:"type,omitempty"`
	ImageUrl         string            `json:"image_url,omitempty"`
}

func (p *PostDirect) validate() error {
	if p.ReceiverId == "" {
		return errors.New("receiver_id is required")
	}
	return validateContent(p.Content, p.Type, p.ImageUrl)
}

func validateContent(content string, msgType types.MessageType, imageUrl string) error {
	switch msgType {
	case "", types.MessageTypeText:
		if content == "" {
			return errors.New("content is required")
		}
	case types.MessageTypeImage:
		if imageUrl == "" {
			return errors.New("image_url is required for image messages")
		}
	default:
		return errors.New("unknown message type")
	}
	return nil
}

type Retract struct {
	MessageId string `json:"message_id"`
}

func (r *Retract) validate() error {
	if r.MessageId == "" {
		return errors.New("message_id is required")
	}
	return nil
}

type InitiateCall struct {
	ParticipantId string `json:"participant_id"`
	IsVideo       bool   `json:"is_video"`
}

func (ic *InitiateCall) validate() error {
	if ic.ParticipantId == "" {
		return errors.New("participant_id is required")
	}
	return nil
}

type CallRef struct {
	CallId string `json:"call_id"`
}

func (cr *CallRef) validate() error {
	if cr.CallId == "" {
		return errors.New("call_id is required")
	}
	return nil
}

// Signal carries an opaque WebRTC payload to another user.
type Signal struct {
	Kind    SignalKind      `json:"kind"`
	CallId  string          `json:"call_id"`
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Signal) validate() error {
	switch s.Kind {
	case SignalOffer, SignalAnswer, SignalCandidate:
	default:
		return errors.New("kind must be one of offer, answer, candidate")
	}
	if s.CallId == "" || s.To == "" {
		return errors.New("call_id and to are required")
	}
	if len(s.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Notification struct {
	MessagePosted    *types.Message    `json:"message_posted,omitempty"`
	MessageRetracted *MessageRetracted `json:"message_retracted,omitempty"`
	PresenceList     *PresenceList     `json:"presence_list,omitempty"`
	UserJoined       *types.Presence   `json:"user_joined,omitempty"`
	UserLeft         *types.Presence   `json:"user_left,omitempty"`
	IncomingCall     *types.Call       `json:"incoming_call,omitempty"`
	CallAccepted     *types.Call       `json:"call_accepted,omitempty"`
	CallRejected     *CallRef          `json:"call_rejected,omitempty"`
	CallEnded        *CallEnded        `json:"call_ended,omitempty"`
	CallFailed       *CallFailed       `json:"call_failed,omitempty"`
	RelaySignal      *RelayedSignal    `json:"relay_signal,omitempty"`
}

type MessageRetracted struct {
	MessageId string             `json:"message_id"`
	Scope     types.MessageScope `json:"scope"`
}

type PresenceList struct {
	Users []types.Presence `json:"users"`
}

const (
	EndReasonHangup       = "hangup"
	EndReasonDisconnected = "disconnected"
	EndReasonTimeout      = "timeout"
)

type CallEnded struct {
	CallId string `json:"call_id"`
	Reason string `json:"reason"`
}

type CallFailed struct {
	ParticipantId string `json:"participant_id"`
	Error         string `json:"error"`
}

type RelayedSignal struct {
	Kind    SignalKind      `json:"kind"`
	CallId  string          `json:"call_id"`
	From    types.Presence  `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

func notification(n *Notification) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: n,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func errResponse(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrInvalidMessage(id int, reason string) *ServerMessage {
	msg := "invalid message format"
	if reason != "" {
		msg += ": " + reason
	}
	return errResponse(id, http.StatusBadRequest, msg)
}

func ErrNotAnnounced(id int) *ServerMessage {
	return errResponse(id, http.StatusUnauthorized, "connection has not announced an identity")
}

func ErrForbidden(id int) *ServerMessage {
	return errResponse(id, http.StatusForbidden, "forbidden")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
