package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/events"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const publishTimeout = 2 * time.Second

// ErrNotAuthor is returned when author-only retraction is enabled and the
// requester did not send the message.
var ErrNotAuthor = errors.New("only the author may retract a message")

// Fanout persists messages and delivers them to the connections that should
// observe them. Delivery always happens after the store append succeeds.
type Fanout struct {
	store      database.MessageStore
	registry   *Registry
	publisher  events.Publisher
	stats      stats.StatsProvider
	log        *log.Logger
	authorOnly bool
}

func NewFanout(store database.MessageStore, registry *Registry, publisher events.Publisher,
	su stats.StatsProvider, logger *log.Logger, authorOnly bool) *Fanout {
	return &Fanout{
		store:      store,
		registry:   registry,
		publisher:  publisher,
		stats:      su,
		log:        logger,
		authorOnly: authorOnly,
	}
}

// PostBroadcast stores the message and delivers it to every registered
// connection, the sender included.
func (f *Fanout) PostBroadcast(from types.Presence, p *PostBroadcast) (types.Message, error) {
	msg := types.Message{
		Id:             uuid.NewString(),
		Scope:          types.ScopeBroadcast,
		SenderId:       from.UserId,
		SenderUsername: from.Username,
		Content:        p.Content,
		Type:           messageType(p.Type),
		ImageUrl:       p.ImageUrl,
		CreatedAt:      Now(),
	}

	if err := f.store.AppendMessage(toDBMessage(msg)); err != nil {
		return types.Message{}, fmt.Errorf("append broadcast message: %w", err)
	}
	f.stats.Incr(MetricMessagesPosted)

	f.deliver(f.registry.Clients(), notification(&Notification{MessagePosted: &msg}))
	f.publish("message.posted."+string(msg.Scope), msg)

	return msg, nil
}

// PostDirect stores the message and delivers it to the receiver's most
// recent connection and to the sending connection. A receiver that is not
// online is not an error; it reads the message from history later.
func (f *Fanout) PostDirect(sender *Client, from types.Presence, p *PostDirect) (types.Message, error) {
	msg := types.Message{
		Id:               uuid.NewString(),
		Scope:            types.ScopeDirect,
		SenderId:         from.UserId,
		SenderUsername:   from.Username,
		ReceiverId:       p.ReceiverId,
		ReceiverUsername: p.ReceiverUsername,
		Content:          p.Content,
		Type:             messageType(p.Type),
		ImageUrl:         p.ImageUrl,
		CreatedAt:        Now(),
	}

	if err := f.store.AppendMessage(toDBMessage(msg)); err != nil {
		return types.Message{}, fmt.Errorf("append direct message: %w", err)
	}
	f.stats.Incr(MetricMessagesPosted)

	targets := []*Client{sender}
	if receiver, _, ok := f.registry.Resolve(p.ReceiverId); ok {
		targets = append(targets, receiver)
	}

	f.deliver(dedupe(targets), notification(&Notification{MessagePosted: &msg}))
	f.publish("message.posted."+string(msg.Scope), msg)

	return msg, nil
}

// Retract removes a message and notifies the audience of the original post.
// It reports false without error when the message does not exist. requester
// may be nil when the retraction did not come from a connection.
func (f *Fanout) Retract(scope types.MessageScope, id, requesterId string, requester *Client) (bool, error) {
	if f.authorOnly {
		existing, err := f.store.GetMessage(string(scope), id)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("get message: %w", err)
		}
		if existing.SenderId != requesterId {
			return false, ErrNotAuthor
		}
	}

	removed, err := f.store.RemoveMessage(string(scope), id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove message: %w", err)
	}

	retraction := notification(&Notification{
		MessageRetracted: &MessageRetracted{MessageId: id, Scope: scope},
	})

	switch scope {
	case types.ScopeBroadcast:
		f.deliver(f.registry.Clients(), retraction)
	case types.ScopeDirect:
		var targets []*Client
		if requester != nil {
			targets = append(targets, requester)
		}
		for _, userId := range []string{removed.SenderId, removed.ReceiverId} {
			if c, _, ok := f.registry.Resolve(userId); ok {
				targets = append(targets, c)
			}
		}
		f.deliver(dedupe(targets), retraction)
	}

	f.publish("message.retracted."+string(scope), MessageRetracted{MessageId: id, Scope: scope})

	return true, nil
}

func (f *Fanout) BroadcastHistory() ([]types.Message, error) {
	msgs, err := f.store.ListBroadcastMessages()
	if err != nil {
		return nil, err
	}
	return fromDBMessages(msgs), nil
}

// DirectHistory returns the conversation between two users in either
// direction, oldest first.
func (f *Fanout) DirectHistory(userIdA, userIdB string) ([]types.Message, error) {
	msgs, err := f.store.ListDirectMessages(userIdA, userIdB)
	if err != nil {
		return nil, err
	}
	return fromDBMessages(msgs), nil
}

func (f *Fanout) deliver(targets []*Client, msg *ServerMessage) {
	for _, c := range targets {
		c.queueMessage(msg)
	}
}

func (f *Fanout) publish(key string, data any) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := f.publisher.Publish(ctx, key, events.NewEnvelope(key, data)); err != nil {
		f.log.Printf("publish %q: %v", key, err)
	}
}

func dedupe(clients []*Client) []*Client {
	seen := make(map[*Client]struct{}, len(clients))
	res := clients[:0]
	for _, c := range clients {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		res = append(res, c)
	}
	return res
}

func messageType(t types.MessageType) types.MessageType {
	if t == "" {
		return types.MessageTypeText
	}
	return t
}

func toDBMessage(msg types.Message) database.Message {
	return database.Message{
		Id:               msg.Id,
		Scope:            string(msg.Scope),
		SenderId:         msg.SenderId,
		SenderUsername:   msg.SenderUsername,
		ReceiverId:       msg.ReceiverId,
		ReceiverUsername: msg.ReceiverUsername,
		Content:          msg.Content,
		Type:             string(msg.Type),
		ImageUrl:         msg.ImageUrl,
		CreatedAt:        msg.CreatedAt,
	}
}

func fromDBMessages(msgs []database.Message) []types.Message {
	res := make([]types.Message, len(msgs))
	for i, msg := range msgs {
		res[i] = types.Message{
			Id:               msg.Id,
			Scope:            types.MessageScope(msg.Scope),
			SenderId:         msg.SenderId,
			SenderUsername:   msg.SenderUsername,
			ReceiverId:       msg.ReceiverId,
			ReceiverUsername: msg.ReceiverUsername,
			Content:          msg.Content,
			Type:             types.MessageType(msg.Type),
			ImageUrl:         msg.ImageUrl,
			CreatedAt:        msg.CreatedAt,
		}
	}
	return res
}
