package relay

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/events"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

const (
	MetricActiveConnections = "NumActiveConnections"
	MetricActiveCalls       = "NumActiveCalls"
	MetricMessagesPosted    = "NumMessagesPosted"
	MetricSignalsRelayed    = "NumSignalsRelayed"
)

type Options struct {
	RingTimeout       time.Duration
	RetractAuthorOnly bool
}

// handlerFunc handles one event from a connection that has announced
// itself as from.
type handlerFunc func(c *Client, msg *ClientMessage, from types.Presence)

// Relay tracks presence, fans out messages and coordinates calls for every
// connected client.
type Relay struct {
	log         *log.Logger
	stats       stats.StatsProvider
	registry    *Registry
	fanout      *Fanout
	calls       *CallCoordinator
	handlers    map[EventKind]handlerFunc
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	// presenceLock serializes presence changes with the notifications that
	// announce them, so every connection sees presence lists in the order
	// the registry changed.
	presenceLock sync.Mutex
	wg           sync.WaitGroup
}

func NewRelay(logger *log.Logger, store database.MessageStore, publisher events.Publisher,
	su stats.StatsProvider, opts Options) *Relay {
	for _, name := range []string{
		MetricActiveConnections,
		MetricActiveCalls,
		MetricMessagesPosted,
		MetricSignalsRelayed,
	} {
		su.RegisterMetric(name)
	}

	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	registry := NewRegistry()
	r := &Relay{
		log:      logger,
		stats:    su,
		registry: registry,
		fanout:   NewFanout(store, registry, publisher, su, logger, opts.RetractAuthorOnly),
		calls:    NewCallCoordinator(registry, su, logger, opts.RingTimeout),
		clients:  make(map[*Client]struct{}),
	}

	r.handlers = map[EventKind]handlerFunc{
		KindPostBroadcast:    r.handlePostBroadcast,
		KindPostDirect:       r.handlePostDirect,
		KindRetractBroadcast: r.handleRetractBroadcast,
		KindRetractDirect:    r.handleRetractDirect,
		KindInitiateCall:     r.handleInitiateCall,
		KindAcceptCall:       r.handleAcceptCall,
		KindRejectCall:       r.handleRejectCall,
		KindEndCall:          r.handleEndCall,
		KindRelaySignal:      r.handleRelaySignal,
	}

	return r
}

// RegisterClient tracks a new connection. The connection has no presence
// until it announces an identity.
func (r *Relay) RegisterClient(c *Client) {
	r.wg.Add(1)
	r.addClient(c)
}

func (r *Relay) addClient(c *Client) {
	r.clientsLock.Lock()
	defer r.clientsLock.Unlock()

	r.clients[c] = struct{}{}
	r.stats.Incr(MetricActiveConnections)
}

func (r *Relay) removeClient(c *Client) bool {
	r.clientsLock.Lock()
	defer r.clientsLock.Unlock()

	if _, ok := r.clients[c]; !ok {
		return false
	}

	delete(r.clients, c)
	r.stats.Decr(MetricActiveConnections)
	return true
}

// dispatch validates an event and routes it by kind. Events other than
// announce require the connection to have announced an identity.
func (r *Relay) dispatch(msg *ClientMessage) {
	c := msg.client

	if err := msg.validate(); err != nil {
		c.queueMessage(ErrInvalidMessage(msg.Id, err.Error()))
		return
	}

	kind := msg.Kind()
	if kind == KindAnnounce {
		r.handleAnnounce(c, msg)
		return
	}

	from, ok := r.registry.Lookup(c.id)
	if !ok {
		c.queueMessage(ErrNotAnnounced(msg.Id))
		return
	}

	r.handlers[kind](c, msg, from)
}

func (r *Relay) handleAnnounce(c *Client, msg *ClientMessage) {
	if c.authUser.Id != "" && c.authUser.Id != msg.Announce.UserId {
		r.log.Printf("connection %q announced %q but authenticated as %q", c.id, msg.Announce.UserId, c.authUser.Id)
		c.queueMessage(ErrForbidden(msg.Id))
		return
	}

	r.presenceLock.Lock()
	defer r.presenceLock.Unlock()

	presences, prev, replaced := r.registry.Register(c, types.User{
		Id:       msg.Announce.UserId,
		Username: msg.Announce.Username,
	})
	r.log.Printf("connection %q announced as %q", c.id, msg.Announce.Username)

	c.queueMessage(NoErrOK(msg.Id, nil))

	if replaced && prev.UserId != msg.Announce.UserId {
		r.log.Printf("connection %q left as %q", c.id, prev.Username)
		r.broadcast(notification(&Notification{UserLeft: &prev}), c)
	}

	self, _ := r.registry.Lookup(c.id)
	r.broadcast(notification(&Notification{UserJoined: &self}), c)
	r.broadcast(notification(&Notification{PresenceList: &PresenceList{Users: presences}}), nil)
}

func (r *Relay) handlePostBroadcast(c *Client, msg *ClientMessage, from types.Presence) {
	posted, err := r.fanout.PostBroadcast(from, msg.PostBroadcast)
	if err != nil {
		r.log.Println("post broadcast:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"message_id": posted.Id}))
}

func (r *Relay) handlePostDirect(c *Client, msg *ClientMessage, from types.Presence) {
	posted, err := r.fanout.PostDirect(c, from, msg.PostDirect)
	if err != nil {
		r.log.Println("post direct:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"message_id": posted.Id}))
}

func (r *Relay) handleRetractBroadcast(c *Client, msg *ClientMessage, from types.Presence) {
	r.retract(c, msg.Id, types.ScopeBroadcast, msg.RetractBroadcast.MessageId, from)
}

func (r *Relay) handleRetractDirect(c *Client, msg *ClientMessage, from types.Presence) {
	r.retract(c, msg.Id, types.ScopeDirect, msg.RetractDirect.MessageId, from)
}

func (r *Relay) retract(c *Client, reqId int, scope types.MessageScope, messageId string, from types.Presence) {
	retracted, err := r.fanout.Retract(scope, messageId, from.UserId, c)
	if errors.Is(err, ErrNotAuthor) {
		c.queueMessage(ErrForbidden(reqId))
		return
	}
	if err != nil {
		r.log.Printf("retract %s message %q: %v", scope, messageId, err)
		c.queueMessage(ErrInternalError(reqId))
		return
	}

	c.queueMessage(NoErrOK(reqId, map[string]any{"retracted": retracted}))
}

func (r *Relay) handleInitiateCall(c *Client, msg *ClientMessage, from types.Presence) {
	if msg.InitiateCall.ParticipantId == from.UserId {
		c.queueMessage(ErrInvalidMessage(msg.Id, "cannot call yourself"))
		return
	}

	call, ok := r.calls.Initiate(c, from, msg.Id, msg.InitiateCall.ParticipantId, msg.InitiateCall.IsVideo)
	if !ok {
		return
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"call_id": call.Id}))
}

func (r *Relay) handleAcceptCall(c *Client, msg *ClientMessage, _ types.Presence) {
	r.calls.Accept(c, msg.AcceptCall.CallId)
}

func (r *Relay) handleRejectCall(c *Client, msg *ClientMessage, _ types.Presence) {
	r.calls.Reject(c, msg.RejectCall.CallId)
}

func (r *Relay) handleEndCall(c *Client, msg *ClientMessage, _ types.Presence) {
	r.calls.End(c, msg.EndCall.CallId)
}

func (r *Relay) handleRelaySignal(_ *Client, msg *ClientMessage, from types.Presence) {
	r.calls.RelaySignal(from, msg.RelaySignal)
}

// disconnect reconciles state after a connection goes away: its presence is
// removed, its calls are ended, and the remaining connections are told.
func (r *Relay) disconnect(c *Client) {
	if r.removeClient(c) {
		defer r.wg.Done()
	}

	r.presenceLock.Lock()
	defer r.presenceLock.Unlock()

	presence, announced := r.registry.Unregister(c.id)

	for _, id := range r.calls.EndAllFor(c) {
		r.log.Printf("ended call %q after connection %q disconnected", id, c.id)
	}

	if !announced {
		return
	}

	r.log.Printf("connection %q for %q disconnected", c.id, presence.Username)
	r.broadcast(notification(&Notification{UserLeft: &presence}), nil)
	r.broadcast(notification(&Notification{
		PresenceList: &PresenceList{Users: r.registry.Presences()},
	}), nil)
}

func (r *Relay) broadcast(msg *ServerMessage, skip *Client) {
	for _, c := range r.registry.Clients() {
		if c == skip {
			continue
		}
		c.queueMessage(msg)
	}
}

// RetractMessage removes a message on behalf of requesterId and notifies
// connected clients. It reports false when the message does not exist.
func (r *Relay) RetractMessage(scope types.MessageScope, messageId, requesterId string) (bool, error) {
	return r.fanout.Retract(scope, messageId, requesterId, nil)
}

func (r *Relay) BroadcastHistory() ([]types.Message, error) {
	return r.fanout.BroadcastHistory()
}

func (r *Relay) DirectHistory(userIdA, userIdB string) ([]types.Message, error) {
	return r.fanout.DirectHistory(userIdA, userIdB)
}

// Presences returns the current presence list.
func (r *Relay) Presences() []types.Presence {
	return r.registry.Presences()
}

// Shutdown closes every connection and waits for their cleanup to finish,
// or for ctx to be done.
func (r *Relay) Shutdown(ctx context.Context) error {
	defer r.calls.Close()

	r.log.Println("closing client connections")

	r.clientsLock.Lock()
	for c := range r.clients {
		c.stopClient()
	}
	r.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
