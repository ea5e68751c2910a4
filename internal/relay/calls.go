package relay

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

type callSession struct {
	call        types.Call
	caller      *Client
	participant *Client
	ringTimer   *time.Timer
}

// CallCoordinator owns the call state machine. Sessions live in calls from
// initiation until they are rejected, ended, time out, or either party
// disconnects. Every transition happens under mu, so events for the same
// call never interleave.
type CallCoordinator struct {
	mu          sync.Mutex
	calls       map[string]*callSession
	registry    *Registry
	stats       stats.StatsProvider
	log         *log.Logger
	ringTimeout time.Duration
}

func NewCallCoordinator(registry *Registry, su stats.StatsProvider, logger *log.Logger, ringTimeout time.Duration) *CallCoordinator {
	return &CallCoordinator{
		calls:       make(map[string]*callSession),
		registry:    registry,
		stats:       su,
		log:         logger,
		ringTimeout: ringTimeout,
	}
}

// Initiate starts a ringing call from the caller's connection to the
// participant's most recent connection. When the participant is offline the
// caller is sent call_failed and no session is created.
func (cc *CallCoordinator) Initiate(caller *Client, from types.Presence, reqId int, participantId string, isVideo bool) (types.Call, bool) {
	var delta int
	defer func() { cc.recordCalls(delta) }()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	// Resolve under mu so a concurrent EndAllFor for the participant sees
	// this session.
	target, to, ok := cc.registry.Resolve(participantId)
	if !ok {
		failed := notification(&Notification{
			CallFailed: &CallFailed{ParticipantId: participantId, Error: "user not available"},
		})
		failed.Id = reqId
		caller.queueMessage(failed)
		return types.Call{}, false
	}

	id := uuid.NewString()
	for cc.calls[id] != nil {
		id = uuid.NewString()
	}

	s := &callSession{
		call: types.Call{
			Id:          id,
			Caller:      from,
			Participant: to,
			IsVideo:     isVideo,
			Status:      types.CallRinging,
		},
		caller:      caller,
		participant: target,
	}
	if cc.ringTimeout > 0 {
		s.ringTimer = time.AfterFunc(cc.ringTimeout, func() { cc.expire(id) })
	}

	cc.calls[id] = s
	delta++
	cc.log.Printf("call %q: %q ringing %q", id, from.Username, to.Username)

	call := s.call
	target.queueMessage(notification(&Notification{IncomingCall: &call}))

	return call, true
}

// Accept moves a ringing call to accepted. Only the participant's connection
// may accept.
func (cc *CallCoordinator) Accept(c *Client, callId string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	s, ok := cc.calls[callId]
	if !ok || s.participant.id != c.id || s.call.Status != types.CallRinging {
		cc.log.Printf("ignoring accept for call %q from connection %q", callId, c.id)
		return
	}

	s.call.Status = types.CallAccepted
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}

	call := s.call
	s.caller.queueMessage(notification(&Notification{CallAccepted: &call}))
}

// Reject declines a call. Only the participant's connection may reject.
func (cc *CallCoordinator) Reject(c *Client, callId string) {
	var delta int
	defer func() { cc.recordCalls(delta) }()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	s, ok := cc.calls[callId]
	if !ok || s.participant.id != c.id {
		cc.log.Printf("ignoring reject for call %q from connection %q", callId, c.id)
		return
	}

	s.caller.queueMessage(notification(&Notification{CallRejected: &CallRef{CallId: callId}}))
	cc.removeLocked(s)
	delta--
}

// End hangs up a call. The other party is notified on the connection that
// was recorded when the call started.
func (cc *CallCoordinator) End(c *Client, callId string) {
	var delta int
	defer func() { cc.recordCalls(delta) }()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	s, ok := cc.calls[callId]
	if !ok {
		cc.log.Printf("ignoring end for unknown call %q", callId)
		return
	}

	var other *Client
	switch c.id {
	case s.caller.id:
		other = s.participant
	case s.participant.id:
		other = s.caller
	default:
		cc.log.Printf("ignoring end for call %q from non-party connection %q", callId, c.id)
		return
	}

	other.queueMessage(notification(&Notification{
		CallEnded: &CallEnded{CallId: callId, Reason: EndReasonHangup},
	}))
	cc.removeLocked(s)
	delta--
}

// RelaySignal forwards an opaque signaling payload to the most recent
// connection of sig.To, tagged with the sender's presence. Signals for calls
// that are no longer active, or to users that are offline, are dropped.
func (cc *CallCoordinator) RelaySignal(from types.Presence, sig *Signal) bool {
	cc.mu.Lock()
	_, active := cc.calls[sig.CallId]
	cc.mu.Unlock()
	if !active {
		cc.log.Printf("dropping %s for unknown call %q", sig.Kind, sig.CallId)
		return false
	}

	target, _, ok := cc.registry.Resolve(sig.To)
	if !ok {
		return false
	}

	cc.stats.Incr(MetricSignalsRelayed)
	return target.queueMessage(notification(&Notification{
		RelaySignal: &RelayedSignal{
			Kind:    sig.Kind,
			CallId:  sig.CallId,
			From:    from,
			Payload: sig.Payload,
		},
	}))
}

// EndAllFor terminates every call the connection takes part in and notifies
// the surviving party. It returns the ids of the ended calls.
func (cc *CallCoordinator) EndAllFor(c *Client) []string {
	var delta int
	defer func() { cc.recordCalls(delta) }()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	var ended []string
	for id, s := range cc.calls {
		var other *Client
		switch c.id {
		case s.caller.id:
			other = s.participant
		case s.participant.id:
			other = s.caller
		default:
			continue
		}

		other.queueMessage(notification(&Notification{
			CallEnded: &CallEnded{CallId: id, Reason: EndReasonDisconnected},
		}))
		cc.removeLocked(s)
		delta--
		ended = append(ended, id)
	}

	return ended
}

// Get returns a snapshot of an active call.
func (cc *CallCoordinator) Get(callId string) (types.Call, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	s, ok := cc.calls[callId]
	if !ok {
		return types.Call{}, false
	}
	return s.call, true
}

func (cc *CallCoordinator) Len() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	return len(cc.calls)
}

// Close stops pending ring timers and drops every session.
func (cc *CallCoordinator) Close() {
	var delta int
	defer func() { cc.recordCalls(delta) }()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	for _, s := range cc.calls {
		cc.removeLocked(s)
		delta--
	}
}

// expire ends a call that is still ringing when its ring timer fires, the
// same way a caller hanging up would.
func (cc *CallCoordinator) expire(callId string) {
	var delta int
	defer func() { cc.recordCalls(delta) }()

	cc.mu.Lock()
	defer cc.mu.Unlock()

	s, ok := cc.calls[callId]
	if !ok || s.call.Status != types.CallRinging {
		return
	}

	cc.log.Printf("call %q timed out while ringing", callId)
	s.participant.queueMessage(notification(&Notification{
		CallEnded: &CallEnded{CallId: callId, Reason: EndReasonTimeout},
	}))
	cc.removeLocked(s)
	delta--
}

func (cc *CallCoordinator) removeLocked(s *callSession) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	delete(cc.calls, s.call.Id)
}

// recordCalls applies a change in the number of active calls to the
// metrics. Callers defer it ahead of taking mu so it runs unlocked.
func (cc *CallCoordinator) recordCalls(delta int) {
	for ; delta > 0; delta-- {
		cc.stats.Incr(MetricActiveCalls)
	}
	for ; delta < 0; delta++ {
		cc.stats.Decr(MetricActiveCalls)
	}
}
