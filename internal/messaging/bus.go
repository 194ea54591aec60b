// Package messaging implements the inter-agent message bus: per-agent FIFO
// mailboxes, correlated request/response with timeouts, and topic-based
// broadcast with wildcard subscribers.
package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentos/agentos/internal/common/logger"
	"github.com/agentos/agentos/internal/events"
)

// MessageType classifies a message.
type MessageType string

const (
	MessageRequest  MessageType = "request"
	MessageResponse MessageType = "response"
	MessageEvent    MessageType = "event"
	MessageStream   MessageType = "stream"
)

// Message is a unit of agent-to-agent communication.
type Message struct {
	ID          string         `json:"id"`
	Type        MessageType    `json:"type"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	Payload     map[string]any `json:"payload"`
	Timestamp   time.Time      `json:"timestamp"`
	ReplyTo     string         `json:"reply_to,omitempty"`
}

func newMessage(msgType MessageType, senderID, recipientID string, payload map[string]any) *Message {
	return &Message{
		ID:          uuid.New().String()[:8],
		Type:        msgType,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}

// mailbox is an unbounded FIFO queue with a wakeup channel for receivers.
type mailbox struct {
	mu     sync.Mutex
	queue  []*Message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg *Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	return msg
}

func (m *mailbox) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

type subscription struct {
	agentID string
	handler events.Handler
}

// Stats summarizes bus state.
type Stats struct {
	RegisteredAgents   int `json:"registered_agents"`
	PendingRequests    int `json:"pending_requests"`
	EventTypes         int `json:"event_types"`
	TotalSubscriptions int `json:"total_subscriptions"`
	HistorySize        int `json:"history_size"`
}

const maxHistory = 1000

// Bus is the central message bus. All methods are safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	subs      map[string][]subscription
	pending   map[string]chan *Message
	history   []*Message

	log *logger.Logger
}

// NewBus creates an empty message bus.
func NewBus(log *logger.Logger) *Bus {
	return &Bus{
		mailboxes: make(map[string]*mailbox),
		subs:      make(map[string][]subscription),
		pending:   make(map[string]chan *Message),
		log:       log.WithFields(zap.String("component", "message-bus")),
	}
}

// RegisterAgent creates a mailbox for the agent. Registering twice resets
// the mailbox.
func (b *Bus) RegisterAgent(agentID string) {
	b.mu.Lock()
	b.mailboxes[agentID] = newMailbox()
	b.mu.Unlock()
	b.log.Debug("Agent registered for messaging", zap.String("agent_id", agentID))
}

// UnregisterAgent removes the agent's mailbox and all of its subscriptions.
// Outstanding requests made by the agent are not cancelled; their callers
// time out normally.
func (b *Bus) UnregisterAgent(agentID string) {
	b.mu.Lock()
	delete(b.mailboxes, agentID)
	for eventType, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.agentID != agentID {
				kept = append(kept, s)
			}
		}
		b.subs[eventType] = kept
	}
	b.mu.Unlock()
	b.log.Debug("Agent unregistered from messaging", zap.String("agent_id", agentID))
}

// Send delivers a message to the recipient's mailbox. Sending to an
// unregistered recipient is a logged no-op; the message is still returned
// and recorded in history.
func (b *Bus) Send(senderID, recipientID string, payload map[string]any, msgType MessageType) *Message {
	msg := newMessage(msgType, senderID, recipientID, payload)
	b.addToHistory(msg)

	b.mu.RLock()
	mb, ok := b.mailboxes[recipientID]
	b.mu.RUnlock()
	if !ok {
		b.log.Warn("Message recipient not found",
			zap.String("sender", senderID),
			zap.String("recipient", recipientID))
		return msg
	}

	mb.push(msg)
	return msg
}

// Request sends a REQUEST message and blocks until Respond resolves it, the
// timeout elapses, or ctx is cancelled. Returns nil when no response
// arrives in time.
func (b *Bus) Request(ctx context.Context, senderID, recipientID string, payload map[string]any, timeout time.Duration) *Message {
	msg := b.Send(senderID, recipientID, payload, MessageRequest)

	ch := make(chan *Message, 1)
	b.mu.Lock()
	b.pending[msg.ID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp
	case <-timer.C:
		b.log.Warn("Request timed out",
			zap.String("sender", senderID),
			zap.String("recipient", recipientID),
			zap.String("message_id", msg.ID))
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Respond answers a request message. If the original request is still
// pending, the response resolves it directly, bypassing the requester's
// mailbox; otherwise it is delivered as a normal message.
func (b *Bus) Respond(original *Message, payload map[string]any) *Message {
	resp := newMessage(MessageResponse, original.RecipientID, original.SenderID, payload)
	resp.ReplyTo = original.ID
	b.addToHistory(resp)

	b.mu.Lock()
	ch, pending := b.pending[original.ID]
	var mb *mailbox
	if !pending {
		mb = b.mailboxes[resp.RecipientID]
	}
	b.mu.Unlock()

	if pending {
		select {
		case ch <- resp:
		default:
			// Already resolved; drop.
		}
	} else if mb != nil {
		mb.push(resp)
	}
	return resp
}

// Broadcast synchronously invokes every handler subscribed to the exact
// event type plus every wildcard ("*") subscriber. Handler failures are
// isolated and logged.
func (b *Bus) Broadcast(senderID, eventType string, data map[string]any) *events.Event {
	event := events.NewEvent(eventType, senderID, data)

	b.mu.RLock()
	handlers := make([]subscription, 0, len(b.subs[eventType])+len(b.subs["*"]))
	handlers = append(handlers, b.subs[eventType]...)
	handlers = append(handlers, b.subs["*"]...)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.invoke(s, event)
	}

	b.log.Debug("Event broadcast",
		zap.String("sender", senderID),
		zap.String("event_type", eventType),
		zap.Int("subscribers", len(handlers)))
	return event
}

func (b *Bus) invoke(s subscription, event *events.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Subscriber handler panicked",
				zap.String("event_type", event.Type),
				zap.String("agent_id", s.agentID),
				zap.Any("panic", r))
		}
	}()
	if err := s.handler(event); err != nil {
		b.log.Error("Subscriber handler failed",
			zap.String("event_type", event.Type),
			zap.String("agent_id", s.agentID),
			zap.Error(err))
	}
}

// Subscribe registers a handler for an event type. Use "*" to receive all
// broadcasts.
func (b *Bus) Subscribe(agentID, eventType string, handler events.Handler) {
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], subscription{agentID: agentID, handler: handler})
	b.mu.Unlock()
}

// Unsubscribe removes the agent's handlers for an event type.
func (b *Bus) Unsubscribe(agentID, eventType string) {
	b.mu.Lock()
	subs := b.subs[eventType]
	kept := subs[:0]
	for _, s := range subs {
		if s.agentID != agentID {
			kept = append(kept, s)
		}
	}
	b.subs[eventType] = kept
	b.mu.Unlock()
}

// Receive returns the next message for an agent, waiting up to timeout.
// Returns nil on timeout, context cancellation, or unknown agent. A zero
// timeout waits until ctx is done.
func (b *Bus) Receive(ctx context.Context, agentID string, timeout time.Duration) *Message {
	b.mu.RLock()
	mb, ok := b.mailboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		if msg := mb.pop(); msg != nil {
			return msg
		}
		select {
		case <-mb.notify:
		case <-deadline:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// PendingCount returns the number of queued messages for an agent.
func (b *Bus) PendingCount(agentID string) int {
	b.mu.RLock()
	mb, ok := b.mailboxes[agentID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	return mb.size()
}

// History returns recent messages, optionally filtered to those sent or
// received by an agent.
func (b *Bus) History(agentID string, limit int) []*Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	source := b.history
	if agentID != "" {
		source = nil
		for _, m := range b.history {
			if m.SenderID == agentID || m.RecipientID == agentID {
				source = append(source, m)
			}
		}
	}
	if limit > 0 && len(source) > limit {
		source = source[len(source)-limit:]
	}
	out := make([]*Message, len(source))
	copy(out, source)
	return out
}

// Stats returns bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, subs := range b.subs {
		total += len(subs)
	}
	return Stats{
		RegisteredAgents:   len(b.mailboxes),
		PendingRequests:    len(b.pending),
		EventTypes:         len(b.subs),
		TotalSubscriptions: total,
		HistorySize:        len(b.history),
	}
}

func (b *Bus) addToHistory(msg *Message) {
	b.mu.Lock()
	b.history = append(b.history, msg)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
	b.mu.Unlock()
}
