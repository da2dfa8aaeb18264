package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timeegg/timeegg-server/internal/model"
)

// Delivery is the local state of a chat message.
type Delivery string

const (
	DeliverySending Delivery = "sending"
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed"
)

// LogEntry is a message as the chat view shows it.
type LogEntry struct {
	model.ChatMessage
	ClientMessageID string
	State           Delivery
}

// MessageLog merges server history, live broadcasts and the caller's own
// optimistic messages for one inquiry. Server ids deduplicate; the
// clientMessageId echoed by the server links a broadcast to the pending
// entry it confirms.
type MessageLog struct {
	mu       sync.Mutex
	entries  []LogEntry
	byClient map[string]int
	seen     map[string]bool
}

func NewMessageLog() *MessageLog {
	return &MessageLog{byClient: make(map[string]int), seen: make(map[string]bool)}
}

// NewClientMessageID returns an id for an outgoing message.
func NewClientMessageID() string { return uuid.NewString() }

// Load appends history fetched over HTTP, skipping ids already present.
func (l *MessageLog) Load(history []model.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range history {
		if l.seen[m.ID] {
			continue
		}
		l.seen[m.ID] = true
		l.entries = append(l.entries, LogEntry{ChatMessage: m, State: DeliverySent})
	}
}

// Pending records a message the caller is about to send.
func (l *MessageLog) Pending(clientMessageID string, inquiryID, senderID uint64, content string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byClient[clientMessageID] = len(l.entries)
	l.entries = append(l.entries, LogEntry{
		ChatMessage:     model.ChatMessage{InquiryID: inquiryID, SenderID: senderID, Content: content, CreatedAt: at},
		ClientMessageID: clientMessageID,
		State:           DeliverySending,
	})
}

// Receive applies a receive_message broadcast. It reports whether the
// log changed.
func (l *MessageLog) Receive(m model.ChatMessage, clientMessageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[m.ID] {
		return false
	}
	l.seen[m.ID] = true
	if i, ok := l.byClient[clientMessageID]; ok && clientMessageID != "" {
		l.entries[i].ChatMessage = m
		l.entries[i].State = DeliverySent
		delete(l.byClient, clientMessageID)
		return true
	}
	l.entries = append(l.entries, LogEntry{ChatMessage: m, ClientMessageID: clientMessageID, State: DeliverySent})
	return true
}

// Fail marks a pending message failed after an error event.
func (l *MessageLog) Fail(clientMessageID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byClient[clientMessageID]
	if !ok {
		return false
	}
	l.entries[i].State = DeliveryFailed
	return true
}

// Retry flips a failed message back to sending and returns its content.
func (l *MessageLog) Retry(clientMessageID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.byClient[clientMessageID]
	if !ok || l.entries[i].State != DeliveryFailed {
		return "", false
	}
	l.entries[i].State = DeliverySending
	return l.entries[i].Content, true
}

// MarkRead flags messages from other senders as read.
func (l *MessageLog) MarkRead(readerID uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].SenderID != readerID {
			l.entries[i].IsRead = true
		}
	}
}

// Entries returns a snapshot in display order.
func (l *MessageLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
