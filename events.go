package peerchat

import (
	"time"

	"github.com/opd-ai/peerchat/messaging"
)

// EventType names an event pushed to the node's sink.
type EventType string

const (
	EventNewMessage       EventType = "new_message"
	EventMessageState     EventType = "message_state"
	EventFriendOnline     EventType = "friend_online"
	EventFriendOffline    EventType = "friend_offline"
	EventTyping           EventType = "typing"
	EventPresenceDegraded EventType = "presence_degraded"
	EventPresenceRestored EventType = "presence_restored"
	EventDiagnostic       EventType = "diagnostic"
)

// Event is one notification for the UI bridge.
type Event struct {
	Type    EventType          `json:"type"`
	Time    time.Time          `json:"time"`
	Peer    string             `json:"peer,omitempty"`
	Message *messaging.Message `json:"message,omitempty"`
	Typing  bool               `json:"typing,omitempty"`
	Detail  string             `json:"detail,omitempty"`
}

// EventSink receives node events. Emit is called from inside the node's actor and
// must not block.
type EventSink interface {
	Emit(event Event)
}

// EventFunc adapts a function to EventSink.
type EventFunc func(event Event)

// Emit calls f(event).
func (f EventFunc) Emit(event Event) { f(event) }

type discardEvents struct{}

func (discardEvents) Emit(Event) {}
