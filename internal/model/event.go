package model

import (
	"errors"
	"fmt"
)

// Kind tags a push event and names its topic.
type Kind string

const (
	KindConversation Kind = "conversation"
	KindMessage      Kind = "message"
)

// ErrUnknownKind is returned for events whose kind is not a known topic.
var ErrUnknownKind = errors.New("unknown event kind")

// ParseKind validates a topic name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindConversation, KindMessage:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Event is a pushed entity. Exactly one of Conversation or Message is set,
// matching Kind.
type Event struct {
	Kind         Kind
	Conversation *Conversation
	Message      *Message
}

// ConversationEvent wraps c as a push event.
func ConversationEvent(c Conversation) Event {
	return Event{Kind: KindConversation, Conversation: &c}
}

// MessageEvent wraps m as a push event.
func MessageEvent(m Message) Event {
	return Event{Kind: KindMessage, Message: &m}
}

// EntityID returns the id of the carried entity.
func (e Event) EntityID() ID {
	switch {
	case e.Conversation != nil:
		return e.Conversation.ID
	case e.Message != nil:
		return e.Message.ID
	}
	return 0
}

// Validate checks that the event carries a well-formed payload for its kind.
func (e Event) Validate() error {
	switch e.Kind {
	case KindConversation:
		if e.Conversation == nil || e.Message != nil {
			return fmt.Errorf("conversation event: payload mismatch")
		}
		if e.Conversation.ID == 0 {
			return fmt.Errorf("conversation event: missing id")
		}
		if len(e.Conversation.Users) == 0 {
			return fmt.Errorf("conversation event %d: no users", e.Conversation.ID)
		}
	case KindMessage:
		if e.Message == nil || e.Conversation != nil {
			return fmt.Errorf("message event: payload mismatch")
		}
		if e.Message.ID == 0 {
			return fmt.Errorf("message event: missing id")
		}
		if e.Message.ConversationID == 0 {
			return fmt.Errorf("message event %d: missing conversation id", e.Message.ID)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	return nil
}
