package model

import "strings"

// ID identifies a conversation or a message. Server ids are small positive
// integers; temporary client ids are Unix milliseconds taken when an
// optimistic mutation starts.
type ID int64

// Entity is anything that can live in a cached list.
type Entity interface {
	EntityID() ID
	EntityTimestamp() int64
}

// User is a conversation participant. Identity is the email address.
type User struct {
	ID    int64  `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Fields holds the mutable part of a conversation.
type Fields struct {
	Message   string
	Timestamp int64
}

// Conversation is the last-message summary between two users.
type Conversation struct {
	ID           ID     `json:"id"`
	Participants string `json:"participants"`
	Users        []User `json:"users"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
}

func (c Conversation) EntityID() ID           { return c.ID }
func (c Conversation) EntityTimestamp() int64 { return c.Timestamp }

// Fields returns the last message and its timestamp.
func (c Conversation) Fields() Fields {
	return Fields{Message: c.Message, Timestamp: c.Timestamp}
}

// WithFields returns a copy of c carrying f.
func (c Conversation) WithFields(f Fields) Conversation {
	c.Message = f.Message
	c.Timestamp = f.Timestamp
	return c
}

// Refresh keeps the position and identity of existing and takes the
// mutable fields of incoming.
func Refresh(existing, incoming Conversation) Conversation {
	return existing.WithFields(incoming.Fields())
}

// HasParticipant reports whether email is one of the conversation users.
func (c Conversation) HasParticipant(email string) bool {
	for _, u := range c.Users {
		if u.Email == email {
			return true
		}
	}
	return false
}

// Involves reports whether the conversation is between a and b, in either order.
func (c Conversation) Involves(a, b string) bool {
	return c.HasParticipant(a) && c.HasParticipant(b)
}

// Peer returns the participant that is not email.
func (c Conversation) Peer(email string) (User, bool) {
	for _, u := range c.Users {
		if u.Email != email {
			return u, true
		}
	}
	return User{}, false
}

// Participants builds the participants string the server filters on.
func Participants(a, b string) string {
	return a + "-" + b
}

// Message is a single immutable chat message.
type Message struct {
	ID             ID    `json:"id,omitempty"`
	ConversationID ID    `json:"conversationId"`
	Sender         User  `json:"sender"`
	Receiver       User  `json:"receiver"`
	Message        Body  `json:"message"`
	Timestamp      int64 `json:"timestamp"`
}

func (m Message) EntityID() ID           { return m.ID }
func (m Message) EntityTimestamp() int64 { return m.Timestamp }

// Draft is the payload of a conversation create or edit.
type Draft struct {
	Participants string `json:"participants"`
	Users        []User `json:"users"`
	Message      string `json:"message"`
	Timestamp    int64  `json:"timestamp"`
}

// NewDraft builds a draft between sender and receiver.
func NewDraft(sender, receiver User, message string, timestamp int64) Draft {
	return Draft{
		Participants: Participants(sender.Email, receiver.Email),
		Users:        []User{sender, receiver},
		Message:      strings.TrimSpace(message),
		Timestamp:    timestamp,
	}
}

// Split returns the sender and receiver of a draft written by sender.
func (d Draft) Split(sender string) (from, to User, ok bool) {
	var haveFrom, haveTo bool
	for _, u := range d.Users {
		if u.Email == sender && !haveFrom {
			from, haveFrom = u, true
		} else if !haveTo {
			to, haveTo = u, true
		}
	}
	return from, to, haveFrom && haveTo
}
