package api

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/inbox/internal/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// Watch queries.
const (
	QueryConversations = "conversations"
	QueryMessages      = "messages"
)

type StatusResponse struct {
	Profile    string        `json:"profile"`
	Identity   string        `json:"identity"`
	UptimeMs   int64         `json:"uptime_ms"`
	Entries    []EntryInfo   `json:"entries"`
	Channels   []ChannelInfo `json:"channels"`
	BusDropped uint64        `json:"bus_dropped"`
}

// EntryInfo describes a cache entry without its data.
type EntryInfo struct {
	Key             string `json:"key"`
	Status          string `json:"status"`
	Stale           bool   `json:"stale"`
	Total           int    `json:"total"`
	Error           string `json:"error,omitempty"`
	UpdatedAtUnixMs int64  `json:"updated_at_unix_ms"`
}

type ChannelInfo struct {
	Topic    string `json:"topic"`
	Filter   string `json:"filter"`
	State    string `json:"state"`
	Refs     int    `json:"refs"`
	Attempts int    `json:"attempts"`
}

type PushChannelsResponse struct {
	Channels []ChannelInfo `json:"channels"`
}

type ListRequest struct {
	// Email selects the conversation list; empty means the daemon identity.
	Email          string   `json:"email,omitempty"`
	ConversationID model.ID `json:"conversation_id,omitempty"`
	Page           int      `json:"page,omitempty"`
}

// ListResponse is a rendered list entry. Only one of the lists is set.
type ListResponse struct {
	Entry         EntryInfo            `json:"entry"`
	Conversations []model.Conversation `json:"conversations,omitempty"`
	Messages      []model.Message      `json:"messages,omitempty"`
}

type FindConversationRequest struct {
	// A defaults to the daemon identity.
	A string `json:"a,omitempty"`
	B string `json:"b"`
}

type FindConversationResponse struct {
	Found        bool                `json:"found"`
	Conversation *model.Conversation `json:"conversation,omitempty"`
}

// WriteRequest carries a message from the daemon identity to To. EditConversation
// also needs ConversationID.
type WriteRequest struct {
	ConversationID model.ID   `json:"conversation_id,omitempty"`
	To             model.User `json:"to"`
	Message        string     `json:"message"`
}

type WriteResponse struct {
	Conversation model.Conversation `json:"conversation"`
}

type WatchEntryRequest struct {
	Query          string   `json:"query"`
	Email          string   `json:"email,omitempty"`
	ConversationID model.ID `json:"conversation_id,omitempty"`
}

type WatchEventsRequest struct {
	Namespace string `json:"namespace"`
}

// EventEnvelope wraps a bus event for WatchEvents.
type EventEnvelope struct {
	EventID          string `json:"event_id"`
	Profile          string `json:"profile"`
	OccurredAtUnixMs int64  `json:"occurred_at_unix_ms"`
	Kind             string `json:"kind"`
	PayloadVersion   int    `json:"payload_version"`
	Payload          any    `json:"payload,omitempty"`
}

// Encode converts v into a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("api: encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("api: encode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// Decode fills out from a Struct. A nil Struct leaves out untouched.
func Decode(s *structpb.Struct, out any) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("api: decode: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decode %T: %w", out, err)
	}
	return nil
}
