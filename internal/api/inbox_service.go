package api

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/cache"
	"github.com/matheus3301/inbox/internal/merge"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/optimistic"
	"github.com/matheus3301/inbox/internal/push"
	intsync "github.com/matheus3301/inbox/internal/sync"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// InboxService implements InboxServer on top of the synchronizer.
type InboxService struct {
	profile   string
	me        model.User
	startedAt time.Time
	sync      *intsync.Synchronizer
	store     *cache.Store
	push      *push.Manager
	bus       *bus.Bus
	leases    *leases
	logger    *zap.Logger
}

// NewInboxService creates the service for the profile whose user is me.
func NewInboxService(profile string, me model.User, s *intsync.Synchronizer, store *cache.Store, pm *push.Manager, b *bus.Bus, logger *zap.Logger) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxService{
		profile:   profile,
		me:        me,
		startedAt: time.Now(),
		sync:      s,
		store:     store,
		push:      pm,
		bus:       b,
		leases:    newLeases(LeaseTTL),
		logger:    logger,
	}
}

// Close releases the subscriptions still held for unary reads.
func (s *InboxService) Close() {
	s.leases.close()
}

func (s *InboxService) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	entries := s.store.Entries()
	infos := make([]EntryInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, entryInfo(e))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })

	return Encode(StatusResponse{
		Profile:    s.profile,
		Identity:   s.me.Email,
		UptimeMs:   time.Since(s.startedAt).Milliseconds(),
		Entries:    infos,
		Channels:   s.channels(),
		BusDropped: s.bus.Dropped(),
	})
}

func (s *InboxService) Conversations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalidArgument("%v", err)
	}
	sub, err := s.sync.WatchConversations(ctx, s.email(req.Email))
	if err != nil {
		return nil, toStatus(err)
	}
	defer s.leases.hold(sub)
	return encodeCurrent(sub)
}

func (s *InboxService) LoadMoreConversations(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalidArgument("%v", err)
	}
	if req.Page < 2 {
		return nil, invalidArgument("page must be 2 or more, got %d", req.Page)
	}
	email := s.email(req.Email)
	sub, err := s.sync.WatchConversations(ctx, email)
	if err != nil {
		return nil, toStatus(err)
	}
	defer s.leases.hold(sub)
	if err := s.sync.LoadMoreConversations(ctx, email, req.Page); err != nil {
		return nil, toStatus(err)
	}
	return encodeCurrent(sub)
}

func (s *InboxService) Messages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalidArgument("%v", err)
	}
	if req.ConversationID == 0 {
		return nil, invalidArgument("conversation_id is required")
	}
	sub, err := s.sync.WatchMessages(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	defer s.leases.hold(sub)
	return encodeCurrent(sub)
}

func (s *InboxService) LoadMoreMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ListRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalidArgument("%v", err)
	}
	if req.ConversationID == 0 || req.Page < 2 {
		return nil, invalidArgument("conversation_id and a page of 2 or more are required")
	}
	sub, err := s.sync.WatchMessages(ctx, req.ConversationID)
	if err != nil {
		return nil, toStatus(err)
	}
	defer s.leases.hold(sub)
	if err := s.sync.LoadMoreMessages(ctx, req.ConversationID, req.Page); err != nil {
		return nil, toStatus(err)
	}
	return encodeCurrent(sub)
}

func (s *InboxService) FindConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req FindConversationRequest
	if err := Decode(in, &req); err != nil {
		return nil, invalidArgument("%v", err)
	}
	if req.B == "" {
		return nil, invalidArgument("b is required")
	}
	c, err := s.sync.FindConversation(ctx, s.email(req.A), req.B)
	if err != nil {
		return nil, toStatus(err)
	}
	return Encode(FindConversationResponse{Found: c != nil, Conversation: c})
}

func (s *InboxService) CreateConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.writeRequest(in)
	if err != nil {
		return nil, err
	}
	d := model.NewDraft(s.me, req.To, req.Message, time.Now().UnixMilli())
	c, err := s.sync.CreateConversation(ctx, s.me.Email, d)
	return s.written(c, err)
}

func (s *InboxService) EditConversation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.writeRequest(in)
	if err != nil {
		return nil, err
	}
	if req.ConversationID == 0 {
		return nil, invalidArgument("conversation_id is required")
	}
	d := model.NewDraft(s.me, req.To, req.Message, time.Now().UnixMilli())
	c, err := s.sync.EditConversation(ctx, s.me.Email, req.ConversationID, d)
	return s.written(c, err)
}

func (s *InboxService) Send(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := s.writeRequest(in)
	if err != nil {
		return nil, err
	}
	c, err := s.sync.Send(ctx, s.me, req.To, req.Message)
	return s.written(c, err)
}

func (s *InboxService) PushChannels(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return Encode(PushChannelsResponse{Channels: s.channels()})
}

// WatchEntry streams every change of one list entry until the client leaves.
func (s *InboxService) WatchEntry(in *structpb.Struct, stream Stream) error {
	var req WatchEntryRequest
	if err := Decode(in, &req); err != nil {
		return invalidArgument("%v", err)
	}
	ctx := stream.Context()

	var (
		sub *cache.Subscription
		err error
	)
	switch req.Query {
	case QueryConversations:
		sub, err = s.sync.WatchConversations(ctx, s.email(req.Email))
	case QueryMessages:
		if req.ConversationID == 0 {
			return invalidArgument("conversation_id is required")
		}
		sub, err = s.sync.WatchMessages(ctx, req.ConversationID)
	default:
		return invalidArgument("unknown query %q", req.Query)
	}
	if err != nil {
		return toStatus(err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-sub.Updates():
			out, err := Encode(listResponse(e))
			if err != nil {
				return toStatus(err)
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

// WatchEvents streams bus events under a namespace until the client leaves.
func (s *InboxService) WatchEvents(in *structpb.Struct, stream Stream) error {
	var req WatchEventsRequest
	if err := Decode(in, &req); err != nil {
		return invalidArgument("%v", err)
	}
	ch, unsub := s.bus.Subscribe(req.Namespace, 256)
	defer unsub()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-ch:
			out, err := Encode(EventEnvelope{
				EventID:          uuid.New().String(),
				Profile:          s.profile,
				OccurredAtUnixMs: evt.Timestamp.UnixMilli(),
				Kind:             evt.Kind,
				PayloadVersion:   1,
				Payload:          eventPayload(evt),
			})
			if err != nil {
				s.logger.Warn("skipping event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		}
	}
}

func (s *InboxService) email(requested string) string {
	if requested != "" {
		return requested
	}
	return s.me.Email
}

func (s *InboxService) writeRequest(in *structpb.Struct) (WriteRequest, error) {
	var req WriteRequest
	if err := Decode(in, &req); err != nil {
		return req, invalidArgument("%v", err)
	}
	if req.To.Email == "" {
		return req, invalidArgument("to.email is required")
	}
	return req, nil
}

func (s *InboxService) written(c model.Conversation, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	return Encode(WriteResponse{Conversation: c})
}

func (s *InboxService) channels() []ChannelInfo {
	chans := s.push.Channels()
	out := make([]ChannelInfo, 0, len(chans))
	for _, c := range chans {
		out = append(out, ChannelInfo{
			Topic:    string(c.Key.Topic),
			Filter:   c.Key.Filter,
			State:    string(c.State),
			Refs:     c.Refs,
			Attempts: c.Attempts,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Filter < out[j].Filter
	})
	return out
}

func encodeCurrent(sub *cache.Subscription) (*structpb.Struct, error) {
	e, ok := sub.Current()
	if !ok {
		return nil, toStatus(fmt.Errorf("%w: %s", cache.ErrKeyNotFound, sub.Key()))
	}
	return Encode(listResponse(e))
}

func listResponse(e cache.Entry) ListResponse {
	resp := ListResponse{Entry: entryInfo(e)}
	switch l := e.Data.(type) {
	case cache.List[model.Conversation]:
		resp.Conversations = merge.Dedup(l.Items)
	case cache.List[model.Message]:
		resp.Messages = merge.Render(l.Items)
	}
	return resp
}

func entryInfo(e cache.Entry) EntryInfo {
	info := EntryInfo{
		Key:             e.Key.String(),
		Status:          string(e.Status),
		Stale:           e.Stale,
		UpdatedAtUnixMs: e.UpdatedAt.UnixMilli(),
	}
	if e.Err != nil {
		info.Error = e.Err.Error()
	}
	switch l := e.Data.(type) {
	case cache.List[model.Conversation]:
		info.Total = l.Total
	case cache.List[model.Message]:
		info.Total = l.Total
	case *model.Conversation:
		if l != nil {
			info.Total = 1
		}
	}
	return info
}

// eventPayload turns bus payloads into JSON friendly values.
func eventPayload(evt bus.Event) any {
	switch p := evt.Payload.(type) {
	case cache.Entry:
		return entryInfo(p)
	case cache.Key:
		return map[string]any{"key": p.String()}
	case push.StateChange:
		return map[string]any{
			"topic":  string(p.Key.Topic),
			"filter": p.Key.Filter,
			"from":   string(p.From),
			"to":     string(p.To),
		}
	case optimistic.Result:
		return map[string]any{
			"mutation_id": p.ID,
			"name":        p.Name,
			"key":         p.Key.String(),
			"outcome":     string(p.Outcome),
			"error":       p.Err,
		}
	case model.Event:
		return p
	default:
		return nil
	}
}
