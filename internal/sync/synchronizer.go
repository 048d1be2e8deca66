// Package sync keeps the cached conversation and message lists in step
// with the data service and the push channels.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/inbox/internal/cache"
	"github.com/matheus3301/inbox/internal/merge"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/optimistic"
	"github.com/matheus3301/inbox/internal/push"
	"github.com/matheus3301/inbox/internal/remote"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Query names of the cached results.
const (
	QueryConversations = "getConversations"
	QueryMessages      = "getMessages"
	QueryConversation  = "getConversation"
)

var (
	// ErrInvalidDraft is returned for drafts without a sender, a receiver or a message.
	ErrInvalidDraft = errors.New("sync: invalid draft")
	// ErrUnknownUser is returned when the receiver is not registered.
	ErrUnknownUser = errors.New("sync: unknown user")
	// ErrConversationExists is returned when creating a conversation for a
	// pair that already has one.
	ErrConversationExists = errors.New("sync: conversation already exists")
)

// Remote is the subset of the data service the synchronizer uses.
type Remote interface {
	ListConversations(ctx context.Context, email string, page remote.PageRequest) (remote.Page[model.Conversation], error)
	FindConversation(ctx context.Context, a, b string) (*model.Conversation, error)
	CreateConversation(ctx context.Context, d model.Draft) (model.Conversation, error)
	EditConversation(ctx context.Context, id model.ID, d model.Draft) (model.Conversation, error)
	ListMessages(ctx context.Context, conversationID model.ID, page remote.PageRequest) (remote.Page[model.Message], error)
	CreateMessage(ctx context.Context, m model.Message) (model.Message, error)
	FindUser(ctx context.Context, email string) (*model.User, error)
}

// Options configures a Synchronizer.
type Options struct {
	ConversationsPerPage int
	MessagesPerPage      int
	// Now is the clock used for temporary ids and draft timestamps.
	Now func() time.Time
	// LoadTimeout bounds a first-page load. The load is shared by every
	// caller waiting on the key, so it does not follow any caller's context.
	LoadTimeout time.Duration
}

// DefaultLoadTimeout is used when Options.LoadTimeout is not set.
const DefaultLoadTimeout = 30 * time.Second

// Synchronizer composes the cache store, the merge rules, the push channels
// and the mutation coordinator for conversations and messages.
type Synchronizer struct {
	store  *cache.Store
	remote Remote
	push   *push.Manager
	coord  *optimistic.Coordinator
	logger *zap.Logger
	opts   Options
	loads  singleflight.Group
}

// New creates a synchronizer.
func New(store *cache.Store, r Remote, pm *push.Manager, coord *optimistic.Coordinator, opts Options, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ConversationsPerPage <= 0 {
		opts.ConversationsPerPage = 10
	}
	if opts.MessagesPerPage <= 0 {
		opts.MessagesPerPage = 20
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	return &Synchronizer{
		store:  store,
		remote: r,
		push:   pm,
		coord:  coord,
		logger: logger,
		opts:   opts,
	}
}

// ConversationsKey is the cache key of the conversation list of email.
func ConversationsKey(email string) cache.Key {
	return cache.NewKey(QueryConversations, email)
}

// MessagesKey is the cache key of the message list of a conversation.
func MessagesKey(id model.ID) cache.Key {
	return cache.NewKey(QueryMessages, id)
}

type pair struct {
	A string `json:"a"`
	B string `json:"b"`
}

// ConversationKey is the cache key of the conversation between a and b.
func ConversationKey(a, b string) cache.Key {
	return cache.NewKey(QueryConversation, pair{A: a, B: b})
}

// WatchConversations subscribes to the conversation list of email. The list
// is loaded when missing, failed or stale, and the conversation push channel
// stays acquired until the subscription is closed.
func (s *Synchronizer) WatchConversations(ctx context.Context, email string) (*cache.Subscription, error) {
	key := ConversationsKey(email)
	sub := s.store.Subscribe(key)
	err := s.ensure(ctx, key, func(ctx context.Context) (any, error) {
		page, err := s.remote.ListConversations(ctx, email, remote.PageRequest{Page: 1, Limit: s.opts.ConversationsPerPage})
		if err != nil {
			return nil, err
		}
		return cache.List[model.Conversation]{Items: page.Items, Total: total(page.Total, len(page.Items))}, nil
	})
	if err != nil {
		sub.Close()
		return nil, err
	}
	release := s.push.Acquire(push.Key{Topic: model.KindConversation, Filter: email}, s.conversationHandler(key, email))
	sub.OnClose(release)
	return sub, nil
}

// WatchMessages subscribes to the message list of a conversation.
func (s *Synchronizer) WatchMessages(ctx context.Context, id model.ID) (*cache.Subscription, error) {
	key := MessagesKey(id)
	sub := s.store.Subscribe(key)
	err := s.ensure(ctx, key, func(ctx context.Context) (any, error) {
		page, err := s.remote.ListMessages(ctx, id, remote.PageRequest{Page: 1, Limit: s.opts.MessagesPerPage})
		if err != nil {
			return nil, err
		}
		return cache.List[model.Message]{Items: page.Items, Total: total(page.Total, len(page.Items))}, nil
	})
	if err != nil {
		sub.Close()
		return nil, err
	}
	release := s.push.Acquire(push.Key{Topic: model.KindMessage, Filter: fmt.Sprint(int64(id))}, s.messageHandler(key, id))
	sub.OnClose(release)
	return sub, nil
}

// ensure loads key unless it holds fresh data. Concurrent loads of one key
// share a single request.
func (s *Synchronizer) ensure(ctx context.Context, key cache.Key, load func(context.Context) (any, error)) error {
	if e, ok := s.store.Get(key); ok && e.Status == cache.StatusSuccess && !e.Stale {
		return nil
	}
	done := s.loads.DoChan(key.String(), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.LoadTimeout)
		defer cancel()
		s.store.SetStatus(key, cache.StatusPending, nil)
		data, err := load(loadCtx)
		if err != nil {
			s.store.SetStatus(key, cache.StatusError, err)
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		s.store.Set(key, data)
		return nil, nil
	})
	select {
	case res := <-done:
		if res.Shared {
			s.logger.Debug("load shared", zap.Stringer("key", key))
		}
		return res.Err
	case <-ctx.Done():
		// The load keeps running for the other callers and fills the entry.
		return ctx.Err()
	}
}

// LoadMoreConversations appends page of the conversation list of email.
func (s *Synchronizer) LoadMoreConversations(ctx context.Context, email string, page int) error {
	p, err := s.remote.ListConversations(ctx, email, remote.PageRequest{Page: page, Limit: s.opts.ConversationsPerPage})
	if err != nil {
		return fmt.Errorf("load conversations page %d: %w", page, err)
	}
	key := ConversationsKey(email)
	err = cache.UpdateList(s.store, key, func(l cache.List[model.Conversation]) cache.List[model.Conversation] {
		return merge.AppendPage(l, p.Items, total(p.Total, l.Total))
	})
	return s.ignoreMissing(key, err)
}

// LoadMoreMessages appends page of the message list of a conversation.
func (s *Synchronizer) LoadMoreMessages(ctx context.Context, id model.ID, page int) error {
	p, err := s.remote.ListMessages(ctx, id, remote.PageRequest{Page: page, Limit: s.opts.MessagesPerPage})
	if err != nil {
		return fmt.Errorf("load messages page %d: %w", page, err)
	}
	key := MessagesKey(id)
	err = cache.UpdateList(s.store, key, func(l cache.List[model.Message]) cache.List[model.Message] {
		return merge.AppendPage(l, p.Items, total(p.Total, l.Total))
	})
	return s.ignoreMissing(key, err)
}

// ignoreMissing logs and swallows ErrKeyNotFound: the list was evicted
// while the request was in flight.
func (s *Synchronizer) ignoreMissing(key cache.Key, err error) error {
	if errors.Is(err, cache.ErrKeyNotFound) {
		s.logger.Warn("cache update skipped", zap.Stringer("key", key), zap.Error(err))
		return nil
	}
	return err
}

// FindConversation looks up the conversation between a and b and caches
// the answer, which may be nil.
func (s *Synchronizer) FindConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	c, err := s.remote.FindConversation(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	s.store.Set(ConversationKey(a, b), c)
	return c, nil
}

// Conversations returns the rendered conversation list of email.
func (s *Synchronizer) Conversations(email string) ([]model.Conversation, cache.Entry, bool) {
	l, e, ok := cache.GetList[model.Conversation](s.store, ConversationsKey(email))
	if !ok {
		return nil, e, false
	}
	return merge.Dedup(l.Items), e, true
}

// Messages returns the rendered message list of a conversation, oldest first.
func (s *Synchronizer) Messages(id model.ID) ([]model.Message, cache.Entry, bool) {
	l, e, ok := cache.GetList[model.Message](s.store, MessagesKey(id))
	if !ok {
		return nil, e, false
	}
	return merge.Render(l.Items), e, true
}

// total prefers the server count and falls back when the header was missing.
func total(server, fallback int) int {
	if server < 0 {
		return fallback
	}
	return server
}
