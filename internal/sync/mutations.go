package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/inbox/internal/cache"
	"github.com/matheus3301/inbox/internal/merge"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/optimistic"
	"go.uber.org/zap"
)

// Mutation names, as logged and published on the bus.
const (
	MutationAddConversation  = "addConversation"
	MutationEditConversation = "editConversation"
)

// CreateConversation starts a conversation written by sender. The list of
// sender shows it at once under a temporary id; once the server confirms,
// the temporary entry is replaced and the first message is created.
func (s *Synchronizer) CreateConversation(ctx context.Context, sender string, d model.Draft) (model.Conversation, error) {
	from, to, err := s.prepare(sender, &d)
	if err != nil {
		return model.Conversation{}, err
	}
	key := ConversationsKey(sender)
	existing, err := s.pairConversation(ctx, key, from.Email, to.Email)
	if err != nil {
		return model.Conversation{}, err
	}
	if existing != nil {
		return model.Conversation{}, fmt.Errorf("%w: %d between %s and %s", ErrConversationExists, existing.ID, from.Email, to.Email)
	}

	tempID := model.ID(s.opts.Now().UnixMilli())
	temp := model.Conversation{
		ID:           tempID,
		Participants: d.Participants,
		Users:        d.Users,
		Message:      d.Message,
		Timestamp:    d.Timestamp,
	}
	exists := func(items []model.Conversation) bool {
		for _, c := range items {
			if c.Involves(from.Email, to.Email) {
				return true
			}
		}
		return false
	}

	conv, _, err := optimistic.Perform(ctx, s.coord, optimistic.Mutation[model.Conversation, model.Conversation]{
		Name:    MutationAddConversation,
		Key:     key,
		Patches: []*optimistic.Patch[model.Conversation]{optimistic.InsertPatch(temp, exists)},
		Do: func(ctx context.Context) (model.Conversation, error) {
			return s.remote.CreateConversation(ctx, d)
		},
		Confirm: func(ctx context.Context, c model.Conversation) error {
			err := cache.UpdateList(s.store, key, func(l cache.List[model.Conversation]) cache.List[model.Conversation] {
				return merge.Replace(l, tempID, c, model.Refresh)
			})
			if err := s.ignoreMissing(key, err); err != nil {
				return err
			}
			_, err = s.sendMessage(ctx, c.ID, from, to, d)
			return err
		},
	})
	return conv, err
}

// pairConversation returns the conversation between a and b, looking at the
// cached list first and asking the data service when the pair is not cached.
func (s *Synchronizer) pairConversation(ctx context.Context, key cache.Key, a, b string) (*model.Conversation, error) {
	if l, _, ok := cache.GetList[model.Conversation](s.store, key); ok {
		for _, c := range l.Items {
			if c.Involves(a, b) {
				return &c, nil
			}
		}
	}
	return s.FindConversation(ctx, a, b)
}

// EditConversation sets the last message of conversation id. The entry
// moves to the top of the list of sender at once and a message is created
// once the server confirms.
func (s *Synchronizer) EditConversation(ctx context.Context, sender string, id model.ID, d model.Draft) (model.Conversation, error) {
	from, to, err := s.prepare(sender, &d)
	if err != nil {
		return model.Conversation{}, err
	}

	key := ConversationsKey(sender)
	fields := model.Fields{Message: d.Message, Timestamp: d.Timestamp}

	conv, _, err := optimistic.Perform(ctx, s.coord, optimistic.Mutation[model.Conversation, model.Conversation]{
		Name:    MutationEditConversation,
		Key:     key,
		Patches: []*optimistic.Patch[model.Conversation]{optimistic.UpdatePatch[model.Conversation](id, fields, true)},
		Do: func(ctx context.Context) (model.Conversation, error) {
			return s.remote.EditConversation(ctx, id, d)
		},
		Confirm: func(ctx context.Context, c model.Conversation) error {
			err := cache.UpdateList(s.store, key, func(l cache.List[model.Conversation]) cache.List[model.Conversation] {
				if merge.IndexOf(l.Items, c.ID) < 0 {
					return l
				}
				l, _ = merge.LiveInsert(l, c, model.Refresh)
				return l
			})
			if err := s.ignoreMissing(key, err); err != nil {
				return err
			}
			_, err = s.sendMessage(ctx, id, from, to, d)
			return err
		},
	})
	return conv, err
}

// Send writes text from sender to receiver, editing their conversation
// when one exists and creating it otherwise. The receiver must be registered.
func (s *Synchronizer) Send(ctx context.Context, sender, receiver model.User, text string) (model.Conversation, error) {
	if receiver.Email == sender.Email {
		return model.Conversation{}, fmt.Errorf("%w: cannot write to yourself", ErrInvalidDraft)
	}
	registered, err := s.remote.FindUser(ctx, receiver.Email)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("find user: %w", err)
	}
	if registered == nil {
		return model.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownUser, receiver.Email)
	}
	receiver = *registered

	d := model.NewDraft(sender, receiver, text, s.opts.Now().UnixMilli())
	existing, err := s.FindConversation(ctx, sender.Email, receiver.Email)
	if err != nil {
		return model.Conversation{}, err
	}
	if existing != nil {
		return s.EditConversation(ctx, sender.Email, existing.ID, d)
	}
	return s.CreateConversation(ctx, sender.Email, d)
}

// AddMessage creates a message on the server.
func (s *Synchronizer) AddMessage(ctx context.Context, m model.Message) (model.Message, error) {
	created, err := s.remote.CreateMessage(ctx, m)
	if err != nil {
		return model.Message{}, fmt.Errorf("add message: %w", err)
	}
	return created, nil
}

// sendMessage creates the message that accompanies a conversation change
// and merges it into the cached message list of the conversation.
func (s *Synchronizer) sendMessage(ctx context.Context, id model.ID, from, to model.User, d model.Draft) (model.Message, error) {
	m, err := s.AddMessage(ctx, model.Message{
		ConversationID: id,
		Sender:         from,
		Receiver:       to,
		Message:        model.Body(d.Message),
		Timestamp:      d.Timestamp,
	})
	if err != nil {
		return model.Message{}, err
	}
	s.liveInsertMessage(MessagesKey(id), m)
	s.logger.Debug("message created", zap.Int64("conversation_id", int64(id)), zap.Int64("id", int64(m.ID)))
	return m, nil
}

// prepare validates d and fills in what the caller may omit.
func (s *Synchronizer) prepare(sender string, d *model.Draft) (from, to model.User, err error) {
	d.Message = strings.TrimSpace(d.Message)
	if d.Message == "" {
		return from, to, fmt.Errorf("%w: empty message", ErrInvalidDraft)
	}
	from, to, ok := d.Split(sender)
	if !ok {
		return from, to, fmt.Errorf("%w: %s is not a participant", ErrInvalidDraft, sender)
	}
	if from.Email == to.Email {
		return from, to, fmt.Errorf("%w: cannot write to yourself", ErrInvalidDraft)
	}
	if d.Participants == "" {
		d.Participants = model.Participants(from.Email, to.Email)
	}
	if d.Timestamp == 0 {
		d.Timestamp = s.opts.Now().UnixMilli()
	}
	return from, to, nil
}
