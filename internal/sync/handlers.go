package sync

import (
	"github.com/matheus3301/inbox/internal/cache"
	"github.com/matheus3301/inbox/internal/merge"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/push"
	"go.uber.org/zap"
)

// conversationHandler merges conversation events that involve email into
// the list at key.
func (s *Synchronizer) conversationHandler(key cache.Key, email string) push.Handler {
	return push.HandlerFuncs{
		Event: func(evt model.Event) {
			c := evt.Conversation
			if c == nil || !c.HasParticipant(email) {
				return
			}
			s.liveInsertConversation(key, *c)
		},
		State: s.stateHandler(key),
	}
}

// messageHandler merges message events of conversation id into the list at key.
func (s *Synchronizer) messageHandler(key cache.Key, id model.ID) push.Handler {
	return push.HandlerFuncs{
		Event: func(evt model.Event) {
			m := evt.Message
			if m == nil || m.ConversationID != id {
				return
			}
			s.liveInsertMessage(key, *m)
		},
		State: s.stateHandler(key),
	}
}

func (s *Synchronizer) stateHandler(key cache.Key) func(push.State) {
	return func(state push.State) {
		switch state {
		case push.Open:
			s.store.SetStale(key, false)
		case push.Reconnecting, push.Closed:
			s.store.SetStale(key, true)
		}
	}
}

func (s *Synchronizer) liveInsertConversation(key cache.Key, c model.Conversation) {
	var inserted bool
	err := cache.UpdateList(s.store, key, func(l cache.List[model.Conversation]) cache.List[model.Conversation] {
		l, inserted = merge.LiveInsert(l, c, model.Refresh)
		return l
	})
	if err := s.ignoreMissing(key, err); err != nil {
		s.logger.Error("live insert failed", zap.Stringer("key", key), zap.Error(err))
		return
	}
	s.logger.Debug("conversation merged", zap.Int64("id", int64(c.ID)), zap.Bool("inserted", inserted))
}

// liveInsertMessage keeps an already cached message as is: messages are immutable.
func (s *Synchronizer) liveInsertMessage(key cache.Key, m model.Message) {
	var inserted bool
	err := cache.UpdateList(s.store, key, func(l cache.List[model.Message]) cache.List[model.Message] {
		l, inserted = merge.LiveInsert(l, m, nil)
		return l
	})
	if err := s.ignoreMissing(key, err); err != nil {
		s.logger.Error("live insert failed", zap.Stringer("key", key), zap.Error(err))
		return
	}
	s.logger.Debug("message merged", zap.Int64("id", int64(m.ID)), zap.Bool("inserted", inserted))
}
