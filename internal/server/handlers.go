package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/remote"
	"github.com/matheus3301/inbox/internal/store"
	"go.uber.org/zap"
)

func (s *Server) listUsers(c *gin.Context) {
	if email := c.Query("email"); email != "" {
		u, err := s.db.UserByEmail(email)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, []model.User{})
			return
		}
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, []model.User{u})
		return
	}
	users, err := s.db.ListUsers()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) createUser(c *gin.Context) {
	var u model.User
	if err := c.ShouldBindJSON(&u); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if u.Email == "" {
		abort(c, http.StatusBadRequest, "email is required")
		return
	}
	if _, err := s.db.UserByEmail(u.Email); err == nil {
		abort(c, http.StatusConflict, "email already registered")
		return
	}
	created, err := s.db.CreateUser(u)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) listConversations(c *gin.Context) {
	page, err := pageParams(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	convs, total, err := s.db.ListConversations(store.ConversationFilter{
		Participants: c.QueryArray("participants_like"),
		Order:        order(c),
		Page:         page,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header(remote.TotalCountHeader, strconv.Itoa(total))
	c.JSON(http.StatusOK, convs)
}

func (s *Server) getConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	conv, err := s.db.GetConversation(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) createConversation(c *gin.Context) {
	var d model.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(d.Users) != 2 {
		abort(c, http.StatusBadRequest, "a conversation needs two users")
		return
	}
	conv, err := s.db.CreateConversation(d)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.broadcast(bus.KindServerConversation, model.ConversationEvent(conv))
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) patchConversation(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var p store.ConversationPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := s.db.PatchConversation(id, p)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.broadcast(bus.KindServerConversation, model.ConversationEvent(conv))
	c.JSON(http.StatusOK, conv)
}

func (s *Server) listMessages(c *gin.Context) {
	page, err := pageParams(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	convID, err := strconv.ParseInt(c.Query("conversationId"), 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, "conversationId is required")
		return
	}
	msgs, total, err := s.db.ListMessages(store.MessageFilter{
		ConversationID: model.ID(convID),
		Order:          order(c),
		Page:           page,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header(remote.TotalCountHeader, strconv.Itoa(total))
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) createMessage(c *gin.Context) {
	var m model.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.db.CreateMessage(m)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.broadcast(bus.KindServerMessage, model.MessageEvent(created))
	c.JSON(http.StatusCreated, created)
}

func (s *Server) broadcast(kind string, evt model.Event) {
	s.bus.Publish(bus.Event{Kind: kind, Payload: evt})
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		abort(c, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, store.ErrConflict) {
		abort(c, http.StatusConflict, err.Error())
		return
	}
	s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	abort(c, http.StatusInternalServerError, "internal error")
}

func idParam(c *gin.Context) (model.ID, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return model.ID(id), true
}

// pageParams reads _page and _limit. Without _page everything is returned.
func pageParams(c *gin.Context) (store.Page, error) {
	var p store.Page
	if v := c.Query("_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, errors.New("_page must be a positive integer")
		}
		p.Page = n
		p.Limit = 10
	}
	if v := c.Query("_limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, errors.New("_limit must be a non-negative integer")
		}
		p.Limit = n
	}
	return p, nil
}

// order reads _order; only timestamp sorting is supported.
func order(c *gin.Context) store.Order {
	if c.Query("_order") == "asc" {
		return store.Asc
	}
	return store.Desc
}
