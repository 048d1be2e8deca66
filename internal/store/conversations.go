package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/inbox/internal/model"
)

// ConversationFilter selects conversations. Participants entries are
// substring matches on the participants column, any of which may match.
type ConversationFilter struct {
	Participants []string
	Order        Order
	Page         Page
}

// ListConversations returns the matching conversations sorted by timestamp
// and the number of matches before paging.
func (db *DB) ListConversations(f ConversationFilter) ([]model.Conversation, int, error) {
	where, args := likeAny("participants", f.Participants)

	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM conversations`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	limit, limitArgs := f.Page.clause()
	rows, err := db.Query(`
		SELECT id, participants, users, message, timestamp
		FROM conversations`+where+`
		ORDER BY timestamp `+f.Order.sql()+`, id `+f.Order.sql()+limit,
		append(args, limitArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	convs := []model.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		convs = append(convs, c)
	}
	return convs, total, rows.Err()
}

// GetConversation returns a conversation by id.
func (db *DB) GetConversation(id model.ID) (model.Conversation, error) {
	row := db.QueryRow(`SELECT id, participants, users, message, timestamp FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	return c, err
}

// CreateConversation stores d and returns the new conversation. A pair has
// at most one conversation: writing a second one for the same two users, in
// either order, fails with ErrConflict.
func (db *DB) CreateConversation(d model.Draft) (model.Conversation, error) {
	users, err := json.Marshal(usersOrEmpty(d.Users))
	if err != nil {
		return model.Conversation{}, err
	}
	forward, reverse := d.Participants, d.Participants
	if len(d.Users) == 2 {
		forward = model.Participants(d.Users[0].Email, d.Users[1].Email)
		reverse = model.Participants(d.Users[1].Email, d.Users[0].Email)
	}
	res, err := db.Exec(`INSERT INTO conversations (participants, users, message, timestamp)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM conversations WHERE participants IN (?, ?))`,
		d.Participants, string(users), d.Message, d.Timestamp, forward, reverse)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return model.Conversation{}, err
	} else if n == 0 {
		return model.Conversation{}, fmt.Errorf("conversation %s: %w", forward, ErrConflict)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Conversation{}, err
	}
	return db.GetConversation(model.ID(id))
}

// ConversationPatch holds the fields of a partial update. Nil fields are kept.
type ConversationPatch struct {
	Participants *string       `json:"participants,omitempty"`
	Users        *[]model.User `json:"users,omitempty"`
	Message      *string       `json:"message,omitempty"`
	Timestamp    *int64        `json:"timestamp,omitempty"`
}

// PatchConversation applies p to conversation id and returns the result.
func (db *DB) PatchConversation(id model.ID, p ConversationPatch) (model.Conversation, error) {
	var (
		sets []string
		args []any
	)
	if p.Participants != nil {
		sets = append(sets, "participants = ?")
		args = append(args, *p.Participants)
	}
	if p.Users != nil {
		users, err := json.Marshal(usersOrEmpty(*p.Users))
		if err != nil {
			return model.Conversation{}, err
		}
		sets = append(sets, "users = ?")
		args = append(args, string(users))
	}
	if p.Message != nil {
		sets = append(sets, "message = ?")
		args = append(args, *p.Message)
	}
	if p.Timestamp != nil {
		sets = append(sets, "timestamp = ?")
		args = append(args, *p.Timestamp)
	}
	if len(sets) == 0 {
		return db.GetConversation(id)
	}

	res, err := db.Exec(`UPDATE conversations SET `+strings.Join(sets, ", ")+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Conversation{}, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	return db.GetConversation(id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (model.Conversation, error) {
	var (
		c     model.Conversation
		users string
	)
	if err := s.Scan(&c.ID, &c.Participants, &users, &c.Message, &c.Timestamp); err != nil {
		return c, err
	}
	if err := json.Unmarshal([]byte(users), &c.Users); err != nil {
		return c, fmt.Errorf("conversation %d users: %w", c.ID, err)
	}
	return c, nil
}

func usersOrEmpty(u []model.User) []model.User {
	if u == nil {
		return []model.User{}
	}
	return u
}

// likeAny builds a WHERE clause matching column against any of the values.
func likeAny(column string, values []string) (string, []any) {
	if len(values) == 0 {
		return "", nil
	}
	conds := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		conds[i] = column + ` LIKE ? ESCAPE '\'`
		args[i] = "%" + escapeLike(v) + "%"
	}
	return " WHERE " + strings.Join(conds, " OR "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
