package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/inbox/internal/model"
)

// MessageFilter selects the messages of one conversation.
type MessageFilter struct {
	ConversationID model.ID
	Order          Order
	Page           Page
}

// ListMessages returns the messages of a conversation sorted by timestamp
// and the number of messages before paging.
func (db *DB) ListMessages(f MessageFilter) ([]model.Message, int, error) {
	var total int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, f.ConversationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	limit, limitArgs := f.Page.clause()
	rows, err := db.Query(`
		SELECT id, conversation_id, sender, receiver, message, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY timestamp `+f.Order.sql()+`, id `+f.Order.sql()+limit,
		append([]any{f.ConversationID}, limitArgs...)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	msgs := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}

// GetMessage returns a message by id.
func (db *DB) GetMessage(id model.ID) (model.Message, error) {
	row := db.QueryRow(`SELECT id, conversation_id, sender, receiver, message, timestamp FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return m, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return m, err
}

// CreateMessage stores m and returns it with its id. The conversation must exist.
func (db *DB) CreateMessage(m model.Message) (model.Message, error) {
	if _, err := db.GetConversation(m.ConversationID); err != nil {
		return model.Message{}, err
	}
	sender, err := json.Marshal(m.Sender)
	if err != nil {
		return model.Message{}, err
	}
	receiver, err := json.Marshal(m.Receiver)
	if err != nil {
		return model.Message{}, err
	}
	res, err := db.Exec(`INSERT INTO messages (conversation_id, sender, receiver, message, timestamp) VALUES (?, ?, ?, ?, ?)`,
		m.ConversationID, string(sender), string(receiver), m.Message.String(), m.Timestamp)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Message{}, err
	}
	return db.GetMessage(model.ID(id))
}

func scanMessage(s scanner) (model.Message, error) {
	var (
		m                model.Message
		sender, receiver string
		body             string
	)
	if err := s.Scan(&m.ID, &m.ConversationID, &sender, &receiver, &body, &m.Timestamp); err != nil {
		return m, err
	}
	if err := json.Unmarshal([]byte(sender), &m.Sender); err != nil {
		return m, fmt.Errorf("message %d sender: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(receiver), &m.Receiver); err != nil {
		return m, fmt.Errorf("message %d receiver: %w", m.ID, err)
	}
	m.Message = model.Body(body)
	return m, nil
}
