package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/inbox/internal/model"
)

// CreateUser registers u. Emails are unique.
func (db *DB) CreateUser(u model.User) (model.User, error) {
	res, err := db.Exec(`INSERT INTO users (name, email) VALUES (?, ?)`, u.Name, u.Email)
	if err != nil {
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.User{}, err
	}
	u.ID = id
	return u, nil
}

// UserByEmail returns the user registered with email.
func (db *DB) UserByEmail(email string) (model.User, error) {
	var u model.User
	err := db.QueryRow(`SELECT id, name, email FROM users WHERE email = ?`, email).Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return u, err
}

// ListUsers returns every user ordered by id.
func (db *DB) ListUsers() ([]model.User, error) {
	rows, err := db.Query(`SELECT id, name, email FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
