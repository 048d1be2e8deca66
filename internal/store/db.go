// Package store persists the users, conversations and messages served by
// the development server.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when a write would duplicate a unique entity.
var ErrConflict = errors.New("store: conflict")

// DB wraps a SQLite database connection.
type DB struct {
	*sql.DB
}

// Open creates a new SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{db}, nil
}

// Page selects a slice of a sorted list. Page numbers start at 1; a zero
// Limit returns everything.
type Page struct {
	Page  int
	Limit int
}

func (p Page) clause() (string, []any) {
	if p.Limit <= 0 {
		return "", nil
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return " LIMIT ? OFFSET ?", []any{p.Limit, (page - 1) * p.Limit}
}

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

func (o Order) sql() string {
	if o == Asc {
		return "ASC"
	}
	return "DESC"
}
