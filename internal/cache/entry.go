package cache

import (
	"encoding/json"
	"errors"
	"time"
)

// Status is the load state of a cache entry.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrKeyNotFound is returned by Update when the key has no loaded data.
// It is not fatal: it usually means a mutation raced a load or an eviction.
var ErrKeyNotFound = errors.New("cache: key not found")

// Key identifies a query result: the query name plus its serialized arguments.
type Key struct {
	Query string
	Args  string
}

// NewKey builds a key from a query name and its arguments. Arguments are
// serialized as JSON, so struct fields and map keys have a stable order.
func NewKey(query string, args any) Key {
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte("null")
	}
	return Key{Query: query, Args: string(data)}
}

func (k Key) String() string {
	return k.Query + "(" + k.Args + ")"
}

// Entry is a snapshot of one cached query result.
type Entry struct {
	Key       Key
	Status    Status
	Data      any
	Err       error
	Stale     bool
	UpdatedAt time.Time
}

// List is a cached list result with the server-reported total count.
type List[T any] struct {
	Items []T
	Total int
}
