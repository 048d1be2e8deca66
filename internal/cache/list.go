package cache

import "fmt"

// GetList returns the list stored at key.
func GetList[T any](s *Store, key Key) (List[T], Entry, bool) {
	e, ok := s.Get(key)
	if !ok {
		return List[T]{}, e, false
	}
	l, ok := e.Data.(List[T])
	return l, e, ok
}

// GetValue returns the single value stored at key.
func GetValue[T any](s *Store, key Key) (T, Entry, bool) {
	e, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, e, false
	}
	v, ok := e.Data.(T)
	return v, e, ok
}

// UpdateList applies fn to the list stored at key.
func UpdateList[T any](s *Store, key Key, fn func(List[T]) List[T]) error {
	return s.Update(key, func(data any) (any, error) {
		l, ok := data.(List[T])
		if !ok {
			return nil, fmt.Errorf("cache: %s holds %T, not %T", key, data, l)
		}
		return fn(l), nil
	})
}
