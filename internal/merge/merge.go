// Package merge grows and reconciles cached lists by entity id.
//
// Every function is copy-on-write: the list passed in is never modified, so
// a snapshot already handed to a consumer stays valid.
package merge

import (
	"slices"

	"github.com/matheus3301/inbox/internal/cache"
	"github.com/matheus3301/inbox/internal/model"
)

// AppendPage appends a page fetched in server sort order and takes the
// server-reported total. Pages are disjoint by construction, so no
// de-duplication happens here.
func AppendPage[T model.Entity](l cache.List[T], page []T, total int) cache.List[T] {
	items := make([]T, 0, len(l.Items)+len(page))
	items = append(items, l.Items...)
	items = append(items, page...)
	return cache.List[T]{Items: items, Total: total}
}

// LiveInsert merges a pushed entity. An entity whose id is already cached is
// replaced by refresh(existing, e) at the same position; a nil refresh keeps
// the cached one untouched. Otherwise e is prepended and the total grows by
// one. The second result reports whether e was inserted.
func LiveInsert[T model.Entity](l cache.List[T], e T, refresh func(existing, incoming T) T) (cache.List[T], bool) {
	if i := IndexOf(l.Items, e.EntityID()); i >= 0 {
		if refresh == nil {
			return l, false
		}
		items := slices.Clone(l.Items)
		items[i] = refresh(items[i], e)
		return cache.List[T]{Items: items, Total: l.Total}, false
	}
	return Prepend(l, e), true
}

// Prepend puts e in front and counts it.
func Prepend[T model.Entity](l cache.List[T], e T) cache.List[T] {
	items := make([]T, 0, len(l.Items)+1)
	items = append(items, e)
	items = append(items, l.Items...)
	return cache.List[T]{Items: items, Total: l.Total + 1}
}

// Append puts e at the end and counts it, unless its id is already present.
func Append[T model.Entity](l cache.List[T], e T) cache.List[T] {
	if IndexOf(l.Items, e.EntityID()) >= 0 {
		return l
	}
	items := make([]T, 0, len(l.Items)+1)
	items = append(items, l.Items...)
	items = append(items, e)
	return cache.List[T]{Items: items, Total: l.Total + 1}
}

// Remove drops the entity with id. The total shrinks only when something
// was removed.
func Remove[T model.Entity](l cache.List[T], id model.ID) (cache.List[T], bool) {
	i := IndexOf(l.Items, id)
	if i < 0 {
		return l, false
	}
	return cache.List[T]{Items: slices.Delete(slices.Clone(l.Items), i, i+1), Total: l.Total - 1}, true
}

// Replace swaps a temporary entity for its confirmed version. The confirmed
// entity takes the temporary one's position. If a push event already cached
// the confirmed id, that copy is refreshed and the temporary one is dropped
// so the pair is never counted twice.
func Replace[T model.Entity](l cache.List[T], tempID model.ID, confirmed T, refresh func(existing, incoming T) T) cache.List[T] {
	ti := IndexOf(l.Items, tempID)
	ci := IndexOf(l.Items, confirmed.EntityID())

	switch {
	case ci >= 0:
		items := slices.Clone(l.Items)
		if refresh != nil {
			items[ci] = refresh(items[ci], confirmed)
		}
		total := l.Total
		if ti >= 0 && ti != ci {
			items = slices.Delete(items, ti, ti+1)
			total--
		}
		return cache.List[T]{Items: items, Total: total}
	case ti >= 0:
		items := slices.Clone(l.Items)
		items[ti] = confirmed
		return cache.List[T]{Items: items, Total: l.Total}
	default:
		return Prepend(l, confirmed)
	}
}

// MoveToFront moves the entity with id to index 0 and returns the index it
// came from, or -1 when absent.
func MoveToFront[T model.Entity](l cache.List[T], id model.ID) (cache.List[T], int) {
	return Move(l, id, 0)
}

// Move places the entity with id at index to (clamped) and returns the index
// it came from, or -1 when absent.
func Move[T model.Entity](l cache.List[T], id model.ID, to int) (cache.List[T], int) {
	from := IndexOf(l.Items, id)
	if from < 0 {
		return l, -1
	}
	items := slices.Clone(l.Items)
	e := items[from]
	items = slices.Delete(items, from, from+1)
	to = max(0, min(to, len(items)))
	items = slices.Insert(items, to, e)
	return cache.List[T]{Items: items, Total: l.Total}, from
}

// IndexOf returns the position of id in items, or -1.
func IndexOf[T model.Entity](items []T, id model.ID) int {
	return slices.IndexFunc(items, func(e T) bool { return e.EntityID() == id })
}

// Dedup keeps the first occurrence of every id.
func Dedup[T model.Entity](items []T) []T {
	seen := make(map[model.ID]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, e := range items {
		if _, ok := seen[e.EntityID()]; ok {
			continue
		}
		seen[e.EntityID()] = struct{}{}
		out = append(out, e)
	}
	return out
}

// SortByTimestamp returns items ordered by ascending timestamp. Equal
// timestamps keep their relative order.
func SortByTimestamp[T model.Entity](items []T) []T {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b T) int {
		switch ta, tb := a.EntityTimestamp(), b.EntityTimestamp(); {
		case ta < tb:
			return -1
		case ta > tb:
			return 1
		}
		return 0
	})
	return out
}

// Render is the presentation order of a message list: de-duplicated, then
// sorted by time regardless of arrival order.
func Render[T model.Entity](items []T) []T {
	return SortByTimestamp(Dedup(items))
}
