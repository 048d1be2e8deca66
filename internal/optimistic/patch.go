package optimistic

import (
	"slices"

	"github.com/matheus3301/inbox/internal/cache"
	"github.com/matheus3301/inbox/internal/merge"
	"github.com/matheus3301/inbox/internal/model"
)

// Kind tags a patch variant.
type Kind string

const (
	ListInsert  Kind = "listInsert"
	FieldUpdate Kind = "fieldUpdate"
)

// Mutable is an entity whose mutable fields can be patched.
type Mutable[T any] interface {
	model.Entity
	Fields() model.Fields
	WithFields(model.Fields) T
}

// Patch is one optimistic change to a cached list together with the data
// needed to invert it. Applying a patch records what it actually changed,
// so the inverse touches only that.
type Patch[T Mutable[T]] struct {
	Kind Kind

	// ListInsert: Item is prepended unless its id is cached or Guard
	// reports the list already holds an equivalent entity.
	Item  T
	Guard func(items []T) bool

	// FieldUpdate: the entity with ID takes Fields and, with MoveToFront,
	// moves to the head of the list.
	ID          model.ID
	Fields      model.Fields
	MoveToFront bool

	applied    bool
	prior      model.Fields
	priorIndex int
	// Neighbours of the entity before it moved; zero when there was none.
	priorNext model.ID
	priorPrev model.ID
}

// InsertPatch builds a ListInsert patch.
func InsertPatch[T Mutable[T]](item T, guard func(items []T) bool) *Patch[T] {
	return &Patch[T]{Kind: ListInsert, Item: item, Guard: guard}
}

// UpdatePatch builds a FieldUpdate patch.
func UpdatePatch[T Mutable[T]](id model.ID, fields model.Fields, moveToFront bool) *Patch[T] {
	return &Patch[T]{Kind: FieldUpdate, ID: id, Fields: fields, MoveToFront: moveToFront}
}

// Applied reports whether the forward change took effect.
func (p *Patch[T]) Applied() bool { return p.applied }

func (p *Patch[T]) apply(l cache.List[T]) cache.List[T] {
	p.applied = false
	switch p.Kind {
	case ListInsert:
		if merge.IndexOf(l.Items, p.Item.EntityID()) >= 0 {
			return l
		}
		if p.Guard != nil && p.Guard(l.Items) {
			return l
		}
		p.applied = true
		return merge.Prepend(l, p.Item)
	case FieldUpdate:
		i := merge.IndexOf(l.Items, p.ID)
		if i < 0 {
			return l
		}
		p.applied = true
		p.prior = l.Items[i].Fields()
		p.priorIndex = i
		p.priorNext, p.priorPrev = 0, 0
		if i+1 < len(l.Items) {
			p.priorNext = l.Items[i+1].EntityID()
		}
		if i > 0 {
			p.priorPrev = l.Items[i-1].EntityID()
		}
		l = withFields(l, i, p.Fields)
		if p.MoveToFront {
			l, _ = merge.MoveToFront(l, p.ID)
		}
		return l
	}
	return l
}

func (p *Patch[T]) invert(l cache.List[T]) cache.List[T] {
	if !p.applied {
		return l
	}
	switch p.Kind {
	case ListInsert:
		l, _ = merge.Remove(l, p.Item.EntityID())
	case FieldUpdate:
		i := merge.IndexOf(l.Items, p.ID)
		if i < 0 {
			return l
		}
		l = withFields(l, i, p.prior)
		if p.MoveToFront {
			l, _ = merge.Move(l, p.ID, p.restoreIndex(l))
		}
	}
	return l
}

// restoreIndex is where the moved entity goes back to, counted in l without
// it: right before its old successor, else right after its old predecessor,
// else its old index. Entities pushed meanwhile keep their place.
func (p *Patch[T]) restoreIndex(l cache.List[T]) int {
	rest := slices.DeleteFunc(slices.Clone(l.Items), func(e T) bool { return e.EntityID() == p.ID })
	if p.priorNext != 0 {
		if j := merge.IndexOf(rest, p.priorNext); j >= 0 {
			return j
		}
	}
	if p.priorPrev != 0 {
		if j := merge.IndexOf(rest, p.priorPrev); j >= 0 {
			return j + 1
		}
	}
	return p.priorIndex
}

func withFields[T Mutable[T]](l cache.List[T], i int, f model.Fields) cache.List[T] {
	items := make([]T, len(l.Items))
	copy(items, l.Items)
	items[i] = items[i].WithFields(f)
	return cache.List[T]{Items: items, Total: l.Total}
}
