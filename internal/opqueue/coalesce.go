package opqueue

import "github.com/blobcache/blobcache/internal/store"

// batch is one coalesced unit of work: either a merged run of same-kind
// items (Select/Insert/Invalidate) or a single fencing item
// (InvalidateAll/GetKeys/Vacuum/Fence).
type batch struct {
	kind    Kind
	keys    []string             // Select/Invalidate: union of requested physical keys
	elems   []store.CacheElement // Insert: deduped elements, later value wins
	typeTag string               // GetKeys: filter
	items   []*item              // originals, for fan-out of the result
}

// mergeableKinds are the kinds the coalescer may fold contiguous,
// non-interpolated runs of into a single batch — spec.md §4.7.
var mergeableKinds = [...]Kind{KindSelect, KindInsert, KindInvalidate}

// group is an in-progress batch still accepting more items of its kind.
type group struct {
	kind  Kind
	keys  map[string]struct{}
	items []*item
}

func newGroup(kind Kind) *group {
	return &group{kind: kind, keys: make(map[string]struct{})}
}

func (g *group) absorb(it *item) {
	g.items = append(g.items, it)
	for _, k := range it.overlapKeys() {
		g.keys[k] = struct{}{}
	}
}

func (g *group) intersects(keys []string) bool {
	for _, k := range keys {
		if _, ok := g.keys[k]; ok {
			return true
		}
	}
	return false
}

func (g *group) toBatch() *batch {
	b := &batch{kind: g.kind, items: g.items}
	switch g.kind {
	case KindInsert:
		// Build the deduped element set, later occurrence wins, order of
		// first appearance preserved so the emitted statement is stable.
		order := make([]string, 0, len(g.keys))
		byKey := make(map[string]store.CacheElement, len(g.keys))
		for _, it := range g.items {
			for _, e := range it.elems {
				pk := store.EncodeKey(e.TypeTag, e.Key)
				if _, seen := byKey[pk]; !seen {
					order = append(order, pk)
				}
				byKey[pk] = e
			}
		}
		b.elems = make([]store.CacheElement, len(order))
		for i, pk := range order {
			b.elems[i] = byKey[pk]
		}
	default: // KindSelect, KindInvalidate
		keys := make([]string, 0, len(g.keys))
		for k := range g.keys {
			keys = append(keys, k)
		}
		b.keys = keys
	}
	return b
}

// openState tracks at most one open group per mergeable kind, in the
// order each was first opened, so flushAll emits them in a stable,
// original-order-respecting sequence.
type openState struct {
	order  []Kind
	groups map[Kind]*group
}

func newOpenState() *openState {
	return &openState{groups: make(map[Kind]*group)}
}

func (s *openState) get(k Kind) *group { return s.groups[k] }

func (s *openState) openNew(k Kind, first *item) *group {
	g := newGroup(k)
	g.absorb(first)
	s.groups[k] = g
	s.order = append(s.order, k)
	return g
}

func (s *openState) flush(k Kind, out *[]*batch) {
	g, ok := s.groups[k]
	if !ok {
		return
	}
	*out = append(*out, g.toBatch())
	delete(s.groups, k)
}

func (s *openState) flushAll(out *[]*batch) {
	for _, k := range s.order {
		s.flush(k, out)
	}
	s.order = s.order[:0]
}

// coalesce reduces a run of items, in the order they were enqueued, into
// the minimal ordered sequence of batches that a serial execution of the
// original items would be indistinguishable from (property P6).
//
// The rule: two operations of the same mergeable kind merge whenever no
// operation of a *different* kind that touches one of their keys sits
// between them ("interpolates" them, spec.md §4.7's definition). Any
// Select, Insert or Invalidate touching a key held by an open group of a
// different kind forces that group to flush first, preserving per-key
// program order while
// still allowing unrelated keys and kinds to reorder freely.
// Get-Keys, Vacuum, Invalidate-All, and Flush's internal fence kind
// never merge and flush every open group before and after themselves.
func coalesce(items []*item) []*batch {
	st := newOpenState()
	var out []*batch

	for _, it := range items {
		if it.kind.fenceKind() {
			st.flushAll(&out)
			out = append(out, &batch{kind: it.kind, typeTag: it.typeTag, items: []*item{it}})
			continue
		}

		keys := it.overlapKeys()
		for _, other := range mergeableKinds {
			if other == it.kind {
				continue
			}
			if g := st.get(other); g != nil && g.intersects(keys) {
				st.flush(other, &out)
			}
		}

		if g := st.get(it.kind); g != nil {
			g.absorb(it)
		} else {
			st.openNew(it.kind, it)
		}
	}

	st.flushAll(&out)
	return out
}
