package core

import "github.com/google/uuid"

// Bitmap is a fixed-width "exists" bitset, carried beside each Object
// rather than packed into real memory layout (spec.md §9 design note: the
// bitmap "maps to a fixed-width bitset at a known offset ... or carried
// beside each object" — Go's garbage-collected, reflection-free object
// model makes "beside" the only idiomatic choice).
type Bitmap uint64

func (b Bitmap) Test(bit int) bool  { return b&(1<<uint(bit)) != 0 }
func (b *Bitmap) Set(bit int)       { *b |= 1 << uint(bit) }
func (b *Bitmap) Clear(bit int)     { *b &^= 1 << uint(bit) }
func (b Bitmap) PopCount() int {
	n := 0
	for v := uint64(b); v != 0; v &= v - 1 {
		n++
	}
	return n
}

// Object is the in-memory form of any parsed schema type: a leading exists
// bitmap, primitive leaves keyed by element name, and unbounded/complex
// children held as an ordered slice per element — the Go equivalent of the
// spec's "linked list at the element's offset" (spec.md §3).
type Object struct {
	Type     TypeID
	Exists   Bitmap
	Leaves   map[string]any
	Children map[string][]*Object

	// Resource fields, valid only when Schema.IsDerivedFrom(Type,
	// TypeResource) is true.
	Href         string
	MRID         uuid.UUID
	HasMRID      bool
	Subscribable bool
	PollRate     int // seconds; 0 = none declared
}

// NewObject allocates an empty object of the given type.
func NewObject(t TypeID) *Object {
	return &Object{
		Type:     t,
		Leaves:   make(map[string]any),
		Children: make(map[string][]*Object),
	}
}

// SetLeaf stores a primitive value and marks its bit present.
func (o *Object) SetLeaf(s *Schema, name string, v any) {
	for _, e := range allElements(s, o.Type) {
		if e.Name == name && !e.IsComplex() {
			o.Leaves[name] = v
			o.Exists.Set(e.BitPos)
			if name == "href" {
				if href, ok := v.(string); ok {
					o.Href = href
				}
			}
			if name == "mRID" {
				if hex, ok := v.(string); ok {
					if id, err := uuid.Parse(hex); err == nil {
						o.MRID, o.HasMRID = id, true
					}
				}
			}
			if name == "subscribable" {
				if n, ok := v.(uint64); ok {
					o.Subscribable = n != 0
				}
			}
			if name == "pollRate" {
				if n, ok := v.(uint64); ok {
					o.PollRate = int(n)
				}
			}
			return
		}
	}
}

// AppendChild appends a child object under the named element and marks its
// bit present. It is not idempotent: every call adds one more child to the
// element's list.
func (o *Object) AppendChild(s *Schema, name string, child *Object) {
	for _, e := range allElements(s, o.Type) {
		if e.Name == name && e.IsComplex() {
			o.Children[name] = append(o.Children[name], child)
			o.Exists.Set(e.BitPos)
			return
		}
	}
}

// Leaf returns a primitive value and whether it was present.
func (o *Object) Leaf(name string) (any, bool) {
	v, ok := o.Leaves[name]
	return v, ok
}

// Child returns the first child under name, if any.
func (o *Object) Child(name string) (*Object, bool) {
	list := o.Children[name]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// allElements walks the base chain and returns every element (own plus
// inherited), own elements last-declared-wins order preserved by simple
// concatenation since the schema never redeclares a name across a chain.
func allElements(s *Schema, t TypeID) []Element {
	var chain []TypeID
	for cur := t; cur != 0; {
		chain = append(chain, cur)
		next := s.Base(cur)
		if next == cur {
			break
		}
		cur = next
	}
	var out []Element
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, s.Elements(chain[i])...)
	}
	return out
}

// Free releases a stub's previous object in place, per spec.md §3's "a
// stub owns its typed object; replacing it frees the previous object's
// elements in place" — under Go's GC this means dropping every reference
// so the object and its subtree become collectible immediately rather than
// lingering via a stale map entry.
func (o *Object) Free() {
	if o == nil {
		return
	}
	for k, children := range o.Children {
		for _, c := range children {
			c.Free()
		}
		delete(o.Children, k)
	}
	for k := range o.Leaves {
		delete(o.Leaves, k)
	}
}
