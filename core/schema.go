package core

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// TypeID numbers a schema type. Types are numeric and a type spans a
// contiguous range of element indices in Schema.Elements, per spec.md §3 —
// the same "flat, densely packed table validated once at load time" shape
// as the teacher's opcode catalogue (core/opcode_dispatcher.go), applied to
// schema elements instead of opcodes.
type TypeID uint16

// PrimitiveKind enumerates the simple leaf types spec.md §4.1 names.
type PrimitiveKind uint8

const (
	PrimitiveNone PrimitiveKind = iota
	PrimitiveString
	PrimitiveBoolean
	PrimitiveHexBinary
	PrimitiveAnyURI
	PrimitiveInt8
	PrimitiveUint8
	PrimitiveInt16
	PrimitiveUint16
	PrimitiveInt32
	PrimitiveUint32
	PrimitiveInt64
	PrimitiveUint64
)

// Element describes one ordered member of a type: its bit position in the
// owning object's exists bitmap, whether it is a primitive leaf or a
// reference to another schema type, and its occurrence bounds.
type Element struct {
	Name      string        `yaml:"name"`
	BitPos    int           `yaml:"-"`
	ChildType TypeID        `yaml:"childType"`
	Primitive PrimitiveKind `yaml:"primitive"`
	MinOccurs int           `yaml:"minOccurs"`
	MaxOccurs int           `yaml:"maxOccurs"` // -1 means unbounded
	Attribute bool          `yaml:"attribute"`
}

func (e Element) Unbounded() bool { return e.MaxOccurs < 0 || e.MaxOccurs > 1 }
func (e Element) Optional() bool  { return e.MinOccurs == 0 }
func (e Element) IsComplex() bool { return e.ChildType != 0 }

// typeDef is the internal record of a type's name, base and element range.
type typeDef struct {
	Name      string
	Base      TypeID // 0 for the schema's abstract root
	ElemStart int
	ElemCount int
}

// Schema is the flat, shared description consumed by both the codec
// (Component B) and the retrieval engine (Component D).
type Schema struct {
	Namespace string
	types     map[TypeID]typeDef
	elements  []Element // global table; each type owns a contiguous slice
	nextID    TypeID
}

// NewSchema returns an empty schema ready for RegisterType calls.
func NewSchema(namespace string) *Schema {
	return &Schema{Namespace: namespace, types: make(map[TypeID]typeDef), nextID: 1}
}

// RegisterType adds a type with the given base (0 for none) and element
// list, assigning bit positions in declaration order, offset past every
// inherited element so a bit identifies exactly one element anywhere in
// the chain (the exists bitmap and requirement flags both depend on
// this). It panics on a name collision — schema registration happens
// once at process start-up and a duplicate indicates a programmer error,
// exactly as the teacher's Register panics on opcode collisions.
func (s *Schema) RegisterType(name string, base TypeID, elems []Element) TypeID {
	for id, t := range s.types {
		if t.Name == name {
			panic(fmt.Sprintf("core: schema type %q already registered as %d", name, id))
		}
	}
	id := s.nextID
	s.nextID++
	bitBase := 0
	for cur := base; cur != 0; {
		def, ok := s.types[cur]
		if !ok {
			break
		}
		bitBase += def.ElemCount
		if def.Base == cur {
			break
		}
		cur = def.Base
	}
	start := len(s.elements)
	for i := range elems {
		elems[i].BitPos = bitBase + i
		s.elements = append(s.elements, elems[i])
	}
	s.types[id] = typeDef{Name: name, Base: base, ElemStart: start, ElemCount: len(elems)}
	return id
}

// TypeByName looks up a type's ID by its schema display name.
func (s *Schema) TypeByName(name string) (TypeID, bool) {
	for id, t := range s.types {
		if t.Name == name {
			return id, true
		}
	}
	return 0, false
}

// DisplayName returns the schema's declared name for a type.
func (s *Schema) DisplayName(t TypeID) string {
	if def, ok := s.types[t]; ok {
		return def.Name
	}
	return fmt.Sprintf("type#%d", t)
}

// Elements returns the ordered element slice owned by t, own elements only
// (not inherited). Use Elements(Base(t)) to walk ancestors.
func (s *Schema) Elements(t TypeID) []Element {
	def, ok := s.types[t]
	if !ok {
		return nil
	}
	return s.elements[def.ElemStart : def.ElemStart+def.ElemCount]
}

// Base returns t's base type, or 0 if t is a root type.
func (s *Schema) Base(t TypeID) TypeID {
	return s.types[t].Base
}

// IsDerivedFrom reports whether t is base or derives from it by walking the
// base chain — "strict inclusion of element range" per spec.md §3, realised
// here as chain membership since our element ranges are per-type rather
// than a single flat inherited range.
func (s *Schema) IsDerivedFrom(t, base TypeID) bool {
	for cur := t; cur != 0; cur = s.types[cur].Base {
		if cur == base {
			return true
		}
		if _, ok := s.types[cur]; !ok {
			break
		}
	}
	return false
}

// SizeOf returns a byte-size hint for t, summed over its own and inherited
// elements: 8 for each complex or unbounded element, and for each simple
// leaf the width of its primitive (1, 2, 4 or 8 bytes, 16 for string-like
// kinds). Go's object representation (core/object.go) does not
// lay memory out by this number — it exists to honor spec.md §3's "byte
// size of an object of type T" query for callers that pre-size buffers.
func (s *Schema) SizeOf(t TypeID) int {
	n := 0
	for cur := t; cur != 0; cur = s.types[cur].Base {
		for _, e := range s.Elements(cur) {
			if e.IsComplex() || e.Unbounded() {
				n += 8
			} else {
				n += primitiveSize(e.Primitive)
			}
		}
		if _, ok := s.types[cur]; !ok {
			break
		}
	}
	return n
}

func primitiveSize(p PrimitiveKind) int {
	switch p {
	case PrimitiveBoolean, PrimitiveInt8, PrimitiveUint8:
		return 1
	case PrimitiveInt16, PrimitiveUint16:
		return 2
	case PrimitiveInt32, PrimitiveUint32:
		return 4
	case PrimitiveInt64, PrimitiveUint64:
		return 8
	default:
		return 16 // string/hexBinary/anyURI: variable, sized as a header guess
	}
}

// schemaFile is the YAML on-disk shape for LoadSchema, mirroring the
// teacher's pkg/config struct-tag-driven unmarshalling idiom.
type schemaFile struct {
	Namespace string `yaml:"namespace"`
	Types     []struct {
		Name     string    `yaml:"name"`
		Base     string    `yaml:"base"`
		Elements []Element `yaml:"elements"`
	} `yaml:"types"`
}

// LoadSchema parses a YAML schema document into a Schema. Types must be
// listed so that a type's base (if any) appears earlier in the document.
func LoadSchema(r io.Reader) (*Schema, error) {
	var doc schemaFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("core: decode schema: %w", err)
	}
	s := NewSchema(doc.Namespace)
	for _, t := range doc.Types {
		var base TypeID
		if t.Base != "" {
			id, ok := s.TypeByName(t.Base)
			if !ok {
				return nil, fmt.Errorf("core: schema type %q references unknown base %q", t.Name, t.Base)
			}
			base = id
		}
		elems := append([]Element(nil), t.Elements...)
		s.RegisterType(t.Name, base, elems)
	}
	return s, nil
}
