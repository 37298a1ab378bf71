package core

import "fmt"

// ParseStatus is the outcome of one incremental parse/emit step.
type ParseStatus int

const (
	StatusOK ParseStatus = iota
	StatusSuspended
	StatusError
)

// frame is one entry in the codec's explicit parse/emit stack: the
// spec.md §4.1 "stack of frames, one per open element" made concrete. It
// holds the type being built, the object receiving values, and a cursor
// into that type's element list (the whole base chain via allElements:
// inherited elements first, own elements last).
type frame struct {
	typ      TypeID
	name     string // enclosing tag name (XML only; differs from the type's display name for link fields)
	obj      *Object
	elems    []Element
	elemIdx  int
	occurred int // occurrences consumed of the current element
}

func newFrame(s *Schema, t TypeID, obj *Object) frame {
	return frame{typ: t, name: s.DisplayName(t), obj: obj, elems: allElements(s, t)}
}

// current returns the element the frame is currently positioned on, or
// false once every element has been visited (the frame is ready to pop).
func (f *frame) current() (Element, bool) {
	if f.elemIdx >= len(f.elems) {
		return Element{}, false
	}
	return f.elems[f.elemIdx], true
}

func (f *frame) advance() {
	f.occurred = 0
	f.elemIdx++
}

// findElementByName resolves a child tag/field name against a frame's
// remaining (and, for XML's out-of-order tolerance, any) elements.
func findElementByName(elems []Element, name string) (Element, bool) {
	for _, e := range elems {
		if e.Name == name {
			return e, true
		}
	}
	return Element{}, false
}

// codecError wraps a message with ErrCodec so callers can errors.Is it.
func codecError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCodec, fmt.Sprintf(format, args...))
}
