package core

import (
	"encoding/binary"
)

// Binary wire shape (this client's EXI-like encoding, not the W3C EXI
// format itself — spec.md §4.1 only requires "a schema-driven binary
// encoding with the same suspend/resume contract as the XML path", not
// bit-for-bit EXI compliance):
//
//	TypeID           uint16
//	existsBitmap     uint64
//	for each schema element (inherited, then own, same order as allElements):
//	    if element optional and bit clear: nothing
//	    if complex, unbounded:   uint32 count, then count child values
//	    if complex, single:      one child value
//	    if primitive:            fixed-width, or uint32 length + bytes for
//	                             string/hexBinary/anyURI
//
// A child value is itself a nested (TypeID, bitmap, elements...) record,
// recursively. This keeps the frame-stack shape identical to the XML
// codec, which is the point: both parsers share core/codec.go's frame.

// EXIParser incrementally decodes the binary form described above.
type EXIParser struct {
	schema   *Schema
	buf      []byte
	pos      int
	stack    []exiFrame
	root     *Object
	rootType TypeID
	done     bool
	err      error
}

type exiFrame struct {
	frame
	pendingUnbounded bool
	remaining        int // remaining occurrences to read for the current unbounded element
}

// NewEXIParser creates a binary parser expecting a root of rootType.
func NewEXIParser(s *Schema, rootType TypeID) *EXIParser {
	return &EXIParser{schema: s, rootType: rootType}
}

func (p *EXIParser) Feed(data []byte) { p.buf = append(p.buf, data...) }

func (p *EXIParser) Rebuffer() {
	if p.pos == 0 {
		return
	}
	p.buf = append([]byte(nil), p.buf[p.pos:]...)
	p.pos = 0
}

func (p *EXIParser) Err() error { return p.err }

func (p *EXIParser) Object() (*Object, TypeID) { return p.root, p.rootType }

func (p *EXIParser) avail() int { return len(p.buf) - p.pos }

func (p *EXIParser) Step() ParseStatus {
	if p.err != nil {
		return StatusError
	}
	if p.done {
		return StatusOK
	}
	for {
		if len(p.stack) == 0 {
			if p.avail() < 2+8 {
				return StatusSuspended
			}
			t := TypeID(binary.BigEndian.Uint16(p.buf[p.pos:]))
			if t != p.rootType {
				p.err = codecError("expected root type %d, got %d", p.rootType, t)
				return StatusError
			}
			bm := Bitmap(binary.BigEndian.Uint64(p.buf[p.pos+2:]))
			p.pos += 10
			obj := NewObject(t)
			obj.Exists = bm
			p.root = obj
			p.stack = append(p.stack, exiFrame{frame: newFrame(p.schema, t, obj)})
			p.stack[len(p.stack)-1].obj.Exists = bm
			continue
		}

		top := &p.stack[len(p.stack)-1]

		if top.pendingUnbounded {
			if top.remaining == 0 {
				top.pendingUnbounded = false
				top.advance()
				continue
			}
			elem, _ := top.current()
			if p.avail() < 2+8 {
				return StatusSuspended
			}
			t := TypeID(binary.BigEndian.Uint16(p.buf[p.pos:]))
			bm := Bitmap(binary.BigEndian.Uint64(p.buf[p.pos+2:]))
			p.pos += 10
			child := NewObject(t)
			child.Exists = bm
			top.obj.AppendChild(p.schema, elem.Name, child)
			top.remaining--
			p.stack = append(p.stack, exiFrame{frame: newFrame(p.schema, t, child)})
			p.stack[len(p.stack)-1].obj.Exists = bm
			continue
		}

		elem, ok := top.current()
		if !ok {
			p.stack = p.stack[:len(p.stack)-1]
			if len(p.stack) == 0 {
				p.done = true
				return StatusOK
			}
			continue
		}
		if elem.Optional() && !top.obj.Exists.Test(elem.BitPos) {
			top.advance()
			continue
		}
		if elem.IsComplex() {
			if elem.Unbounded() {
				if p.avail() < 4 {
					return StatusSuspended
				}
				count := int(binary.BigEndian.Uint32(p.buf[p.pos:]))
				p.pos += 4
				top.pendingUnbounded = true
				top.remaining = count
				continue
			}
			if p.avail() < 2+8 {
				return StatusSuspended
			}
			t := TypeID(binary.BigEndian.Uint16(p.buf[p.pos:]))
			bm := Bitmap(binary.BigEndian.Uint64(p.buf[p.pos+2:]))
			p.pos += 10
			child := NewObject(t)
			child.Exists = bm
			top.obj.AppendChild(p.schema, elem.Name, child)
			top.advance()
			p.stack = append(p.stack, exiFrame{frame: newFrame(p.schema, t, child)})
			p.stack[len(p.stack)-1].obj.Exists = bm
			continue
		}
		v, n, status := decodePrimitive(elem.Primitive, p.buf[p.pos:])
		if status == StatusSuspended {
			return StatusSuspended
		}
		if status == StatusError {
			p.err = codecError("malformed primitive for %q", elem.Name)
			return StatusError
		}
		p.pos += n
		top.obj.SetLeaf(p.schema, elem.Name, v)
		top.advance()
	}
}

func decodePrimitive(kind PrimitiveKind, buf []byte) (any, int, ParseStatus) {
	switch kind {
	case PrimitiveBoolean, PrimitiveInt8, PrimitiveUint8:
		if len(buf) < 1 {
			return nil, 0, StatusSuspended
		}
		if kind == PrimitiveBoolean {
			return buf[0] != 0, 1, StatusOK
		}
		if kind == PrimitiveInt8 {
			return int64(int8(buf[0])), 1, StatusOK
		}
		return uint64(buf[0]), 1, StatusOK
	case PrimitiveInt16, PrimitiveUint16:
		if len(buf) < 2 {
			return nil, 0, StatusSuspended
		}
		v := binary.BigEndian.Uint16(buf)
		if kind == PrimitiveInt16 {
			return int64(int16(v)), 2, StatusOK
		}
		return uint64(v), 2, StatusOK
	case PrimitiveInt32, PrimitiveUint32:
		if len(buf) < 4 {
			return nil, 0, StatusSuspended
		}
		v := binary.BigEndian.Uint32(buf)
		if kind == PrimitiveInt32 {
			return int64(int32(v)), 4, StatusOK
		}
		return uint64(v), 4, StatusOK
	case PrimitiveInt64, PrimitiveUint64:
		if len(buf) < 8 {
			return nil, 0, StatusSuspended
		}
		v := binary.BigEndian.Uint64(buf)
		if kind == PrimitiveInt64 {
			return int64(v), 8, StatusOK
		}
		return v, 8, StatusOK
	case PrimitiveString, PrimitiveHexBinary, PrimitiveAnyURI:
		if len(buf) < 4 {
			return nil, 0, StatusSuspended
		}
		n := int(binary.BigEndian.Uint32(buf))
		if len(buf) < 4+n {
			return nil, 0, StatusSuspended
		}
		return string(buf[4 : 4+n]), 4 + n, StatusOK
	default:
		return nil, 0, StatusError
	}
}

// EXIEmitter is the mirror-image encoder, sharing the XMLEmitter's
// output contract: Emit(max) writes whole fields until at least max bytes
// are written or the record is complete, so a chunk may exceed max.
type EXIEmitter struct {
	schema *Schema
	stack  []exiEmitFrame
	out    []byte
	done   bool
}

type exiEmitFrame struct {
	obj       *Object
	elems     []Element
	elemIdx   int
	childIdx  int
	wroteHead bool
	wroteCnt  bool
}

// NewEXIEmitter creates an emitter for obj of the given schema.
func NewEXIEmitter(s *Schema, obj *Object) *EXIEmitter {
	e := &EXIEmitter{schema: s}
	e.stack = append(e.stack, exiEmitFrame{obj: obj, elems: allElements(s, obj.Type)})
	return e
}

func (e *EXIEmitter) Emit(max int) ([]byte, bool) {
	e.out = e.out[:0]
	for len(e.stack) > 0 && len(e.out) < max {
		top := &e.stack[len(e.stack)-1]
		if !top.wroteHead {
			var hdr [10]byte
			binary.BigEndian.PutUint16(hdr[0:], uint16(top.obj.Type))
			binary.BigEndian.PutUint64(hdr[2:], uint64(top.obj.Exists))
			e.out = append(e.out, hdr[:]...)
			top.wroteHead = true
			continue
		}
		if top.elemIdx >= len(top.elems) {
			e.stack = e.stack[:len(e.stack)-1]
			continue
		}
		elem := top.elems[top.elemIdx]
		if elem.Optional() && !top.obj.Exists.Test(elem.BitPos) {
			top.elemIdx++
			continue
		}
		if elem.IsComplex() {
			children := top.obj.Children[elem.Name]
			if elem.Unbounded() {
				if !top.wroteCnt {
					var cnt [4]byte
					binary.BigEndian.PutUint32(cnt[:], uint32(len(children)))
					e.out = append(e.out, cnt[:]...)
					top.wroteCnt = true
				}
				if top.childIdx >= len(children) {
					top.elemIdx++
					top.childIdx = 0
					top.wroteCnt = false
					continue
				}
				child := children[top.childIdx]
				top.childIdx++
				e.stack = append(e.stack, exiEmitFrame{obj: child, elems: allElements(e.schema, child.Type)})
				continue
			}
			if len(children) == 0 {
				top.elemIdx++
				continue
			}
			top.elemIdx++
			e.stack = append(e.stack, exiEmitFrame{obj: children[0], elems: allElements(e.schema, children[0].Type)})
			continue
		}
		v, _ := top.obj.Leaf(elem.Name)
		top.elemIdx++
		e.out = append(e.out, encodePrimitive(elem.Primitive, v)...)
	}
	e.done = len(e.stack) == 0
	return e.out, e.done
}

func encodePrimitive(kind PrimitiveKind, v any) []byte {
	switch kind {
	case PrimitiveBoolean:
		b, _ := v.(bool)
		if b {
			return []byte{1}
		}
		return []byte{0}
	case PrimitiveInt8:
		n, _ := v.(int64)
		return []byte{byte(int8(n))}
	case PrimitiveUint8:
		n, _ := v.(uint64)
		return []byte{byte(n)}
	case PrimitiveInt16:
		n, _ := v.(int64)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(int16(n)))
		return b[:]
	case PrimitiveUint16:
		n, _ := v.(uint64)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		return b[:]
	case PrimitiveInt32:
		n, _ := v.(int64)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(n)))
		return b[:]
	case PrimitiveUint32:
		n, _ := v.(uint64)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(n))
		return b[:]
	case PrimitiveInt64:
		n, _ := v.(int64)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		return b[:]
	case PrimitiveUint64:
		n, _ := v.(uint64)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], n)
		return b[:]
	case PrimitiveString, PrimitiveHexBinary, PrimitiveAnyURI:
		s, _ := v.(string)
		out := make([]byte, 4+len(s))
		binary.BigEndian.PutUint32(out, uint32(len(s)))
		copy(out[4:], s)
		return out
	default:
		return nil
	}
}
