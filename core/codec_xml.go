package core

import (
	"bytes"
	"strconv"
	"strings"
)

// XMLParser is a schema-driven, incremental XML parser. It is the idiomatic
// Go rendition of spec.md §4.1's single state machine: instead of
// encoding/xml's Decoder (whose bufio.Reader permanently poisons itself
// after the first transient read error — incompatible with true
// suspend/resume over a caller-fed buffer) it scans its own caller-owned
// byte buffer directly, returning StatusSuspended whenever the next token
// is not yet fully present. The hard requirement from spec.md holds: the
// buffer need only be larger than the longest single tag or text run.
type XMLParser struct {
	schema   *Schema
	buf      []byte
	pos      int // consumed offset into buf
	stack    []frame
	root     *Object
	rootType TypeID
	done     bool
	err      error
}

// NewXMLParser creates a parser that will build an object of rootType.
func NewXMLParser(s *Schema, rootType TypeID) *XMLParser {
	return &XMLParser{schema: s, rootType: rootType}
}

// Feed appends newly read bytes to the parser's buffer.
func (p *XMLParser) Feed(data []byte) { p.buf = append(p.buf, data...) }

// Rebuffer compacts the buffer, discarding already-consumed bytes, per
// spec.md §4.1's rebuffer contract.
func (p *XMLParser) Rebuffer() {
	if p.pos == 0 {
		return
	}
	p.buf = append([]byte(nil), p.buf[p.pos:]...)
	p.pos = 0
}

// Err returns the terminal error after a StatusError step, per spec.md
// §4.1's "caller inspects via a query".
func (p *XMLParser) Err() error { return p.err }

// Step advances the parser as far as the current buffer allows. On
// StatusOK, Object() returns the completed parse and its root type.
func (p *XMLParser) Step() ParseStatus {
	if p.err != nil {
		return StatusError
	}
	if p.done {
		return StatusOK
	}
	for {
		p.skipWhitespace()
		if p.pos >= len(p.buf) {
			return StatusSuspended
		}
		if len(p.stack) == 0 {
			// Expect the root start tag.
			name, attrs, selfClose, ok := p.readStartTag()
			if !ok {
				if p.err != nil {
					return StatusError
				}
				return StatusSuspended
			}
			if name != p.schema.DisplayName(p.rootType) {
				p.err = codecError("expected root element %q, got %q", p.schema.DisplayName(p.rootType), name)
				return StatusError
			}
			obj := NewObject(p.rootType)
			p.applyAttrs(obj, allElements(p.schema, p.rootType), attrs)
			p.root = obj
			if selfClose {
				p.done = true
				return StatusOK
			}
			p.stack = append(p.stack, newFrame(p.schema, p.rootType, obj))
			continue
		}

		top := &p.stack[len(p.stack)-1]
		// Try end tag of the current frame first.
		ok, closed := p.peekEndTag(top)
		if !closed {
			return StatusSuspended
		}
		if ok {
			p.stack = p.stack[:len(p.stack)-1]
			if len(p.stack) == 0 {
				p.done = true
				return StatusOK
			}
			continue
		}

		tagStart := p.pos
		name, attrs, selfClose, ok := p.readStartTag()
		if !ok {
			if p.err != nil {
				return StatusError
			}
			return StatusSuspended
		}
		elem, found := findElementByName(top.elems, name)
		if !found {
			p.err = codecError("element %q not in schema vocabulary for %q", name, p.schema.DisplayName(top.typ))
			return StatusError
		}
		if elem.IsComplex() {
			child := NewObject(elem.ChildType)
			p.applyAttrs(child, allElements(p.schema, elem.ChildType), attrs)
			top.obj.AppendChild(p.schema, elem.Name, child)
			if !selfClose {
				f := newFrame(p.schema, elem.ChildType, child)
				f.name = elem.Name // the end tag closes the element, not the type
				p.stack = append(p.stack, f)
			}
			continue
		}
		// Primitive leaf: read text content up to its end tag.
		if selfClose {
			continue
		}
		text, ok := p.readTextUntilEndTag(name)
		if !ok {
			if p.err != nil {
				return StatusError
			}
			// Re-read the leaf from its start tag once more bytes arrive.
			p.pos = tagStart
			return StatusSuspended
		}
		v, err := parsePrimitive(elem.Primitive, text)
		if err != nil {
			p.err = err
			return StatusError
		}
		top.obj.SetLeaf(p.schema, elem.Name, v)
	}
}

// Object returns the completed root object after StatusOK.
func (p *XMLParser) Object() (*Object, TypeID) { return p.root, p.rootType }

func (p *XMLParser) skipWhitespace() {
	for p.pos < len(p.buf) {
		c := p.buf[p.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			p.pos++
			continue
		}
		break
	}
}

// readStartTag attempts to consume "<name attr=\"v\" ...>" or
// "<name .../>". Returns ok=false if the buffer doesn't yet contain a
// complete tag (suspend) — unless p.err is set, meaning malformed input.
func (p *XMLParser) readStartTag() (name string, attrs map[string]string, selfClose bool, ok bool) {
	if p.pos >= len(p.buf) || p.buf[p.pos] != '<' {
		p.err = codecError("expected '<' at offset %d", p.pos)
		return "", nil, false, false
	}
	end := bytes.IndexByte(p.buf[p.pos:], '>')
	if end < 0 {
		return "", nil, false, false // need more bytes: tag not yet complete
	}
	raw := string(p.buf[p.pos+1 : p.pos+end])
	p.pos += end + 1
	if strings.HasPrefix(raw, "/") {
		p.err = codecError("unexpected end tag %q", raw)
		return "", nil, false, false
	}
	if strings.HasSuffix(raw, "/") {
		selfClose = true
		raw = strings.TrimSuffix(raw, "/")
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		p.err = codecError("empty tag")
		return "", nil, false, false
	}
	name = stripNamespacePrefix(fields[0])
	attrs = make(map[string]string)
	for _, f := range fields[1:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := stripNamespacePrefix(kv[0])
		val := strings.Trim(kv[1], `"'`)
		attrs[key] = unescapeXML(val)
	}
	return name, attrs, selfClose, true
}

// peekEndTag checks whether the upcoming bytes are the current frame's
// closing tag. closed=true means the lookahead resolved (either matched
// or the bytes present rule it out); ok indicates a completed, matched
// close. When closed=false, more bytes are needed to decide.
func (p *XMLParser) peekEndTag(top *frame) (ok bool, closed bool) {
	want := "</" + top.name
	if p.pos+len(want) > len(p.buf) {
		// Not enough bytes to rule in or out yet, unless what's there
		// already diverges.
		if bytes.HasPrefix([]byte(want), p.buf[p.pos:]) {
			return false, false
		}
		return false, true
	}
	if !bytes.HasPrefix(p.buf[p.pos:], []byte(want)) {
		return false, true
	}
	end := bytes.IndexByte(p.buf[p.pos:], '>')
	if end < 0 {
		return false, false
	}
	p.pos += end + 1
	return true, true
}

// readTextUntilEndTag consumes character data up to (not including) the
// next '<', then the matching end tag for name.
func (p *XMLParser) readTextUntilEndTag(name string) (string, bool) {
	ltIdx := bytes.IndexByte(p.buf[p.pos:], '<')
	if ltIdx < 0 {
		return "", false
	}
	text := unescapeXML(string(p.buf[p.pos : p.pos+ltIdx]))
	p.pos += ltIdx
	end := bytes.IndexByte(p.buf[p.pos:], '>')
	if end < 0 {
		return "", false
	}
	tag := string(p.buf[p.pos+1 : p.pos+end])
	if tag != "/"+name && stripNamespacePrefix(strings.TrimPrefix(tag, "/")) != name {
		p.err = codecError("expected end tag for %q, got %q", name, tag)
		return "", false
	}
	p.pos += end + 1
	return text, true
}

func (p *XMLParser) applyAttrs(obj *Object, elems []Element, attrs map[string]string) {
	for _, e := range elems {
		if !e.Attribute {
			continue
		}
		if v, ok := attrs[e.Name]; ok {
			pv, err := parsePrimitive(e.Primitive, v)
			if err == nil {
				obj.SetLeaf(p.schema, e.Name, pv)
			}
		}
	}
}

func stripNamespacePrefix(s string) string {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func unescapeXML(s string) string {
	r := strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")
	return r.Replace(s)
}

func escapeXML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")
	return r.Replace(s)
}

func parsePrimitive(kind PrimitiveKind, text string) (any, error) {
	switch kind {
	case PrimitiveString, PrimitiveAnyURI, PrimitiveHexBinary:
		return text, nil
	case PrimitiveBoolean:
		return text == "true" || text == "1", nil
	case PrimitiveInt8, PrimitiveInt16, PrimitiveInt32, PrimitiveInt64:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, codecError("invalid integer %q: %v", text, err)
		}
		return v, nil
	case PrimitiveUint8, PrimitiveUint16, PrimitiveUint32, PrimitiveUint64:
		v, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return nil, codecError("invalid unsigned integer %q: %v", text, err)
		}
		return v, nil
	default:
		return text, nil
	}
}

// XMLEmitter is the mirror-image stack emitter for Object -> XML bytes.
type XMLEmitter struct {
	schema   *Schema
	stack    []emitFrame
	out      []byte
	done     bool
	rootName string

	// itemCounts records, per stack depth, how many children of an
	// unbounded element were fully written — spec.md §4.1's
	// output_item_count(level), used by the retrieval engine for paged
	// list emission (not used by the client retrieval path here, which
	// only ever parses lists; kept symmetrical with the parser for
	// completeness and for any future server-accept extension).
	itemCounts []int
}

type emitFrame struct {
	obj       *Object
	elems     []Element
	elemIdx   int
	childIdx  int // position within an unbounded element's children
	wroteOpen bool
	name      string
}

// NewXMLEmitter creates an emitter for obj (already of the given type).
func NewXMLEmitter(s *Schema, name string, obj *Object) *XMLEmitter {
	e := &XMLEmitter{schema: s, rootName: name}
	e.stack = append(e.stack, emitFrame{obj: obj, elems: allElements(s, obj.Type), name: name})
	return e
}

// Emit writes whole XML tokens until at least max bytes are written or
// the document is complete, returning the slice written and whether
// emission is complete. The last token may carry the slice past max.
func (e *XMLEmitter) Emit(max int) ([]byte, bool) {
	e.out = e.out[:0]
	for len(e.stack) > 0 && len(e.out) < max {
		top := &e.stack[len(e.stack)-1]
		if !top.wroteOpen {
			tag := "<" + top.name
			for _, el := range top.elems {
				if !el.Attribute {
					continue
				}
				if v, ok := top.obj.Leaf(el.Name); ok {
					tag += " " + el.Name + `="` + escapeXML(formatPrimitive(v)) + `"`
				}
			}
			e.out = append(e.out, []byte(tag+">")...)
			top.wroteOpen = true
			continue
		}
		if top.elemIdx >= len(top.elems) {
			e.out = append(e.out, []byte("</"+top.name+">")...)
			e.stack = e.stack[:len(e.stack)-1]
			e.recordItemCount(len(e.stack))
			continue
		}
		elem := top.elems[top.elemIdx]
		if elem.Attribute {
			// Already written into the start tag.
			top.elemIdx++
			continue
		}
		if elem.IsComplex() {
			children := top.obj.Children[elem.Name]
			if top.childIdx >= len(children) {
				top.elemIdx++
				top.childIdx = 0
				continue
			}
			child := children[top.childIdx]
			top.childIdx++
			e.stack = append(e.stack, emitFrame{obj: child, elems: allElements(e.schema, child.Type), name: elem.Name})
			continue
		}
		v, ok := top.obj.Leaf(elem.Name)
		top.elemIdx++
		if !ok {
			continue
		}
		e.out = append(e.out, []byte("<"+elem.Name+">"+escapeXML(formatPrimitive(v))+"</"+elem.Name+">")...)
	}
	e.done = len(e.stack) == 0
	return e.out, e.done
}

func (e *XMLEmitter) recordItemCount(depth int) {
	for len(e.itemCounts) <= depth {
		e.itemCounts = append(e.itemCounts, 0)
	}
	e.itemCounts[depth]++
}

// OutputItemCount returns how many children at stack depth level were
// fully written so far, per spec.md §4.1.
func (e *XMLEmitter) OutputItemCount(level int) int {
	if level < 0 || level >= len(e.itemCounts) {
		return 0
	}
	return e.itemCounts[level]
}

func formatPrimitive(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	default:
		return ""
	}
}
