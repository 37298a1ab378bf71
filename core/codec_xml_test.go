package core

import "testing"

// buildSampleTime constructs a small Time object, the simplest schema type
// with a single required primitive leaf, for codec round-trip tests.
func buildSampleTime(s *Schema, seconds int64) *Object {
	obj := NewObject(TypeTime)
	obj.SetLeaf(s, "href", "/tm")
	obj.SetLeaf(s, "currentTime", seconds)
	return obj
}

func TestXMLParserParsesSingleShot(t *testing.T) {
	s := DefaultSchema()
	doc := `<Time href="/tm"><currentTime>1700000000</currentTime></Time>`

	p := NewXMLParser(s, TypeTime)
	p.Feed([]byte(doc))
	if status := p.Step(); status != StatusOK {
		t.Fatalf("expected StatusOK, got %v (err=%v)", status, p.Err())
	}
	obj, typ := p.Object()
	if typ != TypeTime {
		t.Fatalf("expected TypeTime, got %d", typ)
	}
	v, ok := obj.Leaf("currentTime")
	if !ok || v.(int64) != 1700000000 {
		t.Fatalf("expected currentTime 1700000000, got %v (ok=%v)", v, ok)
	}
	if obj.Href != "/tm" {
		t.Fatalf("expected href attribute parsed, got %q", obj.Href)
	}
}

// TestXMLParserIncrementalChunking is spec.md §8's "for any split of the
// input stream into arbitrary chunks fed with rebuffer, the parse result
// is identical to the unsplit parse" property, exercised over every
// possible single split point of a representative document.
func TestXMLParserIncrementalChunking(t *testing.T) {
	s := DefaultSchema()
	doc := []byte(`<Time href="/tm"><currentTime>1700000000</currentTime></Time>`)

	for split := 1; split < len(doc); split++ {
		p := NewXMLParser(s, TypeTime)
		p.Feed(doc[:split])
		status := p.Step()
		if status == StatusError {
			t.Fatalf("split %d: unexpected error: %v", split, p.Err())
		}
		if status == StatusOK {
			// Some splits land exactly on document completion; that's fine.
			continue
		}
		p.Rebuffer()
		p.Feed(doc[split:])
		status = p.Step()
		if status != StatusOK {
			t.Fatalf("split %d: expected StatusOK after full feed, got %v (err=%v)", split, status, p.Err())
		}
		obj, _ := p.Object()
		v, ok := obj.Leaf("currentTime")
		if !ok || v.(int64) != 1700000000 {
			t.Fatalf("split %d: currentTime mismatch: %v (ok=%v)", split, v, ok)
		}
	}
}

func TestXMLParserByteAtATime(t *testing.T) {
	s := DefaultSchema()
	doc := []byte(`<Time href="/tm"><currentTime>42</currentTime></Time>`)

	p := NewXMLParser(s, TypeTime)
	var status ParseStatus
	for i, b := range doc {
		p.Feed([]byte{b})
		status = p.Step()
		if status == StatusOK {
			if i != len(doc)-1 {
				t.Fatalf("parse completed early at byte %d", i)
			}
			break
		}
		if status == StatusError {
			t.Fatalf("unexpected error at byte %d: %v", i, p.Err())
		}
		p.Rebuffer()
	}
	if status != StatusOK {
		t.Fatalf("expected StatusOK after feeding full document, got %v", status)
	}
}

func TestXMLParserRejectsUnknownElement(t *testing.T) {
	s := DefaultSchema()
	doc := `<Time href="/tm"><bogusField>1</bogusField></Time>`
	p := NewXMLParser(s, TypeTime)
	p.Feed([]byte(doc))
	if status := p.Step(); status != StatusError {
		t.Fatalf("expected StatusError for out-of-vocabulary element, got %v", status)
	}
}

func TestXMLParserRejectsWrongRoot(t *testing.T) {
	s := DefaultSchema()
	doc := `<NotTime href="/tm"></NotTime>`
	p := NewXMLParser(s, TypeTime)
	p.Feed([]byte(doc))
	if status := p.Step(); status != StatusError {
		t.Fatalf("expected StatusError for mismatched root element, got %v", status)
	}
}

func TestXMLEmitterEmitsParsableDocument(t *testing.T) {
	s := DefaultSchema()
	obj := buildSampleTime(s, 99)

	e := NewXMLEmitter(s, "Time", obj)
	out, done := e.Emit(4096)
	if !done {
		t.Fatal("expected emission to complete within a generous buffer")
	}

	p := NewXMLParser(s, TypeTime)
	p.Feed(out)
	if status := p.Step(); status != StatusOK {
		t.Fatalf("re-parse of emitted document failed: %v (err=%v)", status, p.Err())
	}
	reparsed, _ := p.Object()
	v, ok := reparsed.Leaf("currentTime")
	if !ok || v.(int64) != 99 {
		t.Fatalf("round-trip mismatch: got %v (ok=%v)", v, ok)
	}
}

// TestXMLEmitterSegmentedEmitMatchesSingleShot is spec.md §8's "segmented
// emit followed by concatenation equals single-shot emit" law.
func TestXMLEmitterSegmentedEmitMatchesSingleShot(t *testing.T) {
	s := DefaultSchema()
	obj := buildSampleTime(s, 123456789)

	full, done := NewXMLEmitter(s, "Time", obj).Emit(4096)
	if !done {
		t.Fatal("single-shot emit should complete")
	}

	e := NewXMLEmitter(s, "Time", obj)
	var segmented []byte
	for {
		chunk, done := e.Emit(5)
		segmented = append(segmented, chunk...)
		if done {
			break
		}
	}
	if string(segmented) != string(full) {
		t.Fatalf("segmented emit mismatch:\n got  %q\n want %q", segmented, full)
	}
}

func TestXMLEmitterListResource(t *testing.T) {
	s := DefaultSchema()
	list := NewObject(TypeEndDeviceList)
	list.SetLeaf(s, "href", "/edev")
	list.SetLeaf(s, "all", uint64(2))
	for i := 0; i < 2; i++ {
		member := NewObject(TypeEndDevice)
		member.SetLeaf(s, "href", "/edev/x")
		member.SetLeaf(s, "sFDI", uint64(111))
		list.AppendChild(s, "EndDevice", member)
	}

	e := NewXMLEmitter(s, "EndDeviceList", list)
	out, done := e.Emit(8192)
	if !done {
		t.Fatal("expected list emission to complete")
	}
	// Each EndDevice member closes its frame while the list frame (depth 0)
	// is still open beneath it, landing the count at depth 1.
	if e.OutputItemCount(1) != 2 {
		t.Fatalf("expected OutputItemCount(1)==2, got %d", e.OutputItemCount(1))
	}

	p := NewXMLParser(s, TypeEndDeviceList)
	p.Feed(out)
	if status := p.Step(); status != StatusOK {
		t.Fatalf("re-parse failed: %v (err=%v)", status, p.Err())
	}
	reparsed, _ := p.Object()
	if len(reparsed.Children["EndDevice"]) != 2 {
		t.Fatalf("expected 2 EndDevice members, got %d", len(reparsed.Children["EndDevice"]))
	}
}
