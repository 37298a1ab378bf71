package core

import "testing"

func TestEXIRoundTripSimpleType(t *testing.T) {
	s := DefaultSchema()
	obj := NewObject(TypeTime)
	obj.SetLeaf(s, "href", "/tm")
	obj.SetLeaf(s, "currentTime", int64(55))

	e := NewEXIEmitter(s, obj)
	out, done := e.Emit(4096)
	if !done {
		t.Fatal("expected emission to complete")
	}

	p := NewEXIParser(s, TypeTime)
	p.Feed(out)
	if status := p.Step(); status != StatusOK {
		t.Fatalf("expected StatusOK, got %v (err=%v)", status, p.Err())
	}
	got, _ := p.Object()
	v, ok := got.Leaf("currentTime")
	if !ok || v.(int64) != 55 {
		t.Fatalf("round-trip mismatch: got %v (ok=%v)", v, ok)
	}
}

func TestEXIRoundTripListWithChildren(t *testing.T) {
	s := DefaultSchema()
	list := NewObject(TypeEndDeviceList)
	list.SetLeaf(s, "href", "/edev")
	list.SetLeaf(s, "all", uint64(2))
	for i := 0; i < 2; i++ {
		member := NewObject(TypeEndDevice)
		member.SetLeaf(s, "href", "/edev/x")
		member.SetLeaf(s, "sFDI", uint64(7))
		list.AppendChild(s, "EndDevice", member)
	}

	e := NewEXIEmitter(s, list)
	out, done := e.Emit(8192)
	if !done {
		t.Fatal("expected emission to complete")
	}

	p := NewEXIParser(s, TypeEndDeviceList)
	p.Feed(out)
	if status := p.Step(); status != StatusOK {
		t.Fatalf("expected StatusOK, got %v (err=%v)", status, p.Err())
	}
	got, _ := p.Object()
	if len(got.Children["EndDevice"]) != 2 {
		t.Fatalf("expected 2 members, got %d", len(got.Children["EndDevice"]))
	}
	for _, m := range got.Children["EndDevice"] {
		v, ok := m.Leaf("sFDI")
		if !ok || v.(uint64) != 7 {
			t.Fatalf("expected sFDI 7, got %v (ok=%v)", v, ok)
		}
	}
}

// TestEXIIncrementalChunking mirrors the XML parser's chunk-split property
// test for the binary encoding (spec.md §8).
func TestEXIIncrementalChunking(t *testing.T) {
	s := DefaultSchema()
	obj := NewObject(TypeTime)
	obj.SetLeaf(s, "href", "/tm")
	obj.SetLeaf(s, "currentTime", int64(9001))

	full, done := NewEXIEmitter(s, obj).Emit(4096)
	if !done {
		t.Fatal("expected single-shot emit to complete")
	}

	for split := 1; split < len(full); split++ {
		p := NewEXIParser(s, TypeTime)
		p.Feed(full[:split])
		status := p.Step()
		if status == StatusError {
			t.Fatalf("split %d: unexpected error: %v", split, p.Err())
		}
		if status == StatusOK {
			continue
		}
		p.Rebuffer()
		p.Feed(full[split:])
		status = p.Step()
		if status != StatusOK {
			t.Fatalf("split %d: expected StatusOK, got %v (err=%v)", split, status, p.Err())
		}
		got, _ := p.Object()
		v, ok := got.Leaf("currentTime")
		if !ok || v.(int64) != 9001 {
			t.Fatalf("split %d: currentTime mismatch: %v (ok=%v)", split, v, ok)
		}
	}
}

func TestEXIParserRejectsWrongRootType(t *testing.T) {
	s := DefaultSchema()
	obj := NewObject(TypeTime)
	obj.SetLeaf(s, "currentTime", int64(1))
	out, _ := NewEXIEmitter(s, obj).Emit(4096)

	p := NewEXIParser(s, TypeSelfDevice)
	p.Feed(out)
	if status := p.Step(); status != StatusError {
		t.Fatalf("expected StatusError for mismatched root type, got %v", status)
	}
}

func TestEXIEmitterSegmentedEmitMatchesSingleShot(t *testing.T) {
	s := DefaultSchema()
	obj := NewObject(TypeTime)
	obj.SetLeaf(s, "href", "/tm")
	obj.SetLeaf(s, "currentTime", int64(777))

	full, done := NewEXIEmitter(s, obj).Emit(4096)
	if !done {
		t.Fatal("single-shot emit should complete")
	}

	e := NewEXIEmitter(s, obj)
	var segmented []byte
	for {
		chunk, done := e.Emit(3)
		segmented = append(segmented, chunk...)
		if done {
			break
		}
	}
	if string(segmented) != string(full) {
		t.Fatalf("segmented emit mismatch:\n got  %x\n want %x", segmented, full)
	}
}
