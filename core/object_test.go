package core

import "testing"

func TestBitmapSetClearTest(t *testing.T) {
	var b Bitmap
	if b.Test(3) {
		t.Fatal("bit 3 should start clear")
	}
	b.Set(3)
	if !b.Test(3) {
		t.Fatal("bit 3 should be set")
	}
	if b.PopCount() != 1 {
		t.Fatalf("expected popcount 1, got %d", b.PopCount())
	}
	b.Clear(3)
	if b.Test(3) {
		t.Fatal("bit 3 should be clear again")
	}
}

func TestObjectSetLeafMarksExists(t *testing.T) {
	s := DefaultSchema()
	obj := NewObject(TypeTime)
	obj.SetLeaf(s, "currentTime", int64(12345))

	v, ok := obj.Leaf("currentTime")
	if !ok {
		t.Fatal("expected currentTime present")
	}
	if v.(int64) != 12345 {
		t.Fatalf("expected 12345, got %v", v)
	}

	elems := s.Elements(TypeTime)
	var bit int
	for _, e := range elems {
		if e.Name == "currentTime" {
			bit = e.BitPos
		}
	}
	if !obj.Exists.Test(bit) {
		t.Fatal("expected exists bit set for currentTime")
	}
}

func TestObjectSetLeafExtractsHrefAndMRID(t *testing.T) {
	s := DefaultSchema()
	obj := NewObject(TypeEndDevice)
	obj.SetLeaf(s, "href", "/edev/1")
	if obj.Href != "/edev/1" {
		t.Fatalf("expected Href populated, got %q", obj.Href)
	}

	ctl := NewObject(TypeDERControl)
	ctl.SetLeaf(s, "mRID", "000102030405060708090a0b0c0d0e0f")
	if !ctl.HasMRID || ctl.MRID[0] != 0x00 || ctl.MRID[15] != 0x0f {
		t.Fatalf("expected MRID populated from the mRID leaf, got %v (has=%v)", ctl.MRID, ctl.HasMRID)
	}
}

func TestObjectAppendChildAndChild(t *testing.T) {
	s := DefaultSchema()
	list := NewObject(TypeEndDeviceList)
	member := NewObject(TypeEndDevice)
	list.AppendChild(s, "EndDevice", member)

	got, ok := list.Child("EndDevice")
	if !ok || got != member {
		t.Fatal("expected AppendChild/Child roundtrip")
	}
	if len(list.Children["EndDevice"]) != 1 {
		t.Fatalf("expected one child, got %d", len(list.Children["EndDevice"]))
	}
}

func TestObjectFreeClearsChildrenAndLeaves(t *testing.T) {
	s := DefaultSchema()
	parent := NewObject(TypeEndDeviceList)
	child := NewObject(TypeEndDevice)
	child.SetLeaf(s, "sFDI", uint64(42))
	parent.AppendChild(s, "EndDevice", child)

	parent.Free()
	if len(parent.Children) != 0 {
		t.Fatalf("expected no children after Free, got %d", len(parent.Children))
	}
	if len(child.Leaves) != 0 {
		t.Fatalf("expected the child's leaves cleared by Free, got %d", len(child.Leaves))
	}
}

func TestStubSetObjectFreesPrevious(t *testing.T) {
	stub := NewStub(nil, TypeEndDevice, "/edev/1")
	first := NewObject(TypeEndDevice)
	first.SetLeaf(DefaultSchema(), "sFDI", uint64(42))
	stub.SetObject(first)
	second := NewObject(TypeEndDevice)
	stub.SetObject(second)
	if stub.Object != second {
		t.Fatal("expected second object installed")
	}
	if len(first.Leaves) != 0 {
		t.Fatalf("expected the previous object freed, still has %d leaves", len(first.Leaves))
	}
}

func TestObjectChildEmptyIsFalse(t *testing.T) {
	obj := NewObject(TypeEndDeviceList)
	if _, ok := obj.Child("EndDevice"); ok {
		t.Fatal("expected no child present on empty object")
	}
}
