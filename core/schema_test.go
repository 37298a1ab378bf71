package core

import (
	"os"
	"strings"
	"testing"

	"se2030/internal/testutil"
)

func TestSchemaRegisterTypeAssignsBitPositions(t *testing.T) {
	s := NewSchema("urn:test")
	base := s.RegisterType("Base", 0, []Element{
		{Name: "a", Primitive: PrimitiveUint32},
	})
	derived := s.RegisterType("Derived", base, []Element{
		{Name: "b", Primitive: PrimitiveString},
		{Name: "c", Primitive: PrimitiveBoolean},
	})

	elems := s.Elements(derived)
	if len(elems) != 2 {
		t.Fatalf("expected 2 own elements, got %d", len(elems))
	}
	// Own elements continue past the base's single element: one bit names
	// one element anywhere in the chain.
	if elems[0].BitPos != 1 || elems[1].BitPos != 2 {
		t.Fatalf("expected bit positions offset past the inherited element, got %d, %d", elems[0].BitPos, elems[1].BitPos)
	}
	if own := s.Elements(base); own[0].BitPos != 0 {
		t.Fatalf("expected the base element at bit 0, got %d", own[0].BitPos)
	}
}

func TestSchemaRegisterTypeDuplicateNamePanics(t *testing.T) {
	s := NewSchema("urn:test")
	s.RegisterType("Dup", 0, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate type name")
		}
	}()
	s.RegisterType("Dup", 0, nil)
}

func TestSchemaIsDerivedFrom(t *testing.T) {
	s := DefaultSchema()
	if !s.IsDerivedFrom(TypeEndDevice, TypeResource) {
		t.Fatal("EndDevice should derive from Resource")
	}
	if !s.IsDerivedFrom(TypeResource, TypeResource) {
		t.Fatal("a type derives from itself")
	}
	if s.IsDerivedFrom(TypeResource, TypeEndDevice) {
		t.Fatal("Resource must not derive from EndDevice")
	}
}

func TestSchemaDisplayNameAndTypeByName(t *testing.T) {
	s := DefaultSchema()
	name := s.DisplayName(TypeDeviceCapability)
	if name != "DeviceCapability" {
		t.Fatalf("expected DeviceCapability, got %q", name)
	}
	id, ok := s.TypeByName("DeviceCapability")
	if !ok || id != TypeDeviceCapability {
		t.Fatalf("TypeByName roundtrip failed: id=%d ok=%v", id, ok)
	}
}

func TestSchemaLoadSchemaYAML(t *testing.T) {
	doc := `
namespace: urn:test:loaded
types:
  - name: Widget
    elements:
      - name: count
        primitive: 10
  - name: WidgetList
    elements:
      - name: Widget
        childType: 1
`
	s, err := LoadSchema(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadSchema failed: %v", err)
	}
	id, ok := s.TypeByName("Widget")
	if !ok {
		t.Fatal("Widget type not found after load")
	}
	elems := s.Elements(id)
	if len(elems) != 1 || elems[0].Name != "count" {
		t.Fatalf("unexpected elements: %+v", elems)
	}
}

// TestSchemaLoadSchemaFromFile drives LoadSchema through a real on-disk
// schema document, the shape operators supply alongside the config file.
func TestSchemaLoadSchemaFromFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	doc := `
namespace: urn:test:disk
types:
  - name: Reading
    elements:
      - name: value
        primitive: 12
  - name: ReadingList
    elements:
      - name: all
        primitive: 10
        attribute: true
      - name: Reading
        childType: 1
        maxOccurs: -1
`
	if err := sb.WriteFile("schema.yaml", []byte(doc), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f, err := os.Open(sb.Path("schema.yaml"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	s, err := LoadSchema(f)
	if err != nil {
		t.Fatalf("LoadSchema failed: %v", err)
	}
	if s.Namespace != "urn:test:disk" {
		t.Fatalf("unexpected namespace %q", s.Namespace)
	}
	listID, ok := s.TypeByName("ReadingList")
	if !ok {
		t.Fatal("ReadingList type not found after load")
	}
	field, isList := schemaListField(s, listID)
	if !isList || field.Name != "Reading" {
		t.Fatalf("expected ReadingList recognized as a list of Reading, got %+v (isList=%v)", field, isList)
	}
}

func TestSchemaLoadSchemaUnknownBase(t *testing.T) {
	doc := `
namespace: urn:test
types:
  - name: Orphan
    base: NoSuchBase
`
	if _, err := LoadSchema(strings.NewReader(doc)); err == nil {
		t.Fatal("expected error for unknown base type")
	}
}
