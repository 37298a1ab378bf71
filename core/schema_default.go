package core

// Default schema type IDs, populated by DefaultSchema. Declared as package
// vars (rather than constants) because RegisterType assigns IDs in
// registration order; callers needing a stable ID should resolve it once
// via DefaultSchema().TypeByName instead of depending on these values
// staying fixed across schema revisions.
var (
	TypeResource                    TypeID
	TypeLink                        TypeID
	TypeListLink                    TypeID
	TypeDeviceCapability            TypeID
	TypeEndDevice                   TypeID
	TypeEndDeviceList               TypeID
	TypeSelfDevice                  TypeID
	TypeTime                        TypeID
	TypeFunctionSetAssignments      TypeID
	TypeFunctionSetAssignmentsList  TypeID
	TypeDERProgram                  TypeID
	TypeDERProgramList              TypeID
	TypeDERControl                  TypeID
	TypeDERControlList              TypeID
	TypeDefaultDERControl           TypeID
	TypeMirrorUsagePoint            TypeID
)

var defaultSchema *Schema

// DefaultSchema returns the process-wide, lazily built IEEE 2030.5 schema
// covering the resource graph spec.md's scenarios exercise: DeviceCapability
// linking to EndDeviceList/Time/SelfDevice, EndDevice linking to
// FunctionSetAssignmentsList, which links to DERProgramList, whose programs
// link to DERControlList and DefaultDERControl.
func DefaultSchema() *Schema {
	if defaultSchema != nil {
		return defaultSchema
	}
	s := NewSchema("urn:ieee:std:2030.5:ns")

	TypeResource = s.RegisterType("Resource", 0, []Element{
		{Name: "href", Primitive: PrimitiveAnyURI, Attribute: true, MinOccurs: 0, MaxOccurs: 1},
		{Name: "subscribable", Primitive: PrimitiveUint8, Attribute: true, MinOccurs: 0, MaxOccurs: 1},
		{Name: "pollRate", Primitive: PrimitiveUint32, Attribute: true, MinOccurs: 0, MaxOccurs: 1},
	})

	TypeLink = s.RegisterType("Link", 0, []Element{
		{Name: "href", Primitive: PrimitiveAnyURI, Attribute: true, MinOccurs: 1, MaxOccurs: 1},
	})
	TypeListLink = s.RegisterType("ListLink", TypeLink, []Element{
		{Name: "all", Primitive: PrimitiveUint32, Attribute: true, MinOccurs: 0, MaxOccurs: 1},
	})

	TypeSelfDevice = s.RegisterType("SelfDevice", TypeResource, []Element{
		{Name: "lFDI", Primitive: PrimitiveHexBinary, MinOccurs: 0, MaxOccurs: 1},
	})

	TypeTime = s.RegisterType("Time", TypeResource, []Element{
		{Name: "currentTime", Primitive: PrimitiveInt64, MinOccurs: 1, MaxOccurs: 1},
	})

	TypeDERControl = s.RegisterType("DERControl", TypeResource, []Element{
		{Name: "mRID", Primitive: PrimitiveHexBinary, MinOccurs: 1, MaxOccurs: 1},
		{Name: "creationTime", Primitive: PrimitiveInt64, MinOccurs: 1, MaxOccurs: 1},
		{Name: "interval_start", Primitive: PrimitiveInt64, MinOccurs: 1, MaxOccurs: 1},
		{Name: "interval_duration", Primitive: PrimitiveUint32, MinOccurs: 1, MaxOccurs: 1},
		{Name: "randomizeStart", Primitive: PrimitiveInt16, MinOccurs: 0, MaxOccurs: 1},
		{Name: "randomizeDuration", Primitive: PrimitiveInt16, MinOccurs: 0, MaxOccurs: 1},
		{Name: "currentStatus", Primitive: PrimitiveUint8, MinOccurs: 1, MaxOccurs: 1},
	})
	TypeDERControlList = s.RegisterType("DERControlList", TypeResource, []Element{
		{Name: "all", Primitive: PrimitiveUint32, Attribute: true, MinOccurs: 1, MaxOccurs: 1},
		{Name: "DERControl", ChildType: TypeDERControl, MinOccurs: 0, MaxOccurs: -1},
	})
	TypeDefaultDERControl = s.RegisterType("DefaultDERControl", TypeResource, []Element{
		{Name: "mRID", Primitive: PrimitiveHexBinary, MinOccurs: 1, MaxOccurs: 1},
	})

	TypeDERProgram = s.RegisterType("DERProgram", TypeResource, []Element{
		{Name: "mRID", Primitive: PrimitiveHexBinary, MinOccurs: 1, MaxOccurs: 1},
		{Name: "primacy", Primitive: PrimitiveUint8, MinOccurs: 1, MaxOccurs: 1},
		{Name: "DERControlListLink", ChildType: TypeListLink, MinOccurs: 0, MaxOccurs: 1},
		{Name: "DefaultDERControlLink", ChildType: TypeLink, MinOccurs: 0, MaxOccurs: 1},
	})
	TypeDERProgramList = s.RegisterType("DERProgramList", TypeResource, []Element{
		{Name: "all", Primitive: PrimitiveUint32, Attribute: true, MinOccurs: 1, MaxOccurs: 1},
		{Name: "DERProgram", ChildType: TypeDERProgram, MinOccurs: 0, MaxOccurs: -1},
	})

	TypeFunctionSetAssignments = s.RegisterType("FunctionSetAssignments", TypeResource, []Element{
		{Name: "DERProgramListLink", ChildType: TypeListLink, MinOccurs: 0, MaxOccurs: 1},
	})
	TypeFunctionSetAssignmentsList = s.RegisterType("FunctionSetAssignmentsList", TypeResource, []Element{
		{Name: "all", Primitive: PrimitiveUint32, Attribute: true, MinOccurs: 1, MaxOccurs: 1},
		{Name: "FunctionSetAssignments", ChildType: TypeFunctionSetAssignments, MinOccurs: 0, MaxOccurs: -1},
	})

	TypeEndDevice = s.RegisterType("EndDevice", TypeResource, []Element{
		{Name: "sFDI", Primitive: PrimitiveUint64, MinOccurs: 1, MaxOccurs: 1},
		{Name: "FunctionSetAssignmentsListLink", ChildType: TypeListLink, MinOccurs: 0, MaxOccurs: 1},
	})
	TypeEndDeviceList = s.RegisterType("EndDeviceList", TypeResource, []Element{
		{Name: "all", Primitive: PrimitiveUint32, Attribute: true, MinOccurs: 1, MaxOccurs: 1},
		{Name: "EndDevice", ChildType: TypeEndDevice, MinOccurs: 0, MaxOccurs: -1},
	})

	TypeMirrorUsagePoint = s.RegisterType("MirrorUsagePoint", TypeResource, []Element{
		{Name: "mRID", Primitive: PrimitiveHexBinary, MinOccurs: 1, MaxOccurs: 1},
	})

	TypeDeviceCapability = s.RegisterType("DeviceCapability", TypeResource, []Element{
		{Name: "EndDeviceListLink", ChildType: TypeListLink, MinOccurs: 0, MaxOccurs: 1},
		{Name: "TimeLink", ChildType: TypeLink, MinOccurs: 0, MaxOccurs: 1},
		{Name: "SelfDeviceLink", ChildType: TypeLink, MinOccurs: 0, MaxOccurs: 1},
		{Name: "MirrorUsagePointListLink", ChildType: TypeListLink, MinOccurs: 0, MaxOccurs: 1},
	})

	defaultSchema = s
	return s
}

// DefaultSchemaTypeNames lists the default schema's types in registration
// order, for operator-facing tooling (cmd/se2030client's schema command)
// that wants a stable display order rather than a map iteration.
func DefaultSchemaTypeNames() []string {
	return []string{
		"Resource", "Link", "ListLink",
		"SelfDevice", "Time",
		"DERControl", "DERControlList", "DefaultDERControl",
		"DERProgram", "DERProgramList",
		"FunctionSetAssignments", "FunctionSetAssignmentsList",
		"EndDevice", "EndDeviceList",
		"MirrorUsagePoint", "DeviceCapability",
	}
}
