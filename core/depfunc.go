package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DepFunc declares, for one schema type, the requirement edges that
// emanate from a freshly retrieved object of that type — spec.md §4.4:
// "the dep function declares the graph structure statically per-type".
type DepFunc func(rt *Retrieval, stub *Stub)

var (
	depMu    sync.RWMutex
	depFuncs = make(map[TypeID]DepFunc)
)

// RegisterDepFunc binds t's DepFunc. Collisions are FATAL at start-up,
// exactly as the teacher's opcode Register panics on a duplicate opcode
// (core/opcode_dispatcher.go) — both catalogues are built once in init()
// and a collision can only mean a programmer error.
func RegisterDepFunc(t TypeID, fn DepFunc) {
	depMu.Lock()
	defer depMu.Unlock()
	if _, exists := depFuncs[t]; exists {
		logrus.Panicf("core: DepFunc already registered for type %d", t)
	}
	depFuncs[t] = fn
}

// dispatchDepFunc runs the registered DepFunc for stub's type, if any.
// Unknown types leave the stub self-complete after body parse, per
// spec.md §4.4: "unknown types leave a stub with flags==0".
func dispatchDepFunc(rt *Retrieval, stub *Stub) {
	depMu.RLock()
	fn, ok := depFuncs[stub.Type]
	depMu.RUnlock()
	if !ok {
		return
	}
	fn(rt, stub)
}

// linkSpec declares one statically-known link field on a parent type:
// the schema element name, the concrete resource type it points to, and
// whether the link is a ListLink (count-bearing) or a plain Link.
type linkSpec struct {
	field     string
	childType TypeID
	list      bool
}

// linkTable is the declarative form of every default-schema DepFunc,
// installed by registerDefaultDepFuncs. Grounded on the teacher's
// catalogue-as-data-table idiom (core/opcode_dispatcher.go's `catalogue`
// slice) — rather than hand-writing one function body per type, the
// structure is data and a single genericDepFunc walks it.
var linkTable map[TypeID][]linkSpec

func init() {
	s := DefaultSchema()
	linkTable = map[TypeID][]linkSpec{
		TypeDeviceCapability: {
			{"EndDeviceListLink", TypeEndDeviceList, true},
			{"TimeLink", TypeTime, false},
			{"SelfDeviceLink", TypeSelfDevice, false},
			{"MirrorUsagePointListLink", TypeMirrorUsagePoint, true},
		},
		TypeEndDevice: {
			{"FunctionSetAssignmentsListLink", TypeFunctionSetAssignmentsList, true},
		},
		TypeFunctionSetAssignments: {
			{"DERProgramListLink", TypeDERProgramList, true},
		},
	}
	for t, specs := range linkTable {
		RegisterDepFunc(t, genericDepFunc(specs))
	}
	// DERProgram is not table-driven: its DERControlListLink child stub
	// must inherit the program's primacy (spec.md §4.5), which the
	// generic link walker has no slot for.
	RegisterDepFunc(TypeDERProgram, derProgramDepFunc)
	// List resources carry their members inline; the member's own DepFunc
	// still needs to run against each inline object so nested links (e.g.
	// EndDevice.FunctionSetAssignmentsListLink) get wired. Each member is
	// additionally registered as its own addressable stub (keyed by its
	// own href) so it can be polled independently later, per spec.md §6
	// scenario 5's "only the affected child is re-requested" behavior.
	RegisterDepFunc(TypeEndDeviceList, listMemberDepFunc("EndDevice", TypeEndDevice))
	RegisterDepFunc(TypeDERProgramList, listMemberDepFunc("DERProgram", TypeDERProgram))
	RegisterDepFunc(TypeFunctionSetAssignmentsList, listMemberDepFunc("FunctionSetAssignments", TypeFunctionSetAssignments))
	RegisterDepFunc(TypeDERControlList, derControlListDepFunc)
	RegisterDepFunc(TypeDERControl, derControlDepFunc)
	// DefaultDERControl and MirrorUsagePoint are terminal, same shape as
	// derControlDepFunc: no further requirement edges, just an
	// application event announcing the retrieved resource.
	RegisterDepFunc(TypeDefaultDERControl, defaultDERControlDepFunc)
	RegisterDepFunc(TypeMirrorUsagePoint, mirrorUsagePointDepFunc)
	_ = s
}

// derProgramDepFunc wires DERControlList and DefaultDERControl like
// genericDepFunc would, then stamps the program's primacy onto the
// DERControlList child stub so it can propagate further down to each
// DERControl member (spec.md §4.5: "primacy is inherited from the
// containing program").
func derProgramDepFunc(rt *Retrieval, stub *Stub) {
	genericDepFunc([]linkSpec{
		{"DefaultDERControlLink", TypeDefaultDERControl, false},
	})(rt, stub)

	if stub.Object == nil {
		return
	}
	linkObj, ok := stub.Object.Child("DERControlListLink")
	if !ok {
		return
	}
	href, ok := linkObj.Leaf("href")
	if !ok {
		return
	}
	hrefStr, _ := href.(string)
	if hrefStr == "" {
		return
	}
	count := 0
	if all, ok := linkObj.Leaf("all"); ok {
		if v, ok := all.(uint64); ok {
			count = int(v)
		}
	}
	elem, found := findElementByName(allElements(rt.schema, TypeDERProgram), "DERControlListLink")
	if !found {
		return
	}
	var primacy uint8
	if p, ok := stub.Object.Leaf("primacy"); ok {
		if v, ok := p.(uint64); ok {
			primacy = uint8(v)
		}
	}
	child := rt.GetResource(stub.Conn, TypeDERControlList, hrefStr, count)
	child.Primacy = primacy
	newDep(stub, child, uint32(1)<<uint(elem.BitPos))
}

// derControlListDepFunc registers each inline DERControl as its own stub
// and propagates the list's inherited primacy onto each one, then
// dispatches so derControlDepFunc can build the EventBlock.
func derControlListDepFunc(rt *Retrieval, stub *Stub) {
	if stub.Object == nil {
		return
	}
	elem, _ := findElementByName(allElements(rt.schema, stub.Type), "DERControl")
	flag := uint32(1) << uint(elem.BitPos)
	// Wire every member edge before dispatching any member's DepFunc, so
	// an early member completing synchronously cannot see the list with a
	// still-partial requirement set.
	members := make([]*Stub, 0, len(stub.Object.Children["DERControl"]))
	for _, member := range stub.Object.Children["DERControl"] {
		if member.Href == "" {
			continue
		}
		memberStub, _ := rt.getOrCreateLocal(stub.Conn, TypeDERControl, member.Href)
		memberStub.SetObject(member)
		memberStub.Status = 200
		memberStub.Primacy = stub.Primacy
		newDep(stub, memberStub, flag)
		members = append(members, memberStub)
	}
	for _, memberStub := range members {
		dispatchDepFunc(rt, memberStub)
		checkComplete(memberStub)
	}
}

// derControlDepFunc is the terminal DepFunc for an individual DERControl:
// it has no further requirement edges, so it hands the retrieved event
// off to the engine's scheduling hook (set via Retrieval.SetEventHook)
// and is then immediately self-complete.
func derControlDepFunc(rt *Retrieval, stub *Stub) {
	if rt.eventHook != nil {
		rt.eventHook(rt, stub)
	}
}

// defaultDERControlDepFunc is terminal for the program-level fallback
// control: retrieving one announces DEFAULT_CONTROL so the application
// can apply it when no scheduled DERControl is active.
func defaultDERControlDepFunc(rt *Retrieval, stub *Stub) {
	rt.post(Event{Type: EventDefaultControl, Payload: stub})
}

// mirrorUsagePointDepFunc is terminal for metering data: retrieving one
// announces DEVICE_METERING.
func mirrorUsagePointDepFunc(rt *Retrieval, stub *Stub) {
	rt.post(Event{Type: EventDeviceMetering, Payload: stub})
}

// genericDepFunc builds a DepFunc from a declarative link table: for each
// spec, read the child Link/ListLink object's href leaf and wire a
// requirement edge via GetResource + newDep.
func genericDepFunc(specs []linkSpec) DepFunc {
	return func(rt *Retrieval, stub *Stub) {
		if stub.Object == nil {
			return
		}
		for _, spec := range specs {
			linkObj, ok := stub.Object.Child(spec.field)
			if !ok {
				continue
			}
			href, ok := linkObj.Leaf("href")
			if !ok {
				continue
			}
			hrefStr, _ := href.(string)
			if hrefStr == "" {
				continue
			}
			count := 0
			if spec.list {
				if all, ok := linkObj.Leaf("all"); ok {
					if v, ok := all.(uint64); ok {
						count = int(v)
					}
				}
			}
			elem, found := findElementByName(allElements(rt.schema, stub.Type), spec.field)
			if !found {
				continue
			}
			child := rt.GetResource(stub.Conn, spec.childType, hrefStr, count)
			newDep(stub, child, uint32(1)<<uint(elem.BitPos))
		}
	}
}

// listMemberDepFunc registers each inline member of a list resource as
// its own addressable stub and runs the member's DepFunc against it.
func listMemberDepFunc(field string, memberType TypeID) DepFunc {
	return func(rt *Retrieval, stub *Stub) {
		if stub.Object == nil {
			return
		}
		elem, _ := findElementByName(allElements(rt.schema, stub.Type), field)
		flag := uint32(1) << uint(elem.BitPos)
		members := make([]*Stub, 0, len(stub.Object.Children[field]))
		for _, member := range stub.Object.Children[field] {
			if member.Href == "" {
				continue
			}
			memberStub, _ := rt.getOrCreateLocal(stub.Conn, memberType, member.Href)
			memberStub.SetObject(member)
			memberStub.Status = 200
			newDep(stub, memberStub, flag)
			members = append(members, memberStub)
		}
		for _, memberStub := range members {
			dispatchDepFunc(rt, memberStub)
			checkComplete(memberStub)
		}
	}
}
