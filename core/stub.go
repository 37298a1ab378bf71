package core

import (
	"time"

	"github.com/google/uuid"
)

// StubStatus mirrors spec.md §3's HTTP status field: 0 means never
// fetched, -1 means an update is pending (GET queued but no response
// yet), -2 means the last request failed at the transport level with no
// response, any other value is the last HTTP response code.
type StubStatus int

const (
	StatusNeverFetched StubStatus = 0
	StatusUpdatePending StubStatus = -1
)

// CompletionFunc is invoked exactly once, the moment a Stub's flags reach
// zero, per spec.md §4.4's completion-propagation rule.
type CompletionFunc func(s *Stub)

// Stub is the retrieval unit: a local placeholder for one server resource,
// per spec.md §3/§4.4. Directly grounded on the teacher's opcode table
// idiom (one flat registry, edges expressed as bit positions) generalized
// from a static opcode catalogue to a live, mutable per-connection object
// graph.
type Stub struct {
	Conn *SEConnection
	Type TypeID
	Href string

	Object *Object // nil until first successful parse

	Status   StubStatus
	PollNext time.Time
	PollRate time.Duration
	Complete bool
	Subscribed bool

	// Flag is this stub's bit position within each parent's Flags
	// requirement checklist (spec.md §3: "this stub's position in its
	// parent's requirement bitmap"). It is meaningless until the stub is
	// made a requirement of some parent via newDep.
	Flag uint32

	// Flags is this stub's own outstanding-requirement checklist: one bit
	// (by convention, the child's Flag value) per requirement not yet
	// complete. complete ⇔ Flags == 0.
	Flags uint32

	// Offset/All track list-paging progress (spec.md §3): All is the
	// server-declared total item count (the list root's "all" attribute),
	// Offset is how many items have been accumulated into Object so far.
	// PageSize is the page length requested on the first GET and reused
	// on every continuation GET for the same stub.
	Offset   int
	All      int
	PageSize int

	// paging is set while a continuation GET (s > 0) is outstanding, so
	// the next response page appends onto Object instead of replacing it.
	paging bool

	// Moved is the forward pointer installed on HTTP 301 (spec.md §4.4).
	Moved *Stub

	// List is the previous Reqs snapshot, staged during an update so old
	// and new requirement sets can be diffed (spec.md §4.4 step 1, §6
	// "stage new edges, then reconcile via set difference").
	List []*Stub

	Deps []*Stub // stubs that require this one
	Reqs []*Stub // stubs this one requires

	OnComplete CompletionFunc

	// Schedules lists every Schedule referring to this stub when it
	// backs an event-list resource (spec.md §3).
	Schedules []*Schedule

	// Primacy is threaded down from the containing DERProgram to its
	// DERControlList and onward to each DERControl member stub, per
	// spec.md §4.5: "primacy is inherited from the containing program".
	Primacy uint8

	mrid    uuid.UUID
	hasMRID bool
}

// NewStub allocates a stub with status "never fetched", per spec.md §4.4's
// get_resource contract.
func NewStub(conn *SEConnection, t TypeID, href string) *Stub {
	return &Stub{Conn: conn, Type: t, Href: href, Status: StatusNeverFetched}
}

// SetObject installs a freshly parsed object, freeing any previous one in
// place (spec.md §3's "the stub frees them on replacement").
func (s *Stub) SetObject(obj *Object) {
	if s.Object != nil {
		s.Object.Free()
	}
	s.Object = obj
	if obj != nil && obj.HasMRID {
		s.mrid, s.hasMRID = obj.MRID, true
	}
}

// MRID returns the object's mRID, if any.
func (s *Stub) MRID() (uuid.UUID, bool) { return s.mrid, s.hasMRID }

// newDep wires parent -> child as a requirement edge: parent depends on
// child, child is required by parent. Idempotent for a repeated
// (parent, child) pair within one generation, and re-adds the forward
// edge on an update even when the child's back-reference survived the
// staging step (stageReconcile clears parent.Reqs but not child.Deps).
func newDep(parent, child *Stub, flag uint32) {
	for _, r := range parent.Reqs {
		if r == child {
			return
		}
	}
	parent.Reqs = append(parent.Reqs, child)
	parent.Flags |= flag
	child.Flag = flag
	for _, d := range child.Deps {
		if d == parent {
			return
		}
	}
	child.Deps = append(child.Deps, parent)
}

// clearRequirement clears child's bit in parent's Flags and re-evaluates
// the parent's completion. The bit may legitimately be clear already:
// sibling requirements can share a flag bit (list members all carry the
// list element's position), so completion is never decided by the bitmap
// alone — checkComplete additionally demands every Req carry complete.
func clearRequirement(parent *Stub, childFlag uint32) {
	parent.Flags &^= childFlag
	checkComplete(parent)
}

// checkComplete marks s complete and fires its callback (once) when its
// requirement checklist is empty and every requirement it holds has
// itself completed — spec.md §4.4's "reqs each carrying complete". It
// then propagates into s's own dependents.
func checkComplete(s *Stub) {
	if s.Complete || s.Flags != 0 {
		return
	}
	for _, r := range s.Reqs {
		if !r.Complete {
			return
		}
	}
	s.Complete = true
	if s.OnComplete != nil {
		s.OnComplete(s)
	}
	for _, parent := range s.Deps {
		clearRequirement(parent, s.Flag)
	}
}

// removeRequirement drops child from parent.Reqs entirely (used when an
// update's old/new requirement diff finds a requirement that no longer
// exists, spec.md §4.4 step 3). If child thereby loses its last
// dependent, the caller should delete it from the connection's stub
// table.
func removeRequirement(parent, child *Stub) {
	out := parent.Reqs[:0]
	for _, r := range parent.Reqs {
		if r != child {
			out = append(out, r)
		}
	}
	parent.Reqs = out
	parent.Flags &^= child.Flag

	outDeps := child.Deps[:0]
	for _, d := range child.Deps {
		if d != parent {
			outDeps = append(outDeps, d)
		}
	}
	child.Deps = outDeps
}

// orphaned reports whether child has no remaining dependents, per
// spec.md §4.4's "if their dep-count falls to zero they are deleted".
func (s *Stub) orphaned() bool { return len(s.Deps) == 0 }

// addSchedule records a Schedule referring to this event stub so later
// event updates can locate every stale entry (spec.md §4.5's
// stub.schedules).
func (s *Stub) addSchedule(sched *Schedule) {
	for _, existing := range s.Schedules {
		if existing == sched {
			return
		}
	}
	s.Schedules = append(s.Schedules, sched)
}
