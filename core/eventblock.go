package core

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// EventStatus enumerates the lifecycle states of an EventBlock, per
// spec.md §3.
type EventStatus int

const (
	StatusScheduled EventStatus = iota
	StatusActive
	StatusCanceled
	StatusCanceledRandom
	StatusSuperseded
	StatusAborted
	StatusCompleted
	StatusActiveWait
	StatusScheduleSuperseded
)

// DERControlStatus values mirror DERControl.currentStatus as carried on
// the wire, per spec.md §4.5's second Activation rule.
const (
	DERControlStatusScheduled      uint8 = 1
	DERControlStatusActive         uint8 = 2
	DERControlStatusCanceled       uint8 = 3
	DERControlStatusCanceledRandom uint8 = 4
)

// EventBlock is a per-device scheduled instance of a server event, per
// spec.md §3: a back-pointer to the owning stub, the primacy it
// inherited from its containing program, its effective (randomized)
// window, and a status drawn from EventStatus.
type EventBlock struct {
	Stub    *Stub
	Program *Object

	Status  EventStatus
	Primacy uint8

	CreationTime int64
	MRID         uuid.UUID

	Start time.Time
	End   time.Time

	// DERStatus is a type-specific bitmask the DER control function set
	// attaches (e.g. which setpoints are currently enforced).
	DERStatus uint32

	// ServerStatus is the last-read DERControl.currentStatus off the wire
	// (DERControlStatusScheduled/DERControlStatusActive), driving the
	// ActiveWait deferred-activation rule in Schedule.activate/NotifyStatus.
	// HasServerStatus is false for a block with no DERControl behind it
	// (or one whose currentStatus hasn't been read yet), in which case
	// activate treats it as immediately active, same as before this field
	// existed.
	ServerStatus    uint8
	HasServerStatus bool

	// started records that EVENT_START has been emitted for this block.
	// A block that already ran and was then superseded never revives:
	// its original start lies in the past, so the superseded tail holds
	// no start point the device was ever scheduled to act on.
	started bool
}

// overlaps reports whether two blocks' [Start, End) intervals intersect,
// per spec.md §4.5's insertion rule.
func (b *EventBlock) overlaps(o *EventBlock) bool {
	return b.Start.Before(o.End) && o.Start.Before(b.End)
}

// supersedes applies the total tie-break order from spec.md §4.5:
// (primacy ascending, creationTime descending, mRID descending).
func (a *EventBlock) supersedes(b *EventBlock) bool {
	if a.Primacy != b.Primacy {
		return a.Primacy < b.Primacy
	}
	if a.CreationTime != b.CreationTime {
		return a.CreationTime > b.CreationTime
	}
	return bytes.Compare(a.MRID[:], b.MRID[:]) > 0
}
