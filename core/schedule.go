package core

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Schedule is Component E: the per-device, per-function-set three-queue
// state machine from spec.md §3/§4.5. Grounded on the teacher's
// event_management.go in shape (a per-entity queue of timed state
// transitions processed by the loop) generalized from ledger epoch
// bookkeeping to DER event primacy/overlap/supersede rules.
type Schedule struct {
	Blocks map[uuid.UUID]*EventBlock

	Scheduled []*EventBlock // sorted by Start
	Active    []*EventBlock // sorted by End
	Superseded []*EventBlock // sorted by Start

	Next time.Time

	emit    func(Event)
	metrics *Metrics
}

// NewSchedule creates an empty schedule that reports transitions via emit.
func NewSchedule(emit func(Event), m *Metrics) *Schedule {
	return &Schedule{Blocks: make(map[uuid.UUID]*EventBlock), emit: emit, metrics: m}
}

// ScheduleEvent is spec.md §4.5's schedule_event: insert b, resolving any
// overlap against scheduled ∪ active by the primacy/creationTime/mRID
// total order.
func (s *Schedule) ScheduleEvent(b *EventBlock) {
	s.Blocks[b.MRID] = b
	loses := false
	for _, existing := range s.overlapCandidates() {
		if !b.overlaps(existing) {
			continue
		}
		if b.supersedes(existing) {
			s.superseded(existing)
		} else if existing.supersedes(b) {
			loses = true
		}
	}
	if loses {
		b.Status = StatusScheduleSuperseded
		s.insertSorted(&s.Superseded, b, byStart)
		s.notifyUpdate()
		return
	}
	b.Status = StatusScheduled
	s.insertSorted(&s.Scheduled, b, byStart)
	s.recomputeNext()
	s.notifyUpdate()
}

// overlapCandidates returns every currently scheduled or active block.
func (s *Schedule) overlapCandidates() []*EventBlock {
	out := make([]*EventBlock, 0, len(s.Scheduled)+len(s.Active))
	out = append(out, s.Scheduled...)
	out = append(out, s.Active...)
	return out
}

// superseded demotes an existing block that lost to a newly inserted one.
func (s *Schedule) superseded(b *EventBlock) {
	wasActive := b.Status == StatusActive
	b.Status = StatusSuperseded
	s.removeFrom(&s.Scheduled, b)
	s.removeFrom(&s.Active, b)
	s.insertSorted(&s.Superseded, b, byStart)
	if wasActive {
		s.postEventEnd(b)
	}
}

// UpdateSchedule is spec.md §4.5's update_schedule, invoked by the loop
// when s.Next elapses: promote due scheduled blocks to active, end
// expired active blocks, and attempt revival from the superseded queue.
func (s *Schedule) UpdateSchedule(now time.Time) {
	for len(s.Scheduled) > 0 && !s.Scheduled[0].Start.After(now) {
		b := s.Scheduled[0]
		s.Scheduled = s.Scheduled[1:]
		s.activate(b)
	}
	for len(s.Active) > 0 && !s.Active[0].End.After(now) {
		b := s.Active[0]
		s.Active = s.Active[1:]
		b.Status = StatusCompleted
		s.postEventEnd(b)
		s.revive(now)
	}
	s.recomputeNext()
	s.notifyUpdate()
}

// activate promotes a due scheduled block, re-checking it against the
// current active set (new information may have arrived since insertion).
// spec.md §4.5's second Activation rule: a block whose server-reported
// currentStatus already confirms Active gets EVENT_START immediately; one
// still only Scheduled server-side goes to ActiveWait instead, and
// EVENT_START is deferred to NotifyStatus's later status-change
// notification.
func (s *Schedule) activate(b *EventBlock) {
	for _, existing := range append([]*EventBlock(nil), s.Active...) {
		if !b.overlaps(existing) {
			continue
		}
		if b.supersedes(existing) {
			s.superseded(existing)
		} else if existing.supersedes(b) {
			b.Status = StatusScheduleSuperseded
			s.insertSorted(&s.Superseded, b, byStart)
			return
		}
	}
	if b.HasServerStatus && b.ServerStatus != DERControlStatusActive {
		b.Status = StatusActiveWait
		s.insertSorted(&s.Active, b, byEnd)
		return
	}
	b.Status = StatusActive
	s.insertSorted(&s.Active, b, byEnd)
	s.postEventStart(b)
}

// NotifyStatus folds a later currentStatus reading for an already-queued
// event into its EventBlock. A block parked in ActiveWait whose status
// now reads Active fires the EVENT_START that activate deferred.
func (s *Schedule) NotifyStatus(mrid uuid.UUID, serverStatus uint8) {
	b, ok := s.Blocks[mrid]
	if !ok {
		return
	}
	b.ServerStatus = serverStatus
	b.HasServerStatus = true
	if b.Status == StatusActiveWait && serverStatus == DERControlStatusActive {
		s.postEventStart(b)
		s.notifyUpdate()
	}
}

// CancelEvent handles a server-side cancellation (currentStatus Cancelled
// or CancelledWithRandomization): the block leaves every queue, emits
// EVENT_END if it was running, and a superseded block may take its place.
func (s *Schedule) CancelEvent(mrid uuid.UUID, random bool, now time.Time) {
	b, ok := s.Blocks[mrid]
	if !ok {
		return
	}
	wasRunning := b.Status == StatusActive || b.Status == StatusActiveWait
	s.removeFrom(&s.Scheduled, b)
	s.removeFrom(&s.Active, b)
	s.removeFrom(&s.Superseded, b)
	delete(s.Blocks, mrid)
	if random {
		b.Status = StatusCanceledRandom
	} else {
		b.Status = StatusCanceled
	}
	if wasRunning {
		s.postEventEnd(b)
	}
	s.revive(now)
	s.recomputeNext()
	s.notifyUpdate()
}

// EventUpdate is spec.md §4.5's event_update: the server republished the
// event with a different interval or primacy, so the block is pulled out
// of its queues and re-run through the insertion rule with the new
// values. An active block whose new window still contains now keeps
// running without a second EVENT_START; one moved out from under now
// ends first.
func (s *Schedule) EventUpdate(mrid uuid.UUID, start, end time.Time, primacy uint8, now time.Time) {
	b, ok := s.Blocks[mrid]
	if !ok {
		return
	}
	wasActive := b.Status == StatusActive
	s.removeFrom(&s.Scheduled, b)
	s.removeFrom(&s.Active, b)
	s.removeFrom(&s.Superseded, b)
	b.Start, b.End, b.Primacy = start, end, primacy

	switch {
	case !end.After(now):
		if wasActive {
			s.postEventEnd(b)
		}
		b.Status = StatusCompleted
		s.revive(now)
		s.recomputeNext()
		s.notifyUpdate()
	case wasActive && !start.After(now):
		// Still running under the new window; re-check the overlap rule
		// against the rest of the active set without replaying the start.
		for _, existing := range append([]*EventBlock(nil), s.Active...) {
			if !b.overlaps(existing) {
				continue
			}
			if b.supersedes(existing) {
				s.superseded(existing)
			} else if existing.supersedes(b) {
				b.Status = StatusSuperseded
				s.insertSorted(&s.Superseded, b, byStart)
				s.postEventEnd(b)
				s.recomputeNext()
				s.notifyUpdate()
				return
			}
		}
		b.Status = StatusActive
		s.insertSorted(&s.Active, b, byEnd)
		s.recomputeNext()
		s.notifyUpdate()
	default:
		if wasActive {
			s.postEventEnd(b)
		}
		s.ScheduleEvent(b)
		s.revive(now)
	}
}

func (s *Schedule) notifyUpdate() {
	if s.emit != nil {
		s.emit(Event{Type: EventScheduleUpdate, Payload: s})
	}
}

// revive scans the superseded queue for the highest-primacy block whose
// interval still contains now or lies in the future and that nothing in
// the active set still supersedes, per spec.md §4.5. Blocks that already
// emitted EVENT_START before losing their window are excluded: a run
// event does not restart mid-tail.
func (s *Schedule) revive(now time.Time) {
	var best *EventBlock
	var bestIdx int
	for i, cand := range s.Superseded {
		if cand.started {
			continue
		}
		if cand.End.Before(now) {
			continue
		}
		blocked := false
		for _, a := range s.Active {
			if a.overlaps(cand) && a.supersedes(cand) {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		if best == nil || cand.supersedes(best) {
			best, bestIdx = cand, i
		}
	}
	if best == nil {
		return
	}
	s.Superseded = append(s.Superseded[:bestIdx], s.Superseded[bestIdx+1:]...)
	if best.Start.After(now) {
		best.Status = StatusScheduled
		s.insertSorted(&s.Scheduled, best, byStart)
	} else {
		s.activate(best)
	}
}

func (s *Schedule) postEventStart(b *EventBlock) {
	b.Status = StatusActive
	b.started = true
	if s.emit != nil {
		s.emit(Event{Type: EventEventStart, Payload: b})
	}
	if s.metrics != nil {
		s.metrics.EventsStarted.Inc()
	}
}

func (s *Schedule) postEventEnd(b *EventBlock) {
	if s.emit != nil {
		s.emit(Event{Type: EventEventEnd, Payload: b})
	}
	if s.metrics != nil {
		s.metrics.EventsEnded.Inc()
	}
}

type ordering func(a, b *EventBlock) bool

func byStart(a, b *EventBlock) bool { return a.Start.Before(b.Start) }
func byEnd(a, b *EventBlock) bool   { return a.End.Before(b.End) }

func (s *Schedule) insertSorted(queue *[]*EventBlock, b *EventBlock, less ordering) {
	q := *queue
	i := sort.Search(len(q), func(i int) bool { return less(b, q[i]) })
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = b
	*queue = q
}

func (s *Schedule) removeFrom(queue *[]*EventBlock, b *EventBlock) {
	q := *queue
	for i, e := range q {
		if e == b {
			*queue = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// recomputeNext sets Next to the earliest upcoming transition: the next
// scheduled start or the next active end, whichever comes first.
func (s *Schedule) recomputeNext() {
	var next time.Time
	if len(s.Scheduled) > 0 {
		next = s.Scheduled[0].Start
	}
	if len(s.Active) > 0 {
		if next.IsZero() || s.Active[0].End.Before(next) {
			next = s.Active[0].End
		}
	}
	s.Next = next
}
