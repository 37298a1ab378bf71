package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func mkBlock(primacy uint8, start, end time.Time) *EventBlock {
	return &EventBlock{
		MRID:    uuid.New(),
		Primacy: primacy,
		Start:   start,
		End:     end,
	}
}

func TestScheduleEventNoOverlapBothScheduled(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var gotEvents []EventType
	s := NewSchedule(func(e Event) { gotEvents = append(gotEvents, e.Type) }, nil)

	a := mkBlock(1, base, base.Add(time.Hour))
	b := mkBlock(1, base.Add(2*time.Hour), base.Add(3*time.Hour))
	s.ScheduleEvent(a)
	s.ScheduleEvent(b)

	if len(s.Scheduled) != 2 {
		t.Fatalf("expected both blocks scheduled, got %d", len(s.Scheduled))
	}
	if s.Scheduled[0] != a {
		t.Fatal("expected earlier block first in the scheduled queue")
	}
}

// TestSupersedeByPrimacy reproduces spec.md §8 scenario 3: a higher
// primacy (numerically lower) event arriving mid-window supersedes the
// weaker active block, and the superseding block itself ends before
// the original would have.
func TestSupersedeByPrimacy(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var gotEvents []EventType
	s := NewSchedule(func(e Event) { gotEvents = append(gotEvents, e.Type) }, nil)

	weak := mkBlock(1, base, base.Add(time.Hour)) // [10:00, 11:00)
	s.ScheduleEvent(weak)
	s.UpdateSchedule(base) // activate it
	if weak.Status != StatusActive {
		t.Fatalf("expected weak block active, got %v", weak.Status)
	}

	strong := mkBlock(0, base.Add(30*time.Minute), base.Add(45*time.Minute)) // [10:30, 10:45)
	s.ScheduleEvent(strong)

	if weak.Status != StatusSuperseded {
		t.Fatalf("expected weak block superseded, got %v", weak.Status)
	}
	if strong.Status != StatusScheduled {
		t.Fatalf("expected strong block scheduled (not yet due), got %v", strong.Status)
	}

	s.UpdateSchedule(base.Add(30 * time.Minute))
	if strong.Status != StatusActive {
		t.Fatalf("expected strong block active at 10:30, got %v", strong.Status)
	}

	s.UpdateSchedule(base.Add(45 * time.Minute))
	if strong.Status != StatusCompleted {
		t.Fatalf("expected strong block completed at 10:45, got %v", strong.Status)
	}

	foundEnd, foundStart := false, false
	for _, e := range gotEvents {
		if e == EventEventEnd {
			foundEnd = true
		}
		if e == EventEventStart {
			foundStart = true
		}
	}
	if !foundEnd || !foundStart {
		t.Fatalf("expected both EVENT_START and EVENT_END emitted, got %v", gotEvents)
	}
}

func TestSupersedeAntisymmetric(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := mkBlock(0, base, base.Add(time.Hour))
	b := mkBlock(1, base, base.Add(time.Hour))
	if !a.supersedes(b) {
		t.Fatal("lower primacy must supersede higher primacy")
	}
	if b.supersedes(a) {
		t.Fatal("supersede must be antisymmetric")
	}
}

func TestSupersedeTieBreakByCreationTimeThenMRID(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := mkBlock(1, base, base.Add(time.Hour))
	older.CreationTime = 100
	newer := mkBlock(1, base, base.Add(time.Hour))
	newer.CreationTime = 200

	if !newer.supersedes(older) {
		t.Fatal("later creationTime should win on a primacy tie")
	}
	if older.supersedes(newer) {
		t.Fatal("supersede must be antisymmetric on a primacy tie")
	}

	sameTime1 := mkBlock(1, base, base.Add(time.Hour))
	sameTime2 := mkBlock(1, base, base.Add(time.Hour))
	sameTime1.CreationTime, sameTime2.CreationTime = 50, 50
	// Total order on a further tie: greater mRID wins, consistently.
	winner := sameTime1
	loser := sameTime2
	if winner.MRID[0] < loser.MRID[0] {
		winner, loser = loser, winner
	}
	if winner.supersedes(loser) == loser.supersedes(winner) {
		t.Fatal("exactly one of the pair must win the mRID tie-break")
	}
}

func TestRevivalOfNeverStartedBlockAfterSupersederCompletes(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewSchedule(func(Event) {}, nil)

	strong := mkBlock(0, base, base.Add(45*time.Minute)) // [10:00, 10:45)
	s.ScheduleEvent(strong)
	s.UpdateSchedule(base)
	if strong.Status != StatusActive {
		t.Fatalf("expected strong active, got %v", strong.Status)
	}

	// weak arrives overlapping the running strong block and loses at
	// insertion, before ever starting.
	weak := mkBlock(1, base.Add(30*time.Minute), base.Add(2*time.Hour)) // [10:30, 12:00)
	s.ScheduleEvent(weak)
	if weak.Status != StatusScheduleSuperseded {
		t.Fatalf("expected weak schedule-superseded, got %v", weak.Status)
	}

	// strong completes at 10:45; weak never started and its window
	// contains now, so it revives straight into active.
	s.UpdateSchedule(base.Add(45 * time.Minute))
	if weak.Status != StatusActive {
		t.Fatalf("expected weak revived to active, got %v", weak.Status)
	}
}

// TestStartedBlockIsNotRevived is spec.md §8 scenario 3's tail condition:
// a block that already emitted EVENT_START and was then superseded stays
// superseded even though its window extends past the superseder's end.
func TestStartedBlockIsNotRevived(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var gotEvents []EventType
	s := NewSchedule(func(e Event) { gotEvents = append(gotEvents, e.Type) }, nil)

	weak := mkBlock(1, base, base.Add(time.Hour)) // [10:00, 11:00)
	s.ScheduleEvent(weak)
	s.UpdateSchedule(base)
	if weak.Status != StatusActive {
		t.Fatalf("expected weak active, got %v", weak.Status)
	}

	strong := mkBlock(0, base.Add(30*time.Minute), base.Add(45*time.Minute)) // [10:30, 10:45)
	s.ScheduleEvent(strong)
	if weak.Status != StatusSuperseded {
		t.Fatalf("expected weak superseded, got %v", weak.Status)
	}

	s.UpdateSchedule(base.Add(30 * time.Minute))
	s.UpdateSchedule(base.Add(45 * time.Minute))
	if strong.Status != StatusCompleted {
		t.Fatalf("expected strong completed at 10:45, got %v", strong.Status)
	}
	if weak.Status != StatusSuperseded {
		t.Fatalf("expected weak to stay superseded (already ran once), got %v", weak.Status)
	}
	if len(s.Active) != 0 {
		t.Fatalf("expected no active blocks after 10:45, got %d", len(s.Active))
	}
}

func TestCancelEventRemovesBlockAndRevives(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	var gotEvents []EventType
	s := NewSchedule(func(e Event) { gotEvents = append(gotEvents, e.Type) }, nil)

	strong := mkBlock(0, base, base.Add(time.Hour))
	s.ScheduleEvent(strong)
	s.UpdateSchedule(base)

	weak := mkBlock(1, base.Add(10*time.Minute), base.Add(2*time.Hour))
	s.ScheduleEvent(weak)
	if weak.Status != StatusScheduleSuperseded {
		t.Fatalf("expected weak schedule-superseded, got %v", weak.Status)
	}

	s.CancelEvent(strong.MRID, false, base.Add(30*time.Minute))
	if strong.Status != StatusCanceled {
		t.Fatalf("expected strong canceled, got %v", strong.Status)
	}
	if _, tracked := s.Blocks[strong.MRID]; tracked {
		t.Fatal("expected canceled block removed from the mRID table")
	}
	if weak.Status != StatusActive {
		t.Fatalf("expected weak revived after cancellation, got %v", weak.Status)
	}

	ends := 0
	for _, e := range gotEvents {
		if e == EventEventEnd {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("expected exactly one EVENT_END (for the canceled active block), got %d", ends)
	}
}

func TestEventUpdateMovesScheduledBlock(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewSchedule(func(Event) {}, nil)

	b := mkBlock(1, base.Add(time.Hour), base.Add(2*time.Hour))
	s.ScheduleEvent(b)

	s.EventUpdate(b.MRID, base.Add(3*time.Hour), base.Add(4*time.Hour), 0, base)
	if b.Status != StatusScheduled {
		t.Fatalf("expected block still scheduled after the move, got %v", b.Status)
	}
	if !b.Start.Equal(base.Add(3*time.Hour)) || b.Primacy != 0 {
		t.Fatalf("expected new interval and primacy applied, got start=%v primacy=%d", b.Start, b.Primacy)
	}
	if len(s.Scheduled) != 1 || s.Scheduled[0] != b {
		t.Fatalf("expected the block re-queued in scheduled, got %d entries", len(s.Scheduled))
	}
}

func TestScheduleInvariantActiveWindowBrackets(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s := NewSchedule(func(Event) {}, nil)
	b := mkBlock(1, base, base.Add(time.Hour))
	s.ScheduleEvent(b)
	s.UpdateSchedule(base.Add(30 * time.Minute))

	now := base.Add(30 * time.Minute)
	for _, active := range s.Active {
		if active.Start.After(now) || !active.End.After(now) {
			t.Fatalf("active block violates start<=now<end: start=%v end=%v now=%v", active.Start, active.End, now)
		}
	}
	for _, scheduled := range s.Scheduled {
		if !scheduled.Start.After(now) {
			t.Fatalf("scheduled block violates start>now: start=%v now=%v", scheduled.Start, now)
		}
	}
}
