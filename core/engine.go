package core

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Engine is the single process-wide binding of every component,
// per spec.md §9: one Engine value owns the schema, connection pool,
// retrieval graph, per-device schedules, discovery, metrics and the
// cooperative event loop (Component F). Only the goroutine running Run
// ever mutates Stub/Schedule/Object state; every other goroutine
// (connection readers/writers, DNS-SD browse) communicates exclusively
// over channels, per spec.md §5.
type Engine struct {
	Schema    *Schema
	Pool      *Pool
	Retrieval *Retrieval
	Discovery *Discovery
	Metrics   *Metrics
	Timers    *TimerQueue

	// LFDI/SFDI identify the local device, derived from its certificate
	// via SetDeviceCertificate (spec.md §6).
	LFDI LFDI
	SFDI uint64

	schedules map[string]*Schedule

	outcomes chan Outcome
	events   chan Event
}

// SetDeviceCertificate derives and stores the device's LFDI and SFDI
// from its X.509 certificate.
func (e *Engine) SetDeviceCertificate(cert *x509.Certificate) {
	e.LFDI = ComputeLFDI(cert)
	e.SFDI = ComputeSFDI(e.LFDI)
}

// NewEngine wires every component together. tlsConf configures TLS 1.2
// dialing for https resources (spec.md §6); idleTTL bounds pooled
// connection lifetime; reg receives the process's prometheus
// collectors (pass prometheus.NewRegistry() in tests).
func NewEngine(tlsConf *tls.Config, idleTTL time.Duration, reg prometheus.Registerer) *Engine {
	outcomes := make(chan Outcome, 64)
	events := make(chan Event, 256)

	e := &Engine{
		Metrics:   NewMetrics(reg),
		Timers:    NewTimerQueue(),
		schedules: make(map[string]*Schedule),
		outcomes:  outcomes,
		events:    events,
	}
	e.Schema = DefaultSchema()
	e.Pool = NewPool(tlsConf, idleTTL, outcomes)
	e.Pool.SetMetrics(e.Metrics)
	e.Pool.SetEmit(e.emit)
	e.Retrieval = NewRetrieval(e.Pool, e.Schema, e.emit, e.Metrics)
	e.Retrieval.SetEventHook(e.onDERControl)
	e.Discovery = NewDiscovery(e.emit)
	return e
}

// emit posts ev to the application-facing queue, dropping (with a log
// warning) if the consumer has fallen far enough behind to fill it —
// spec.md doesn't specify backpressure behavior for a client that never
// calls Poll, so an unbounded queue is avoided in favor of a bounded one
// with an explicit, observable drop.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		logrus.WithField("event", ev.Type.String()).Warn("core: event queue full, dropping")
	}
}

// Schedule returns (creating if needed) the per-device, per-function-set
// Schedule keyed by key — callers typically key by the EndDevice's href
// or sFDI, per spec.md §3.
func (e *Engine) Schedule(key string) *Schedule {
	if s, ok := e.schedules[key]; ok {
		return s
	}
	s := NewSchedule(e.emit, e.Metrics)
	e.schedules[key] = s
	e.emit(Event{Type: EventDeviceSchedule, Payload: s})
	return s
}

// onDERControl builds an EventBlock from a freshly retrieved DERControl
// stub and schedules it, per spec.md §4.5. Schedule selection by
// function-set/device is left to callers that need multiple schedules
// (e.g. a multi-EndDevice client): the default schedule keyed by the
// stub's connection key covers the common single-device case.
func (e *Engine) onDERControl(rt *Retrieval, stub *Stub) {
	obj := stub.Object
	if obj == nil {
		return
	}

	var serverStatus uint8
	var hasServerStatus bool
	if cs, ok := obj.Leaf("currentStatus"); ok {
		if v, ok := cs.(uint64); ok {
			serverStatus = uint8(v)
			hasServerStatus = true
		}
	}

	mrid, _ := stub.MRID()
	sched := e.Schedule(stub.Conn.key)

	start, ok1 := obj.Leaf("interval_start")
	dur, ok2 := obj.Leaf("interval_duration")
	if !ok1 || !ok2 {
		return
	}
	startSec, _ := start.(int64)
	durSec, _ := dur.(uint64)
	end := startSec + int64(durSec)
	if end <= startSec {
		logrus.WithField("href", stub.Href).Warn("core: EventInvalid, end <= start")
		return
	}
	effStart, effEnd := applyRandomization(obj, mrid, time.Unix(startSec, 0), time.Unix(end, 0))

	if block, known := sched.Blocks[mrid]; known {
		// A re-poll of an already-scheduled event. A cancellation tears
		// the block down; a changed interval or primacy re-runs the
		// insertion rule on every schedule referencing the event; a
		// status-only change just promotes an ActiveWait block, per
		// spec.md §4.5's "later status-change notification".
		now := time.Now()
		switch serverStatus {
		case DERControlStatusCanceled, DERControlStatusCanceledRandom:
			random := serverStatus == DERControlStatusCanceledRandom
			for _, sc := range stub.Schedules {
				sc.CancelEvent(mrid, random, now)
			}
			return
		}
		if !effStart.Equal(block.Start) || !effEnd.Equal(block.End) || stub.Primacy != block.Primacy {
			for _, sc := range stub.Schedules {
				sc.EventUpdate(mrid, effStart, effEnd, stub.Primacy, now)
			}
			return
		}
		sched.NotifyStatus(mrid, serverStatus)
		return
	}

	if time.Since(time.Unix(startSec, 0)) > 24*time.Hour {
		logrus.WithField("href", stub.Href).Warn("core: EventExpired, start too far in the past")
		return
	}

	var creationTime int64
	if ct, ok := obj.Leaf("creationTime"); ok {
		creationTime, _ = ct.(int64)
	}

	block := &EventBlock{
		Stub:            stub,
		Primacy:         stub.Primacy,
		CreationTime:    creationTime,
		MRID:            mrid,
		Start:           effStart,
		End:             effEnd,
		ServerStatus:    serverStatus,
		HasServerStatus: hasServerStatus,
	}
	sched.ScheduleEvent(block)
	stub.addSchedule(sched)
}

// applyRandomization shifts start/end by randomizeStart/randomizeDuration
// seconds, seeded deterministically from the event's mRID so repeated
// parses of the same event yield identical effective times, per
// spec.md §4.5. A package-local *rand.Rand is used rather than the
// shared math/rand global source, which would make the sequence depend
// on call order across unrelated events.
func applyRandomization(obj *Object, mrid uuidType, start, end time.Time) (time.Time, time.Time) {
	var seed int64
	if b := mrid[:]; len(b) >= 8 {
		seed = int64(binary.BigEndian.Uint64(b[:8]))
	}
	r := rand.New(rand.NewSource(seed))

	if rs, ok := obj.Leaf("randomizeStart"); ok {
		if v, ok := rs.(int64); ok && v != 0 {
			offset := r.Int63n(2*abs64(v)+1) - abs64(v)
			start = start.Add(time.Duration(offset) * time.Second)
		}
	}
	if rd, ok := obj.Leaf("randomizeDuration"); ok {
		if v, ok := rd.(int64); ok && v != 0 {
			offset := r.Int63n(2*abs64(v)+1) - abs64(v)
			end = end.Add(time.Duration(offset) * time.Second)
		}
	}
	return start, end
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// Run is the cooperative event loop, Component F. It is the single
// goroutine permitted to touch Stub/Schedule/Object state. Each
// iteration computes the wait until the earliest pending timer, blocks
// with that timeout, then drains whichever of (outcomes, timers) became
// ready — the Go-channel equivalent of spec.md §5's "compute wait until
// earliest event, block on readiness, drain timer queue and sockets".
func (e *Engine) Run(ctx context.Context) {
	for {
		wait := e.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case o := <-e.outcomes:
			timer.Stop()
			e.Retrieval.HandleOutcome(o)
		case now := <-timer.C:
			e.Timers.Drain(now)
			e.Retrieval.PollDue(now)
			for _, sch := range e.schedules {
				sch.UpdateSchedule(now)
			}
		}
	}
}

// nextWait computes how long Run should block before its next forced
// tick, per spec.md §5.
func (e *Engine) nextWait() time.Duration {
	now := time.Now()
	earliest := now.Add(time.Second)
	if next, ok := e.Timers.Next(); ok && next.Before(earliest) {
		earliest = next
	}
	for _, sch := range e.schedules {
		if !sch.Next.IsZero() && sch.Next.Before(earliest) {
			earliest = sch.Next
		}
	}
	if earliest.Before(now) {
		return 0
	}
	return earliest.Sub(now)
}

// Poll returns the next application-facing event, per spec.md §5's
// "client poll exposes one event at a time". It blocks until an event is
// available or ctx is done.
func (e *Engine) Poll(ctx context.Context) (Event, bool) {
	select {
	case ev := <-e.events:
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close tears down the connection pool.
func (e *Engine) Close() { e.Pool.Close() }

// uuidType aliases [16]byte, the array type uuid.UUID is defined over, to
// keep this file's imports minimal where only byte-slicing is needed.
type uuidType = [16]byte
