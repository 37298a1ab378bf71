package core

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the process's prometheus collectors for the retrieval
// engine and scheduler. Grounded on the teacher's go.mod dependency on
// github.com/prometheus/client_golang (present but unwired in the
// retrieval pack's networking code) — wired here so the ambient stack
// actually exercises it, per SPEC_FULL.md's Metrics entry.
type Metrics struct {
	ResourcesRetrieved prometheus.Counter
	RetrieveFailures   prometheus.Counter
	EventsStarted       prometheus.Counter
	EventsEnded         prometheus.Counter
	StubsComplete       prometheus.Counter
	ConnectionResets     prometheus.Counter
}

// NewMetrics registers a fresh set of collectors on reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across test binaries.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResourcesRetrieved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "se2030",
			Name:      "resources_retrieved_total",
			Help:      "Resources successfully parsed from a 2xx response body.",
		}),
		RetrieveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "se2030",
			Name:      "retrieve_failures_total",
			Help:      "Transport errors or non-2xx responses other than 301/404/410.",
		}),
		EventsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "se2030",
			Name:      "der_events_started_total",
			Help:      "DERControl events that transitioned into the active window.",
		}),
		EventsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "se2030",
			Name:      "der_events_ended_total",
			Help:      "DERControl events that completed their active window.",
		}),
		StubsComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "se2030",
			Name:      "stubs_completed_total",
			Help:      "Stubs whose requirement checklist reached zero.",
		}),
		ConnectionResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "se2030",
			Name:      "connection_resets_total",
			Help:      "Transport-level connection teardowns requiring requeue.",
		}),
	}
	reg.MustRegister(m.ResourcesRetrieved, m.RetrieveFailures, m.EventsStarted, m.EventsEnded, m.StubsComplete, m.ConnectionResets)
	return m
}
