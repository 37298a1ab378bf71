package core

import (
	"bytes"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Content types negotiated per spec.md §4.2: the Accept header advertises
// both and the response's Content-Type picks which codec decodes the
// body.
const (
	contentTypeXML = "application/sep+xml"
	contentTypeEXI = "application/sep-exi"
)

// decoder is the common incremental-parse interface XMLParser and
// EXIParser both satisfy, letting applyBody pick a codec by Content-Type
// without caring which one it got.
type decoder interface {
	Feed([]byte)
	Step() ParseStatus
	Object() (*Object, TypeID)
	Err() error
}

// Retrieval is Component D: the resource-graph walker described in
// spec.md §4.4. It owns, per connection, a stub table keyed by href (the
// "(host+path)" idempotency key spec.md §4.4 specifies for get_resource),
// and drives GET/POST/PUT/DELETE over the Pool's connections following
// the contract in spec.md §4.2.
type Retrieval struct {
	schema *Schema
	pool   *Pool
	emit   func(Event)

	mu      sync.Mutex
	stubs   map[*SEConnection]map[string]*Stub
	byReqID map[int64]*Stub
	nextID  int64

	metrics *Metrics

	// defaultPollRate applies when a resource declares no pollRate of its
	// own (pkg/config's Retrieval.DefaultPollRateSeconds). Zero disables
	// default polling.
	defaultPollRate time.Duration

	// listPageSize is the ?l= count used for list GETs whose caller did
	// not request a specific page length.
	listPageSize int

	// notify, when set, marks subscribable resources Subscribed and
	// suppresses their poll scheduling: the listener takes over change
	// delivery. Unset, every resource falls back to polling.
	notify func(*Stub)

	// eventHook is invoked for every retrieved DERControl stub, letting
	// the engine build an EventBlock and feed it to the owning Schedule
	// without Retrieval needing to know about Component E at all.
	eventHook func(rt *Retrieval, stub *Stub)
}

// SetEventHook installs the callback run for every retrieved DERControl.
func (rt *Retrieval) SetEventHook(fn func(rt *Retrieval, stub *Stub)) { rt.eventHook = fn }

// SetDefaultPollRate installs the poll cadence used for resources that
// declare none themselves.
func (rt *Retrieval) SetDefaultPollRate(d time.Duration) { rt.defaultPollRate = d }

// SetListPageSize installs the default ?l= page length for list GETs.
func (rt *Retrieval) SetListPageSize(n int) { rt.listPageSize = n }

// SetNotificationListener installs the subscription sink. While one is
// set, resources whose subscribable flag is on are registered with it
// instead of being polled.
func (rt *Retrieval) SetNotificationListener(fn func(*Stub)) { rt.notify = fn }

// post emits ev unless no sink is wired (unit tests construct Retrieval
// without one).
func (rt *Retrieval) post(ev Event) {
	if rt.emit != nil {
		rt.emit(ev)
	}
}

// NewRetrieval wires a Retrieval engine to its connection pool, schema
// and the loop's event sink.
func NewRetrieval(pool *Pool, schema *Schema, emit func(Event), m *Metrics) *Retrieval {
	return &Retrieval{
		pool:    pool,
		schema:  schema,
		emit:    emit,
		stubs:   make(map[*SEConnection]map[string]*Stub),
		byReqID: make(map[int64]*Stub),
		metrics: m,
	}
}

// GetResource is spec.md §4.4's get_resource: idempotent per (conn,
// href). count, when positive, requests the first page via ?s=0&l=count.
func (rt *Retrieval) GetResource(conn *SEConnection, t TypeID, href string, count int) *Stub {
	stub, isNew := rt.getOrCreateLocal(conn, t, href)
	if isNew {
		if count <= 0 && rt.listPageSize > 0 {
			if _, isList := schemaListField(rt.schema, t); isList {
				count = rt.listPageSize
			}
		}
		stub.PageSize = count
		rt.queueGet(stub, 0, count)
	}
	return stub
}

// getOrCreateLocal returns the existing stub for (conn, href) or
// allocates one with status "never fetched", without queuing a GET —
// used both by GetResource and by listMemberDepFunc, which installs the
// object directly from an already-parsed parent body.
func (rt *Retrieval) getOrCreateLocal(conn *SEConnection, t TypeID, href string) (*Stub, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	table, ok := rt.stubs[conn]
	if !ok {
		table = make(map[string]*Stub)
		rt.stubs[conn] = table
	}
	if s, ok := table[href]; ok {
		return s, false
	}
	s := NewStub(conn, t, href)
	table[href] = s
	return s, true
}

func (rt *Retrieval) queueGet(stub *Stub, offset, count int) {
	path := requestPathFor(stub.Href, offset, count)
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		logrus.WithError(err).Warn("retrieval: build GET request failed")
		return
	}
	req.Header.Set("Accept", contentTypeXML+", "+contentTypeEXI)
	stub.Status = StatusUpdatePending
	stub.paging = offset > 0
	rt.send(stub, req)
}

// requestPathFor renders the request-line path for href, appending the
// s/l paging query only when a page is actually being addressed. Hrefs
// arriving off the wire are usually server-relative; both absolute and
// relative forms are handled.
func requestPathFor(href string, offset, count int) string {
	var u Uri
	if abs, err := ParseUri(href); err == nil {
		u = abs
	} else if rel, relErr := url.Parse(href); relErr == nil {
		u = Uri{Path: rel.Path, Query: rel.Query()}
	} else {
		return href
	}
	if offset > 0 || count > 0 {
		return u.RequestPath(u.WithOffset(offset, count))
	}
	return u.RequestPath(u.Query)
}

// Post issues an HTTP POST of body (spec.md §4.2's post(uri, body,
// type) primitive) against the stub's own href.
func (rt *Retrieval) Post(stub *Stub, body []byte, contentType string) {
	req, err := http.NewRequest(http.MethodPost, stub.Href, bytes.NewReader(body))
	if err != nil {
		logrus.WithError(err).Warn("retrieval: build POST request failed")
		return
	}
	req.Header.Set("Content-Type", contentType)
	rt.send(stub, req)
}

// Put issues an HTTP PUT.
func (rt *Retrieval) Put(stub *Stub, body []byte, contentType string) {
	req, err := http.NewRequest(http.MethodPut, stub.Href, bytes.NewReader(body))
	if err != nil {
		logrus.WithError(err).Warn("retrieval: build PUT request failed")
		return
	}
	req.Header.Set("Content-Type", contentType)
	rt.send(stub, req)
}

// Delete issues an HTTP DELETE.
func (rt *Retrieval) Delete(stub *Stub) {
	req, err := http.NewRequest(http.MethodDelete, stub.Href, nil)
	if err != nil {
		logrus.WithError(err).Warn("retrieval: build DELETE request failed")
		return
	}
	rt.send(stub, req)
}

func (rt *Retrieval) send(stub *Stub, req *http.Request) {
	if req.URL.Host == "" && req.Host == "" && stub.Conn != nil {
		// Relative request paths still need a Host header on the wire.
		req.Host = stub.Conn.hostport
	}
	if rt.pool != nil && stub.Conn != nil {
		// Keep the idle reaper honest: the connection is in use.
		rt.pool.Touch(stub.Conn.key)
	}
	id := atomic.AddInt64(&rt.nextID, 1)
	rt.mu.Lock()
	rt.byReqID[id] = stub
	rt.mu.Unlock()
	stub.Conn.Send(id, req)
}

// HandleOutcome processes one completed request/response cycle — the
// receive() half of spec.md §4.2's contract — dispatched by the event
// loop whenever a connection's Outcomes channel is ready.
func (rt *Retrieval) HandleOutcome(o Outcome) {
	rt.mu.Lock()
	stub, ok := rt.byReqID[o.ReqID]
	delete(rt.byReqID, o.ReqID)
	rt.mu.Unlock()
	if !ok {
		return
	}

	if o.Err != nil {
		stub.Status = -2
		rt.post(Event{Type: EventRetrieveFail, Payload: stub})
		if rt.metrics != nil {
			rt.metrics.RetrieveFailures.Inc()
		}
		if stub.PollRate > 0 {
			stub.PollNext = time.Now().Add(stub.PollRate)
		}
		return
	}

	code := o.Resp.StatusCode
	stub.Status = StubStatus(code)

	switch {
	case code == http.StatusMovedPermanently:
		loc := o.Resp.Header.Get("Location")
		moved := rt.GetResource(stub.Conn, stub.Type, loc, stub.PageSize)
		stub.Moved = moved
		rt.redirectDeps(stub, moved)
		return
	case code == http.StatusNotFound || code == http.StatusGone:
		rt.removeStub(stub)
		rt.post(Event{Type: EventResourceRemove, Payload: stub})
		return
	case code >= 400:
		rt.post(Event{Type: EventRetrieveFail, Payload: stub})
		if rt.metrics != nil {
			rt.metrics.RetrieveFailures.Inc()
		}
		if stub.PollRate > 0 {
			stub.PollNext = time.Now().Add(stub.PollRate)
		}
		return
	}

	rt.applyBody(stub, o.Resp, o.Body)
}

func (rt *Retrieval) applyBody(stub *Stub, resp *http.Response, body []byte) {
	parser := rt.newParser(stub.Type, resp.Header.Get("Content-Type"))
	parser.Feed(body)
	status := parser.Step()
	if status == StatusSuspended {
		// The response was fully read into memory by the connection
		// reader (readAllAndClose), so a suspend here means malformed
		// or truncated XML, not a need for more network bytes.
		logrus.WithField("href", stub.Href).Warn("retrieval: truncated response body")
		rt.post(Event{Type: EventRetrieveFail, Payload: stub})
		return
	}
	if status == StatusError {
		logrus.WithError(parser.Err()).WithField("href", stub.Href).Warn("retrieval: codec error")
		rt.post(Event{Type: EventRetrieveFail, Payload: stub})
		return
	}

	obj, _ := parser.Object()

	// List resources may arrive one page at a time (spec.md §4.4): a
	// continuation page folds its members into the object already
	// accumulating on stub; anything else (first page, singleton, or a
	// fresh re-poll of an already-retrieved list) replaces the object
	// outright. Only once a resource is fully accumulated does it enter
	// dependency resolution.
	field, isList := schemaListField(rt.schema, stub.Type)
	if isList && stub.paging && stub.Object != nil {
		stub.Object.Children[field.Name] = append(stub.Object.Children[field.Name], obj.Children[field.Name]...)
	} else {
		rt.stageReconcile(stub, obj)
	}

	if isList {
		total := 0
		if v, ok := obj.Leaf("all"); ok {
			if n, ok := v.(uint64); ok {
				total = int(n)
			}
		}
		stub.All = total
		stub.Offset = len(stub.Object.Children[field.Name])
		if stub.Offset < stub.All {
			rt.queueGet(stub, stub.Offset, stub.PageSize)
			return
		}
	}
	stub.paging = false

	rt.finishReconcile(stub)

	stub.PollRate = 0
	if v, ok := stub.Object.Leaf("pollRate"); ok {
		if secs, ok := v.(uint64); ok && secs > 0 {
			stub.PollRate = time.Duration(secs) * time.Second
		}
	} else if rt.defaultPollRate > 0 {
		stub.PollRate = rt.defaultPollRate
	}
	if rt.notify != nil && stub.Object.Subscribable {
		// A live notification listener replaces polling for this
		// resource; the server pushes changes instead.
		stub.Subscribed = true
		stub.PollNext = time.Time{}
		rt.notify(stub)
	} else if stub.PollRate > 0 {
		stub.PollNext = time.Now().Add(stub.PollRate)
	}

	rt.post(Event{Type: EventResourceUpdate, Payload: stub})
	if rt.metrics != nil {
		rt.metrics.ResourcesRetrieved.Inc()
	}
}

// newParser picks the codec the response actually negotiated: EXI when
// Content-Type says so, XML otherwise (including when the header is
// absent), per spec.md §4.2.
func (rt *Retrieval) newParser(t TypeID, contentType string) decoder {
	if strings.Contains(contentType, contentTypeEXI) {
		return NewEXIParser(rt.schema, t)
	}
	return NewXMLParser(rt.schema, t)
}

// schemaListField reports the single unbounded complex element a list
// resource type declares (e.g. DERControlList's DERControl element), if
// any.
func schemaListField(s *Schema, t TypeID) (Element, bool) {
	for _, e := range allElements(s, t) {
		if e.IsComplex() && e.Unbounded() {
			return e, true
		}
	}
	return Element{}, false
}

// stageReconcile installs obj on stub and stages its previous Reqs for
// the diff finishReconcile performs once the resource (all of its pages,
// for a list) has been fully accumulated — spec.md §4.4's update
// algorithm step 1.
func (rt *Retrieval) stageReconcile(stub *Stub, obj *Object) {
	stub.List = stub.Reqs
	stub.Reqs = nil
	stub.Flags = 0
	stub.Complete = false
	stub.SetObject(obj)
}

// finishReconcile runs the DepFunc against stub's now-complete object,
// then diffs the staged old requirement set against the new one,
// dropping and GC'ing anything no longer required — spec.md §4.4 steps
// 2-3.
func (rt *Retrieval) finishReconcile(stub *Stub) {
	dispatchDepFunc(rt, stub)

	newReqs := make(map[*Stub]bool, len(stub.Reqs))
	for _, r := range stub.Reqs {
		newReqs[r] = true
	}
	for _, old := range stub.List {
		if !newReqs[old] {
			removeRequirement(stub, old)
			if old.orphaned() {
				rt.deleteStubByRef(old)
			}
		}
	}
	stub.List = nil

	// Requirements that were already complete before this generation
	// (unchanged children retained across an update) never propagate a
	// fresh clear, so drop their bits here before the completion check.
	for _, r := range stub.Reqs {
		if r.Complete {
			stub.Flags &^= r.Flag
		}
	}

	checkComplete(stub)
	if stub.Complete && rt.metrics != nil {
		rt.metrics.StubsComplete.Inc()
	}
}

// redirectDeps reparents every dependent of old onto moved after a 301,
// so completion propagation continues through the new location instead
// of stalling forever on a stub nothing will ever re-fetch — spec.md
// §4.4's "dependents resolving through the old stub follow moved".
func (rt *Retrieval) redirectDeps(old, moved *Stub) {
	if old == moved {
		return
	}
	deps := append([]*Stub(nil), old.Deps...)
	for _, parent := range deps {
		flag := old.Flag
		removeRequirement(parent, old)
		newDep(parent, moved, flag)
		if moved.Complete {
			clearRequirement(parent, flag)
		}
	}
	if old.orphaned() {
		rt.deleteStubByRef(old)
	}
}

// removeStub tears every edge down — in both directions — before
// deleting it from its connection's table, per spec.md §3's "inter-stub
// edges are weak back-references scrubbed on stub deletion by walking
// deps of each req". Copies are iterated because removeRequirement
// rewrites the underlying slices.
func (rt *Retrieval) removeStub(stub *Stub) {
	for _, req := range append([]*Stub(nil), stub.Reqs...) {
		removeRequirement(stub, req)
		if req.orphaned() {
			rt.deleteStubByRef(req)
		}
	}
	for _, parent := range append([]*Stub(nil), stub.Deps...) {
		removeRequirement(parent, stub)
	}
	rt.deleteStubByRef(stub)
}

func (rt *Retrieval) deleteStubByRef(stub *Stub) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if table, ok := rt.stubs[stub.Conn]; ok {
		delete(table, stub.Href)
	}
}

// PollDue re-GETs every stub whose PollNext has arrived. Called by the
// event loop's timer queue tick (spec.md §4.4's RESOURCE_POLL timer).
func (rt *Retrieval) PollDue(now time.Time) {
	rt.mu.Lock()
	var due []*Stub
	for _, table := range rt.stubs {
		for _, s := range table {
			if s.PollRate > 0 && !s.PollNext.IsZero() && !s.PollNext.After(now) {
				due = append(due, s)
			}
		}
	}
	rt.mu.Unlock()
	for _, s := range due {
		// Cleared so an in-flight poll isn't re-queued on every tick;
		// re-armed when (and if) the response arrives.
		s.PollNext = time.Time{}
		rt.queueGet(s, 0, s.PageSize)
	}
}
