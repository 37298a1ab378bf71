package core

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Outcome carries a completed request's result back to the event loop
// goroutine, per spec.md §5's rule that only the loop goroutine ever
// touches Stub/Schedule state — connection goroutines only ever send on
// channels, mirroring the teacher's Node.Subscribe pub/sub idiom
// (core/network.go's topic subscription channels) applied to HTTP
// request/response pairs instead of gossip messages.
type Outcome struct {
	ReqID int64
	Resp  *http.Response
	Body  []byte
	Err   error
}

// pendingReq is one in-flight request, queued strictly FIFO so responses
// (which the HTTP/1.1 wire format leaves unlabelled) can be matched back
// to their request in order, per spec.md §4.2.
type pendingReq struct {
	id  int64
	req *http.Request
}

// SEConnection owns exactly one non-blocking (from the event loop's
// perspective) transport connection for a single (host, port, secure)
// tuple. All actual socket I/O happens on its own reader/writer
// goroutines; the event loop only ever sends on outbox and receives on
// Outcomes.
type SEConnection struct {
	key      string
	hostport string // dial address, used as the Host header for relative request paths
	conn     net.Conn
	outbox   chan pendingReq
	outcomes chan<- Outcome // shared fan-in channel owned by the Pool/Engine
	closing  chan struct{}
	closeOnce sync.Once

	// PeerSFDI is the server's certificate-derived short-form device
	// identifier, available once the TLS handshake completes. Zero on a
	// plain TCP connection.
	PeerSFDI uint64

	mu      sync.Mutex
	pending []pendingReq
}

// DialSEConnection opens the transport (plain TCP or TLS 1.2, per
// spec.md §6) for key and starts its reader/writer goroutines. tlsConf is
// nil for a plain connection. Every completed request/response (or
// transport error) is sent on the shared outcomes channel rather than a
// per-connection one, so the single event-loop goroutine can fan-in
// every live connection with one select-free receive loop instead of a
// dynamic reflect.Select over an unbounded connection set.
func DialSEConnection(addr, key string, tlsConf *tls.Config, outcomes chan<- Outcome) (*SEConnection, error) {
	var conn net.Conn
	var err error
	if tlsConf != nil {
		conn, err = tls.Dial("tcp", addr, tlsConf)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("core: dial %s: %w", addr, err)
	}
	c := &SEConnection{
		key:      key,
		hostport: addr,
		conn:     conn,
		outbox:   make(chan pendingReq, 16),
		outcomes: outcomes,
		closing:  make(chan struct{}),
	}
	if tc, ok := conn.(*tls.Conn); ok {
		if peers := tc.ConnectionState().PeerCertificates; len(peers) > 0 {
			c.PeerSFDI = ComputeSFDI(ComputeLFDI(peers[0]))
		}
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// Send enqueues req for transmission, assigning it id for FIFO matching.
// A connection already torn down (transport failure, idle reap, pool
// shutdown) reports a transport-error outcome for the request instead of
// swallowing it: the loops have exited, so nothing else would ever
// answer for it.
func (c *SEConnection) Send(id int64, req *http.Request) {
	select {
	case <-c.closing:
		c.deliver(Outcome{ReqID: id, Err: fmt.Errorf("%w: connection closed", ErrTransport)})
		return
	default:
	}
	c.mu.Lock()
	c.pending = append(c.pending, pendingReq{id: id, req: req})
	c.mu.Unlock()
	select {
	case c.outbox <- pendingReq{id: id, req: req}:
	case <-c.closing:
		c.mu.Lock()
		for i, pr := range c.pending {
			if pr.id == id {
				c.pending = append(c.pending[:i], c.pending[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		c.deliver(Outcome{ReqID: id, Err: fmt.Errorf("%w: connection closed", ErrTransport)})
	}
}

// busy reports whether responses are still outstanding on the pipeline.
func (c *SEConnection) busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0
}

// Close tears the connection down. Queued requests are not requeued:
// each one fails with an ErrTransport outcome (see Send and Pool.Teardown).
func (c *SEConnection) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		_ = c.conn.Close()
	})
}

func (c *SEConnection) writeLoop() {
	for {
		select {
		case pr := <-c.outbox:
			if err := pr.req.Write(c.conn); err != nil {
				logrus.WithError(err).WithField("conn", c.key).Warn("write failed")
				c.fail(fmt.Errorf("%w: %v", ErrTransport, err))
				return
			}
		case <-c.closing:
			return
		}
	}
}

func (c *SEConnection) readLoop() {
	br := bufio.NewReader(c.conn)
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			select {
			case <-c.closing:
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		next := c.pending[0]
		c.mu.Unlock()

		resp, err := http.ReadResponse(br, next.req)
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}
		body := readAllAndClose(resp)
		c.mu.Lock()
		c.pending = c.pending[1:]
		c.mu.Unlock()
		c.emit(Outcome{ReqID: next.id, Resp: resp, Body: body})
	}
}

// fail reports a transport error for every request still in the pipeline
// — the queued-requests-returned rule from spec.md §4.2: a reset mid-
// pipeline fails the in-flight request and everything queued behind it,
// in request order, then tears the connection down. Outcomes are emitted
// before the closing channel is shut so none are dropped.
func (c *SEConnection) fail(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, pr := range pending {
		c.emit(Outcome{ReqID: pr.id, Err: err})
	}
	c.Close()
	// A Send racing the teardown can append between the drain above and
	// the close; sweep once more now that closing is shut, after which
	// Send refuses new entries itself.
	c.mu.Lock()
	late := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, pr := range late {
		c.deliver(Outcome{ReqID: pr.id, Err: err})
	}
}

func (c *SEConnection) emit(o Outcome) {
	select {
	case c.outcomes <- o:
	case <-c.closing:
	}
}

// deliver posts an outcome for a connection whose closing channel is (or
// may be) already shut, where emit would drop it. Non-blocking so a
// caller inside the event loop can never deadlock against itself; the
// shared channel is generously buffered, and a drop is logged.
func (c *SEConnection) deliver(o Outcome) {
	select {
	case c.outcomes <- o:
	default:
		logrus.WithField("conn", c.key).Warn("outcome queue full, dropping failure for closed connection")
	}
}

func readAllAndClose(resp *http.Response) []byte {
	defer resp.Body.Close()
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf
}
