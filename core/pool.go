package core

import (
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Pool manages one SEConnection per (host, port, secure) tuple, per
// spec.md §4.2. Directly grounded on the teacher's ConnPool
// (core/connection_pool.go): Acquire-or-dial, idle reaping on a ticker,
// Close draining everything — generalized from a generic net.Conn idle
// cache to a single live multiplexed connection per destination, since
// 2030.5 retrieval pipelines many requests over one connection rather
// than borrowing/returning short-lived ones.
type Pool struct {
	mu       sync.Mutex
	conns    map[string]*SEConnection
	tlsConf  *tls.Config
	idleTTL  time.Duration
	lastUse  map[string]time.Time
	outcomes chan<- Outcome
	metrics  *Metrics
	backoff  Backoff
	emit     func(Event)
	closing  chan struct{}
	closeOnce sync.Once
}

// Backoff configures Acquire's dial-retry policy, per spec.md §9's open
// question on transport retry/backoff: exposed as configuration
// (pkg/config's Retrieval.BackoffInitialMS/BackoffMaxMS/BackoffFactor)
// rather than hardcoded. The zero value disables retrying — a dial
// failure is returned to the caller immediately, which is what every
// Pool gets unless SetBackoff is called.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// SetMetrics attaches the process's Metrics so Teardown can count
// connection resets. Optional — a nil metrics is simply not incremented.
func (p *Pool) SetMetrics(m *Metrics) { p.metrics = m }

// SetBackoff installs a dial-retry policy. Optional — an unset Pool never
// retries a failed dial.
func (p *Pool) SetBackoff(b Backoff) { p.backoff = b }

// SetEmit installs the event sink a freshly dialed connection is
// announced on, per spec.md §4.3's SE_CONNECTION event. Optional — a nil
// emit simply means no announcement.
func (p *Pool) SetEmit(fn func(Event)) { p.emit = fn }

// NewPool creates a pool; tlsConf is used for any Uri whose scheme is
// https, idleTTL bounds how long an unused connection is kept open, and
// outcomes is the single shared channel every dialed connection reports
// completed requests to (see DialSEConnection).
func NewPool(tlsConf *tls.Config, idleTTL time.Duration, outcomes chan<- Outcome) *Pool {
	if idleTTL <= 0 {
		idleTTL = 2 * time.Minute
	}
	p := &Pool{
		conns:    make(map[string]*SEConnection),
		lastUse:  make(map[string]time.Time),
		tlsConf:  tlsConf,
		idleTTL:  idleTTL,
		outcomes: outcomes,
		closing:  make(chan struct{}),
	}
	go p.reaper()
	return p
}

// Acquire returns the live connection for u, dialing one if needed.
func (p *Pool) Acquire(u Uri) (*SEConnection, error) {
	key := u.HostKey()
	p.mu.Lock()
	if c, ok := p.conns[key]; ok {
		p.lastUse[key] = time.Now()
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	var tlsConf *tls.Config
	if u.Scheme == "https" {
		tlsConf = p.tlsConf
	}
	addr := net.JoinHostPort(u.Host.IP().String(), strconv.Itoa(int(u.Port)))
	c, err := p.dialWithBackoff(addr, key, tlsConf)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.conns[key] = c
	p.lastUse[key] = time.Now()
	p.mu.Unlock()
	if p.emit != nil {
		p.emit(Event{Type: EventSEConnection, Payload: c})
	}
	return c, nil
}

// dialWithBackoff retries DialSEConnection with exponentially increasing
// delay (per p.backoff) until a dial succeeds or the next delay would
// exceed backoff.Max, at which point the last error is returned.
func (p *Pool) dialWithBackoff(addr, key string, tlsConf *tls.Config) (*SEConnection, error) {
	delay := p.backoff.Initial
	for {
		c, err := DialSEConnection(addr, key, tlsConf, p.outcomes)
		if err == nil {
			return c, nil
		}
		if delay <= 0 || delay > p.backoff.Max {
			return nil, err
		}
		logrus.WithError(err).WithField("conn", key).WithField("retry_in", delay).
			Warn("dial failed, retrying after backoff")
		time.Sleep(delay)
		next := time.Duration(float64(delay) * p.backoff.Factor)
		if next <= delay {
			next = delay + 1 // guarantee forward progress for factor<=1
		}
		delay = next
	}
}

// Touch refreshes the idle clock for key's connection. Every request
// submission calls it (Retrieval.send), so a connection serving ongoing
// polls is never mistaken for idle by the reaper — Acquire alone only
// covers the initial dial.
func (p *Pool) Touch(key string) {
	p.mu.Lock()
	if _, ok := p.conns[key]; ok {
		p.lastUse[key] = time.Now()
	}
	p.mu.Unlock()
}

// Teardown closes and forgets the connection for key. It does not requeue
// anything: requests still pending on the closed connection fail with an
// ErrTransport outcome, and no code path in core resubmits them.
func (p *Pool) Teardown(key string) {
	p.mu.Lock()
	c, ok := p.conns[key]
	delete(p.conns, key)
	delete(p.lastUse, key)
	p.mu.Unlock()
	if ok {
		c.Close()
		if p.metrics != nil {
			p.metrics.ConnectionResets.Inc()
		}
	}
}

// Close tears down every connection and stops the reaper.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		defer p.mu.Unlock()
		for key, c := range p.conns {
			c.Close()
			delete(p.conns, key)
		}
	})
}

func (p *Pool) reaper() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			for key, t := range p.lastUse {
				if !t.Before(cutoff) {
					continue
				}
				if c, ok := p.conns[key]; ok {
					if c.busy() {
						// Responses still outstanding: not idle, no
						// matter how old the last submission is.
						p.lastUse[key] = time.Now()
						continue
					}
					logrus.WithField("conn", key).Debug("reaping idle connection")
					c.Close()
					delete(p.conns, key)
				}
				delete(p.lastUse, key)
			}
			p.mu.Unlock()
		case <-p.closing:
			return
		}
	}
}
