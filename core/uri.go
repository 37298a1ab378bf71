package core

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Uri is the parsed form of a resource href, per spec.md §3: scheme, name
// (host), path, query, port, and the resolved host Address.
type Uri struct {
	Scheme string
	Name   string // hostname as written, before resolution
	Path   string
	Query  url.Values
	Port   uint16
	Host   Address // resolved via ResolveHost; AddressNone until then
}

// ParseUri parses an absolute href into its component parts. It does not
// perform DNS resolution; call ResolveHost separately once an Address is
// needed (e.g. to pick/verify a pooled Connection).
func ParseUri(raw string) (Uri, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Uri{}, fmt.Errorf("core: parse uri %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Uri{}, fmt.Errorf("core: uri %q is not absolute", raw)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		host = u.Host
		portStr = defaultPortFor(u.Scheme)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Uri{}, fmt.Errorf("core: uri %q has invalid port %q: %w", raw, portStr, err)
	}
	return Uri{
		Scheme: u.Scheme,
		Name:   host,
		Path:   u.Path,
		Query:  u.Query(),
		Port:   uint16(port),
	}, nil
}

func defaultPortFor(scheme string) string {
	if strings.EqualFold(scheme, "https") {
		return "443"
	}
	return "80"
}

// ResolveHost resolves Name via the given resolver function (normally
// net.DefaultResolver.LookupIP, injected so tests can avoid real DNS) and
// stores the first matching Address on the Uri.
func (u *Uri) ResolveHost(lookup func(name string) ([]net.IP, error)) error {
	ips, err := lookup(u.Name)
	if err != nil {
		return fmt.Errorf("core: resolve %q: %w", u.Name, err)
	}
	if len(ips) == 0 {
		return fmt.Errorf("core: resolve %q: no addresses", u.Name)
	}
	addr, err := NewAddressFromIP(ips[0], u.Port, "")
	if err != nil {
		return err
	}
	u.Host = addr
	return nil
}

// HostKey identifies the (host, port, secure) tuple a Connection is keyed
// by — spec.md §3's "exactly one connection per (host, port, secure)
// tuple; stubs share connections" invariant.
func (u Uri) HostKey() string {
	secure := strings.EqualFold(u.Scheme, "https")
	return fmt.Sprintf("%s://%s:%d", boolScheme(secure), u.Name, u.Port)
}

func boolScheme(secure bool) string {
	if secure {
		return "https"
	}
	return "http"
}

// WithOffset returns a copy of the query values with s=offset and l=count
// set, for paged list requests (spec.md §4.1, §4.4).
func (u Uri) WithOffset(offset, count int) url.Values {
	q := url.Values{}
	for k, v := range u.Query {
		q[k] = v
	}
	q.Set("s", strconv.Itoa(offset))
	if count > 0 {
		q.Set("l", strconv.Itoa(count))
	}
	return q
}

// RequestPath renders the path plus query string for use in an HTTP
// request line.
func (u Uri) RequestPath(q url.Values) string {
	if len(q) == 0 {
		return u.Path
	}
	return u.Path + "?" + q.Encode()
}
