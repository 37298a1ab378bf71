package core

import "errors"

// Error taxonomy, per spec.md §7. Where core returns one of these, it wraps
// it with context via fmt.Errorf's %w, so callers compare with errors.Is.
var (
	// ErrTransport covers connection refused/reset, TLS handshake failure,
	// and write-EOF conditions. The connection is torn down and every
	// queued request on it fails with this error.
	ErrTransport = errors.New("se2030: transport error")

	// ErrProtocol covers malformed HTTP framing, oversize headers, and
	// non-2xx/301/404/410 responses.
	ErrProtocol = errors.New("se2030: protocol error")

	// ErrCodec covers malformed XML/binary input, schema violations, and
	// truncation with no more bytes coming.
	ErrCodec = errors.New("se2030: codec error")

	// ErrEventInvalid names an event whose end does not strictly follow
	// its start. Engine.onDERControl logs and drops such an event; it
	// does not return this value.
	ErrEventInvalid = errors.New("se2030: EventInvalid")

	// ErrEventExpired names an event whose start lies too far in the past
	// to still be scheduled. Engine.onDERControl logs and drops such an
	// event; it does not return this value.
	ErrEventExpired = errors.New("se2030: EventExpired")

	// ErrEventInapplicable names an event with a primacy or DER-control
	// type the device does not implement. No code path produces it.
	ErrEventInapplicable = errors.New("se2030: EventInapplicable")

	// ErrSuspended names the codec's "need more bytes" condition. The
	// parsers report it as StatusSuspended, not as this error.
	ErrSuspended = errors.New("se2030: suspended, need more input")

	// ErrUnknownType names an unregistered schema type index. The schema
	// lookups report a miss with a false result, not with this error.
	ErrUnknownType = errors.New("se2030: unknown schema type")
)
