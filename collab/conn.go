package collab

// Conn is one client connection on the realtime surface. Reliable and
// volatile delivery are two separate paths, not flags on a shared one.
//
// Send queues the event on the connection's ordered path. Implementations
// must preserve the order of calls for a given connection and must not block
// the caller; a connection that cannot drain fails on its own without
// delaying delivery to anyone else.
//
// SendVolatile is best effort. The event may be dropped when the transport
// has backpressure or is mid-reconnect, and the call never blocks.
type Conn interface {
	ID() string
	Send(event string, args ...any) error
	SendVolatile(event string, args ...any) error
}
