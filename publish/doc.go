// Package publish delivers framed messages to the NATS broker in order.
//
// # Overview
//
// Every connection handler submits frames through a single Publisher. The
// NATSPublisher implementation funnels all submissions through one bounded
// queue drained by a single owner goroutine, which is the only code path
// that touches the broker connection for publishing. This gives a total
// order over published frames and keeps slow broker periods from growing
// memory without bound: when the queue is full, Publish blocks, pushing
// backpressure onto the TCP readers.
//
// # Shutdown
//
// Stop closes the intake and drains frames already accepted, waiting up to
// the given timeout. Publish calls racing with shutdown get
// errors.ErrShuttingDown and their frames are counted as dropped by the
// caller.
package publish
