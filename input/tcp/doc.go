// Package tcp implements the TCP listener that feeds the bridge.
//
// # Overview
//
// The Input component accepts TCP connections, splits each connection's
// byte stream into delimiter-separated frames, and forwards every frame
// through the configured validator to the shared publisher. Each
// connection gets its own goroutine and its own framing.Splitter, so
// partial frames never bleed between connections.
//
// # Lifecycle
//
// Input follows the standard component lifecycle: Initialize validates
// configuration, Start binds the listener (with retry) and launches the
// accept loop, Stop closes the listener and waits for every connection
// handler to finish within the timeout. Reads and accepts use short
// deadlines so shutdown is noticed within about 100ms even on idle
// connections.
//
// # Data Handling
//
// Unterminated bytes left in a splitter when its connection closes are
// discarded; only the byte count reaches the logs. Rejected frames are
// logged at debug level with their length and a truncated preview.
// Oversized frames are dropped without tearing the connection down.
package tcp
