// Package framing turns an arbitrarily chunked byte stream into discrete
// frames separated by a single sentinel byte.
//
// # Overview
//
// TCP delivers a byte stream with no message boundaries: one logical frame
// may arrive split across several reads, and one read may contain several
// frames. The Splitter buffers unresolved bytes between calls so that the
// frames it emits depend only on the total byte sequence, never on how the
// stream happened to be chunked.
//
// # Framing Rules
//
//   - A frame is every byte strictly between two delimiter occurrences.
//     The delimiter itself never appears in a frame.
//   - Two adjacent delimiters produce a zero-length frame.
//   - Bytes after the last delimiter are held until a later chunk completes
//     them. They are never emitted early; if the connection closes first the
//     caller drops them (TailLen reports how many).
//
// # Oversize Protection
//
// WithMaxFrameBytes bounds per-connection memory. When the unresolved
// buffer outgrows the cap before a delimiter arrives, the splitter drops
// the oversized frame, reports errors.ErrFrameTooLarge, and silently skips
// input until the frame's closing delimiter, after which normal framing
// resumes. The error is a per-frame signal; the splitter and the
// connection stay usable.
//
// # Usage
//
//	sp := framing.NewSplitter(0x07, framing.WithMaxFrameBytes(1<<20))
//	for {
//	    n, err := conn.Read(buf)
//	    frames, ferr := sp.Feed(buf[:n])
//	    for _, f := range frames {
//	        handle(f)
//	    }
//	    ...
//	}
//
// A Splitter is owned by a single connection handler and is not safe for
// concurrent use.
package framing
