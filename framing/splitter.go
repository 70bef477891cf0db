package framing

import (
	"bytes"

	"github.com/c360/parrot/errors"
)

// Option configures a Splitter
type Option func(*Splitter)

// WithMaxFrameBytes caps the length of a single frame. When the unresolved
// buffer grows past n bytes without a delimiter, the splitter drops the
// oversized frame (everything up to the next delimiter) and reports
// errors.ErrFrameTooLarge. Zero means unbounded.
func WithMaxFrameBytes(n int) Option {
	return func(s *Splitter) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// Splitter reassembles delimiter-terminated frames from an arbitrarily
// chunked byte stream. One instance is owned by exactly one connection
// handler; it is not safe for concurrent use.
//
// A frame is the bytes strictly between two delimiter occurrences (the
// delimiter itself is excluded). Zero-length frames are emitted like any
// other. Bytes after the last delimiter stay buffered until a later Feed
// completes them; they are never emitted on their own.
type Splitter struct {
	delimiter byte
	maxFrame  int // 0 = unbounded

	// buf holds bytes received but not yet resolved into a frame.
	// scanFrom is the next index in buf to examine for the delimiter,
	// so bytes already scanned are never re-scanned on the next Feed.
	buf      []byte
	scanFrom int

	// discarding is set while skipping the remainder of a frame that
	// exceeded maxFrame. Cleared when the closing delimiter arrives.
	discarding bool

	// dropped counts frames discarded for exceeding maxFrame.
	dropped int
}

// NewSplitter creates a splitter for the given delimiter byte.
func NewSplitter(delimiter byte, opts ...Option) *Splitter {
	s := &Splitter{delimiter: delimiter}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Delimiter returns the configured delimiter byte.
func (s *Splitter) Delimiter() byte {
	return s.delimiter
}

// TailLen returns the number of unresolved bytes currently buffered.
// At connection close this is the length of the discarded partial frame.
func (s *Splitter) TailLen() int {
	return len(s.buf)
}

// Dropped returns the cumulative number of frames discarded for exceeding
// the cap. A single Feed can drop several frames while reporting one error,
// so callers tracking drop counts should diff this instead of counting
// errors.
func (s *Splitter) Dropped() int {
	return s.dropped
}

// Feed appends chunk to the unresolved buffer and returns every frame
// completed by it, in the order their closing delimiter appeared.
// Returned frames are copies; the caller owns them.
//
// The returned error is errors.ErrFrameTooLarge when one or more frames
// were dropped for exceeding the configured cap. Completed frames are
// still returned alongside it and the splitter remains usable; the error
// is informational, not terminal.
func (s *Splitter) Feed(chunk []byte) ([][]byte, error) {
	s.buf = append(s.buf, chunk...)

	var frames [][]byte
	var err error

	for {
		idx := bytes.IndexByte(s.buf[s.scanFrom:], s.delimiter)
		if idx < 0 {
			// No delimiter in the unscanned region. Resume here next time.
			s.scanFrom = len(s.buf)

			if s.discarding {
				// Still inside an oversized frame: drop what we have.
				s.buf = s.buf[:0]
				s.scanFrom = 0
			} else if s.maxFrame > 0 && len(s.buf) > s.maxFrame {
				// Frame grew past the cap without terminating.
				s.buf = s.buf[:0]
				s.scanFrom = 0
				s.discarding = true
				s.dropped++
				err = errors.ErrFrameTooLarge
			}
			return frames, err
		}

		end := s.scanFrom + idx
		if s.discarding {
			// End of the oversized frame: resume normal framing after it.
			s.discarding = false
		} else if s.maxFrame > 0 && end > s.maxFrame {
			// Delimiter arrived, but the completed frame is over the cap.
			s.dropped++
			err = errors.ErrFrameTooLarge
		} else {
			frame := make([]byte, end)
			copy(frame, s.buf[:end])
			frames = append(frames, frame)
		}
		s.buf = s.buf[end+1:]
		s.scanFrom = 0
	}
}
