package framing

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/parrot/errors"
)

// feedAll feeds the stream in the given chunk sizes and collects every frame.
func feedAll(t *testing.T, sp *Splitter, stream []byte, chunkSizes []int) [][]byte {
	t.Helper()

	var out [][]byte
	pos := 0
	for _, size := range chunkSizes {
		end := pos + size
		require.LessOrEqual(t, end, len(stream), "chunk sizes exceed stream length")
		frames, err := sp.Feed(stream[pos:end])
		require.NoError(t, err)
		out = append(out, frames...)
		pos = end
	}
	require.Equal(t, len(stream), pos, "chunk sizes must cover the whole stream")
	return out
}

func TestSplitter_SingleChunkMultipleFrames(t *testing.T) {
	sp := NewSplitter('\n')

	frames, err := sp.Feed([]byte("alpha\nbeta\ngamma\n"))
	require.NoError(t, err)

	require.Len(t, frames, 3)
	assert.Equal(t, []byte("alpha"), frames[0])
	assert.Equal(t, []byte("beta"), frames[1])
	assert.Equal(t, []byte("gamma"), frames[2])
	assert.Equal(t, 0, sp.TailLen())
}

func TestSplitter_FrameSplitAcrossChunks(t *testing.T) {
	sp := NewSplitter(0x07)

	frames, err := sp.Feed([]byte("hel"))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, 3, sp.TailLen())

	frames, err = sp.Feed([]byte("lo"))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, 5, sp.TailLen())

	frames, err = sp.Feed([]byte{0x07})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("hello"), frames[0])
	assert.Equal(t, 0, sp.TailLen())
}

func TestSplitter_DelimiterAtChunkBoundary(t *testing.T) {
	sp := NewSplitter('|')

	frames, err := sp.Feed([]byte("one|"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("one"), frames[0])

	// Next chunk starts a fresh frame; no stale bytes carry over.
	frames, err = sp.Feed([]byte("two|"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("two"), frames[0])
}

func TestSplitter_EmptyFrames(t *testing.T) {
	sp := NewSplitter('\n')

	frames, err := sp.Feed([]byte("\n\na\n\n"))
	require.NoError(t, err)

	require.Len(t, frames, 4)
	assert.Empty(t, frames[0])
	assert.Empty(t, frames[1])
	assert.Equal(t, []byte("a"), frames[2])
	assert.Empty(t, frames[3])
}

func TestSplitter_UnterminatedTail(t *testing.T) {
	sp := NewSplitter('\n')

	frames, err := sp.Feed([]byte("complete\npartial"))
	require.NoError(t, err)

	require.Len(t, frames, 1)
	assert.Equal(t, []byte("complete"), frames[0])
	// The tail stays buffered; the connection handler drops it on close.
	assert.Equal(t, len("partial"), sp.TailLen())
}

func TestSplitter_NoDelimiterEver(t *testing.T) {
	sp := NewSplitter(0x07)

	for i := 0; i < 5; i++ {
		frames, err := sp.Feed([]byte("chunk"))
		require.NoError(t, err)
		assert.Empty(t, frames)
	}
	assert.Equal(t, 25, sp.TailLen())
}

func TestSplitter_EmptyChunk(t *testing.T) {
	sp := NewSplitter('\n')

	frames, err := sp.Feed(nil)
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = sp.Feed([]byte("a"))
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = sp.Feed([]byte{})
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Equal(t, 1, sp.TailLen())
}

func TestSplitter_BinaryPayloadAndDelimiters(t *testing.T) {
	tests := []struct {
		name      string
		delimiter byte
		stream    []byte
		want      [][]byte
	}{
		{
			name:      "nul delimiter",
			delimiter: 0x00,
			stream:    []byte{0xFF, 0x01, 0x00, 0x02, 0x00},
			want:      [][]byte{{0xFF, 0x01}, {0x02}},
		},
		{
			name:      "0xFF delimiter with nul payload",
			delimiter: 0xFF,
			stream:    []byte{0x00, 0x00, 0xFF},
			want:      [][]byte{{0x00, 0x00}},
		},
		{
			name:      "bell delimiter default",
			delimiter: 0x07,
			stream:    append([]byte("payload"), 0x07),
			want:      [][]byte{[]byte("payload")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp := NewSplitter(tt.delimiter)
			frames, err := sp.Feed(tt.stream)
			require.NoError(t, err)
			require.Len(t, frames, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i], frames[i])
			}
		})
	}
}

func TestSplitter_FramesAreCopies(t *testing.T) {
	sp := NewSplitter('\n')

	frames, err := sp.Feed([]byte("first\n"))
	require.NoError(t, err)
	require.Len(t, frames, 1)

	held := frames[0]
	// Later feeds must not clobber previously returned frames.
	_, err = sp.Feed([]byte("xxxxxxxxxxxxxxxx\n"))
	require.NoError(t, err)

	assert.Equal(t, []byte("first"), held)
}

func TestSplitter_ChunkInvariance(t *testing.T) {
	// The emitted frames depend only on the byte sequence, not on how it
	// was partitioned into reads.
	stream := []byte("a\n\nlonger frame here\nx\ntrailing tail")
	sp := NewSplitter('\n')
	want, err := sp.Feed(stream)
	require.NoError(t, err)
	wantTail := sp.TailLen()

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		var sizes []int
		remaining := len(stream)
		for remaining > 0 {
			n := 1 + rng.Intn(remaining)
			sizes = append(sizes, n)
			remaining -= n
		}

		sp := NewSplitter('\n')
		got := feedAll(t, sp, stream, sizes)

		require.Len(t, got, len(want), "partition %v", sizes)
		for i := range want {
			assert.True(t, bytes.Equal(want[i], got[i]), "frame %d differs for partition %v", i, sizes)
		}
		assert.Equal(t, wantTail, sp.TailLen())
	}
}

func TestSplitter_ReassemblyMatchesInput(t *testing.T) {
	delim := byte(0x07)
	stream := []byte("ab\x07\x07cd\x07partial-tail")

	sp := NewSplitter(delim)
	frames, err := sp.Feed(stream)
	require.NoError(t, err)

	// Rejoining frames with the delimiter reinserted reproduces the input
	// up to the unresolved tail.
	var rebuilt []byte
	for _, f := range frames {
		rebuilt = append(rebuilt, f...)
		rebuilt = append(rebuilt, delim)
	}
	assert.Equal(t, stream[:len(stream)-sp.TailLen()], rebuilt)
	assert.Equal(t, len("partial-tail"), sp.TailLen())
}

func TestSplitter_ByteAtATime(t *testing.T) {
	stream := []byte("ab\ncd\n")
	sp := NewSplitter('\n')

	var frames [][]byte
	for i := range stream {
		got, err := sp.Feed(stream[i : i+1])
		require.NoError(t, err)
		frames = append(frames, got...)
	}

	require.Len(t, frames, 2)
	assert.Equal(t, []byte("ab"), frames[0])
	assert.Equal(t, []byte("cd"), frames[1])
}

func TestSplitter_OversizeFrameDiscarded(t *testing.T) {
	sp := NewSplitter('\n', WithMaxFrameBytes(8))

	// Grow past the cap with no delimiter in sight.
	frames, err := sp.Feed([]byte("0123456789"))
	require.ErrorIs(t, err, errors.ErrFrameTooLarge)
	assert.Empty(t, frames)
	assert.Equal(t, 0, sp.TailLen(), "oversized bytes are dropped, not buffered")

	// Remainder of the oversized frame is skipped without further errors.
	frames, err = sp.Feed([]byte("more junk"))
	require.NoError(t, err)
	assert.Empty(t, frames)

	// The closing delimiter ends discard mode; framing resumes.
	frames, err = sp.Feed([]byte("tail\nok\n"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("ok"), frames[0])
}

func TestSplitter_OversizeFrameCompletedInOneChunk(t *testing.T) {
	sp := NewSplitter('\n', WithMaxFrameBytes(4))

	// The oversized frame and its delimiter arrive together. It is dropped,
	// the error is reported, and the following frame is still emitted.
	frames, err := sp.Feed([]byte("toolongframe\nok\n"))
	require.ErrorIs(t, err, errors.ErrFrameTooLarge)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("ok"), frames[0])
}

func TestSplitter_MultipleOversizeFramesInOneChunk(t *testing.T) {
	sp := NewSplitter('\n', WithMaxFrameBytes(2))

	// Two oversize frames and one valid frame arrive in a single chunk.
	frames, err := sp.Feed([]byte("AAAA\nBBBB\nok\n"))
	assert.ErrorIs(t, err, errors.ErrFrameTooLarge)

	require.Len(t, frames, 1)
	assert.Equal(t, []byte("ok"), frames[0])
	assert.Equal(t, 2, sp.Dropped(), "each oversize frame counts once")
}

func TestSplitter_DroppedCountsDiscardModeOnce(t *testing.T) {
	sp := NewSplitter('\n', WithMaxFrameBytes(4))

	// Grow past the cap with no delimiter: the frame is counted when the
	// discard begins, not again when its delimiter finally arrives.
	_, err := sp.Feed([]byte("0123456789"))
	assert.ErrorIs(t, err, errors.ErrFrameTooLarge)
	assert.Equal(t, 1, sp.Dropped())

	frames, err := sp.Feed([]byte("more\nnext\n"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("next"), frames[0])
	assert.Equal(t, 1, sp.Dropped())
}

func TestSplitter_MaxFrameExactBoundary(t *testing.T) {
	sp := NewSplitter('\n', WithMaxFrameBytes(4))

	// A frame of exactly the cap is allowed.
	frames, err := sp.Feed([]byte("abcd\n"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("abcd"), frames[0])

	frames, err = sp.Feed([]byte("abcde\n"))
	require.ErrorIs(t, err, errors.ErrFrameTooLarge)
	assert.Empty(t, frames)
}

func TestSplitter_Delimiter(t *testing.T) {
	assert.Equal(t, byte(0x07), NewSplitter(0x07).Delimiter())
}
