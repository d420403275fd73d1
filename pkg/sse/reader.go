package sse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	readerBufferSize = 64 * 1024

	// MaxLineSize bounds a single line of an upstream event stream.
	MaxLineSize = 1024 * 1024
)

// ErrLineTooLong is returned by TeeReader.Next for a line over MaxLineSize.
var ErrLineTooLong = errors.New("sse: line too long")

// TeeReader parses line-oriented SSE events from an upstream body and copies
// every byte it reads, unchanged, to a destination writer.
//
// The relay proxy tees into the client response in "raw" relay mode and
// discards the copy in "text" mode, where it re-frames the parsed deltas.
type TeeReader struct {
	src  *bufio.Reader
	dest io.Writer

	ev    Event
	open  bool
	lines int
	done  bool
}

// NewTeeReader returns a TeeReader over src. A nil dest discards the copy.
func NewTeeReader(src io.Reader, dest io.Writer) *TeeReader {
	if dest == nil {
		dest = io.Discard
	}
	return &TeeReader{
		src:  bufio.NewReaderSize(src, readerBufferSize),
		dest: dest,
	}
}

// NewReader returns a TeeReader that only parses.
func NewReader(src io.Reader) *TeeReader {
	return NewTeeReader(src, nil)
}

// Next returns the next complete event, or nil, nil once the source is
// exhausted. An event still open at the end of the source is returned too.
func (r *TeeReader) Next() (*Event, error) {
	for !r.done {
		raw, err := r.readLine()
		if len(raw) > 0 {
			if _, werr := io.WriteString(r.dest, raw); werr != nil {
				return nil, werr
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			r.done = true
		case err != nil:
			return nil, err
		}

		line := strings.TrimRight(raw, "\r\n")
		if line == "" {
			if r.done || !r.open {
				continue
			}
			return r.take(), nil
		}

		r.field(line)
	}

	if r.open {
		return r.take(), nil
	}
	return nil, nil
}

// readLine reads through the next '\n', or to the end of the source.
func (r *TeeReader) readLine() (string, error) {
	var b strings.Builder
	for {
		frag, err := r.src.ReadSlice('\n')
		b.Write(frag)
		if b.Len() > MaxLineSize {
			return "", fmt.Errorf("%w: over %d bytes", ErrLineTooLong, MaxLineSize)
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return b.String(), err
		}
	}
}

// field applies one "name:value" line to the open event. One space after the
// colon is dropped. Comments (":...") and unknown fields change nothing.
func (r *TeeReader) field(line string) {
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "data":
		if r.lines > 0 {
			r.ev.Data += "\n"
		}
		r.ev.Data += value
		r.lines++
	case "event":
		r.ev.Type = value
	case "id":
		r.ev.ID = value
	default:
		return
	}
	r.open = true
}

func (r *TeeReader) take() *Event {
	ev := r.ev
	r.ev = Event{}
	r.open = false
	r.lines = 0
	return &ev
}
