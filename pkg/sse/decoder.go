package sse

import (
	"errors"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/papercomputeco/trickle/pkg/logger"
	"github.com/papercomputeco/trickle/pkg/utils"
)

const (
	// FrameDelimiter separates frames in the decoded text stream.
	FrameDelimiter = "\n\n"

	// DataPrefix marks a data frame. Matching is case-sensitive and must
	// start at the first byte of the frame.
	DataPrefix = "data:"

	scratchSize = 4096

	// logFrameLen caps how much of a discarded frame is logged.
	logFrameLen = 120
)

// DecoderStats counts what a Decoder has done with the frames it has seen.
type DecoderStats struct {
	// DataFrames is the number of data frames whose payload was appended,
	// including a salvaged trailing frame.
	DataFrames int

	// Discarded is the number of non-data frames that were dropped,
	// including a dropped trailing partial frame.
	Discarded int

	// Salvaged reports whether Finish turned an unterminated trailing data
	// frame into a payload.
	Salvaged bool

	// Truncated reports whether the stream ended with a non-empty buffer,
	// i.e. mid-frame.
	Truncated bool
}

// Decoder incrementally decodes a stream of "\n\n" delimited "data:" frames
// into an Accumulated Text value. Chunk boundaries carry no meaning: a frame,
// or a multi-byte character, may be split across any number of chunks.
//
// A Decoder is single-use and not safe for concurrent use. It performs no I/O.
type Decoder struct {
	tr      transform.Transformer
	pending []byte
	scratch []byte

	buf  strings.Builder
	text strings.Builder

	stats    DecoderStats
	finished bool
	logger   *slog.Logger
}

// DecoderOption configures a Decoder created with NewDecoder.
type DecoderOption func(*Decoder)

// WithEncoding sets the character encoding of the incoming bytes.
// Defaults to UTF-8.
func WithEncoding(enc encoding.Encoding) DecoderOption {
	return func(d *Decoder) {
		if enc != nil {
			d.tr = enc.NewDecoder()
		}
	}
}

// WithLogger sets the logger used for frame diagnostics (discarded frames,
// trailing salvage). Defaults to a no-op logger.
func WithLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDecoder returns a Decoder with an empty buffer and empty Accumulated Text.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		tr:      xunicode.UTF8.NewDecoder(),
		scratch: make([]byte, scratchSize),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.tr.Reset()
	return d
}

// Consume feeds one chunk to the decoder and returns the Accumulated Text
// after each data frame the chunk completed, in frame order. The returned
// slice is empty when the chunk completed no data frame.
func (d *Decoder) Consume(chunk []byte) []string {
	if d.finished {
		return nil
	}

	d.buf.WriteString(d.decode(chunk, false))
	return d.parse()
}

// ConsumeString is Consume for chunks that are already text. The string is
// still run through the decoder so that a chunk ending in the middle of a
// multi-byte sequence is handled the same way.
func (d *Decoder) ConsumeString(chunk string) []string {
	return d.Consume([]byte(chunk))
}

// Finish signals that the source is exhausted. It flushes any held-back
// bytes, parses frames they complete, and salvages an unterminated trailing
// frame if it is itself a data frame. The returned updates follow the same
// rules as Consume. Finish is idempotent.
func (d *Decoder) Finish() []string {
	if d.finished {
		return nil
	}

	d.buf.WriteString(d.decode(nil, true))
	updates := d.parse()
	d.finished = true

	tail := d.buf.String()
	d.buf.Reset()
	if tail == "" {
		return updates
	}

	d.stats.Truncated = true
	if payload, ok := extractPayload(tail); ok {
		d.stats.Salvaged = true
		d.stats.DataFrames++
		d.text.WriteString(payload)
		d.logger.Debug("salvaged trailing data frame", "bytes", len(tail))
		return append(updates, d.text.String())
	}

	d.stats.Discarded++
	d.logger.Debug("dropped trailing partial frame", "frame", utils.Truncate(tail, logFrameLen))
	return updates
}

// Text returns the current Accumulated Text.
func (d *Decoder) Text() string {
	return d.text.String()
}

// Stats returns frame counters for the session so far.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// parse resolves every complete frame in the buffer, leaving only the
// trailing partial frame behind.
func (d *Decoder) parse() []string {
	buffered := d.buf.String()
	if !strings.Contains(buffered, FrameDelimiter) {
		return nil
	}

	frames := strings.Split(buffered, FrameDelimiter)
	d.buf.Reset()
	d.buf.WriteString(frames[len(frames)-1])

	var updates []string
	for _, frame := range frames[:len(frames)-1] {
		payload, ok := extractPayload(frame)
		if !ok {
			d.stats.Discarded++
			d.logger.Debug("discarding non-data frame", "frame", utils.Truncate(frame, logFrameLen))
			continue
		}

		d.stats.DataFrames++
		d.text.WriteString(payload)
		updates = append(updates, d.text.String())
	}

	return updates
}

// decode runs src through the character decoder. Bytes of an incomplete
// trailing sequence are held back until the next call unless atEOF is set.
func (d *Decoder) decode(src []byte, atEOF bool) string {
	if len(d.pending) > 0 {
		src = append(d.pending, src...)
		d.pending = nil
	}

	var out strings.Builder
	for {
		nDst, nSrc, err := d.tr.Transform(d.scratch, src, atEOF)
		out.Write(d.scratch[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String()

		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				d.scratch = make([]byte, 2*len(d.scratch))
			}

		case errors.Is(err, transform.ErrShortSrc):
			if atEOF {
				out.WriteRune(utf8.RuneError)
				return out.String()
			}
			d.pending = append([]byte(nil), src...)
			return out.String()

		default:
			// Undecodable unit: substitute and move past one byte.
			out.WriteRune(utf8.RuneError)
			if len(src) == 0 {
				return out.String()
			}
			src = src[1:]
			d.tr.Reset()
		}
	}
}

// extractPayload strips the data prefix and at most one following
// whitespace character from frame. It reports false for non-data frames.
func extractPayload(frame string) (string, bool) {
	rest, ok := strings.CutPrefix(frame, DataPrefix)
	if !ok {
		return "", false
	}

	r, size := utf8.DecodeRuneInString(rest)
	if size > 0 && unicode.IsSpace(r) {
		rest = rest[size:]
	}

	return rest, true
}
