package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
)

const readChunkSize = 32 * 1024

// ErrNoBody is returned when there is no stream body to consume. No partial
// output is produced.
var ErrNoBody = errors.New("sse: no response body available")

// Result summarizes one consumed stream.
type Result struct {
	// Text is the final Accumulated Text.
	Text string

	// Updates is the number of emitted updates.
	Updates int

	// Truncated reports that the stream ended mid-frame. The trailing frame
	// was salvaged if it was a data frame; this is not an error.
	Truncated bool

	// Stats holds the decoder's frame counters.
	Stats DecoderStats
}

// Stream consumes body chunk by chunk, calling onUpdate with the full
// Accumulated Text every time it grows. It returns once the body is
// exhausted, after the trailing frame has been flushed.
//
// A read error or context cancellation stops consumption; the text
// accumulated so far is returned with the error and no trailing salvage is
// attempted.
func Stream(ctx context.Context, body io.Reader, onUpdate func(string), opts ...DecoderOption) (Result, error) {
	if body == nil || body == http.NoBody {
		return Result{}, ErrNoBody
	}
	if onUpdate == nil {
		onUpdate = func(string) {}
	}

	dec := NewDecoder(opts...)
	var res Result

	emit := func(updates []string) {
		for _, text := range updates {
			res.Updates++
			onUpdate(text)
		}
	}

	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return dec.result(res), fmt.Errorf("consuming stream: %w", err)
		}

		n, err := body.Read(chunk)
		if n > 0 {
			emit(dec.Consume(chunk[:n]))
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dec.result(res), fmt.Errorf("reading stream: %w", err)
		}
	}

	emit(dec.Finish())
	return dec.result(res), nil
}

// Updates returns an iterator over the Accumulated Text updates of body.
// A terminal error, including ErrNoBody, is yielded once as the last pair.
func Updates(ctx context.Context, body io.Reader, opts ...DecoderOption) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		_, err := Stream(ctx, body, func(text string) {
			if stopped {
				return
			}
			if !yield(text, nil) {
				stopped = true
				cancel()
			}
		}, opts...)

		if err != nil && !stopped {
			yield("", err)
		}
	}
}

func (d *Decoder) result(res Result) Result {
	res.Text = d.Text()
	res.Stats = d.Stats()
	res.Truncated = res.Stats.Truncated
	return res
}
