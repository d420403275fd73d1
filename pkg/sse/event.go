// Package sse provides the two purpose-built SSE (Server-Sent Events) pieces
// trickle needs:
//
//   - Decoder, an incremental decoder that turns an arbitrary, chunked byte
//     stream of "data:" frames into a growing text value for live rendering.
//   - TeeReader, used by the relay proxy to parse events from an upstream
//     completion API while optionally forwarding the raw bytes downstream.
//
// Only "data:" framing is handled by the Decoder. Retry directives, ids and
// event types are out of scope.
//
// See the SSE specification:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single parsed SSE event, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n".
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string
}

// DoneSentinel is the data payload OpenAI-compatible APIs send as the last
// event of a completion stream.
const DoneSentinel = "[DONE]"
