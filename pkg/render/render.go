// Package render paints a growing stream of text to the terminal without
// repainting on every decoded frame.
package render

import (
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is one display frame at 60Hz.
const DefaultInterval = 16 * time.Millisecond

// Painter draws the full current text.
type Painter interface {
	Paint(text string) error
}

// PainterFunc adapts a plain function to a Painter.
type PainterFunc func(text string) error

func (f PainterFunc) Paint(text string) error {
	return f(text)
}

// Coalescer accepts every update of a growing text and forwards at most one
// of them per interval to its Painter. The most recent value is always
// painted before Flush or Stop returns, so no update is ever lost, only
// skipped in favour of a newer one.
type Coalescer struct {
	painter  Painter
	interval time.Duration

	mu     sync.Mutex
	latest string
	dirty  bool
	err    error

	// paintMu serializes the ticker loop and Flush.
	paintMu sync.Mutex

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// CoalescerOption configures a Coalescer.
type CoalescerOption func(*Coalescer)

// WithInterval sets the minimum time between two paints.
func WithInterval(d time.Duration) CoalescerOption {
	return func(c *Coalescer) {
		if d > 0 {
			c.interval = d
		}
	}
}

// NewCoalescer starts a Coalescer painting to p. Callers must call Stop.
func NewCoalescer(p Painter, opts ...CoalescerOption) *Coalescer {
	c := &Coalescer{
		painter:  p,
		interval: DefaultInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.loop()
	return c
}

// Update records text as the latest value. It never blocks on painting.
func (c *Coalescer) Update(text string) {
	c.mu.Lock()
	c.latest = text
	c.dirty = true
	c.mu.Unlock()
}

// Flush paints the latest value now if it has not been painted yet.
func (c *Coalescer) Flush() error {
	c.paintMu.Lock()
	defer c.paintMu.Unlock()

	c.mu.Lock()
	if !c.dirty {
		err := c.err
		c.mu.Unlock()
		return err
	}
	text := c.latest
	c.dirty = false
	c.mu.Unlock()

	err := c.painter.Paint(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil && c.err == nil {
		c.err = err
	}
	return c.err
}

// Stop ends the paint loop and paints the final value. It returns the first
// paint error, if any. Stop is idempotent.
func (c *Coalescer) Stop() error {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
	})
	return c.Flush()
}

func (c *Coalescer) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			_ = c.Flush()
		}
	}
}

// SuffixPainter paints a growing text to w by writing only the part that has
// not been written yet. A value that does not extend what was painted is
// written in full on a fresh line.
type SuffixPainter struct {
	w       io.Writer
	painted string
}

func NewSuffixPainter(w io.Writer) *SuffixPainter {
	return &SuffixPainter{w: w}
}

func (p *SuffixPainter) Paint(text string) error {
	if strings.HasPrefix(text, p.painted) {
		if _, err := io.WriteString(p.w, text[len(p.painted):]); err != nil {
			return err
		}
		p.painted = text
		return nil
	}

	if _, err := io.WriteString(p.w, "\n"+text); err != nil {
		return err
	}
	p.painted = text
	return nil
}

// Painted returns the text painted so far.
func (p *SuffixPainter) Painted() string {
	return p.painted
}

// Reset forgets the painted text, for the next answer.
func (p *SuffixPainter) Reset() {
	p.painted = ""
}
