package observability

import (
	"fmt"
	"sync"
	"time"
)

// Printer buffers console messages to display to the user.
//
// The download core never writes to stdout directly; it pushes lines here
// and the CLI drains them, so progress output and log output don't
// interleave.
type Printer struct {
	mu       sync.Mutex
	messages []string

	// For rate-limited messages, the next time each format may be printed.
	nextAllowed map[string]time.Time

	// getNow allows stubbing out [time.Now] in tests.
	getNow func() time.Time
}

func NewPrinter() *Printer {
	return &Printer{
		nextAllowed: make(map[string]time.Time),
		getNow:      time.Now,
	}
}

// Read returns all buffered messages and clears the buffer.
func (p *Printer) Read() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	polled := p.messages
	p.messages = nil

	return polled
}

// Write adds a message to the console.
func (p *Printer) Write(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

// Writef adds a Sprintf-formatted message to the console.
func (p *Printer) Writef(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, fmt.Sprintf(format, args...))
}

// WriteAtMostEvery adds a formatted message unless a message with the same
// format string was added within the given period.
//
// The format string is the rate-limit key: the statement may run with
// different argument values, but a line is only printed once per period.
func (p *Printer) WriteAtMostEvery(
	period time.Duration,
	format string,
	args ...any,
) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.getNow()
	if now.Before(p.nextAllowed[format]) {
		return
	}
	p.nextAllowed[format] = now.Add(period)

	p.messages = append(p.messages, fmt.Sprintf(format, args...))
}
