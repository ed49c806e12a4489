package machine

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"
)

// Console is the host side of the firmware console.
type Console interface {
	io.Writer

	// Poll waits up to timeout for an input byte.
	Poll(timeout time.Duration) (byte, bool)

	// Close releases the console and restores the host terminal.
	Close() error
}

// inputQueue buffers bytes read from the host by a background reader.
type inputQueue struct {
	ch chan byte
}

func newInputQueue() inputQueue {
	return inputQueue{ch: make(chan byte, 256)}
}

func (q inputQueue) Poll(timeout time.Duration) (byte, bool) {
	select {
	case b := <-q.ch:
		return b, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b := <-q.ch:
		return b, true
	case <-timer.C:
		return 0, false
	}
}

// ScriptConsole feeds a fixed input script to the kernel and records its
// output. Line feeds in the script are delivered as carriage returns, the
// way a terminal in raw mode reports the Enter key.
type ScriptConsole struct {
	mu     sync.Mutex
	input  *strings.Reader
	out    bytes.Buffer
	mirror io.Writer
}

// NewScriptConsole returns a console that replays script. Output is also
// copied to mirror if it is not nil.
func NewScriptConsole(script string, mirror io.Writer) *ScriptConsole {
	return &ScriptConsole{input: strings.NewReader(script), mirror: mirror}
}

// Write implements io.Writer.
func (c *ScriptConsole) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.out.Write(p)
	if c.mirror != nil {
		c.mirror.Write(p)
	}
	return len(p), nil
}

// Poll returns the next byte of the script. Once the script is exhausted it
// sleeps for timeout and reports no input.
func (c *ScriptConsole) Poll(timeout time.Duration) (byte, bool) {
	c.mu.Lock()
	b, err := c.input.ReadByte()
	c.mu.Unlock()

	if err != nil {
		time.Sleep(timeout)
		return 0, false
	}

	if b == '\n' {
		b = '\r'
	}
	return b, true
}

// Output returns everything written to the console so far.
func (c *ScriptConsole) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

// Close implements Console.
func (c *ScriptConsole) Close() error { return nil }

// crlfWriter expands line feeds to CR LF for terminals in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	start := 0
	for i, b := range p {
		if b != '\n' {
			continue
		}
		if _, err := c.w.Write(p[start:i]); err != nil {
			return start, err
		}
		if _, err := c.w.Write([]byte("\r\n")); err != nil {
			return i, err
		}
		start = i + 1
	}

	if start < len(p) {
		if _, err := c.w.Write(p[start:]); err != nil {
			return start, err
		}
	}
	return len(p), nil
}
