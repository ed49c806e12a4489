package machine

import (
	"errors"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// TermConsole connects the firmware console to the host terminal. Stdin is
// switched to raw non-blocking mode and read by a background goroutine.
type TermConsole struct {
	inputQueue
	out crlfWriter

	fd       int
	oldState *term.State
	stopCh   chan struct{}
	done     chan struct{}
	stopped  sync.Once
}

// NewTermConsole puts stdin in raw mode and starts reading from it.
func NewTermConsole() (*TermConsole, error) {
	c := &TermConsole{
		inputQueue: newInputQueue(),
		out:        crlfWriter{w: os.Stdout},
		fd:         int(os.Stdin.Fd()),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	oldState, err := term.MakeRaw(c.fd)
	if err != nil {
		return nil, err
	}
	c.oldState = oldState

	if err := unix.SetNonblock(c.fd, true); err != nil {
		_ = term.Restore(c.fd, c.oldState)
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func (c *TermConsole) readLoop() {
	defer close(c.done)
	buf := make([]byte, 1)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		n, err := unix.Read(c.fd, buf)
		if n > 0 {
			select {
			case c.ch <- buf[0]:
			case <-c.stopCh:
				return
			}
			continue
		}

		if err != nil && !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) {
			return
		}
		time.Sleep(pollInterval)
	}
}

// Write implements io.Writer.
func (c *TermConsole) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// Close stops the reader and restores the terminal state.
func (c *TermConsole) Close() error {
	c.stopped.Do(func() { close(c.stopCh) })
	<-c.done

	_ = unix.SetNonblock(c.fd, false)
	return term.Restore(c.fd, c.oldState)
}
