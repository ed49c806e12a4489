package machine

import (
	"sync"

	tty "github.com/mattn/go-tty"
)

// TTYConsole connects the firmware console to a serial device.
type TTYConsole struct {
	inputQueue
	out crlfWriter

	io      *tty.TTY
	restore func() error
	closed  sync.Once
}

// NewTTYConsole opens the serial device at path in raw mode.
func NewTTYConsole(path string) (*TTYConsole, error) {
	ttyObj, err := tty.OpenDevice(path)
	if err != nil {
		return nil, err
	}

	restore, err := ttyObj.Raw()
	if err != nil {
		ttyObj.Close()
		return nil, err
	}

	c := &TTYConsole{
		inputQueue: newInputQueue(),
		out:        crlfWriter{w: ttyObj.Output()},
		io:         ttyObj,
		restore:    restore,
	}

	go c.readLoop()
	return c, nil
}

func (c *TTYConsole) readLoop() {
	buf := make([]byte, 1)
	for {
		n, err := c.io.Input().Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		c.ch <- buf[0]
	}
}

// Write implements io.Writer.
func (c *TTYConsole) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// Close restores the device settings and closes it.
func (c *TTYConsole) Close() error {
	var err error
	c.closed.Do(func() {
		_ = c.restore()
		err = c.io.Close()
	})
	return err
}
