package sink

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Console renders snapshots as one line per value, for headless runs.
type Console struct {
	out   io.Writer
	value *color.Color
	down  *color.Color
	lock  *color.Color
	last  int64
	seen  bool
}

// NewConsole creates a renderer writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{
		out:   out,
		value: color.New(color.FgGreen),
		down:  color.New(color.FgYellow),
		lock:  color.New(color.FgRed, color.Bold),
	}
}

// WithoutColor strips ANSI sequences from every line.
func (c *Console) WithoutColor() *Console {
	c.value.DisableColor()
	c.down.DisableColor()
	c.lock.DisableColor()
	return c
}

// Render prints the value. Decreasing runs are shown in a different color.
func (c *Console) Render(snap Snapshot) error {
	style := c.value
	if c.seen && snap.Value < c.last {
		style = c.down
	}
	c.last, c.seen = snap.Value, true
	if _, err := style.Fprintln(c.out, snap.Value); err != nil {
		return fmt.Errorf("sink: console render: %w", err)
	}
	return nil
}

// Lock prints the lockout banner.
func (c *Console) Lock() error {
	if _, err := c.lock.Fprintln(c.out, "controls locked"); err != nil {
		return fmt.Errorf("sink: console lock: %w", err)
	}
	return nil
}
