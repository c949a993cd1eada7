package core

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Console is the serialized sink for operator-facing output: join and leave
// records, chat echoes, and admin command results. This stream is part of
// the server's observable behavior; diagnostics go to slog instead.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole wraps w. A nil writer defaults to stdout.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

// Println writes one line to the console.
func (c *Console) Println(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}
