// Package config loads the channel table that fixes the server's channel
// set for the life of the process. Any parse or validation failure is fatal
// at startup; the server never runs with a partial table.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

const (
	// MinChannels is the smallest channel table the server will run with.
	MinChannels = 3

	// MinCapacity is the smallest permitted per-channel capacity.
	MinCapacity = 5
)

// Channel is one validated row of the channel table.
type Channel struct {
	Name     string
	Port     int
	Capacity int
}

// Load reads and validates the channel table at path.
func Load(path string) ([]Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open channel table: %w", err)
	}
	defer f.Close()

	channels, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return channels, nil
}

// Parse reads a channel table from r. Each non-blank line has exactly four
// single-space-separated fields: a keyword (carried but not interpreted),
// the channel name, its TCP port, and its capacity.
func Parse(r io.Reader) ([]Channel, error) {
	var channels []Channel
	names := make(map[string]int)
	ports := make(map[int]int)

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, " ")
		if len(fields) != 4 {
			return nil, fmt.Errorf("line %d: expected 4 fields, got %d", lineNo, len(fields))
		}

		name := fields[1]
		if name == "" {
			return nil, fmt.Errorf("line %d: channel name is empty", lineNo)
		}
		if unicode.IsDigit(rune(name[0])) {
			return nil, fmt.Errorf("line %d: channel name %q starts with a digit", lineNo, name)
		}

		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: port %q is not a number", lineNo, fields[2])
		}
		if port <= 0 {
			return nil, fmt.Errorf("line %d: port %d is not positive", lineNo, port)
		}

		capacity, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: capacity %q is not a number", lineNo, fields[3])
		}
		if capacity < MinCapacity {
			return nil, fmt.Errorf("line %d: capacity %d is below the minimum of %d", lineNo, capacity, MinCapacity)
		}

		if prev, dup := names[name]; dup {
			return nil, fmt.Errorf("line %d: channel name %q already defined on line %d", lineNo, name, prev)
		}
		if prev, dup := ports[port]; dup {
			return nil, fmt.Errorf("line %d: port %d already used on line %d", lineNo, port, prev)
		}
		names[name] = lineNo
		ports[port] = lineNo

		channels = append(channels, Channel{Name: name, Port: port, Capacity: capacity})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read channel table: %w", err)
	}

	if len(channels) < MinChannels {
		return nil, fmt.Errorf("%d channel(s) defined, need at least %d", len(channels), MinChannels)
	}
	return channels, nil
}
