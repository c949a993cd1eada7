package core

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"parley/internal/protocol"
)

// departOp distinguishes why a session leaves a channel. opRemove covers
// voluntary quits, kicks, and switches; opTimeout is the idle watchdog;
// opDrop is abrupt transport loss, which the departing peer is never
// notified about.
type departOp int

const (
	opRemove departOp = iota
	opTimeout
	opDrop
)

func (op departOp) String() string {
	switch op {
	case opRemove:
		return "remove"
	case opTimeout:
		return "timeout"
	case opDrop:
		return "drop"
	}
	return "unknown"
}

// Channel owns one listening port and the membership behind it: an ordered
// connected set bounded by capacity and an unbounded FIFO waiting queue.
// Every membership transition, and every broadcast, happens under mu, so
// per channel they form a single total order.
type Channel struct {
	name     string
	port     int
	capacity int

	reg     *Registry
	console *Console
	pos     int

	afkTimeout time.Duration

	mu        sync.Mutex
	connected []*Session
	queue     []*Session
	running   bool
	ln        net.Listener
}

// NewChannel builds a stopped channel. Registering it with a Registry wires
// the console and cross-channel lookups; Start brings up the listener.
func NewChannel(name string, port, capacity int) *Channel {
	return &Channel{
		name:       name,
		port:       port,
		capacity:   capacity,
		console:    NewConsole(nil),
		afkTimeout: protocol.AFKTimeout,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Port returns the configured listen port.
func (c *Channel) Port() int { return c.port }

// Capacity returns the connected-set bound.
func (c *Channel) Capacity() int { return c.capacity }

// Addr returns the live listener address, nil before Start or after Stop.
func (c *Channel) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// Running reports whether the accept loop is live.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Occupancy returns the connected and queued counts as one locked snapshot.
func (c *Channel) Occupancy() (connected, queued int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.connected), len(c.queue)
}

// FindConnected returns the connected member with the given name. The
// result can go stale once the lock is released; callers that mutate
// membership must re-check under the lock.
func (c *Channel) FindConnected(name string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.findConnectedLocked(name)
	return s, s != nil
}

// Start binds the channel port and begins accepting connections.
func (c *Channel) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.port))
	if err != nil {
		return fmt.Errorf("channel %s: listen: %w", c.name, err)
	}
	c.mu.Lock()
	c.ln = ln
	c.running = true
	c.mu.Unlock()
	slog.Info("channel listening", "channel", c.name, "addr", ln.Addr().String(), "capacity", c.capacity)
	go c.acceptLoop(ln)
	return nil
}

func (c *Channel) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if c.Running() {
				slog.Error("accept failed", "channel", c.name, "err", err)
			}
			return
		}
		go c.handshake(conn)
	}
}

// handshake reads the username line and either admits the session or
// rejects the connection outright. Usernames must be non-blank and unique
// within the channel, counting both the connected set and the queue.
func (c *Channel) handshake(conn net.Conn) {
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}
	name := strings.TrimSpace(line)
	s := newSession(name, conn, r, c.reg)
	s.afkTimeout = c.afkTimeout
	if name == "" || !c.admit(s) {
		s.sendLine(protocol.CannotConnect(time.Now(), c.name))
		s.Close()
		slog.Debug("connection rejected", "channel", c.name, "user", name, "remote", conn.RemoteAddr().String())
		return
	}
	go s.run()
}

// admit adds a new session under the membership lock, refusing duplicate
// names and stopped channels.
func (c *Channel) admit(s *Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || c.nameExistsLocked(s.name) {
		return false
	}
	c.addLocked(s)
	return true
}

// processMembership runs one leave transition under the channel lock. It is
// idempotent: a session that is already gone — kicked, emptied, or removed
// by a racing watchdog — leaves the state untouched.
func (c *Channel) processMembership(op departOp, s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.departLocked(op, s, time.Now())
}

// addLocked runs the admission branch: welcome the session, then either
// seat it in the connected set or append it to the waiting queue with a
// position notice.
func (c *Channel) addLocked(s *Session) {
	now := time.Now()
	s.setChannel(c)
	s.sendLine(protocol.Welcome(now, c.name, s.name))
	if len(c.connected) < c.capacity {
		c.connectLocked(now, s)
		return
	}
	s.setStatus(StatusQueued)
	c.queue = append(c.queue, s)
	s.sendLine(protocol.QueuePosition(now, len(c.queue)-1))
	slog.Info("session queued", "channel", c.name, "user", s.name, "ahead", len(c.queue)-1)
}

// connectLocked seats a session in the connected set and announces it to
// the channel and the console.
func (c *Channel) connectLocked(now time.Time, s *Session) {
	s.setStatus(StatusConnected)
	s.touch()
	c.connected = append(c.connected, s)
	c.broadcastLocked(protocol.Joined(now, s.name))
	c.console.Println(protocol.JoinedChannel(now, s.name, c.name))
	slog.Info("session connected", "channel", c.name, "user", s.name, "connected", len(c.connected))
}

func (c *Channel) departLocked(op departOp, s *Session, now time.Time) {
	switch s.Status() {
	case StatusConnected:
		if !c.dropConnectedLocked(s) {
			return
		}
		s.setStatus(StatusDisconnected)
		switch op {
		case opTimeout:
			c.broadcastLocked(protocol.WentAFK(now, s.name))
			c.console.Println(protocol.WentAFK(now, s.name))
		default:
			c.broadcastLocked(protocol.Left(now, s.name))
			if !s.kicked.Load() {
				c.console.Println(protocol.Left(now, s.name))
			}
		}
		slog.Info("session departed", "channel", c.name, "user", s.name, "op", op.String())
		c.promoteLocked(now)
	case StatusQueued:
		if !c.dropQueuedLocked(s) {
			return
		}
		s.setStatus(StatusDisconnected)
		c.renumberQueueLocked(now)
		if op != opDrop {
			c.console.Println(protocol.Left(now, s.name))
		}
		slog.Info("queued session departed", "channel", c.name, "user", s.name, "op", op.String())
	}
}

// promoteLocked moves queue heads into freed capacity, re-running the full
// admission branch for each, then renumbers the remaining queue.
func (c *Channel) promoteLocked(now time.Time) {
	promoted := false
	for len(c.connected) < c.capacity && len(c.queue) > 0 {
		head := c.queue[0]
		c.queue = c.queue[1:]
		head.sendLine(protocol.Welcome(now, c.name, head.name))
		c.connectLocked(now, head)
		promoted = true
		slog.Info("session promoted", "channel", c.name, "user", head.name)
	}
	if promoted {
		c.renumberQueueLocked(now)
	}
}

func (c *Channel) renumberQueueLocked(now time.Time) {
	for i, s := range c.queue {
		s.sendLine(protocol.QueuePosition(now, i))
	}
}

func (c *Channel) dropConnectedLocked(s *Session) bool {
	for i, m := range c.connected {
		if m == s {
			c.connected = append(c.connected[:i], c.connected[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Channel) dropQueuedLocked(s *Session) bool {
	for i, m := range c.queue {
		if m == s {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Channel) findConnectedLocked(name string) *Session {
	for _, m := range c.connected {
		if m.name == name {
			return m
		}
	}
	return nil
}

func (c *Channel) nameExistsLocked(name string) bool {
	if c.findConnectedLocked(name) != nil {
		return true
	}
	for _, m := range c.queue {
		if m.name == name {
			return true
		}
	}
	return false
}

// Broadcast sends line to every connected member, serialized with
// membership changes.
func (c *Channel) Broadcast(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcastLocked(line)
}

func (c *Channel) broadcastLocked(line string) {
	for _, m := range c.connected {
		m.sendLine(line) // dead peers are reaped by their own reader loops
	}
}

// timeoutIdle removes s if it is still a connected member of this channel
// and still idle past its timeout. The re-check happens under the lock so
// a freshly handled command or a concurrent channel switch wins over the
// watchdog.
func (c *Channel) timeoutIdle(s *Session) bool {
	c.mu.Lock()
	if s.Status() != StatusConnected || s.Channel() != c || time.Since(s.LastActivity()) <= s.afkTimeout {
		c.mu.Unlock()
		return false
	}
	c.departLocked(opTimeout, s, time.Now())
	c.mu.Unlock()
	s.Close()
	return true
}

// Kick removes the named connected member and closes its socket. The leave
// broadcast still reaches the channel; the console leave record is
// suppressed because the caller logs the kick itself.
func (c *Channel) Kick(name string) bool {
	c.mu.Lock()
	s := c.findConnectedLocked(name)
	if s == nil {
		c.mu.Unlock()
		return false
	}
	s.kicked.Store(true)
	c.departLocked(opRemove, s, time.Now())
	c.mu.Unlock()
	s.Close()
	slog.Info("session kicked", "channel", c.name, "user", name)
	return true
}

// Mute opens a mute window on the named connected member and notifies it.
func (c *Channel) Mute(name string, seconds int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.findConnectedLocked(name)
	if s == nil {
		return false
	}
	now := time.Now()
	s.sendLine(protocol.MutedNotice(now, seconds))
	s.muteFor(now, seconds)
	slog.Info("session muted", "channel", c.name, "user", name, "seconds", seconds)
	return true
}

// Empty disconnects every member, queued and connected, and clears both
// lists. The listener keeps accepting; the channel continues with fresh
// membership.
func (c *Channel) Empty() {
	c.mu.Lock()
	victims := make([]*Session, 0, len(c.queue)+len(c.connected))
	victims = append(victims, c.queue...)
	victims = append(victims, c.connected...)
	for _, s := range victims {
		s.setStatus(StatusDisconnected)
	}
	c.connected = nil
	c.queue = nil
	c.mu.Unlock()
	for _, s := range victims {
		s.Close()
	}
	slog.Info("channel emptied", "channel", c.name, "sessions", len(victims))
}

// Stop ends the accept loop and disconnects every member.
func (c *Channel) Stop() {
	c.mu.Lock()
	wasRunning := c.running
	c.running = false
	ln := c.ln
	c.ln = nil
	c.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	c.Empty()
	if wasRunning {
		slog.Info("channel stopped", "channel", c.name)
	}
}
