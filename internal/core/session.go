package core

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"parley/internal/protocol"
)

// SendTimeout bounds how long a write to one peer may block. Notices are
// sent while the channel lock is held, so a wedged socket must not be able
// to stall the whole channel.
const SendTimeout = 5 * time.Second

// Status is a session's membership state within its channel.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusQueued
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusQueued:
		return "queued"
	case StatusConnected:
		return "connected"
	}
	return "unknown"
}

// Conn is the transport a session reads and writes. *net.TCPConn satisfies
// it; tests substitute an in-memory implementation.
type Conn interface {
	io.ReadWriteCloser
	SetWriteDeadline(t time.Time) error
}

// Session is one client connection's server-side state. The membership
// fields (status, channel back-reference) are written under the owning
// channel's lock; the activity and mute stamps are atomics because the
// watchdog and mute timer read them without the lock.
type Session struct {
	name string
	conn Conn
	r    *bufio.Reader
	reg  *Registry

	channel atomic.Pointer[Channel]
	status  atomic.Int32
	kicked  atomic.Bool

	mutedUntil   atomic.Int64 // unix nanos; zero while unmuted
	lastActivity atomic.Int64 // unix nanos

	afkTimeout time.Duration

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// newSession builds a session around an established transport. The reader
// may already hold buffered bytes from the username handshake; passing nil
// allocates a fresh one.
func newSession(name string, conn Conn, r *bufio.Reader, reg *Registry) *Session {
	if r == nil {
		r = bufio.NewReader(conn)
	}
	s := &Session{
		name:       name,
		conn:       conn,
		r:          r,
		reg:        reg,
		afkTimeout: protocol.AFKTimeout,
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Name returns the username the session connected with.
func (s *Session) Name() string { return s.name }

// Status returns the current membership state.
func (s *Session) Status() Status { return Status(s.status.Load()) }

func (s *Session) setStatus(st Status) { s.status.Store(int32(st)) }

// Channel returns the session's current channel, nil before admission.
func (s *Session) Channel() *Channel { return s.channel.Load() }

func (s *Session) setChannel(c *Channel) { s.channel.Store(c) }

// LastActivity returns the time of the last handled command.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() { s.lastActivity.Store(time.Now().UnixNano()) }

// Muted reports whether the session's mute window covers now.
func (s *Session) Muted(now time.Time) bool {
	return s.mutedUntil.Load() > now.UnixNano()
}

// muteRemaining returns the whole seconds left in the mute window.
func (s *Session) muteRemaining(now time.Time) int {
	d := time.Duration(s.mutedUntil.Load() - now.UnixNano())
	return int(d.Round(time.Second) / time.Second)
}

// muteFor opens a mute window of the given length. Mute time must not count
// toward the idle clock, so the activity stamp is pushed forward by the
// same amount. The expiry timer clears the window and tells the peer; a
// newer mute supersedes the deadline and orphans the old timer.
func (s *Session) muteFor(now time.Time, seconds int) {
	d := time.Duration(seconds) * time.Second
	deadline := now.Add(d).UnixNano()
	s.mutedUntil.Store(deadline)
	s.lastActivity.Add(int64(d))
	time.AfterFunc(d, func() {
		if s.mutedUntil.CompareAndSwap(deadline, 0) {
			s.sendLine(protocol.Unmuted(time.Now()))
		}
	})
}

// sendLine writes one newline-terminated message. The error is advisory:
// cleanup of a dead peer belongs to that peer's own reader loop, so every
// caller is free to ignore it.
func (s *Session) sendLine(line string) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(SendTimeout))
	_, err := io.WriteString(s.conn, line+"\n")
	return err
}

// Close shuts the transport. Safe to call from any goroutine, repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() { s.conn.Close() })
}

// run is the session receive loop: read a line, dispatch it, refresh the
// activity stamp. It exits when the peer quits, the transport fails, or an
// administrator closes the connection.
func (s *Session) run() {
	go s.watchAFK()
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			s.depart(opDrop)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			// An empty line means the peer is gone.
			s.depart(opDrop)
			return
		}
		quit, err := s.dispatch(line)
		if err != nil {
			s.depart(opDrop)
			return
		}
		if quit {
			s.depart(opRemove)
			return
		}
		if !s.Muted(time.Now()) {
			s.touch()
		}
	}
}

// depart runs a leave transition against the current channel and closes the
// transport. Only the session's own reader loop calls it, so it cannot race
// a concurrent switch of the same session.
func (s *Session) depart(op departOp) {
	if c := s.Channel(); c != nil {
		c.processMembership(op, s)
	}
	s.Close()
}

func (s *Session) dispatch(line string) (quit bool, err error) {
	tokens := strings.Split(line, " ")
	switch tokens[0] {
	case protocol.CmdQuit:
		return true, nil
	case protocol.CmdWhisper:
		s.handleWhisper(tokens)
	case protocol.CmdList:
		s.handleList()
	case protocol.CmdSwitch:
		s.handleSwitch(tokens)
	case protocol.CmdSend:
		err = s.handleTransfer(tokens)
	default:
		s.handleChat(line)
	}
	return false, err
}

func (s *Session) handleWhisper(tokens []string) {
	if s.Status() != StatusConnected {
		return
	}
	now := time.Now()
	if s.Muted(now) {
		s.sendLine(protocol.StillMuted(now, s.muteRemaining(now)))
		return
	}
	if len(tokens) < 2 {
		s.sendLine(protocol.NotHere(now, ""))
		return
	}
	name := tokens[1]
	text := strings.Join(tokens[2:], " ")
	c := s.Channel()
	peer, ok := c.FindConnected(name)
	c.console.Println(protocol.WhisperEcho(now, s.name, name, text))
	if !ok {
		s.sendLine(protocol.NotHere(now, name))
		return
	}
	peer.sendLine(protocol.Whisper(now, s.name, text))
}

func (s *Session) handleList() {
	if s.reg == nil {
		return
	}
	for _, c := range s.reg.Channels() {
		connected, queued := c.Occupancy()
		s.sendLine(protocol.ListRow(c.Name(), connected, c.Capacity(), queued))
	}
}

func (s *Session) handleSwitch(tokens []string) {
	now := time.Now()
	if len(tokens) != 2 {
		s.sendLine(protocol.NotExist(now, ""))
		return
	}
	if s.reg == nil {
		return
	}
	target, ok := s.reg.Lookup(tokens[1])
	if !ok {
		s.sendLine(protocol.NotExist(now, tokens[1]))
		return
	}
	if !s.reg.move(s, target) {
		s.sendLine(protocol.CannotSwitch(now, target.Name()))
	}
}

func (s *Session) handleChat(line string) {
	if s.Status() != StatusConnected {
		return
	}
	now := time.Now()
	if s.Muted(now) {
		s.sendLine(protocol.StillMuted(now, s.muteRemaining(now)))
		return
	}
	c := s.Channel()
	msg := protocol.Chat(now, s.name, line)
	c.Broadcast(msg)
	c.console.Println(msg)
}

// watchAFK polls the activity stamp and removes the session once it has
// been idle past the timeout. Queued sessions wait indefinitely; promotion
// refreshes the clock. The final idle decision is re-taken under the
// channel lock so a just-handled command or a channel switch cannot be
// raced into a false removal.
func (s *Session) watchAFK() {
	ticker := time.NewTicker(protocol.AFKTick)
	defer ticker.Stop()
	for range ticker.C {
		switch s.Status() {
		case StatusDisconnected:
			return
		case StatusQueued:
			continue
		}
		if time.Since(s.LastActivity()) <= s.afkTimeout {
			continue
		}
		c := s.Channel()
		if c != nil && c.timeoutIdle(s) {
			slog.Info("session idle timeout", "channel", c.Name(), "user", s.name)
			return
		}
	}
}
