package core

import (
	"fmt"
	"log/slog"
	"time"

	"parley/internal/protocol"
)

// handleTransfer mediates a file handoff from this session to a named peer
// in the same channel. Three legs: the sender is told /send_ok (or
// /send_bad_user), the sender uploads the raw payload in a single buffer,
// and the recipient receives a "/sending <path>" control line followed by
// the payload. Best effort: no acknowledgement from the recipient, and a
// recipient that departs mid-transfer drops the payload silently.
func (s *Session) handleTransfer(tokens []string) error {
	if s.Status() != StatusConnected {
		return nil
	}
	c := s.Channel()
	if c == nil {
		return nil
	}
	if len(tokens) < 3 {
		s.sendLine(protocol.TokenSendBadUser)
		return nil
	}
	name, path := tokens[1], tokens[2]
	if _, ok := c.FindConnected(name); !ok {
		s.sendLine(protocol.TokenSendBadUser)
		return nil
	}
	if err := s.sendLine(protocol.TokenSendOK); err != nil {
		return fmt.Errorf("transfer handshake: %w", err)
	}
	buf := make([]byte, protocol.TransferBufferSize)
	n, err := s.r.Read(buf)
	if err != nil {
		return fmt.Errorf("transfer payload: %w", err)
	}
	payload := buf[:n]
	if string(payload) == protocol.TokenBadPath {
		slog.Debug("transfer aborted, unreadable path", "channel", c.Name(), "user", s.name, "path", path)
		return nil
	}
	if !c.relayFile(name, path, payload) {
		slog.Debug("transfer dropped, recipient gone", "channel", c.Name(), "user", s.name, "to", name)
		return nil
	}
	c.console.Println(protocol.TransferLog(time.Now(), s.name, path, name))
	if s.reg != nil {
		if err := s.reg.audit.RecordTransfer(c.Name(), s.name, name, path, len(payload)); err != nil {
			slog.Error("audit write failed", "action", "transfer", "err", err)
		}
	}
	slog.Info("file relayed", "channel", c.Name(), "from", s.name, "to", name, "path", path, "bytes", len(payload))
	return nil
}

// relayFile delivers a transfer to the named recipient if it is still a
// connected member. The lookup and the write share one critical section so
// the recipient cannot depart between them.
func (c *Channel) relayFile(recipient, path string, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.findConnectedLocked(recipient)
	if r == nil {
		return false
	}
	r.sendTransfer(path, payload)
	return true
}

// sendTransfer writes the transfer control line and the raw payload under
// one lock acquisition so no broadcast can land between them. The payload
// carries no terminator; the receiving client reads it as a single buffer.
func (s *Session) sendTransfer(path string, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(SendTimeout))
	if _, err := s.conn.Write([]byte(protocol.Sending(path) + "\n")); err != nil {
		slog.Debug("transfer control write failed", "user", s.name, "err", err)
		return err
	}
	if _, err := s.conn.Write(payload); err != nil {
		slog.Debug("transfer payload write failed", "user", s.name, "err", err)
		return err
	}
	return nil
}
