package core

import (
	"log/slog"
	"time"
)

// AuditSink receives a record of every administrative action and completed
// file transfer. Implemented by store.Store; tests substitute their own.
type AuditSink interface {
	RecordAction(action, channel, target, detail string) error
	RecordTransfer(channel, sender, recipient, path string, size int) error
}

type nopAudit struct{}

func (nopAudit) RecordAction(action, channel, target, detail string) error { return nil }

func (nopAudit) RecordTransfer(channel, sender, recipient, path string, size int) error {
	return nil
}

// Registry is the immutable set of channels built at startup. It owns the
// shared operator console and the audit sink, and mediates the one
// operation that spans two channels: moving a session between them.
type Registry struct {
	console  *Console
	audit    AuditSink
	channels []*Channel
	byName   map[string]*Channel
}

// NewRegistry wires the channels to a shared console and audit sink. A nil
// console writes to stdout; a nil audit discards records. Channel order is
// preserved for /list output and lock ordering.
func NewRegistry(console *Console, audit AuditSink, channels ...*Channel) *Registry {
	if console == nil {
		console = NewConsole(nil)
	}
	if audit == nil {
		audit = nopAudit{}
	}
	r := &Registry{
		console:  console,
		audit:    audit,
		channels: channels,
		byName:   make(map[string]*Channel, len(channels)),
	}
	for i, c := range channels {
		c.reg = r
		c.console = console
		c.pos = i
		r.byName[c.name] = c
	}
	return r
}

// Channels returns the channels in registration order.
func (r *Registry) Channels() []*Channel { return r.channels }

// Lookup finds a channel by name.
func (r *Registry) Lookup(name string) (*Channel, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Audit returns the configured audit sink.
func (r *Registry) Audit() AuditSink { return r.audit }

// Console returns the shared operator console.
func (r *Registry) Console() *Console { return r.console }

// ClientCount totals connected and queued sessions across all channels.
func (r *Registry) ClientCount() (connected, queued int) {
	for _, c := range r.channels {
		cc, q := c.Occupancy()
		connected += cc
		queued += q
	}
	return connected, queued
}

// Start brings up every channel listener. On failure the already started
// channels are stopped so the caller never holds a half-bound registry.
func (r *Registry) Start() error {
	for i, c := range r.channels {
		if err := c.Start(); err != nil {
			for _, started := range r.channels[:i] {
				started.Stop()
			}
			return err
		}
	}
	return nil
}

// Shutdown stops every channel and disconnects every session.
func (r *Registry) Shutdown() {
	for _, c := range r.channels {
		c.Stop()
	}
	slog.Info("registry shut down", "channels", len(r.channels))
}

// move transfers s from its current channel into target: a REMOVE from the
// old membership followed by a fresh ADD, atomic across both channels. Both
// locks are taken in registration order so concurrent opposite-direction
// switches cannot deadlock. Returns false when the target already has a
// member or waiter with the same name, or when s was disconnected by an
// admin before the locks were acquired.
func (r *Registry) move(s *Session, target *Channel) bool {
	from := s.Channel()
	if from == nil || from == target {
		// Switching to the current channel always collides with itself.
		return false
	}
	first, second := from, target
	if target.pos < from.pos {
		first, second = target, from
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	if s.Status() == StatusDisconnected {
		return false
	}
	if target.nameExistsLocked(s.name) {
		return false
	}
	from.departLocked(opRemove, s, time.Now())
	target.addLocked(s)
	slog.Info("session switched", "user", s.name, "from", from.name, "to", target.name)
	return true
}
