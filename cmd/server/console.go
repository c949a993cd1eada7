package main

import (
	"bufio"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"parley/internal/core"
	"parley/internal/protocol"
)

// RunConsole reads operator commands until /shutdown or end of input.
// Commands act on live channels through the registry; results are printed
// on the shared console so they interleave cleanly with chat echoes.
func RunConsole(r io.Reader, reg *core.Registry) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !consoleDispatch(line, reg) {
			return
		}
	}
	if err := sc.Err(); err != nil {
		slog.Error("console read failed", "err", err)
	}
}

// consoleDispatch runs one operator command. Returns false once the server
// has been shut down. Malformed commands are ignored.
func consoleDispatch(line string, reg *core.Registry) bool {
	tokens := strings.Split(line, " ")
	switch tokens[0] {
	case protocol.CmdKick:
		if len(tokens) >= 2 {
			consoleKick(reg, tokens[1])
		}
	case protocol.CmdMute:
		if len(tokens) >= 3 {
			consoleMute(reg, tokens[1], tokens[2])
		}
	case protocol.CmdEmpty:
		if len(tokens) >= 2 {
			consoleEmpty(reg, tokens[1])
		}
	case protocol.CmdShutdown:
		reg.Shutdown()
		if err := reg.Audit().RecordAction("shutdown", "", "", ""); err != nil {
			slog.Error("audit write failed", "action", "shutdown", "err", err)
		}
		return false
	default:
		slog.Debug("unknown console command", "line", line)
	}
	return true
}

// consoleKick handles "/kick <channel>:<user>".
func consoleKick(reg *core.Registry, arg string) {
	channel, user, ok := strings.Cut(arg, ":")
	if !ok {
		return
	}
	now := time.Now()
	c, ok := reg.Lookup(channel)
	if !ok {
		reg.Console().Println(protocol.NotExist(now, channel))
		return
	}
	if !c.Kick(user) {
		reg.Console().Println(protocol.NotInChannel(now, user, channel))
		return
	}
	reg.Console().Println(protocol.Kicked(now, user))
	if err := reg.Audit().RecordAction("kick", channel, user, ""); err != nil {
		slog.Error("audit write failed", "action", "kick", "err", err)
	}
}

// consoleMute handles "/mute <channel>:<user> <seconds>". The duration is
// validated before the target is resolved; an unknown channel reports the
// user as absent.
func consoleMute(reg *core.Registry, arg, secondsArg string) {
	channel, user, ok := strings.Cut(arg, ":")
	if !ok {
		return
	}
	now := time.Now()
	seconds, err := strconv.Atoi(secondsArg)
	if err != nil || seconds <= 0 {
		reg.Console().Println(protocol.InvalidMuteTime(now))
		return
	}
	c, ok := reg.Lookup(channel)
	if !ok {
		reg.Console().Println(protocol.NotHere(now, user))
		return
	}
	if !c.Mute(user, seconds) {
		reg.Console().Println(protocol.NotHere(now, user))
		return
	}
	reg.Console().Println(protocol.MutedLog(now, user, seconds))
	if err := reg.Audit().RecordAction("mute", channel, user, strconv.Itoa(seconds)); err != nil {
		slog.Error("audit write failed", "action", "mute", "err", err)
	}
}

// consoleEmpty handles "/empty <channel>".
func consoleEmpty(reg *core.Registry, channel string) {
	now := time.Now()
	c, ok := reg.Lookup(channel)
	if !ok {
		reg.Console().Println(protocol.NotExist(now, channel))
		return
	}
	c.Empty()
	reg.Console().Println(protocol.Emptied(now, channel))
	if err := reg.Audit().RecordAction("empty", channel, "", ""); err != nil {
		slog.Error("audit write failed", "action", "empty", "err", err)
	}
}
