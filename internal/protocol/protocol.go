// Package protocol defines the line formats, command verbs, and control
// tokens exchanged between the chat server, its clients, and the operator
// console. Every server-originated line is ASCII and newline-delimited;
// the only unframed bytes on the wire are relayed file-transfer payloads.
package protocol

import (
	"fmt"
	"strings"
	"time"
)

// StampLayout is the wall-clock layout embedded in every stamped line.
const StampLayout = "15:04:05"

// Command verbs accepted from chat clients.
const (
	CmdQuit    = "/quit"
	CmdWhisper = "/whisper"
	CmdList    = "/list"
	CmdSwitch  = "/switch"
	CmdSend    = "/send"
)

// Command verbs accepted on the operator console.
const (
	CmdKick     = "/kick"
	CmdMute     = "/mute"
	CmdEmpty    = "/empty"
	CmdShutdown = "/shutdown"
)

// File-transfer control tokens. TokenSendOK, TokenSendBadUser, and the
// TokenSending line travel server→client; TokenBadPath travels client→server
// in place of a payload.
const (
	TokenSendOK      = "/send_ok"
	TokenSendBadUser = "/send_bad_user"
	TokenSending     = "/sending"
	TokenBadPath     = "/bad_path"
)

func stamp(t time.Time) string {
	return t.Format(StampLayout)
}

// ServerMessage renders the standard stamped notice line.
func ServerMessage(t time.Time, text string) string {
	return fmt.Sprintf("[Server message (%s)] %s", stamp(t), text)
}

// Welcome greets a session on entry to a channel, connected or queued.
func Welcome(t time.Time, channel, user string) string {
	return ServerMessage(t, fmt.Sprintf("Welcome to the %s channel, %s.", channel, user))
}

// Joined is broadcast to a channel when a member enters the connected set.
func Joined(t time.Time, user string) string {
	return ServerMessage(t, user+" has joined the channel.")
}

// JoinedChannel is the operator-console record of a join.
func JoinedChannel(t time.Time, user, channel string) string {
	return ServerMessage(t, fmt.Sprintf("%s has joined the %s channel.", user, channel))
}

// Left is broadcast when a member departs, and logged on the console.
func Left(t time.Time, user string) string {
	return ServerMessage(t, user+" has left the channel.")
}

// WentAFK is broadcast when the idle watchdog removes a member.
func WentAFK(t time.Time, user string) string {
	return ServerMessage(t, user+" went AFK.")
}

// QueuePosition tells a waiting session how many users precede it.
func QueuePosition(t time.Time, ahead int) string {
	return ServerMessage(t, fmt.Sprintf("You are in the waiting queue and there are %d user(s) ahead of you.", ahead))
}

// CannotConnect rejects a duplicate or invalid username at the handshake.
func CannotConnect(t time.Time, channel string) string {
	return ServerMessage(t, fmt.Sprintf("Cannot connect to the %s channel.", channel))
}

// CannotSwitch refuses a channel switch that would collide on username.
func CannotSwitch(t time.Time, channel string) string {
	return ServerMessage(t, fmt.Sprintf("Cannot switch to the %s channel.", channel))
}

// NotExist reports an unknown channel name. A malformed command carries an
// empty name, preserving the doubled space.
func NotExist(t time.Time, name string) string {
	return ServerMessage(t, name+" does not exist.")
}

// NotHere reports an absent user. A malformed command carries an empty name,
// preserving the doubled space.
func NotHere(t time.Time, name string) string {
	return ServerMessage(t, name+" is not here.")
}

// StillMuted tells a muted sender how long the mute has left to run.
func StillMuted(t time.Time, seconds int) string {
	return ServerMessage(t, fmt.Sprintf("You are still muted for %d seconds.", seconds))
}

// MutedNotice tells a session it has just been muted.
func MutedNotice(t time.Time, seconds int) string {
	return ServerMessage(t, fmt.Sprintf("You have been muted for %d seconds.", seconds))
}

// Unmuted tells a session its mute window has elapsed.
func Unmuted(t time.Time) string {
	return ServerMessage(t, "You are no longer muted.")
}

// Chat renders an ordinary broadcast message.
func Chat(t time.Time, user, text string) string {
	return fmt.Sprintf("[%s (%s)] %s", user, stamp(t), text)
}

// Whisper renders the private line delivered to a whisper target.
func Whisper(t time.Time, sender, text string) string {
	return fmt.Sprintf("[%s whispers to you: (%s)] %s", sender, stamp(t), text)
}

// WhisperEcho renders the operator-console record of a whisper attempt.
func WhisperEcho(t time.Time, sender, target, text string) string {
	return fmt.Sprintf("[%s whispers to %s: (%s)] %s", sender, target, stamp(t), text)
}

// ListRow renders one channel's occupancy line for the /list command.
func ListRow(name string, connected, capacity, queued int) string {
	return fmt.Sprintf("[Channel] %s %d/%d/%d.", name, connected, capacity, queued)
}

// Sending renders the control line preceding a relayed file payload.
func Sending(path string) string {
	return TokenSending + " " + path
}

// SendingPath extracts the path from a Sending control line. The second
// return value is false when the line is not a transfer announcement.
func SendingPath(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, TokenSending+" ")
	if !ok {
		return "", false
	}
	return rest, true
}

// TransferLog is the operator-console record of a completed file transfer.
func TransferLog(t time.Time, sender, path, recipient string) string {
	return ServerMessage(t, fmt.Sprintf("%s sent %s to %s.", sender, path, recipient))
}

// Kicked is the console acknowledgement of a successful kick.
func Kicked(t time.Time, user string) string {
	return ServerMessage(t, fmt.Sprintf("Kicked %s.", user))
}

// NotInChannel reports a kick target missing from the named channel.
func NotInChannel(t time.Time, user, channel string) string {
	return ServerMessage(t, fmt.Sprintf("%s is not in %s.", user, channel))
}

// MutedLog is the console record of a successful mute.
func MutedLog(t time.Time, user string, seconds int) string {
	return ServerMessage(t, fmt.Sprintf("Muted %s for %d seconds.", user, seconds))
}

// InvalidMuteTime reports a mute duration that is not a positive integer.
func InvalidMuteTime(t time.Time) string {
	return ServerMessage(t, "Invalid mute time.")
}

// Emptied is the console acknowledgement of an emptied channel.
func Emptied(t time.Time, channel string) string {
	return ServerMessage(t, fmt.Sprintf("%s has been emptied.", channel))
}

// SentFile is the client-local notice after a successful upload.
func SentFile(t time.Time, path, user string) string {
	return ServerMessage(t, fmt.Sprintf("You sent %s to %s.", path, user))
}

// NoSuchFile is the client-local notice for an unreadable path.
func NoSuchFile(t time.Time, path string) string {
	return ServerMessage(t, path+" does not exist.")
}
