package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"parley/internal/core"
)

// syncBuffer collects console output while sessions write concurrently.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// recordingAudit captures audit rows in memory.
type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) RecordAction(action, channel, target, detail string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, fmt.Sprintf("%s %s:%s %s", action, channel, target, detail))
	return nil
}

func (a *recordingAudit) RecordTransfer(channel, sender, recipient, path string, size int) error {
	return nil
}

func (a *recordingAudit) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

// consoleSetup starts a live registry on ephemeral ports with a captured
// console and audit sink.
func consoleSetup(t *testing.T, capacities ...int) (*core.Registry, *syncBuffer, *recordingAudit) {
	t.Helper()
	names := []string{"common", "tech", "gaming"}
	out := &syncBuffer{}
	audit := &recordingAudit{}
	channels := make([]*core.Channel, len(capacities))
	for i, capacity := range capacities {
		channels[i] = core.NewChannel(names[i], 0, capacity)
	}
	reg := core.NewRegistry(core.NewConsole(out), audit, channels...)
	if err := reg.Start(); err != nil {
		t.Fatalf("start registry: %v", err)
	}
	t.Cleanup(reg.Shutdown)
	return reg, out, audit
}

// joinChannel connects a TCP client and waits for its welcome.
func joinChannel(t *testing.T, c *core.Channel, name string) (net.Conn, *bufio.Reader) {
	t.Helper()
	addr := fmt.Sprintf("127.0.0.1:%d", c.Addr().(*net.TCPAddr).Port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	fmt.Fprintf(conn, "%s\n", name)
	r := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadString('\n'); err != nil {
		t.Fatalf("read welcome for %s: %v", name, err)
	}
	return conn, r
}

// expectLine reads lines until one contains want.
func expectLine(t *testing.T, conn net.Conn, r *bufio.Reader, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if strings.Contains(line, want) {
			return
		}
	}
	t.Fatalf("never received %q", want)
}

// ---------------------------------------------------------------------------
// /kick
// ---------------------------------------------------------------------------

func TestConsoleKick(t *testing.T) {
	reg, out, audit := consoleSetup(t, 3)
	c := reg.Channels()[0]
	aliceConn, aliceR := joinChannel(t, c, "alice")
	bobConn, bobR := joinChannel(t, c, "bob")

	if !consoleDispatch("/kick common:alice", reg) {
		t.Fatal("kick must not stop the console loop")
	}

	if !strings.Contains(out.String(), "Kicked alice.") {
		t.Errorf("missing kick record, console %q", out.String())
	}
	if strings.Contains(out.String(), "alice has left the channel.") {
		t.Errorf("kick must suppress the leave record, console %q", out.String())
	}
	expectLine(t, bobConn, bobR, "alice has left the channel.")

	aliceConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, err := aliceR.ReadString('\n')
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			t.Errorf("kicked socket still open")
		}
		break
	}

	if got := audit.all(); len(got) != 1 || got[0] != "kick common:alice " {
		t.Errorf("audit = %v", got)
	}
}

func TestConsoleKickUnknownChannel(t *testing.T) {
	reg, out, audit := consoleSetup(t, 3)

	consoleDispatch("/kick nowhere:alice", reg)

	if !strings.Contains(out.String(), "nowhere does not exist.") {
		t.Errorf("console %q", out.String())
	}
	if len(audit.all()) != 0 {
		t.Errorf("failed kick audited: %v", audit.all())
	}
}

func TestConsoleKickAbsentUser(t *testing.T) {
	reg, out, _ := consoleSetup(t, 3)

	consoleDispatch("/kick common:ghost", reg)

	if !strings.Contains(out.String(), "ghost is not in common.") {
		t.Errorf("console %q", out.String())
	}
}

func TestConsoleKickMalformedSilent(t *testing.T) {
	reg, out, _ := consoleSetup(t, 3)

	consoleDispatch("/kick", reg)
	consoleDispatch("/kick nocolon", reg)

	if got := out.String(); got != "" {
		t.Errorf("malformed kick produced output %q", got)
	}
}

// ---------------------------------------------------------------------------
// /mute
// ---------------------------------------------------------------------------

func TestConsoleMute(t *testing.T) {
	reg, out, audit := consoleSetup(t, 3)
	c := reg.Channels()[0]
	bobConn, bobR := joinChannel(t, c, "bob")

	consoleDispatch("/mute common:bob 2", reg)

	if !strings.Contains(out.String(), "Muted bob for 2 seconds.") {
		t.Errorf("console %q", out.String())
	}
	expectLine(t, bobConn, bobR, "You have been muted for 2 seconds.")
	if got := audit.all(); len(got) != 1 || got[0] != "mute common:bob 2" {
		t.Errorf("audit = %v", got)
	}
}

func TestConsoleMuteInvalidDuration(t *testing.T) {
	reg, out, audit := consoleSetup(t, 3)
	joinChannel(t, reg.Channels()[0], "bob")

	for _, bad := range []string{"abc", "0", "-5"} {
		consoleDispatch("/mute common:bob "+bad, reg)
	}

	if got := strings.Count(out.String(), "Invalid mute time."); got != 3 {
		t.Errorf("invalid-duration records = %d, console %q", got, out.String())
	}
	if len(audit.all()) != 0 {
		t.Errorf("failed mutes audited: %v", audit.all())
	}
}

func TestConsoleMuteAbsentUser(t *testing.T) {
	reg, out, _ := consoleSetup(t, 3)

	consoleDispatch("/mute common:ghost 5", reg)

	if !strings.Contains(out.String(), "ghost is not here.") {
		t.Errorf("console %q", out.String())
	}
}

func TestConsoleMuteUnknownChannelReportsUserAbsent(t *testing.T) {
	reg, out, _ := consoleSetup(t, 3)

	consoleDispatch("/mute nowhere:bob 5", reg)

	if !strings.Contains(out.String(), "bob is not here.") {
		t.Errorf("console %q", out.String())
	}
}

// ---------------------------------------------------------------------------
// /empty and /shutdown
// ---------------------------------------------------------------------------

func TestConsoleEmpty(t *testing.T) {
	reg, out, audit := consoleSetup(t, 1)
	c := reg.Channels()[0]
	joinChannel(t, c, "alice")
	joinChannel(t, c, "bob") // queued

	consoleDispatch("/empty common", reg)

	if !strings.Contains(out.String(), "common has been emptied.") {
		t.Errorf("console %q", out.String())
	}
	if connected, queued := c.Occupancy(); connected != 0 || queued != 0 {
		t.Errorf("occupancy = %d/%d after empty", connected, queued)
	}
	if got := audit.all(); len(got) != 1 || got[0] != "empty common: " {
		t.Errorf("audit = %v", got)
	}
}

func TestConsoleEmptyUnknownChannel(t *testing.T) {
	reg, out, _ := consoleSetup(t, 1)

	consoleDispatch("/empty nowhere", reg)

	if !strings.Contains(out.String(), "nowhere does not exist.") {
		t.Errorf("console %q", out.String())
	}
}

func TestConsoleShutdown(t *testing.T) {
	reg, _, audit := consoleSetup(t, 2, 2)

	if consoleDispatch("/shutdown", reg) {
		t.Fatal("shutdown must stop the console loop")
	}
	for _, c := range reg.Channels() {
		if c.Running() {
			t.Errorf("%s still running after shutdown", c.Name())
		}
	}
	if got := audit.all(); len(got) != 1 || got[0] != "shutdown : " {
		t.Errorf("audit = %v", got)
	}
}

// ---------------------------------------------------------------------------
// RunConsole loop
// ---------------------------------------------------------------------------

func TestRunConsoleStopsAtShutdown(t *testing.T) {
	reg, out, _ := consoleSetup(t, 2)

	input := strings.NewReader("\n/kick common:ghost\n/unknown\n/shutdown\n/empty common\n")
	RunConsole(input, reg)

	if !strings.Contains(out.String(), "ghost is not in common.") {
		t.Errorf("command before shutdown skipped, console %q", out.String())
	}
	if strings.Contains(out.String(), "has been emptied.") {
		t.Errorf("command after shutdown executed, console %q", out.String())
	}
}

func TestRunConsoleEndOfInput(t *testing.T) {
	reg, _, _ := consoleSetup(t, 2)

	RunConsole(strings.NewReader("/kick common:ghost\n"), reg)
	// Reaching here means the loop ended cleanly at EOF.
	if !reg.Channels()[0].Running() {
		t.Error("EOF must not shut the server down")
	}
}
