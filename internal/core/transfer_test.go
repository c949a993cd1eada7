package core

import (
	"strings"
	"testing"
)

func TestTransferHappyPath(t *testing.T) {
	reg, console, audit := newTestRegistry(3)
	c := reg.Channels()[0]
	s1, m1 := join(t, c, "u1")
	_, m2 := join(t, c, "u2")

	m1.feed("file contents here")
	if err := s1.handleTransfer([]string{"/send", "u2", "notes.txt"}); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}

	if !strings.Contains(m1.output(), "/send_ok\n") {
		t.Errorf("sender never received the go-ahead, got %q", m1.output())
	}
	if !strings.HasSuffix(m2.output(), "/sending notes.txt\nfile contents here") {
		t.Errorf("recipient stream must end with control line then payload, got %q", m2.output())
	}
	if !strings.Contains(console.String(), "u1 sent notes.txt to u2.") {
		t.Errorf("transfer not logged, console %q", console.String())
	}
	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.transfers) != 1 || audit.transfers[0] != "common u1>u2 notes.txt 18" {
		t.Errorf("audit transfers = %v", audit.transfers)
	}
}

func TestTransferToAbsentPeer(t *testing.T) {
	reg, _, audit := newTestRegistry(3)
	c := reg.Channels()[0]
	s1, m1 := join(t, c, "u1")

	if err := s1.handleTransfer([]string{"/send", "ghost", "notes.txt"}); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}
	if !strings.Contains(m1.output(), "/send_bad_user\n") {
		t.Errorf("bad-user token missing, got %q", m1.output())
	}
	if strings.Contains(m1.output(), "/send_ok") {
		t.Errorf("go-ahead sent for an absent recipient")
	}
	if audit.transferCount() != 0 {
		t.Errorf("audit recorded a failed transfer")
	}
}

func TestTransferMalformed(t *testing.T) {
	reg, _, _ := newTestRegistry(3)
	c := reg.Channels()[0]
	s1, m1 := join(t, c, "u1")

	if err := s1.handleTransfer([]string{"/send", "u2"}); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}
	if !strings.Contains(m1.output(), "/send_bad_user\n") {
		t.Errorf("short command must answer bad-user, got %q", m1.output())
	}
}

func TestTransferBadPathAborts(t *testing.T) {
	reg, console, audit := newTestRegistry(3)
	c := reg.Channels()[0]
	s1, m1 := join(t, c, "u1")
	_, m2 := join(t, c, "u2")

	m1.feed("/bad_path")
	if err := s1.handleTransfer([]string{"/send", "u2", "missing.txt"}); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}

	if !strings.Contains(m1.output(), "/send_ok\n") {
		t.Errorf("go-ahead must precede the path failure, got %q", m1.output())
	}
	if strings.Contains(m2.output(), "/sending") {
		t.Errorf("aborted transfer reached the recipient")
	}
	if strings.Contains(console.String(), "sent") {
		t.Errorf("aborted transfer logged, console %q", console.String())
	}
	if audit.transferCount() != 0 {
		t.Errorf("audit recorded an aborted transfer")
	}
}

func TestTransferRecipientGoneDropsSilently(t *testing.T) {
	reg, console, audit := newTestRegistry(3)
	c := reg.Channels()[0]
	s1, m1 := join(t, c, "u1")
	s2, m2 := join(t, c, "u2")

	done := make(chan error, 1)
	go func() { done <- s1.handleTransfer([]string{"/send", "u2", "notes.txt"}) }()
	waitFor(t, "go-ahead", func() bool { return strings.Contains(m1.output(), "/send_ok\n") })

	c.processMembership(opRemove, s2)
	m1.feed("payload")

	if err := <-done; err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}
	if strings.Contains(m2.output(), "/sending") {
		t.Errorf("payload delivered to a departed recipient")
	}
	if strings.Contains(console.String(), "u1 sent") {
		t.Errorf("dropped transfer logged, console %q", console.String())
	}
	if audit.transferCount() != 0 {
		t.Errorf("audit recorded a dropped transfer")
	}
}

func TestTransferSenderLostMidPayload(t *testing.T) {
	reg, _, _ := newTestRegistry(3)
	c := reg.Channels()[0]
	s1, m1 := join(t, c, "u1")
	join(t, c, "u2")

	done := make(chan error, 1)
	go func() { done <- s1.handleTransfer([]string{"/send", "u2", "notes.txt"}) }()
	waitFor(t, "go-ahead", func() bool { return strings.Contains(m1.output(), "/send_ok\n") })

	m1.Close()

	if err := <-done; err == nil {
		t.Fatalf("lost sender must surface a transport error")
	}
}

func TestTransferFromQueueIgnored(t *testing.T) {
	reg, _, _ := newTestRegistry(1)
	c := reg.Channels()[0]
	join(t, c, "u1")
	s2, m2 := join(t, c, "u2") // queued

	before := m2.output()
	if err := s2.handleTransfer([]string{"/send", "u1", "notes.txt"}); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}
	if got := m2.output(); got != before {
		t.Errorf("queued transfer produced output %q", got[len(before):])
	}
}

func TestTransferPayloadTruncatedToBuffer(t *testing.T) {
	reg, _, audit := newTestRegistry(3)
	c := reg.Channels()[0]
	s1, m1 := join(t, c, "u1")
	_, m2 := join(t, c, "u2")

	big := strings.Repeat("x", 3000)
	m1.feed(big)
	if err := s1.handleTransfer([]string{"/send", "u2", "big.txt"}); err != nil {
		t.Fatalf("handleTransfer: %v", err)
	}

	want := "/sending big.txt\n" + big[:2048]
	if !strings.HasSuffix(m2.output(), want) {
		t.Errorf("payload not truncated to the transfer buffer")
	}
	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.transfers) != 1 || !strings.HasSuffix(audit.transfers[0], " 2048") {
		t.Errorf("audit transfers = %v", audit.transfers)
	}
}

func TestRelayFileToUnknownRecipient(t *testing.T) {
	reg, _, _ := newTestRegistry(3)
	c := reg.Channels()[0]
	join(t, c, "u1")

	if c.relayFile("ghost", "notes.txt", []byte("data")) {
		t.Fatalf("relay to an unknown recipient succeeded")
	}
}
