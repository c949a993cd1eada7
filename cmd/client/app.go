package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"parley/internal/protocol"
)

// App is the interactive chat client: one loop relays terminal lines to
// the server, the other prints server traffic, and the file-transfer
// control tokens are handled in both directions. Keep this struct thin —
// the server owns all chat state; the client only remembers the last
// /send it issued so the follow-up token can be answered.
type App struct {
	conn io.ReadWriteCloser
	r    *bufio.Reader
	in   io.Reader
	out  io.Writer
	dir  string // received files land here

	mu       sync.Mutex
	sendUser string
	sendPath string

	closeOnce sync.Once
}

// NewApp wires a connected transport to the given terminal streams.
func NewApp(conn io.ReadWriteCloser, in io.Reader, out io.Writer) *App {
	return &App{
		conn: conn,
		r:    bufio.NewReader(conn),
		in:   in,
		out:  out,
		dir:  ".",
	}
}

// Run introduces the session with username and pumps both directions until
// the peer disconnects, the user quits, or the terminal input ends.
func (a *App) Run(username string) error {
	if _, err := fmt.Fprintf(a.conn, "%s\n", username); err != nil {
		return fmt.Errorf("send username: %w", err)
	}
	errCh := make(chan error, 2)
	go a.readLoop(errCh)
	go a.writeLoop(errCh)
	err := <-errCh
	a.close()
	return err
}

func (a *App) close() {
	a.closeOnce.Do(func() { a.conn.Close() })
}

// writeLoop relays terminal lines to the server. Empty lines are skipped;
// the wire reserves them for disconnection. A /send is remembered so the
// server's answer token can be matched to its user and path.
func (a *App) writeLoop(errCh chan<- error) {
	sc := bufio.NewScanner(a.in)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		tokens := strings.Split(line, " ")
		if tokens[0] == protocol.CmdSend && len(tokens) >= 3 {
			a.setPending(tokens[1], tokens[2])
		}
		if _, err := fmt.Fprintf(a.conn, "%s\n", line); err != nil {
			errCh <- fmt.Errorf("send line: %w", err)
			return
		}
		if tokens[0] == protocol.CmdQuit {
			errCh <- nil
			return
		}
	}
	errCh <- sc.Err()
}

// readLoop prints server lines and dispatches transfer control tokens.
func (a *App) readLoop(errCh chan<- error) {
	for {
		line, err := a.r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				errCh <- nil
			} else {
				errCh <- err
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == protocol.TokenSendOK:
			a.uploadPending()
		case line == protocol.TokenSendBadUser:
			a.reportBadUser()
		default:
			if path, ok := protocol.SendingPath(line); ok {
				a.receiveFile(path)
			} else {
				fmt.Fprintln(a.out, line)
			}
		}
	}
}

func (a *App) setPending(user, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sendUser, a.sendPath = user, path
}

func (a *App) pending() (user, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sendUser, a.sendPath
}

// uploadPending answers a /send_ok: the whole file goes up in one write,
// or /bad_path takes its place when the path cannot be read.
func (a *App) uploadPending() {
	user, path := a.pending()
	now := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		io.WriteString(a.conn, protocol.TokenBadPath)
		fmt.Fprintln(a.out, protocol.NoSuchFile(now, path))
		return
	}
	if _, err := a.conn.Write(data); err != nil {
		log.Printf("[client] upload %s: %v", path, err)
		return
	}
	fmt.Fprintln(a.out, protocol.SentFile(now, path, user))
}

// reportBadUser answers a /send_bad_user: the recipient is absent, and the
// local path is still opened so a bad path is reported in the same breath.
func (a *App) reportBadUser() {
	user, path := a.pending()
	now := time.Now()
	fmt.Fprintln(a.out, protocol.NotHere(now, user))
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintln(a.out, protocol.NoSuchFile(now, path))
		return
	}
	f.Close()
}

// receiveFile reads the raw payload that follows a /sending line and
// writes it under the announced name, directories stripped.
func (a *App) receiveFile(path string) {
	buf := make([]byte, protocol.TransferBufferSize)
	n, err := a.r.Read(buf)
	if err != nil {
		return // the main loop surfaces the dead connection
	}
	name := filepath.Base(path)
	if err := os.WriteFile(filepath.Join(a.dir, name), buf[:n], 0o644); err != nil {
		log.Printf("[client] write %s: %v", name, err)
	}
}
