// Command client is the line-oriented chat client. It dials a channel
// port on the local host, introduces itself with the given username, and
// then relays terminal input to the server while printing everything the
// server sends back. File-transfer control tokens are handled in place;
// received files are written to the current directory.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: client <port> <username>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}
	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil || port <= 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "client: invalid port %q\n", flag.Arg(0))
		os.Exit(2)
	}
	username := flag.Arg(1)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	app := NewApp(conn, os.Stdin, os.Stdout)
	if err := app.Run(username); err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}
