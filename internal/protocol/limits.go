package protocol

import "time"

// Operational limits shared by the server and the line client.
const (
	// TransferBufferSize is the single-read buffer for a relayed file
	// payload. Larger files are truncated to this size; the transfer
	// protocol has no chunking.
	TransferBufferSize = 2048

	// AFKTimeout is how long a connected session may stay idle before the
	// watchdog removes it. Queued sessions are exempt.
	AFKTimeout = 100 * time.Second

	// AFKTick is the watchdog poll interval. It bounds how late an idle
	// removal can fire after the timeout elapses.
	AFKTick = 100 * time.Millisecond
)
