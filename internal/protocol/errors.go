package protocol

import "errors"

var (
	// ErrConnection means the session could not be established or was lost.
	ErrConnection = errors.New("protocol: connection failed")
	// ErrSend means a write did not complete.
	ErrSend = errors.New("protocol: send failed")
	// ErrReceiveTimeout means no data arrived before the read deadline.
	ErrReceiveTimeout = errors.New("protocol: receive timeout")
	// ErrPeerClosed means the peer closed the stream (zero-byte read).
	ErrPeerClosed = errors.New("protocol: peer closed connection")
	// ErrNotOpen is returned for I/O on a transport that is not open.
	ErrNotOpen = errors.New("protocol: transport not open")
)
