package core

import "context"

// Frame is a raw binary payload exchanged with the broadcast endpoint.
type Frame []byte

// ConnHandlers receives transport callbacks. Each callback may run on an
// adapter goroutine; OnClose and OnError are mutually exclusive and final.
type ConnHandlers struct {
	OnFrame func(Frame)
	OnClose func(code int, reason string)
	OnError func(error)
}

// Conn abstracts the session transport.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	// Start begins pumping frames to the handlers.
	Start(h ConnHandlers)
	TrySend(Frame) error
	Close()
}

// Dialer opens a transport to the given URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
