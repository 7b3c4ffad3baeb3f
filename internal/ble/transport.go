package ble

import "context"

// Transport is the radio in peripheral role.
type Transport interface {
	// Advertise blocks until a central connects or ctx ends.
	Advertise(ctx context.Context) (Conn, error)
}

// Conn is one connection from a central. Writes to the two characteristics
// arrive on separate queues so the session can poll each in turn.
type Conn interface {
	Peer() string
	Settings() <-chan []byte
	Data() <-chan []byte
	// Notify sends p on the data characteristic.
	Notify(ctx context.Context, p []byte) error
	// Done is closed when the central disconnects.
	Done() <-chan struct{}
	Close() error
}
