// Package trex describes the TRex client the controller drives. The wire
// protocol lives behind Client; this package only fixes the contract.
package trex

import (
	"context"
)

// View selects which statistics reader is used.
type View string

const (
	ViewPort   View = "Port"
	ViewStream View = "Stream"
)

// Views are the statistics views in the order they are reported to users.
var Views = []View{ViewPort, ViewStream}

// Client is a single controller connection to a TRex server.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// ReservePorts acquires the given port numbers. force evicts other
	// owners, reset clears streams and counters of the acquired ports.
	ReservePorts(ctx context.Context, ports []int, force, reset bool) error

	// Port returns a reserved port by number.
	Port(id int) (Port, bool)

	// ClearStats resets the counters of all reserved ports.
	ClearStats(ctx context.Context) error

	// StartTransmit starts all reserved ports. With blocking set it returns
	// once the appliance reports that traffic generation is complete.
	StartTransmit(ctx context.Context, blocking bool) error
	StopTransmit(ctx context.Context) error

	// ReadStats returns a fresh snapshot for the view.
	ReadStats(ctx context.Context, view View) (Snapshot, error)
}

// Port is a reserved TRex port.
type Port interface {
	ID() int
	Name() string
	RemoveAllStreams(ctx context.Context) error
	// LoadStreams stages the streams of a profile file; WriteStreams commits
	// them to the port.
	LoadStreams(ctx context.Context, path string) error
	WriteStreams(ctx context.Context) error
}

// Dialer creates a client for a TRex server reachable at host. The client is
// not yet connected.
type Dialer func(host, user string) (Client, error)
