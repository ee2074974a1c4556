package controller

import (
	"context"

	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/tgn"
	"github.com/takehaya/trexshell/pkg/trex"
	"go.uber.org/zap"
)

type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoaded:
		return "loaded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is a loaded TRex session. It is not safe for concurrent use.
type Session struct {
	ID   string
	Host string
	User string

	client trex.Client
	ports  []trex.Port
	state  State
	logger *zap.Logger
}

func (s *Session) State() State { return s.state }

// PortNames returns the names of the loaded ports, in load order.
func (s *Session) PortNames() []string {
	names := make([]string, 0, len(s.ports))
	for _, p := range s.ports {
		names = append(names, p.Name())
	}
	return names
}

func (s *Session) ensureLoaded(op string) error {
	if s == nil {
		return tgn.Lifecycle("%s: no active session, run load_config first", op)
	}
	if s.state != StateLoaded {
		return tgn.Lifecycle("%s: session %s is %s", op, s.ID, s.state)
	}
	return nil
}

// StartTraffic clears the port counters and starts all ports.
func (s *Session) StartTraffic(ctx context.Context, blocking bool) error {
	if err := s.ensureLoaded("start_traffic"); err != nil {
		return err
	}
	if err := s.client.ClearStats(ctx); err != nil {
		return errors.Wrap(err, "failed to clear statistics")
	}
	s.logger.Info("starting traffic", zap.Bool("blocking", blocking))
	if err := s.client.StartTransmit(ctx, blocking); err != nil {
		return errors.Wrap(err, "failed to start traffic")
	}
	return nil
}

func (s *Session) StopTraffic(ctx context.Context) error {
	if err := s.ensureLoaded("stop_traffic"); err != nil {
		return err
	}
	if err := s.client.StopTransmit(ctx); err != nil {
		return errors.Wrap(err, "failed to stop traffic")
	}
	s.logger.Info("traffic stopped")
	return nil
}

// Statistics reads a fresh snapshot of the view.
func (s *Session) Statistics(ctx context.Context, view trex.View) (trex.Snapshot, error) {
	if err := s.ensureLoaded("get_statistics"); err != nil {
		return nil, err
	}
	snap, err := s.client.ReadStats(ctx, view)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s statistics", view)
	}
	return snap, nil
}

// Close disconnects the session. Only the first call disconnects, later ones
// and calls on a nil session are no-ops.
func (s *Session) Close(ctx context.Context) error {
	if s == nil || s.state != StateLoaded {
		return nil
	}
	s.state = StateClosed
	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Wrapf(err, "failed to disconnect from %s", s.Host)
	}
	s.logger.Info("session closed")
	return nil
}
