// Package controller drives one TRex session: connect, reserve ports, load
// stream profiles, start/stop traffic and read statistics.
package controller

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/tgn"
	"github.com/takehaya/trexshell/pkg/trex"
	"go.uber.org/zap"
)

// PortRef is a reservation port and the stream profile it is loaded with.
type PortRef struct {
	Name        string
	FullAddress string
	// LogicalName is the profile file name, relative to the config root.
	LogicalName string
}

type Controller struct {
	user   string
	dial   trex.Dialer
	logger *zap.Logger
}

func New(user string, dial trex.Dialer, logger *zap.Logger) *Controller {
	return &Controller{
		user:   user,
		dial:   dial,
		logger: logger,
	}
}

type resolvedPort struct {
	ref PortRef
	loc trex.Location
}

func resolve(ports []PortRef) ([]resolvedPort, error) {
	if len(ports) == 0 {
		return nil, tgn.InvalidArgument("port list", "", "at least one port")
	}
	resolved := make([]resolvedPort, 0, len(ports))
	for _, ref := range ports {
		loc, err := trex.ParseLocation(ref.FullAddress)
		if err != nil {
			return nil, errors.WithStack(&tgn.InvalidArgumentError{What: "port address", Value: ref.FullAddress})
		}
		ref.LogicalName = strings.TrimSpace(ref.LogicalName)
		if ref.LogicalName == "" {
			return nil, errors.WithStack(&tgn.InvalidArgumentError{What: "Logical Name of port " + ref.Name, Value: ""})
		}
		if len(resolved) > 0 && loc.Host != resolved[0].loc.Host {
			return nil, errors.Errorf("port %s is on %s, all ports must be on %s", ref.Name, loc.Host, resolved[0].loc.Host)
		}
		for _, r := range resolved {
			if r.loc.Port == loc.Port {
				return nil, errors.Errorf("ports %s and %s share port number %d", r.ref.Name, ref.Name, loc.Port)
			}
		}
		resolved = append(resolved, resolvedPort{ref: ref, loc: loc})
	}
	return resolved, nil
}

// LoadConfig opens a session on the host of the first port, force reserves
// all ports and loads each port with the profile named by its own logical
// name. Streams loaded before a failure stay on the appliance, but the
// connection is closed.
func (c *Controller) LoadConfig(ctx context.Context, ports []PortRef, configRoot string) (*Session, error) {
	resolved, err := resolve(ports)
	if err != nil {
		return nil, err
	}
	host := resolved[0].loc.Host

	client, err := c.dial(host, c.user)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create TRex client for %s", host)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", host)
	}

	s := &Session{
		ID:     uuid.NewString(),
		Host:   host,
		User:   c.user,
		client: client,
		state:  StateUninitialized,
	}
	s.logger = c.logger.With(zap.String("session", s.ID), zap.String("host", host))

	if err := s.load(ctx, resolved, configRoot); err != nil {
		if derr := client.Disconnect(ctx); derr != nil {
			s.logger.Warn("failed to disconnect after load failure", zap.Error(derr))
		}
		return nil, err
	}
	s.state = StateLoaded
	s.logger.Info("Port Reservation Completed", zap.Strings("ports", s.PortNames()))
	return s, nil
}

func (s *Session) load(ctx context.Context, resolved []resolvedPort, configRoot string) error {
	ids := make([]int, 0, len(resolved))
	for _, r := range resolved {
		ids = append(ids, r.loc.Port)
	}
	if err := s.client.ReservePorts(ctx, ids, true, true); err != nil {
		return errors.Wrapf(err, "failed to reserve ports %v", ids)
	}

	for _, r := range resolved {
		port, ok := s.client.Port(r.loc.Port)
		if !ok {
			return errors.Errorf("port %d was not reserved", r.loc.Port)
		}
		profile := filepath.Join(configRoot, r.ref.LogicalName)
		if err := port.RemoveAllStreams(ctx); err != nil {
			return errors.Wrapf(err, "failed to remove streams from %s", port.Name())
		}
		if err := port.LoadStreams(ctx, profile); err != nil {
			return errors.Wrapf(err, "failed to load %s on %s", profile, port.Name())
		}
		if err := port.WriteStreams(ctx); err != nil {
			return errors.Wrapf(err, "failed to write streams to %s", port.Name())
		}
		s.ports = append(s.ports, port)
		s.logger.Debug("port loaded",
			zap.String("port", port.Name()), zap.String("resource", r.ref.Name), zap.String("profile", profile))
	}
	return nil
}
