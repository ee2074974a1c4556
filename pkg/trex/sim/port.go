package sim

import (
	"context"

	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/trex"
	"go.uber.org/zap"
)

// Port is a reserved port handle of a Client.
type Port struct {
	client *Client
	id     int
}

var _ trex.Port = (*Port)(nil)

func (p *Port) ID() int { return p.id }

func (p *Port) Name() string { return portName(p.id) }

// state returns the port state if the client still owns it. Caller holds
// app.mu.
func (p *Port) state() (*portState, error) {
	if !p.client.connected {
		return nil, errors.New("client is not connected")
	}
	st := p.client.app.ports[p.id]
	if st.owner != p.client.user {
		return nil, errors.Errorf("port %d is not owned by %s", p.id, p.client.user)
	}
	return st, nil
}

func (p *Port) RemoveAllStreams(ctx context.Context) error {
	app := p.client.app
	app.mu.Lock()
	defer app.mu.Unlock()
	st, err := p.state()
	if err != nil {
		return err
	}
	app.fold(st, app.clock.Now())
	if st.transmitting() {
		return errors.Errorf("port %d is transmitting", p.id)
	}
	st.running = nil
	st.staged = nil
	st.active = nil
	st.streamCounters = map[string]*streamCounters{}
	return nil
}

func (p *Port) LoadStreams(ctx context.Context, path string) error {
	streams, err := loadProfile(path)
	if err != nil {
		return err
	}

	app := p.client.app
	app.mu.Lock()
	defer app.mu.Unlock()
	st, err := p.state()
	if err != nil {
		return err
	}
	st.staged = streams
	app.logger.Debug("streams staged",
		zap.Int("port", p.id), zap.String("profile", path), zap.Int("streams", len(streams)))
	return nil
}

func (p *Port) WriteStreams(ctx context.Context) error {
	app := p.client.app
	app.mu.Lock()
	defer app.mu.Unlock()
	st, err := p.state()
	if err != nil {
		return err
	}
	if st.staged == nil {
		return errors.Errorf("port %d has no loaded streams to write", p.id)
	}
	st.active = append(st.active, st.staged...)
	st.staged = nil
	return nil
}
