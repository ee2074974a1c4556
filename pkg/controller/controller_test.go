package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/takehaya/trexshell/pkg/tgn"
	"github.com/takehaya/trexshell/pkg/trex"
	"github.com/takehaya/trexshell/pkg/trex/sim"
	"go.uber.org/zap"
)

type mockClient struct {
	mock.Mock
	ports map[int]*mockPort
}

func (m *mockClient) Connect(ctx context.Context) error    { return m.Called().Error(0) }
func (m *mockClient) Disconnect(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockClient) ReservePorts(ctx context.Context, ports []int, force, reset bool) error {
	return m.Called(ports, force, reset).Error(0)
}
func (m *mockClient) Port(id int) (trex.Port, bool) {
	p, ok := m.ports[id]
	if !ok {
		return nil, false
	}
	return p, true
}
func (m *mockClient) ClearStats(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockClient) StartTransmit(ctx context.Context, blocking bool) error {
	return m.Called(blocking).Error(0)
}
func (m *mockClient) StopTransmit(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockClient) ReadStats(ctx context.Context, view trex.View) (trex.Snapshot, error) {
	args := m.Called(view)
	snap, _ := args.Get(0).(trex.Snapshot)
	return snap, args.Error(1)
}

type mockPort struct {
	mock.Mock
	id int
}

func (p *mockPort) ID() int      { return p.id }
func (p *mockPort) Name() string { return fmt.Sprintf("server/port%d", p.id) }
func (p *mockPort) RemoveAllStreams(ctx context.Context) error {
	return p.Called().Error(0)
}
func (p *mockPort) LoadStreams(ctx context.Context, path string) error {
	return p.Called(path).Error(0)
}
func (p *mockPort) WriteStreams(ctx context.Context) error { return p.Called().Error(0) }

func newMockClient(ids ...int) *mockClient {
	c := &mockClient{ports: map[int]*mockPort{}}
	for _, id := range ids {
		c.ports[id] = &mockPort{id: id}
	}
	return c
}

func dialerFor(c trex.Client, gotHost, gotUser *string) trex.Dialer {
	return func(host, user string) (trex.Client, error) {
		*gotHost, *gotUser = host, user
		return c, nil
	}
}

func expectLoad(p *mockPort, path string) {
	mock.InOrder(
		p.On("RemoveAllStreams").Return(nil).Once(),
		p.On("LoadStreams", path).Return(nil).Once(),
		p.On("WriteStreams").Return(nil).Once(),
	)
}

func TestLoadConfigPairsPortsWithOwnLogicalName(t *testing.T) {
	ctx := context.Background()
	client := newMockClient(0, 1)
	client.On("Connect").Return(nil).Once()
	client.On("ReservePorts", []int{1, 0}, true, true).Return(nil).Once()
	expectLoad(client.ports[1], filepath.Join("/configs", "second.yaml"))
	expectLoad(client.ports[0], filepath.Join("/configs", "first.yaml"))

	var host, user string
	c := New("trex", dialerFor(client, &host, &user), zap.NewNop())
	s, err := c.LoadConfig(ctx, []PortRef{
		{Name: "trex/M1/P1", FullAddress: "10.0.0.1/M1/P1", LogicalName: " second.yaml "},
		{Name: "trex/M1/P0", FullAddress: "10.0.0.1/M1/P0", LogicalName: "first.yaml"},
	}, "/configs")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", host)
	assert.Equal(t, "trex", user)
	assert.Equal(t, StateLoaded, s.State())
	assert.Equal(t, []string{"server/port1", "server/port0"}, s.PortNames())
	assert.NotEmpty(t, s.ID)
	client.AssertExpectations(t)
	client.ports[0].AssertExpectations(t)
	client.ports[1].AssertExpectations(t)
}

func TestLoadConfigValidation(t *testing.T) {
	c := New("trex", func(host, user string) (trex.Client, error) {
		t.Fatal("dialed with invalid ports")
		return nil, nil
	}, zap.NewNop())

	tests := map[string][]PortRef{
		"empty":       nil,
		"bad address": {{Name: "p", FullAddress: "10.0.0.1", LogicalName: "a.yaml"}},
		"no logical":  {{Name: "p", FullAddress: "10.0.0.1/M1/P0", LogicalName: "  "}},
		"mixed hosts": {{Name: "a", FullAddress: "10.0.0.1/M1/P0", LogicalName: "a"}, {Name: "b", FullAddress: "10.0.0.2/M1/P1", LogicalName: "b"}},
		"same number": {{Name: "a", FullAddress: "10.0.0.1/M1/P0", LogicalName: "a"}, {Name: "b", FullAddress: "10.0.0.1/M2/P0", LogicalName: "b"}},
	}
	for name, ports := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := c.LoadConfig(context.Background(), ports, "/configs")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFailurePropagates(t *testing.T) {
	ctx := context.Background()
	loadErr := errors.New("malformed profile")

	client := newMockClient(0)
	client.On("Connect").Return(nil).Once()
	client.On("ReservePorts", []int{0}, true, true).Return(nil).Once()
	client.On("Disconnect").Return(nil).Once()
	client.ports[0].On("RemoveAllStreams").Return(nil).Once()
	client.ports[0].On("LoadStreams", mock.Anything).Return(loadErr).Once()

	var host, user string
	c := New("trex", dialerFor(client, &host, &user), zap.NewNop())
	s, err := c.LoadConfig(ctx, []PortRef{{Name: "p0", FullAddress: "10.0.0.1/M1/P0", LogicalName: "a.yaml"}}, "/configs")
	assert.Nil(t, s)
	require.Error(t, err)
	assert.Equal(t, loadErr, errors.Cause(err))
	client.AssertExpectations(t)
	client.ports[0].AssertNotCalled(t, "WriteStreams")
}

func TestLoadConfigConnectFailure(t *testing.T) {
	connErr := errors.New("connection refused")
	client := newMockClient(0)
	client.On("Connect").Return(connErr).Once()

	var host, user string
	c := New("trex", dialerFor(client, &host, &user), zap.NewNop())
	_, err := c.LoadConfig(context.Background(), []PortRef{{Name: "p0", FullAddress: "10.0.0.1/M1/P0", LogicalName: "a.yaml"}}, "/")
	assert.ErrorIs(t, err, connErr)
	client.AssertNotCalled(t, "ReservePorts", mock.Anything, mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "Disconnect")
}

func loadedSession(t *testing.T) (*Session, *mockClient) {
	t.Helper()
	client := newMockClient(0)
	client.On("Connect").Return(nil).Once()
	client.On("ReservePorts", []int{0}, true, true).Return(nil).Once()
	expectLoad(client.ports[0], filepath.Join("/c", "a.yaml"))
	var host, user string
	s, err := New("trex", dialerFor(client, &host, &user), zap.NewNop()).
		LoadConfig(context.Background(), []PortRef{{Name: "p0", FullAddress: "10.0.0.1/M1/P0", LogicalName: "a.yaml"}}, "/c")
	require.NoError(t, err)
	return s, client
}

func TestStartTrafficClearsFirst(t *testing.T) {
	s, client := loadedSession(t)
	mock.InOrder(
		client.On("ClearStats").Return(nil).Once(),
		client.On("StartTransmit", true).Return(nil).Once(),
	)
	require.NoError(t, s.StartTraffic(context.Background(), true))
	client.AssertExpectations(t)
}

func TestStartTrafficClearFailure(t *testing.T) {
	s, client := loadedSession(t)
	client.On("ClearStats").Return(errors.New("boom")).Once()
	assert.Error(t, s.StartTraffic(context.Background(), false))
	client.AssertNotCalled(t, "StartTransmit", mock.Anything)
}

func TestCloseDisconnectsOnce(t *testing.T) {
	ctx := context.Background()
	s, client := loadedSession(t)
	client.On("Disconnect").Return(nil).Once()

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, StateClosed, s.State())
	client.AssertNumberOfCalls(t, "Disconnect", 1)

	// closed sessions reject commands
	assert.True(t, tgn.IsLifecycle(s.StopTraffic(ctx)))
	assert.True(t, tgn.IsLifecycle(s.StartTraffic(ctx, false)))
	_, err := s.Statistics(ctx, trex.ViewPort)
	assert.True(t, tgn.IsLifecycle(err))
}

func TestNilSession(t *testing.T) {
	ctx := context.Background()
	var s *Session
	assert.NoError(t, s.Close(ctx))
	assert.True(t, tgn.IsLifecycle(s.StopTraffic(ctx)))
	_, err := s.Statistics(ctx, trex.ViewStream)
	assert.True(t, tgn.IsLifecycle(err))
}

func TestStatisticsPassesErrorsThrough(t *testing.T) {
	s, client := loadedSession(t)
	readErr := errors.New("rpc timeout")
	client.On("ReadStats", trex.ViewStream).Return(nil, readErr).Once()
	_, err := s.Statistics(context.Background(), trex.ViewStream)
	assert.Equal(t, readErr, errors.Cause(err))
}

func TestRunAgainstSimulator(t *testing.T) {
	ctx := context.Background()
	clock := sim.NewManualClock(time.Unix(0, 0))
	lab := sim.NewLab(sim.WithClock(clock))

	c := New("trex", lab.Dial, zap.NewNop())
	s, err := c.LoadConfig(ctx, []PortRef{
		{Name: "trex/M1/P0", FullAddress: "192.168.15.23/M1/P0", LogicalName: "test_profile_1.yaml"},
		{Name: "trex/M1/P1", FullAddress: "192.168.15.23/M1/P1", LogicalName: "test_profile_2.yaml"},
	}, filepath.Join("..", "..", "testdata"))
	require.NoError(t, err)

	require.NoError(t, s.StartTraffic(ctx, true))
	require.NoError(t, s.StopTraffic(ctx))
	snap, err := s.Statistics(ctx, trex.ViewPort)
	require.NoError(t, err)
	for _, name := range []string{"server/port0", "server/port1"} {
		o, ok := snap.Object(name)
		require.True(t, ok)
		v, _ := o.Get("opackets")
		assert.Equal(t, float64(300), v, name)
	}

	app := lab.Appliance("192.168.15.23")
	assert.Equal(t, "trex", app.Owner(0))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 0, app.Connections())
	assert.Equal(t, "", app.Owner(0))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "loaded", StateLoaded.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
