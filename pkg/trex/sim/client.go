package sim

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/trex"
	"go.uber.org/zap"
)

// Client is a trex.Client connected to an in-process Appliance.
type Client struct {
	app  *Appliance
	user string

	connected bool
	reserved  []int
}

var _ trex.Client = (*Client)(nil)

func NewClient(app *Appliance, user string) *Client {
	return &Client{app: app, user: user}
}

func (c *Client) Connect(ctx context.Context) error {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	if c.connected {
		return nil
	}
	c.connected = true
	c.app.connections++
	c.app.logger.Debug("client connected", zap.String("user", c.user))
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	if !c.connected {
		return nil
	}
	now := c.app.clock.Now()
	for _, id := range c.reserved {
		p := c.app.ports[id]
		if p.owner != c.user {
			continue
		}
		c.app.fold(p, now)
		p.running = nil
		p.owner = ""
	}
	c.reserved = nil
	c.connected = false
	c.app.connections--
	c.app.logger.Debug("client disconnected", zap.String("user", c.user))
	return nil
}

func (c *Client) ReservePorts(ctx context.Context, ports []int, force, reset bool) error {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	if !c.connected {
		return errors.New("client is not connected")
	}

	for _, id := range ports {
		if id < 0 || id >= len(c.app.ports) {
			return errors.Errorf("port %d does not exist on %s (%d ports)", id, c.app.host, len(c.app.ports))
		}
		p := c.app.ports[id]
		if p.owner != "" && p.owner != c.user && !force {
			return errors.Errorf("port %d is owned by %s", id, p.owner)
		}
	}

	now := c.app.clock.Now()
	c.reserved = c.reserved[:0]
	for _, id := range ports {
		p := c.app.ports[id]
		if p.owner != "" && p.owner != c.user {
			c.app.logger.Info("evicting port owner",
				zap.Int("port", id), zap.String("owner", p.owner), zap.String("user", c.user))
		}
		p.owner = c.user
		if reset {
			c.app.fold(p, now)
			p.running = nil
			p.staged = nil
			p.active = nil
			p.clearCounters()
		}
		c.reserved = append(c.reserved, id)
	}
	return nil
}

func (c *Client) Port(id int) (trex.Port, bool) {
	for _, r := range c.reserved {
		if r == id {
			return &Port{client: c, id: id}, true
		}
	}
	return nil, false
}

// owned returns the reserved ports still owned by this client. Caller holds
// app.mu.
func (c *Client) owned() ([]*portState, error) {
	if !c.connected {
		return nil, errors.New("client is not connected")
	}
	if len(c.reserved) == 0 {
		return nil, errors.New("no ports reserved")
	}
	ports := make([]*portState, 0, len(c.reserved))
	for _, id := range c.reserved {
		p := c.app.ports[id]
		if p.owner != c.user {
			return nil, errors.Errorf("port %d is no longer owned by %s", id, c.user)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

func (c *Client) ClearStats(ctx context.Context) error {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	ports, err := c.owned()
	if err != nil {
		return err
	}
	c.app.foldAll(c.app.clock.Now())
	for _, p := range ports {
		p.clearCounters()
	}
	return nil
}

func (c *Client) StartTransmit(ctx context.Context, blocking bool) error {
	finish, err := c.start()
	if err != nil {
		return err
	}
	if !blocking {
		return nil
	}
	if finish == nil {
		return errors.New("blocking start with continuous streams never completes")
	}
	if d := finish.Sub(c.app.clock.Now()); d > 0 {
		if err := c.app.clock.Sleep(ctx, d); err != nil {
			return errors.Wrap(err, "wait on traffic")
		}
	}
	return nil
}

// start launches the active streams of all reserved ports and returns when
// the last burst ends, nil if a continuous stream runs.
func (c *Client) start() (*time.Time, error) {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	ports, err := c.owned()
	if err != nil {
		return nil, err
	}

	now := c.app.clock.Now()
	c.app.foldAll(now)
	var (
		last       = now
		continuous bool
		streams    int
	)
	for _, p := range ports {
		p.running = p.running[:0]
		for _, s := range p.active {
			p.running = append(p.running, &txStream{s: s, start: now, total: s.total})
			streams++
		}
		end, ok := p.finishAt()
		if !ok {
			continuous = true
		} else if end.After(last) {
			last = end
		}
	}
	if streams == 0 {
		return nil, errors.New("no streams loaded on reserved ports")
	}
	c.app.logger.Debug("transmit started", zap.Int("ports", len(ports)), zap.Int("streams", streams))
	if continuous {
		return nil, nil
	}
	return &last, nil
}

func (c *Client) StopTransmit(ctx context.Context) error {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	ports, err := c.owned()
	if err != nil {
		return err
	}
	now := c.app.clock.Now()
	c.app.foldAll(now)
	for _, p := range ports {
		p.running = nil
	}
	return nil
}

func (c *Client) ReadStats(ctx context.Context, view trex.View) (trex.Snapshot, error) {
	c.app.mu.Lock()
	defer c.app.mu.Unlock()
	ports, err := c.owned()
	if err != nil {
		return nil, err
	}
	c.app.foldAll(c.app.clock.Now())

	switch view {
	case trex.ViewPort:
		return c.app.portSnapshot(ports), nil
	case trex.ViewStream:
		return c.app.streamSnapshot(ports), nil
	default:
		return nil, errors.Errorf("unknown statistics view %q", view)
	}
}

func (a *Appliance) portSnapshot(ports []*portState) trex.Snapshot {
	snap := make(trex.Snapshot, 0, len(ports))
	for _, p := range ports {
		var rxPPS float64
		if peer := a.peer(p); peer != nil {
			rxPPS = peer.txRate()
		}
		snap = append(snap, trex.ObjectStats{
			Name: portName(p.id),
			Metrics: []trex.Metric{
				{Name: "ipackets", Value: float64(p.counters.ipackets)},
				{Name: "ibytes", Value: float64(p.counters.ibytes)},
				{Name: "ierrors", Value: 0},
				{Name: "opackets", Value: float64(p.counters.opackets)},
				{Name: "obytes", Value: float64(p.counters.obytes)},
				{Name: "oerrors", Value: 0},
				{Name: "m_total_tx_pps", Value: p.txRate()},
				{Name: "m_total_rx_pps", Value: rxPPS},
			},
		})
	}
	return snap
}

func (a *Appliance) streamSnapshot(ports []*portState) trex.Snapshot {
	var snap trex.Snapshot
	for _, p := range ports {
		for _, s := range p.active {
			if !s.flowStats {
				continue
			}
			sc := p.streamCounter(s.name)
			snap = append(snap, trex.ObjectStats{
				Name: portName(p.id) + "/" + s.name,
				Metrics: []trex.Metric{
					{Name: "tx_pkts", Value: float64(sc.txPkts)},
					{Name: "tx_bytes", Value: float64(sc.txBytes)},
					{Name: "rx_pkts", Value: float64(sc.rxPkts)},
					{Name: "rx_bytes", Value: float64(sc.rxBytes)},
				},
			})
		}
	}
	return snap
}
