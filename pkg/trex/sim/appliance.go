// Package sim is an in-process TRex appliance. It implements trex.Client on
// top of YAML stream profiles and a rate based transmit timeline, with ports
// wired back to back in pairs (0<->1, 2<->3, ...).
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultPorts = 2

type Option func(*Appliance)

func WithClock(c Clock) Option {
	return func(a *Appliance) { a.clock = c }
}

func WithPorts(n int) Option {
	return func(a *Appliance) { a.numPorts = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Appliance) { a.logger = l }
}

// Appliance is one simulated TRex server.
type Appliance struct {
	host     string
	clock    Clock
	numPorts int
	logger   *zap.Logger

	mu          sync.Mutex
	ports       []*portState
	connections int
}

func NewAppliance(host string, opts ...Option) *Appliance {
	a := &Appliance{
		host:     host,
		clock:    realClock{},
		numPorts: DefaultPorts,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("appliance", host))
	a.ports = make([]*portState, a.numPorts)
	for i := range a.ports {
		a.ports[i] = &portState{id: i, streamCounters: map[string]*streamCounters{}}
	}
	return a
}

func (a *Appliance) Host() string { return a.host }

// Connections returns the number of connected clients.
func (a *Appliance) Connections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connections
}

// Owner returns the user owning port id, empty when the port is free.
func (a *Appliance) Owner(id int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 0 || id >= len(a.ports) {
		return ""
	}
	return a.ports[id].owner
}

func portName(id int) string {
	return fmt.Sprintf("server/port%d", id)
}

type portCounters struct {
	opackets, obytes int64
	ipackets, ibytes int64
}

type streamCounters struct {
	txPkts, txBytes int64
	rxPkts, rxBytes int64
}

type txStream struct {
	s     *stream
	start time.Time
	total int64 // -1 for continuous
	sent  int64
}

func (tx *txStream) done() bool {
	return tx.total >= 0 && tx.sent >= tx.total
}

// end is when the last packet of a burst leaves, rounded up to the next
// nanosecond so a sleep until end always covers the whole burst.
func (tx *txStream) end() time.Time {
	return tx.start.Add(time.Duration(math.Ceil(float64(tx.total) * float64(time.Second) / tx.s.pps)))
}

// due returns the number of packets sent from start up to now.
func (tx *txStream) due(now time.Time) int64 {
	elapsed := now.Sub(tx.start)
	if elapsed <= 0 {
		return 0
	}
	if tx.total >= 0 && !now.Before(tx.end()) {
		return tx.total
	}
	n := int64(math.Floor(float64(elapsed) * tx.s.pps / float64(time.Second)))
	if tx.total >= 0 && n > tx.total {
		n = tx.total
	}
	return n
}

type portState struct {
	id     int
	owner  string
	staged []*stream
	active []*stream

	running  []*txStream
	counters portCounters
	// keyed by stream name, only streams with flow stats
	streamCounters map[string]*streamCounters
}

func (p *portState) transmitting() bool {
	for _, tx := range p.running {
		if !tx.done() {
			return true
		}
	}
	return false
}

func (a *Appliance) peer(p *portState) *portState {
	id := p.id ^ 1
	if id >= len(a.ports) {
		return nil
	}
	return a.ports[id]
}

// fold moves the packets sent up to now into the counters.
func (a *Appliance) fold(p *portState, now time.Time) {
	peer := a.peer(p)
	for _, tx := range p.running {
		if tx.done() {
			continue
		}
		n := tx.due(now) - tx.sent
		if n <= 0 {
			continue
		}
		bytes := n * int64(tx.s.frameLen)
		p.counters.opackets += n
		p.counters.obytes += bytes
		if peer != nil {
			peer.counters.ipackets += n
			peer.counters.ibytes += bytes
		}
		if tx.s.flowStats {
			sc := p.streamCounter(tx.s.name)
			sc.txPkts += n
			sc.txBytes += bytes
			if peer != nil {
				sc.rxPkts += n
				sc.rxBytes += bytes
			}
		}
		tx.sent += n
	}
}

func (p *portState) streamCounter(name string) *streamCounters {
	sc, ok := p.streamCounters[name]
	if !ok {
		sc = &streamCounters{}
		p.streamCounters[name] = sc
	}
	return sc
}

func (a *Appliance) foldAll(now time.Time) {
	for _, p := range a.ports {
		a.fold(p, now)
	}
}

func (p *portState) clearCounters() {
	p.counters = portCounters{}
	p.streamCounters = map[string]*streamCounters{}
}

// finishAt returns when the running bursts of p complete. ok is false when a
// continuous stream is running.
func (p *portState) finishAt() (t time.Time, ok bool) {
	for _, tx := range p.running {
		if tx.total < 0 {
			return time.Time{}, false
		}
		end := tx.end()
		if end.After(t) {
			t = end
		}
	}
	return t, true
}

func (p *portState) txRate() float64 {
	var pps float64
	for _, tx := range p.running {
		if !tx.done() {
			pps += tx.s.pps
		}
	}
	return pps
}
