package sim

import (
	"sync"

	"github.com/takehaya/trexshell/pkg/trex"
)

// Lab hands out appliances by host, creating them on first use.
type Lab struct {
	opts []Option

	mu         sync.Mutex
	appliances map[string]*Appliance
}

func NewLab(opts ...Option) *Lab {
	return &Lab{
		opts:       opts,
		appliances: make(map[string]*Appliance),
	}
}

func (l *Lab) Appliance(host string) *Appliance {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.appliances[host]
	if !ok {
		a = NewAppliance(host, l.opts...)
		l.appliances[host] = a
	}
	return a
}

// Dial satisfies trex.Dialer.
func (l *Lab) Dial(host, user string) (trex.Client, error) {
	return NewClient(l.Appliance(host), user), nil
}

var _ trex.Dialer = (&Lab{}).Dial
