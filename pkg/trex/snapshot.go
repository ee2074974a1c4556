package trex

// Metric is a single named counter value.
type Metric struct {
	Name  string
	Value float64
}

// ObjectStats holds the metrics of one statistics object (a port or a
// stream). Metrics keep the order reported by the appliance.
type ObjectStats struct {
	Name    string
	Metrics []Metric
}

// Get returns the value of the named metric.
func (o ObjectStats) Get(name string) (float64, bool) {
	for _, m := range o.Metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// Snapshot is one statistics read, ordered by object.
type Snapshot []ObjectStats

// Object returns the stats of the named object.
func (s Snapshot) Object(name string) (ObjectStats, bool) {
	for _, o := range s {
		if o.Name == name {
			return o, true
		}
	}
	return ObjectStats{}, false
}
