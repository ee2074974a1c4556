package sim

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	ModeContinuous  = "continuous"
	ModeSingleBurst = "single_burst"
	ModeMultiBurst  = "multi_burst"

	defaultPPS       = 1
	defaultFrameSize = 64
)

// StreamDef is one entry of a TRex YAML stream profile.
type StreamDef struct {
	Name   string     `yaml:"name"`
	Stream StreamBody `yaml:"stream"`
}

type StreamBody struct {
	Enabled   *bool        `yaml:"enabled"`
	SelfStart *bool        `yaml:"self_start"`
	Mode      ModeDef      `yaml:"mode"`
	Packet    PacketDef    `yaml:"packet"`
	FlowStats FlowStatsDef `yaml:"flow_stats"`
}

type ModeDef struct {
	Type         string  `yaml:"type"`
	PPS          float64 `yaml:"pps"`
	TotalPkts    int64   `yaml:"total_pkts"`
	PktsPerBurst int64   `yaml:"pkts_per_burst"`
	Count        int64   `yaml:"count"`
}

type PacketDef struct {
	// Binary is the base64 encoded frame; when empty a UDP frame of Size
	// bytes is generated.
	Binary string `yaml:"binary"`
	Size   int    `yaml:"size"`
}

type FlowStatsDef struct {
	Enabled  bool `yaml:"enabled"`
	StreamID int  `yaml:"stream_id"`
}

// stream is a validated, ready to transmit stream.
type stream struct {
	name      string
	pps       float64
	total     int64 // -1 for continuous
	frameLen  int
	flowStats bool
}

// loadProfile reads and validates a YAML stream profile.
func loadProfile(path string) ([]*stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read stream profile")
	}
	return parseProfile(filepath.Base(path), data)
}

func parseProfile(name string, data []byte) ([]*stream, error) {
	var defs []StreamDef
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, errors.Wrapf(err, "failed to parse stream profile %s", name)
	}
	if len(defs) == 0 {
		return nil, errors.Errorf("stream profile %s has no streams", name)
	}

	streams := make([]*stream, 0, len(defs))
	for i, def := range defs {
		if def.Stream.Enabled != nil && !*def.Stream.Enabled {
			continue
		}
		// next で繋がるストリームはサポートしない
		if def.Stream.SelfStart != nil && !*def.Stream.SelfStart {
			continue
		}
		s, err := newStream(i, def)
		if err != nil {
			return nil, errors.Wrapf(err, "stream profile %s", name)
		}
		streams = append(streams, s)
	}
	return streams, nil
}

func newStream(idx int, def StreamDef) (*stream, error) {
	s := &stream{
		name:      def.Name,
		pps:       def.Stream.Mode.PPS,
		flowStats: def.Stream.FlowStats.Enabled,
	}
	if s.name == "" {
		s.name = "stream" + strconv.Itoa(idx)
	}
	if s.pps < 0 {
		return nil, errors.Errorf("stream %s: negative pps %v", s.name, s.pps)
	}
	if s.pps == 0 {
		s.pps = defaultPPS
	}

	m := def.Stream.Mode
	switch m.Type {
	case "", ModeContinuous:
		s.total = -1
	case ModeSingleBurst:
		if m.TotalPkts <= 0 {
			return nil, errors.Errorf("stream %s: total_pkts must be positive", s.name)
		}
		s.total = m.TotalPkts
	case ModeMultiBurst:
		if m.PktsPerBurst <= 0 || m.Count <= 0 {
			return nil, errors.Errorf("stream %s: pkts_per_burst and count must be positive", s.name)
		}
		s.total = m.PktsPerBurst * m.Count
	default:
		return nil, errors.Errorf("stream %s: unknown mode %q", s.name, m.Type)
	}

	frame, err := streamFrame(def.Stream.Packet)
	if err != nil {
		return nil, errors.Wrapf(err, "stream %s", s.name)
	}
	s.frameLen = len(frame)
	return s, nil
}

func streamFrame(p PacketDef) ([]byte, error) {
	if p.Binary == "" {
		size := p.Size
		if size == 0 {
			size = defaultFrameSize
		}
		return BuildUDPFrame(size)
	}
	raw, err := base64.StdEncoding.DecodeString(p.Binary)
	if err != nil {
		return nil, errors.Wrap(err, "invalid packet binary")
	}
	if err := ValidateFrame(raw); err != nil {
		return nil, err
	}
	return raw, nil
}
