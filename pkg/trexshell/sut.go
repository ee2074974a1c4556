package trexshell

import (
	"os"

	"github.com/pkg/errors"
	"github.com/takehaya/trexshell/pkg/cloudshell"
	"gopkg.in/yaml.v3"
)

// SUT describes the ports of a one shot run, standing in for the reservation
// a platform would provide.
type SUT struct {
	User        string    `yaml:"user"`
	Reservation string    `yaml:"reservation"`
	Ports       []SUTPort `yaml:"ports"`
}

type SUTPort struct {
	Name        string `yaml:"name"`
	Address     string `yaml:"address"`
	LogicalName string `yaml:"logical_name"`
}

func LoadSUT(path string) (*SUT, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read sut file")
	}
	var sut SUT
	if err := yaml.Unmarshal(data, &sut); err != nil {
		return nil, errors.Wrapf(err, "failed to parse sut file %s", path)
	}
	if len(sut.Ports) == 0 {
		return nil, errors.Errorf("sut file %s has no ports", path)
	}
	for i, p := range sut.Ports {
		if p.Address == "" {
			return nil, errors.Errorf("port %d has no address", i)
		}
		if p.Name == "" {
			sut.Ports[i].Name = p.Address
		}
	}
	return &sut, nil
}

// Resources converts the ports into reservation resources.
func (s *SUT) Resources() []cloudshell.Resource {
	out := make([]cloudshell.Resource, 0, len(s.Ports))
	for _, p := range s.Ports {
		out = append(out, cloudshell.Resource{
			Name:        p.Name,
			Model:       cloudshell.PortModel,
			FullAddress: p.Address,
			Attributes:  map[string]string{cloudshell.LogicalNameAttribute: p.LogicalName},
		})
	}
	return out
}
