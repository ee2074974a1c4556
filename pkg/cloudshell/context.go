// Package cloudshell is the slice of the orchestration platform the driver
// consumes: command contexts, reservation resources, family attributes and
// artifact attachment.
package cloudshell

import (
	"strings"

	"github.com/takehaya/trexshell/pkg/tgn"
)

const (
	TrexChassisModel    = "Trex Chassis Shell 2G"
	TrexControllerModel = "TRex Controller Shell 2G"

	// PortModel is the model of traffic generator ports under a TRex
	// chassis.
	PortModel = TrexChassisModel + ".GenericTrafficGeneratorPort"

	LogicalNameAttribute = "Logical Name"
)

// InitCommandContext is passed to Initialize.
type InitCommandContext struct {
	ResourceName string            `json:"resource_name" yaml:"resource_name"`
	Model        string            `json:"model" yaml:"model"`
	Attributes   map[string]string `json:"attributes" yaml:"attributes"`
}

// Attribute returns a service attribute, accepting both the bare name and the
// model qualified name.
func (c InitCommandContext) Attribute(model, name string) (string, bool) {
	if v, ok := c.Attributes[model+"."+name]; ok {
		return v, true
	}
	v, ok := c.Attributes[name]
	return v, ok
}

// ResourceCommandContext is passed to every command executed on a service in
// a reservation.
type ResourceCommandContext struct {
	ReservationID string `json:"reservation_id" yaml:"reservation_id"`
	ServiceName   string `json:"service_name" yaml:"service_name"`
}

// Resource is a reservation resource.
type Resource struct {
	Name        string `json:"name" yaml:"name"`
	Model       string `json:"model" yaml:"model"`
	FullAddress string `json:"full_address" yaml:"full_address"`
	// Attributes keyed by family attribute name, e.g. "Logical Name".
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// IsBlocking parses the blocking input of start_traffic.
func IsBlocking(token string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0", "":
		return false, nil
	}
	return false, tgn.InvalidArgument("blocking value", token, "True", "False")
}
