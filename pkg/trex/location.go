package trex

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Location addresses a port as chassis/card/port.
type Location struct {
	Host string
	Card int
	Port int
}

// ParseLocation parses a full address such as "192.168.0.10/M1/P0". The
// card and port prefixes are optional.
func ParseLocation(fullAddress string) (Location, error) {
	parts := strings.Split(strings.TrimSpace(fullAddress), "/")
	if len(parts) != 3 || parts[0] == "" {
		return Location{}, errors.Errorf("invalid port address %q, expected <host>/M<card>/P<port>", fullAddress)
	}
	card, err := parseIndex(parts[1], "M")
	if err != nil {
		return Location{}, errors.Wrapf(err, "invalid card in port address %q", fullAddress)
	}
	port, err := parseIndex(parts[2], "P")
	if err != nil {
		return Location{}, errors.Wrapf(err, "invalid port in port address %q", fullAddress)
	}
	return Location{Host: parts[0], Card: card, Port: port}, nil
}

func parseIndex(s, prefix string) (int, error) {
	v, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(s), prefix))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.Errorf("negative index %d", v)
	}
	return v, nil
}

func (l Location) String() string {
	return fmt.Sprintf("%s/M%d/P%d", l.Host, l.Card, l.Port)
}
