// Package tgn holds the error taxonomy shared by the traffic generator
// packages. Failures coming from the appliance client or the platform API
// are wrapped with context but otherwise passed through untouched.
package tgn

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrLifecycle is returned when a command is invoked in a state that does
// not allow it, e.g. get_statistics before load_config.
var ErrLifecycle = errors.New("lifecycle misuse")

// InvalidArgumentError reports a caller supplied value outside of the
// accepted set.
type InvalidArgumentError struct {
	What    string
	Value   string
	Allowed []string
}

func (e *InvalidArgumentError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("Invalid %s %q", e.What, e.Value)
	}
	return fmt.Sprintf("Invalid %s %q - should be %s", e.What, e.Value, strings.Join(e.Allowed, "/"))
}

// InvalidArgument builds an InvalidArgumentError with a stack attached.
func InvalidArgument(what, value string, allowed ...string) error {
	return errors.WithStack(&InvalidArgumentError{What: what, Value: value, Allowed: allowed})
}

// Lifecycle wraps ErrLifecycle with a description of the misuse.
func Lifecycle(format string, args ...interface{}) error {
	return errors.Wrapf(ErrLifecycle, format, args...)
}

func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

func IsLifecycle(err error) bool {
	return errors.Is(err, ErrLifecycle)
}
