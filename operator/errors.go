package operator

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupported is matched by errors returned when an operation is not available for an operator kind.
var ErrUnsupported = errors.New("unsupported for this operator kind")

// UnsupportedError reports an operation that a kind does not implement.
type UnsupportedError struct {
	Kind Kind
	Op   string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s: %s %s", e.Op, e.Kind, ErrUnsupported)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }
