package sim

import (
	"errors"
	"fmt"
)

// ErrMissingData matches any MissingDataError via errors.Is.
var ErrMissingData = errors.New("missing required data")

// MissingDataError reports an absent required static input. It is fatal:
// nothing downstream can be trusted without positions or targets.
type MissingDataError struct {
	Kind string // "positions", "calcium_targets", ...
	Path string
	Err  error
}

func (e *MissingDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("missing %s file %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("missing %s file %s", e.Kind, e.Path)
}

// Is lets errors.Is(err, ErrMissingData) match.
func (e *MissingDataError) Is(target error) bool { return target == ErrMissingData }

func (e *MissingDataError) Unwrap() error { return e.Err }
