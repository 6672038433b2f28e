package snapshotter

import (
	"errors"
	"fmt"
)

type formatErr struct {
	err error
}

// Format marks err as malformed snapshot data: a manifest, chunk or container
// that cannot be decoded, or that declares an unsupported version.
func Format(err error) error {
	return formatErr{err: err}
}

func (e formatErr) Error() string {
	return fmt.Sprintf("snapshot format: %v", e.err)
}

func (e formatErr) Unwrap() error {
	return e.err
}

func (e formatErr) Is(target error) bool {
	_, ok := target.(formatErr)
	return ok
}

func IsFormatErr(err error) bool {
	return errors.Is(err, formatErr{})
}
