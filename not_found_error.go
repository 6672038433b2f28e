package snapshotter

import (
	"errors"
	"fmt"
)

type notFoundErr struct {
	err error
}

// NotFound marks err as a missing chunk, manifest or snapshot.
func NotFound(err error) error {
	return notFoundErr{err: err}
}

func (e notFoundErr) Error() string {
	return fmt.Sprintf("not found: %v", e.err)
}

func (e notFoundErr) Unwrap() error {
	return e.err
}

func (e notFoundErr) Is(target error) bool {
	_, ok := target.(notFoundErr)
	return ok
}

func IsNotFoundErr(err error) bool {
	return errors.Is(err, notFoundErr{})
}
