package snapshotter

import (
	"errors"
	"fmt"
)

type verificationErr struct {
	err error
}

// Verification marks err as well-formed data that contradicts the manifest
// or the consensus rules: a wrong root, hash or unlinked block range.
func Verification(err error) error {
	return verificationErr{err: err}
}

func (e verificationErr) Error() string {
	return fmt.Sprintf("snapshot verification: %v", e.err)
}

func (e verificationErr) Unwrap() error {
	return e.err
}

func (e verificationErr) Is(target error) bool {
	_, ok := target.(verificationErr)
	return ok
}

func IsVerificationErr(err error) bool {
	return errors.Is(err, verificationErr{})
}
