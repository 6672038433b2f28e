package snapshotter

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	base := fmt.Errorf("boom")

	tt := []struct {
		name         string
		err          error
		format       bool
		verification bool
		notFound     bool
		badRequest   bool
	}{
		{name: "format", err: Format(base), format: true},
		{name: "wrapped format", err: errors.Wrap(Format(base), "decode manifest"), format: true},
		{name: "verification", err: Verification(base), verification: true},
		{name: "not found", err: NotFound(base), notFound: true},
		{name: "bad request wrapping format", err: BadRequest(Format(base)), badRequest: true, format: true},
		{name: "plain", err: base},
		{name: "nil", err: nil},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.format, IsFormatErr(tc.err))
			assert.Equal(t, tc.verification, IsVerificationErr(tc.err))
			assert.Equal(t, tc.notFound, IsNotFoundErr(tc.err))
			assert.Equal(t, tc.badRequest, IsBadRequestErr(tc.err))
		})
	}
}

func TestErrorKindsKeepCause(t *testing.T) {
	err := Verification(ErrTooManyBlocks)
	assert.ErrorIs(t, err, ErrTooManyBlocks)
	assert.Contains(t, err.Error(), ErrTooManyBlocks.Error())
}
