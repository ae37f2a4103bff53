package stresserrors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrInvalidArgument_Error(t *testing.T) {
	tests := map[string]struct {
		err  error
		want string
	}{
		"without message": {&ErrInvalidArgument{Name: "threads", Value: 0}, `value 0 is invalid for field "threads"`},
		"with message":    {&ErrInvalidArgument{Name: "rate", Value: -1.5, Message: "must be non-negative"}, `value -1.5 is invalid for field "rate"; must be non-negative`},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestIsInvalidArgument(t *testing.T) {
	assert.True(t, IsInvalidArgument(InvalidArgument("threads", 0, "")))
	assert.True(t, IsInvalidArgument(errors.WithMessage(InvalidArgument("threads", 0, ""), "loading config")))
	assert.False(t, IsInvalidArgument(&ErrUnsupported{Store: "redis", Operation: "schema"}))
	assert.False(t, IsInvalidArgument(nil))
}
