package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesSentinelByKind(t *testing.T) {
	err := newError(KindPoolTimeout, "p1", nil)
	assert.ErrorIs(t, err, ErrPoolTimeout)
	assert.NotErrorIs(t, err, ErrPoolClosed)
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := newError(KindBackendDown, "p1", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.ErrorIs(t, err, ErrBackendDown)
}

func TestError_MessageIncludesPoolAndCause(t *testing.T) {
	err := newError(KindConfigInvalid, "p1", errors.New("missing username"))
	assert.Contains(t, err.Error(), "p1")
	assert.Contains(t, err.Error(), "missing username")
}
