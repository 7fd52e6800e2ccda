package tinystan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WardBrian/tinystan/pkg/jsondata"
	"github.com/WardBrian/tinystan/pkg/model"
	"github.com/WardBrian/tinystan/pkg/optimize"
)

func TestErrorKindValues(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, int(KindRuntime))
	assert.Equal(t, 1, int(KindInvalidArgument))
	assert.Equal(t, 2, int(KindInterrupt))
	assert.Equal(t, "invalid argument", KindInvalidArgument.String())
	assert.Equal(t, "ErrorKind(7)", ErrorKind(7).String())
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{context.Canceled, KindInterrupt},
		{fmt.Errorf("chain 2: %w", context.DeadlineExceeded), KindInterrupt},
		{fmt.Errorf("%w data.json", jsondata.ErrOpen), KindInvalidArgument},
		{jsondata.ErrInitCount, KindInvalidArgument},
		{fmt.Errorf("%w: bad length", model.ErrArgument), KindInvalidArgument},
		{jsondata.ErrParse, KindRuntime},
		{optimize.ErrLineSearch, KindRuntime},
		{errors.New("boom"), KindRuntime},
	}
	for _, c := range cases {
		err := classify(c.err)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, c.kind, e.Kind, "%v", c.err)
		assert.ErrorIs(t, err, c.err)
	}
	assert.NoError(t, classify(nil))
}

func TestErrorIsMatchesKind(t *testing.T) {
	t.Parallel()
	err := error(invalidArgument("num_chains must be at least %d", 1))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrRuntime)
	assert.Equal(t, "num_chains must be at least 1", err.Error())

	interrupted := classify(context.Canceled)
	assert.ErrorIs(t, interrupted, ErrInterrupt)
	assert.Equal(t, "interrupted", interrupted.Error())

	// Already classified errors pass through unchanged.
	assert.Same(t, err, classify(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, KindRuntime, KindOf(errors.New("plain")))
}
