package foundation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("spawn make: no such file")
	err := NewError(ErrorCodeToolInvocation, "make invocation failed").
		WithComponent("executor").
		WithOperation("build").
		WithCause(cause).
		Build()

	msg := err.Error()
	assert.Contains(t, msg, "[executor]")
	assert.Contains(t, msg, "operation=build")
	assert.Contains(t, msg, "code=tool_invocation")
	assert.Contains(t, msg, "spawn make")
}

func TestUnwrapChain(t *testing.T) {
	cause := errors.New("root")
	err := NewError(ErrorCodeArtifactNotFound, "no binary located").WithCause(cause).Build()
	wrapped := fmt.Errorf("attempt 3: %w", err)

	require.True(t, errors.Is(wrapped, cause))
	assert.Equal(t, ErrorCodeArtifactNotFound, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrorCodeArtifactNotFound))
	assert.False(t, IsCode(wrapped, ErrorCodeCanceled))
}

func TestCodeOfUnclassified(t *testing.T) {
	assert.Equal(t, ErrorCodeInternal, CodeOf(errors.New("plain")))
}

func TestRetryableFlag(t *testing.T) {
	err := NewError(ErrorCodeToolInvocation, "transient").Retryable().Build()
	assert.True(t, err.IsRetryable())
	assert.False(t, NewError(ErrorCodeValidation, "bad input").Build().IsRetryable())
}
