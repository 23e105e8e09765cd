package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_KeepsCode(t *testing.T) {
	base := InsufficientData("no genes left")
	wrapped := Wrapf(Wrap(base, "filter stage failed"), "run %d", 3)

	assert.Equal(t, CodeInsufficientData, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, CodeInsufficientData))
	assert.True(t, stderrors.Is(wrapped, base))
	assert.Equal(t, "run 3: filter stage failed: no genes left", wrapped.Error())
}

func TestWrap_PlainErrorIsInternal(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), "context")
	assert.Equal(t, CodeInternalError, GetCode(err))
	assert.Nil(t, Wrap(nil, "nothing"))
	assert.Nil(t, Wrapf(nil, "nothing %d", 1))
}

func TestWithCode(t *testing.T) {
	cause := fmt.Errorf("open x.tsv: no such file")
	err := WithCode(CodeInvalidInput, cause)
	assert.Equal(t, CodeInvalidInput, GetCode(err))
	assert.ErrorIs(t, err, cause)

	recoded := WithCode(CodeNotFound, InvalidInput("bad"))
	assert.Equal(t, CodeNotFound, GetCode(recoded))
	assert.Nil(t, WithCode(CodeNotFound, nil))
}

func TestGetCode_Unknown(t *testing.T) {
	assert.Equal(t, "UNKNOWN", GetCode(fmt.Errorf("plain")))
	assert.False(t, IsAppError(fmt.Errorf("plain")))
	assert.True(t, IsAppError(fmt.Errorf("outer: %w", NotFound("run"))))
}

func TestAlignment_Message(t *testing.T) {
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%d", i)
	}
	err := Alignment(ids, []string{"x"})
	assert.Equal(t, CodeAlignment, err.Code)
	assert.Contains(t, err.Message, "12 count samples absent from metadata")
	assert.Contains(t, err.Message, "(2 more)")
	assert.Contains(t, err.Message, "1 metadata samples absent from counts [x]")
}
