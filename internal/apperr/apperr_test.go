package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := Invalid("JSON", "unexpected end of input", errors.New("EOF"))
	wrapped := fmt.Errorf("normalize: %w", base)

	assert.Equal(t, KindInvalidFormat, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindInvalidFormat))
	assert.False(t, Is(wrapped, KindEmptyInput))

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, "JSON", e.Format)
	assert.ErrorIs(t, wrapped, base.Err)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindIO))
}

func TestMessages(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{New(KindEmptyInput, ""), "no input provided"},
		{Invalid("XML", "unexpected EOF", nil), "invalid XML: unexpected EOF"},
		{New(KindIO, "status 404"), "failed to fetch data: status 404"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.Message())
	}
	assert.Contains(t, New(KindUnrecognizedFormat, "").Error(), "unable to detect data format")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(New(KindUnrecognizedFormat, "")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Invalid("JSON", "", nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(New(KindEmptyInput, "")))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(New(KindIO, "")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}
