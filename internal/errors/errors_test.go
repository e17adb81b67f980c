package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[ErrorCode]int{
		PHG_VALIDATION:         http.StatusBadRequest,
		PHG_INVALID_FORMAT:     http.StatusBadRequest,
		PHG_HASH_MISMATCH:      http.StatusUnprocessableEntity,
		PHG_DECRYPTION_FAILURE: http.StatusUnprocessableEntity,
		PHG_NOT_FOUND:          http.StatusNotFound,
		PHG_AUTHN:              http.StatusUnauthorized,
		PHG_AUTHZ:              http.StatusForbidden,
		PHG_UNAVAILABLE:        http.StatusServiceUnavailable,
		PHG_INTERNAL:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, New(code, "x", "").HTTPStatus, code)
	}
}

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", Validation("assetId must be positive"))
	assert.Equal(t, PHG_VALIDATION, CodeOf(err))
	assert.ErrorIs(t, err, New(PHG_VALIDATION, "", ""))
	assert.Equal(t, PHG_INTERNAL, CodeOf(fmt.Errorf("plain")))
}

func TestAsSetsCorrelation(t *testing.T) {
	e := As(Validation("bad"), "corr-1")
	assert.Equal(t, "corr-1", e.CorrelationID)
	assert.Equal(t, PHG_VALIDATION, e.Code)

	internal := As(fmt.Errorf("boom"), "corr-2")
	assert.Equal(t, PHG_INTERNAL, internal.Code)
	assert.Equal(t, "internal error", internal.Message)
}
