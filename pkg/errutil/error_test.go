package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusValidationFailed: http.StatusBadRequest,
		StatusSignatureInvalid: http.StatusBadRequest,
		StatusUnauthorized:     http.StatusUnauthorized,
		StatusForbidden:        http.StatusForbidden,
		StatusNoDestination:    http.StatusNotFound,
		StatusInternal:         http.StatusInternalServerError,
		CoreStatus("whatever"): http.StatusInternalServerError,
	}

	for code, want := range cases {
		require.Equal(t, want, code.HTTPStatus(), string(code))
	}
}

func TestHTTPCodeOverride(t *testing.T) {
	err := Internal("processor rejected request", nil, WithHTTPStatus(http.StatusPaymentRequired))

	be := ToBaseError(err)
	require.Equal(t, http.StatusPaymentRequired, be.HTTPStatus())
}

func TestToBaseErrorWrapped(t *testing.T) {
	inner := NotFound("booking not found", nil)
	wrapped := fmt.Errorf("load booking: %w", inner)

	be := ToBaseError(wrapped)
	require.Equal(t, StatusNotFound, be.Code)
	require.True(t, IsStatus(wrapped, StatusNotFound))

	require.Equal(t, StatusTimeout, ToBaseError(context.DeadlineExceeded).Code)
	require.Equal(t, StatusInternal, ToBaseError(errors.New("boom")).Code)
}

func TestJSONHidesCauseOnServerErrors(t *testing.T) {
	err := Internal("failed to save", errors.New("pq: connection refused"))

	body := ToBaseError(err).JSON().(map[string]interface{})
	inner := body["error"].(map[string]interface{})
	require.Equal(t, "failed to save", inner["message"])

	err = BadRequest("invalid creator_id", errors.New("empty"))
	body = ToBaseError(err).JSON().(map[string]interface{})
	inner = body["error"].(map[string]interface{})
	require.Equal(t, "invalid creator_id: empty", inner["message"])
}
