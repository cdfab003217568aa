package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUnauthorized, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindBadRequest, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindConfig, http.StatusServiceUnavailable},
		{KindUnavailable, http.StatusServiceUnavailable},
		{KindInternal, http.StatusInternalServerError},
		{Kind("whatever"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind), string(tt.kind))
	}
}

func TestAs_WrappedError(t *testing.T) {
	base := Forbidden("nope").WithReason("organization_suspended")
	wrapped := fmt.Errorf("handler: %w", base)

	got := As(wrapped)
	assert.Equal(t, KindForbidden, got.Kind)
	assert.Equal(t, "organization_suspended", got.Reason)
	assert.True(t, Is(wrapped, KindForbidden))
}

func TestAs_UnclassifiedBecomesInternal(t *testing.T) {
	cause := errors.New("connection reset")
	got := As(cause)
	assert.Equal(t, KindInternal, got.Kind)
	assert.ErrorIs(t, got, cause)
	assert.NotContains(t, got.Message, "connection reset")
}

func TestAs_Nil(t *testing.T) {
	assert.Nil(t, As(nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWithReason_DoesNotMutateOriginal(t *testing.T) {
	orig := Conflict("dup")
	_ = orig.WithReason("duplicate_member")
	assert.Empty(t, orig.Reason)
}
