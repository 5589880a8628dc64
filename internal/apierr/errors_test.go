package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuthRequired},
		{http.StatusForbidden, KindAuthRequired},
		{http.StatusNotFound, KindConflictOrNotFound},
		{http.StatusConflict, KindConflictOrNotFound},
		{http.StatusUnprocessableEntity, KindConflictOrNotFound},
		{http.StatusInternalServerError, KindTransport},
		{http.StatusBadGateway, KindTransport},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus("bookings.create", tt.status, "nope")
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.want, KindOf(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("create: %w", Validation("bookings.create", "Please choose a date and time."))
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrTransport))

	transport := Transport("providers.list", errors.New("connection refused"))
	assert.True(t, errors.Is(transport, ErrTransport))
	assert.Contains(t, transport.Error(), "connection refused")
}

func TestKindOfPlainErrors(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindTransport, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Please log in to continue.", UserMessage(AuthRequired("bookings.create", "")))
	assert.Equal(t, "Network error. Please try again.", UserMessage(Transport("x", errors.New("eof"))))
	assert.Equal(t, "Booking already cancelled", UserMessage(FromStatus("x", 409, "Booking already cancelled")))
	assert.Equal(t, "Please choose a date and time.", UserMessage(Validation("x", "Please choose a date and time.")))
	assert.Equal(t, "Network error. Please try again.", UserMessage(context.Canceled))
	assert.Equal(t, "", UserMessage(nil))
}

func TestErrorString(t *testing.T) {
	err := FromStatus("bookings.cancel", 404, "Booking not found")
	assert.Equal(t, "bookings.cancel: conflict_or_not_found (status=404): Booking not found", err.Error())
}
