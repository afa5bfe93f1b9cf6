package errors

import (
	"context"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("publish: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"amqp closed", amqp.ErrClosed, true},
		{"amqp recoverable", &amqp.Error{Code: 320, Recover: true}, true},
		{"amqp fatal", &amqp.Error{Code: 403, Recover: false}, false},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), true},
		{"marked", Transient(New("unavailable")), true},
		{"permanent", fmt.Errorf("%w: bad request", ErrPermanentExternal), false},
		{"plain", New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestSkipMessageError(t *testing.T) {
	err := fmt.Errorf("handle: %w", &SkipMessageError{Reason: "cancelled"})
	assert.True(t, IsSkipMessageError(err))
	assert.False(t, IsSkipMessageError(ErrTaskNotFound))
}

func TestGet(t *testing.T) {
	assert.Equal(t, ScheduleTimeInvalid, Get("SCHEDULE_TIME_INVALID"))
	assert.Equal(t, "Unexpected error", Get("NOPE").Message)
}
