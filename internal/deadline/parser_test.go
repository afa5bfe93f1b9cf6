package deadline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CheckInGuard/pkg/errors"
)

func TestParseScheduleTime(t *testing.T) {
	cases := []struct {
		in     string
		hour   int
		minute int
	}{
		{"9:00 AM", 9, 0},
		{"9:00AM", 9, 0},
		{" 9:00   am ", 9, 0},
		{"12:00 AM", 0, 0},
		{"12:30 PM", 12, 30},
		{"6:05 pm", 18, 5},
		{"11:59PM", 23, 59},
		{"09:15 AM", 9, 15},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			st, err := ParseScheduleTime(tc.in)
			require.NoError(t, err)
			assert.Equal(t, ScheduleTime{Hour: tc.hour, Minute: tc.minute}, st)
		})
	}
}

func TestParseScheduleTimeRejects(t *testing.T) {
	for _, in := range []string{
		"", "9:00", "21:00", "13:00 PM", "0:30 AM", "9:60 AM", "9:5 AM",
		"9 AM", "9:00 XM", "nine:00 AM", "+9:00 AM", "9:00 AM extra", "9:-1 PM",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseScheduleTime(in)
			assert.ErrorIs(t, err, errors.ErrInvalidScheduleTime)
		})
	}
}

func TestLabelRoundTrip(t *testing.T) {
	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m++ {
			st, err := ParseScheduleTime(FormatLabel(h, m))
			require.NoError(t, err)
			require.Equal(t, ScheduleTime{Hour: h, Minute: m}, st)
		}
	}
}

func TestNormalizeLabel(t *testing.T) {
	label, err := NormalizeLabel("06:00pm")
	require.NoError(t, err)
	assert.Equal(t, "6:00 PM", label)
}
