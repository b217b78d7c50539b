package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-01-05 is a Monday.
var (
	monday  = time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	tuesday = monday.AddDate(0, 0, 1)
)

func TestResolveOpenIntervals(t *testing.T) {
	doctorID := uuid.New()

	t.Run("splits a working day around the break", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")

		out, err := ResolveOpenIntervals(tpl, nil, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		require.Len(t, out, 2)

		assert.True(t, out[0].Start.Equal(monday.Add(9*time.Hour)))
		assert.True(t, out[0].End.Equal(monday.Add(12*time.Hour)))
		assert.True(t, out[1].Start.Equal(monday.Add(13*time.Hour)))
		assert.True(t, out[1].End.Equal(monday.Add(17*time.Hour)))
		assert.Equal(t, doctorID, out[0].DoctorID)
	})

	t.Run("emits nothing for weekdays without a rule", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")
		saturday := monday.AddDate(0, 0, 5)

		out, err := ResolveOpenIntervals(tpl, nil, DateRange{From: saturday, To: saturday.AddDate(0, 0, 2)})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("full-day exception suppresses the weekday rule", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")
		exceptions := []AvailabilityException{
			{DoctorID: doctorID, Date: monday, Unavailable: true},
		}

		out, err := ResolveOpenIntervals(tpl, exceptions, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("custom-interval exception replaces the weekday rule", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")
		start := mustTimeOfDay(t, "10:00")
		end := mustTimeOfDay(t, "14:00")
		exceptions := []AvailabilityException{
			{DoctorID: doctorID, Date: monday, Start: &start, End: &end},
		}

		out, err := ResolveOpenIntervals(tpl, exceptions, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		require.Len(t, out, 2)

		// Break still applies to the custom interval.
		assert.True(t, out[0].Start.Equal(monday.Add(10*time.Hour)))
		assert.True(t, out[0].End.Equal(monday.Add(12*time.Hour)))
		assert.True(t, out[1].Start.Equal(monday.Add(13*time.Hour)))
		assert.True(t, out[1].End.Equal(monday.Add(14*time.Hour)))
	})

	t.Run("break covering the whole interval emits nothing", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")
		start := mustTimeOfDay(t, "12:00")
		end := mustTimeOfDay(t, "13:00")
		exceptions := []AvailabilityException{
			{DoctorID: doctorID, Date: monday, Start: &start, End: &end},
		}

		out, err := ResolveOpenIntervals(tpl, exceptions, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("output is ordered and never overlaps within a date", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")

		out, err := ResolveOpenIntervals(tpl, nil, DateRange{From: monday, To: monday.AddDate(0, 0, 7)})
		require.NoError(t, err)
		require.Len(t, out, 10) // five working days, two intervals each

		for i := 1; i < len(out); i++ {
			assert.True(t, out[i-1].End.Before(out[i].Start) || out[i-1].End.Equal(out[i].Start) || out[i-1].Date.Before(out[i].Date),
				"intervals must be ordered without overlap")
			assert.False(t, out[i].Start.Before(out[i-1].Start), "output must be sorted by start")
		}
	})

	t.Run("empty range emits nothing", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")

		out, err := ResolveOpenIntervals(tpl, nil, DateRange{From: monday, To: monday})
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("rejects inverted range", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")

		_, err := ResolveOpenIntervals(tpl, nil, DateRange{From: tuesday, To: monday})
		assert.Error(t, err)
	})

	t.Run("rejects invalid template", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "UTC")
		tpl.SlotDuration = -time.Minute

		_, err := ResolveOpenIntervals(tpl, nil, DateRange{From: monday, To: tuesday})
		assert.ErrorIs(t, err, ErrInvalidTemplate)
	})

	t.Run("anchors instants in the doctor's timezone", func(t *testing.T) {
		tpl := weekdayTemplate(t, doctorID, "America/New_York")

		out, err := ResolveOpenIntervals(tpl, nil, DateRange{From: monday, To: tuesday})
		require.NoError(t, err)
		require.Len(t, out, 2)

		// 09:00 in New York on a January Monday is 14:00 UTC.
		assert.True(t, out[0].Start.Equal(time.Date(2026, time.January, 5, 14, 0, 0, 0, time.UTC)))
	})
}
