package cronexpr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{"daily at 2am from morning", "0 2 * * *", utc(2024, 1, 1, 10, 0), utc(2024, 1, 2, 2, 0)},
		{"daily at 2am right after run", "0 2 * * *", time.Date(2024, 1, 2, 2, 0, 5, 0, time.UTC), utc(2024, 1, 3, 2, 0)},
		{"strictly after exact match", "0 2 * * *", utc(2024, 1, 2, 2, 0), utc(2024, 1, 3, 2, 0)},
		{"every minute", "* * * * *", time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC), utc(2024, 1, 1, 10, 1)},
		{"comma list", "0,30 * * * *", utc(2024, 1, 1, 10, 10), utc(2024, 1, 1, 10, 30)},
		{"step", "*/15 * * * *", utc(2024, 1, 1, 10, 46), utc(2024, 1, 1, 11, 0)},
		{"range with step", "10-40/10 8 * * *", utc(2024, 1, 1, 8, 21), utc(2024, 1, 1, 8, 30)},
		{"month rollover", "0 0 1 * *", utc(2024, 1, 15, 0, 0), utc(2024, 2, 1, 0, 0)},
		{"year rollover", "30 4 1 1 *", utc(2024, 6, 1, 0, 0), utc(2025, 1, 1, 4, 30)},
		{"leap day", "0 0 29 2 *", utc(2024, 3, 1, 0, 0), utc(2028, 2, 29, 0, 0)},
		{"weekday names", "0 9 * * MON-FRI", utc(2024, 1, 6, 12, 0), utc(2024, 1, 8, 9, 0)},
		{"sunday as 7", "0 3 * * 7", utc(2024, 1, 1, 0, 0), utc(2024, 1, 7, 3, 0)},
		{"month names", "0 0 1 mar *", utc(2024, 1, 1, 0, 0), utc(2024, 3, 1, 0, 0)},
		{"descriptor", "@weekly", utc(2024, 1, 3, 0, 0), utc(2024, 1, 7, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(tt.expr, tt.after, time.UTC)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Day-of-month and day-of-week combine with OR when both are restricted and
// with AND when either one is "*".
func TestDayOfMonthDayOfWeekSemantics(t *testing.T) {
	// 2024-01-01 is a Monday.
	start := utc(2024, 1, 1, 1, 0)

	t.Run("both restricted uses OR", func(t *testing.T) {
		// 15th of the month OR any Friday: first Friday is Jan 5.
		got, err := NextOccurrence("0 0 15 * 5", start, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, utc(2024, 1, 5, 0, 0), got)

		got, err = NextOccurrence("0 0 15 * 5", utc(2024, 1, 13, 0, 0), time.UTC)
		require.NoError(t, err)
		assert.Equal(t, utc(2024, 1, 15, 0, 0), got, "the 15th matches even though it is a Monday")
	})

	t.Run("dow wildcard uses AND", func(t *testing.T) {
		got, err := NextOccurrence("0 0 15 * *", start, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, utc(2024, 1, 15, 0, 0), got)
	})

	t.Run("dom wildcard uses AND", func(t *testing.T) {
		got, err := NextOccurrence("0 0 * * 5", start, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, utc(2024, 1, 5, 0, 0), got)
	})

	t.Run("stepped wildcard counts as unrestricted", func(t *testing.T) {
		// "*/2" on day-of-week starts with "*", so AND applies: the 15th must also be an even weekday.
		got, err := NextOccurrence("0 0 15 * */2", start, time.UTC)
		require.NoError(t, err)
		// Jan 15 2024 is Monday (1), Feb 15 Thursday (4).
		assert.Equal(t, utc(2024, 2, 15, 0, 0), got)
	})
}

func TestNextOccurrenceTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	// 02:00 Paris in winter is 01:00 UTC.
	got, err := NextOccurrence("0 2 * * *", utc(2024, 1, 1, 10, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 1, 2, 1, 0), got)
	assert.Equal(t, time.UTC, got.Location())

	// 2024-03-31 02:30 does not exist in Paris; the next valid day is used.
	got, err = NextOccurrence("30 2 * * *", utc(2024, 3, 30, 12, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, utc(2024, 4, 1, 0, 30), got)
}

func TestNextOccurrenceIsStrictlyAfterAndStable(t *testing.T) {
	exprs := []string{"0 2 * * *", "*/7 * * * *", "15 3 1,15 * *", "0 0 * * 1-5", "59 23 31 12 *", "@hourly"}
	ref := time.Date(2024, 2, 28, 23, 59, 59, 0, time.UTC)

	for _, expr := range exprs {
		t.Run(expr, func(t *testing.T) {
			anchor := ref
			for i := 0; i < 50; i++ {
				next, err := NextOccurrence(expr, anchor, time.UTC)
				require.NoError(t, err)
				assert.True(t, next.After(anchor), "next %s must be after %s", next, anchor)

				again, err := NextOccurrence(expr, anchor, time.UTC)
				require.NoError(t, err)
				assert.Equal(t, next, again)

				anchor = next
			}
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"a * * * *",
		"1,,2 * * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"@fortnightly",
	}

	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidExpression)
		})
	}
}

func TestNextRejectsImpossibleDate(t *testing.T) {
	_, err := NextOccurrence("0 0 30 2 *", utc(2024, 1, 1, 0, 0), time.UTC)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidExpression)
}
