package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

func TestTimestampParser_AppliesHourCorrection(t *testing.T) {
	t.Parallel()

	got, err := NewTimestampParser(nil).Parse(readFixture(t, "fallzahlen.html"))
	require.NoError(t, err)

	require.Equal(t, 2021, got.Year())
	require.Equal(t, time.March, got.Month())
	require.Equal(t, 5, got.Day())
	require.Equal(t, 13, got.Hour())
	require.Equal(t, 30, got.Minute())
	require.Zero(t, got.Second())
	require.Zero(t, got.Nanosecond())
	require.Equal(t, time.UTC, got.Location())
}

func TestTimestampParser_Text(t *testing.T) {
	t.Parallel()

	berlin := time.FixedZone("CET", 3600)
	tests := []struct {
		name string
		loc  *time.Location
		text string
		want time.Time
	}{
		{
			name: "single digit hour",
			text: "Stand: 12.11.2020, 0:00 Uhr ",
			want: time.Date(2020, time.November, 11, 23, 0, 0, 0, time.UTC),
		},
		{
			name: "two digit fields",
			text: "Stand: 24.12.2020, 10:05 Uhr",
			want: time.Date(2020, time.December, 24, 9, 5, 0, 0, time.UTC),
		},
		{
			name: "midnight on new year rolls back a year",
			text: " 1.1.2021, 0:15 ",
			want: time.Date(2020, time.December, 31, 23, 15, 0, 0, time.UTC),
		},
		{
			name: "leap day",
			text: "Stand: 29.2.2020, 8:00 Uhr",
			want: time.Date(2020, time.February, 29, 7, 0, 0, 0, time.UTC),
		},
		{
			name: "custom location",
			loc:  berlin,
			text: "Stand: 5.3.2021, 14:30 Uhr",
			want: time.Date(2021, time.March, 5, 13, 30, 0, 0, berlin),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := NewTimestampParser(tc.loc).parseText(tc.text)
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "want %v, got %v", tc.want, got)
		})
	}
}

func TestTimestampParser_NoMatch(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"Stand: heute",
		"Stand:5.3.2021, 14:30 Uhr",
		"Stand: 5.3.21, 14:30 Uhr",
		"Stand: 5.3.2021 14:30 Uhr",
		"Stand: 5.3.2021, 14:3 Uhr",
	} {
		_, err := NewTimestampParser(nil).parseText(text)
		require.ErrorIs(t, err, rki.ErrTimestampNotFound, text)
	}
}

func TestTimestampParser_BlockMissing(t *testing.T) {
	t.Parallel()

	_, err := NewTimestampParser(nil).Parse(readFixture(t, "empty.html"))
	require.ErrorIs(t, err, rki.ErrTimestampBlockNotFound)

	var parseErr *rki.ParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, StageTimestamp, parseErr.Stage)
}

func TestTimestampParser_UsesFirstTextBlockOnly(t *testing.T) {
	t.Parallel()

	page := `<div id="main">
<div class="text"><p>Kein Datum hier</p></div>
<div class="text"><p>Stand: 5.3.2021, 14:30 Uhr</p></div>
</div>`
	_, err := NewTimestampParser(nil).Parse([]byte(page))
	require.ErrorIs(t, err, rki.ErrTimestampNotFound)
}
