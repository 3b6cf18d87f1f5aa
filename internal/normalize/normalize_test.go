package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

func TestValue_FirstSeparatorOnly(t *testing.T) {
	t.Parallel()

	n := New(Options{})
	tests := []struct {
		in   string
		want int64
	}{
		{"12.345", 12345},
		{"345", 345},
		{"", 0},
		{"  7.001 ", 7001},
		{"-12", -12},
		{"+1.596", 1596},
		// Only the first separator goes: "1234.567" keeps its integer part.
		{"1.234.567", 1234},
		{"12.345.678", 12345},
	}
	for _, tc := range tests {
		got, err := n.Value(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestValue_StripAllSeparators(t *testing.T) {
	t.Parallel()

	n := New(Options{StripAllSeparators: true})
	got, err := n.Value("1.234.567")
	require.NoError(t, err)
	require.Equal(t, int64(1234567), got)

	got, err = n.Value("12.345")
	require.NoError(t, err)
	require.Equal(t, int64(12345), got)
}

func TestValue_RejectsNonNumeric(t *testing.T) {
	t.Parallel()

	n := New(Options{})
	for _, in := range []string{"abc", "<strong>1.234</strong>", "1,5", "NaN", "Inf", "1e5", "0x10", "--3"} {
		_, err := n.Value(in)
		require.Error(t, err, in)
	}
}

func TestNormalize_ConvertsNumericColumns(t *testing.T) {
	t.Parallel()

	rows := []rki.RawRow{
		{"Bayern", "434.106", "1.596", "3.307", "12.337", `Landkreis <a href="#hof">Hof</a>`},
		{"Bremen", "17.524", "45", "2.573", "341", ""},
	}
	got, err := New(Options{}).Normalize(rows)
	require.NoError(t, err)
	require.Equal(t, rki.Dataset{
		{State: "Bayern", Amount: 434106, Diff: 1596, Ratio: 3307, Dead: 12337, Info: `Landkreis <a href="#hof">Hof</a>`},
		{State: "Bremen", Amount: 17524, Diff: 45, Ratio: 2573, Dead: 341},
	}, got)
}

func TestNormalize_ReportsOffendingCell(t *testing.T) {
	t.Parallel()

	rows := []rki.RawRow{
		{"Berlin", "1", "2", "3", "4", ""},
		{"Hamburg", "10", "n/a", "3", "4", ""},
	}
	got, err := New(Options{}).Normalize(rows)
	require.Nil(t, got)

	var normErr *rki.NormalizationError
	require.ErrorAs(t, err, &normErr)
	require.Equal(t, 1, normErr.Row)
	require.Equal(t, "Hamburg", normErr.State)
	require.Equal(t, "Diff", normErr.Field)
	require.Equal(t, "n/a", normErr.Value)
}
