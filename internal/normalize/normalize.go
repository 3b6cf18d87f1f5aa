// Package normalize converts the German-formatted count cells of a table row
// into integers.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

// thousandsSeparator is the grouping character used by the source page.
const thousandsSeparator = "."

// numericColumns lists the columns converted to integers.
var numericColumns = [...]int{rki.ColAmount, rki.ColDiff, rki.ColRatio, rki.ColDead}

// Options tune the conversion.
type Options struct {
	// StripAllSeparators removes every separator instead of only the first.
	// The default keeps the historical behavior, where "1.234.567" reads as
	// 1234.567 and is truncated to 1234.
	StripAllSeparators bool
}

// Normalizer turns raw rows into a Dataset.
type Normalizer struct {
	opts Options
}

// New returns a Normalizer.
func New(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Normalize converts every row. The first non-numeric cell aborts with a
// *rki.NormalizationError.
func (n *Normalizer) Normalize(rows []rki.RawRow) (rki.Dataset, error) {
	out := make(rki.Dataset, 0, len(rows))
	for i, row := range rows {
		var values [rki.ColumnCount]int64
		for _, col := range numericColumns {
			v, err := n.Value(row[col])
			if err != nil {
				return nil, &rki.NormalizationError{
					Row:   i,
					State: row.State(),
					Field: rki.ColumnNames[col],
					Value: row[col],
					Err:   err,
				}
			}
			values[col] = v
		}
		out = append(out, rki.StateRow{
			State:  row.State(),
			Amount: values[rki.ColAmount],
			Diff:   values[rki.ColDiff],
			Ratio:  values[rki.ColRatio],
			Dead:   values[rki.ColDead],
			Info:   row.Info(),
		})
	}
	return out, nil
}

// Value converts a single cell. An empty cell counts as zero.
func (n *Normalizer) Value(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if n.opts.StripAllSeparators {
		s = strings.ReplaceAll(s, thousandsSeparator, "")
	} else {
		s = strings.Replace(s, thousandsSeparator, "", 1)
	}
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	// Leftover separators make the text a decimal; keep only the integer part.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || strings.ContainsAny(s, "eExXpP") {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("out of range: %q", s)
	}
	return int64(f), nil
}
