package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

// StageTimestamp names the timestamp extraction stage in errors and metrics.
const StageTimestamp = "timestamp"

// updatePattern matches "D.M.YYYY, H:MM" surrounded by whitespace. The page
// often uses non-breaking spaces, hence \p{Zs}.
var updatePattern = regexp.MustCompile(
	`[\s\p{Zs}](\d{1,2})\.(\d{1,2})\.(\d{4}),[\s\p{Zs}](\d{1,2}):(\d{2})[\s\p{Zs}]`,
)

// hourCorrection is subtracted from the published hour.
const hourCorrection = 1

// TimestampParser reads the "Stand" line from the first text block of the page.
type TimestampParser struct {
	loc *time.Location
}

// NewTimestampParser builds a parser that interprets the published wall time in loc.
// A nil loc means UTC.
func NewTimestampParser(loc *time.Location) *TimestampParser {
	if loc == nil {
		loc = time.UTC
	}
	return &TimestampParser{loc: loc}
}

// Parse extracts the update timestamp with minute precision.
func (p *TimestampParser) Parse(page []byte) (time.Time, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return time.Time{}, &rki.ParseError{Stage: StageTimestamp, Err: fmt.Errorf("load html: %w", err)}
	}
	para := doc.Find("#main .text").First().Find("p").First()
	if para.Length() == 0 {
		return time.Time{}, &rki.ParseError{Stage: StageTimestamp, Err: rki.ErrTimestampBlockNotFound}
	}
	return p.parseText(para.Text())
}

func (p *TimestampParser) parseText(text string) (time.Time, error) {
	m := updatePattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, &rki.ParseError{Stage: StageTimestamp, Err: rki.ErrTimestampNotFound}
	}
	var parts [5]int
	for i := range parts {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return time.Time{}, &rki.ParseError{Stage: StageTimestamp, Err: fmt.Errorf("component %q: %w", m[i+1], err)}
		}
		parts[i] = n
	}
	day, month, year, hour, minute := parts[0], parts[1], parts[2], parts[3], parts[4]

	// time.Date normalizes out-of-range values, so hour 0 lands on 23:00 the day before.
	return time.Date(year, time.Month(month), day, hour-hourCorrection, minute, 0, 0, p.loc), nil
}
