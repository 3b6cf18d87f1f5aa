package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

// StageTable names the table extraction stage in errors and metrics.
const StageTable = "table"

// TableParser maps the body rows of the data table onto the fixed column schema.
type TableParser struct{}

// NewTableParser returns a TableParser.
func NewTableParser() *TableParser {
	return &TableParser{}
}

// Parse returns one RawRow per data row, in source order. The trailing footer
// row is always dropped.
func (TableParser) Parse(page []byte) ([]rki.RawRow, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, &rki.ParseError{Stage: StageTable, Err: fmt.Errorf("load html: %w", err)}
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, &rki.ParseError{Stage: StageTable, Err: rki.ErrTableNotFound}
	}

	var (
		rows    []rki.RawRow
		cellErr error
	)
	table.ChildrenFiltered("tbody").ChildrenFiltered("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		row, err := mapRow(tr)
		if err != nil {
			cellErr = err
			return false
		}
		rows = append(rows, row)
		return true
	})
	if cellErr != nil {
		return nil, &rki.ParseError{Stage: StageTable, Err: cellErr}
	}

	// The source appends a totals row that is not data.
	if len(rows) > 0 {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return nil, &rki.ParseError{Stage: StageTable, Err: rki.ErrNoRows}
	}
	return rows, nil
}

// mapRow assigns child cells positionally. Cells past the schema are ignored
// and missing cells stay empty.
func mapRow(tr *goquery.Selection) (rki.RawRow, error) {
	var row rki.RawRow
	cells := tr.Children()
	for i := 0; i < rki.ColumnCount && i < cells.Length(); i++ {
		inner, err := cells.Eq(i).Html()
		if err != nil {
			return rki.RawRow{}, fmt.Errorf("render cell %s: %w", rki.ColumnNames[i], err)
		}
		row[i] = collapseSpace(inner)
	}
	return row, nil
}

// collapseSpace trims the cell and folds whitespace runs into single spaces.
// Inline markup is left as found.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
