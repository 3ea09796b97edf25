package export

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Monthly"

// WriteWorkbook saves the report as an XLSX workbook with one row per month,
// a totals row and a column chart of orders per month.
func WriteWorkbook(path string, r *Report) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "close workbook")
		}
	}()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return errors.Wrap(err, "rename sheet")
	}

	header := []any{"Month", "Orders", "Items", "Revenue", "Customers"}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return errors.Wrap(err, "write header")
	}
	for i, m := range r.Months {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{time.Month(m.Month).String(), m.Orders, m.Items, m.Revenue.Round(2).InexactFloat64(), m.Customers}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return errors.Wrapf(err, "write month %d", m.Month)
		}
	}

	last := len(r.Months) + 1
	totalCell, err := excelize.CoordinatesToCellName(1, last+1)
	if err != nil {
		return err
	}
	var items int
	for _, m := range r.Months {
		items += m.Items
	}
	totals := []any{"Total", r.Orders, items, r.Revenue.Round(2).InexactFloat64(), r.Customers}
	if err := f.SetSheetRow(sheetName, totalCell, &totals); err != nil {
		return errors.Wrap(err, "write totals")
	}

	if len(r.Months) > 0 {
		if err := f.AddChart(sheetName, "G2", &excelize.Chart{
			Type: excelize.Col,
			Series: []excelize.ChartSeries{{
				Name:       fmt.Sprintf("%s!$B$1", sheetName),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheetName, last),
				Values:     fmt.Sprintf("%s!$B$2:$B$%d", sheetName, last),
			}},
			Title: []excelize.RichTextRun{{Text: fmt.Sprintf("Orders per month, %d", r.Year)}},
		}); err != nil {
			return errors.Wrap(err, "add chart")
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, "save workbook")
	}
	return nil
}
