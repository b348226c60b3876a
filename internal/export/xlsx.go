package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/lead-radar/internal/model"
)

// WriteXLSX writes properties as a single-sheet workbook and returns the
// data row count.
func WriteXLSX(w io.Writer, props []model.ScoredProperty) (int, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Properties")
	if err != nil {
		return 0, eris.Wrap(err, "export: add xlsx sheet")
	}

	hr := sheet.AddRow()
	for _, col := range header {
		hr.AddCell().SetString(col)
	}
	for _, p := range props {
		r := sheet.AddRow()
		for _, cell := range row(p) {
			r.AddCell().SetString(cell)
		}
	}

	if err := f.Write(w); err != nil {
		return 0, eris.Wrap(err, "export: write xlsx")
	}
	return len(props), nil
}

// WriteXLSXPacks writes one sheet per lead pack, labeled by pack, and
// returns the total data row count.
func WriteXLSXPacks(w io.Writer, set model.LeadPackSet) (int, error) {
	f := xlsx.NewFile()
	total := 0
	for _, pack := range set.Packs {
		name := pack.Label
		if name == "" {
			name = "unclassified"
		}
		sheet, err := f.AddSheet(sheetName(name))
		if err != nil {
			return total, eris.Wrapf(err, "export: add xlsx sheet %q", name)
		}
		hr := sheet.AddRow()
		for _, col := range header {
			hr.AddCell().SetString(col)
		}
		for _, p := range pack.TopProperties {
			r := sheet.AddRow()
			for _, cell := range row(p) {
				r.AddCell().SetString(cell)
			}
			total++
		}
	}
	if err := f.Write(w); err != nil {
		return total, eris.Wrap(err, "export: write xlsx packs")
	}
	return total, nil
}

// sheetName trims a label to Excel's 31-character sheet name cap.
func sheetName(label string) string {
	if len(label) > 31 {
		return label[:31]
	}
	return label
}
