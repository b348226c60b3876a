// Package export renders scored property listings to CSV and XLSX for
// download or file output.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-radar/internal/model"
)

// Format selects an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a user-supplied format string, defaulting to CSV.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", eris.Errorf("export: unsupported format %q", s)
	}
}

// ContentType returns the MIME type for HTTP downloads.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	if f == FormatXLSX {
		return ".xlsx"
	}
	return ".csv"
}

// header is the column order shared by both encodings.
var header = []string{
	"id",
	"parcel_id",
	"address",
	"city",
	"state",
	"postal_code",
	"neighborhood",
	"owner_name",
	"owner_phone",
	"owner_email",
	"owner_occupancy",
	"assessed_value",
	"market_value",
	"equity_available",
	"value_gap",
	"transfer_date",
	"listing_score",
	"equity_factor",
	"value_gap_factor",
	"recency_factor",
}

// row flattens one scored property into the shared column order.
func row(p model.ScoredProperty) []string {
	return []string{
		p.ID,
		p.ParcelID,
		p.Address,
		p.City,
		p.State,
		p.PostalCode,
		p.Neighborhood,
		p.Owner.Name,
		p.Owner.Phone,
		p.Owner.Email,
		string(p.OwnerOccupancy),
		money(p.TotalAssessedValue),
		money(p.MarketValue()),
		money(p.EquityAvailable),
		money(p.ValueGap()),
		date(p.TransferDate),
		strconv.FormatFloat(p.ListingScore, 'f', 2, 64),
		strconv.FormatFloat(p.ScoreBreakdown.Equity, 'f', 4, 64),
		strconv.FormatFloat(p.ScoreBreakdown.ValueGap, 'f', 4, 64),
		strconv.FormatFloat(p.ScoreBreakdown.Recency, 'f', 4, 64),
	}
}

func money(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// WriteCSV writes properties as CSV and returns the data row count.
func WriteCSV(w io.Writer, props []model.ScoredProperty) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return 0, eris.Wrap(err, "export: write csv header")
	}
	for i, p := range props {
		if err := cw.Write(row(p)); err != nil {
			return i, eris.Wrap(err, "export: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, eris.Wrap(err, "export: flush csv")
	}
	return len(props), nil
}

// Write renders properties in the requested format and returns the data
// row count.
func Write(w io.Writer, format Format, props []model.ScoredProperty) (int, error) {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, props)
	default:
		return WriteCSV(w, props)
	}
}

// Filename builds a download filename for a scope and format, e.g.
// "lead-radar-austin-tx.csv".
func Filename(scope model.Scope, format Format) string {
	return fmt.Sprintf("lead-radar-%s-%s%s",
		slug(scope.City), slug(scope.State), format.Extension())
}

func slug(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '-')
		}
	}
	return string(out)
}
