package upstream

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/lead-radar/internal/model"
)

// ParseParcel normalizes one raw provider record into a RawParcel. The
// provider is tolerant of missing fields, mixed string/number values, and
// two transfer-date encodings (YYYYMMDD and ISO 8601); parsing never
// fails, it just leaves the field unset.
func ParseParcel(raw map[string]any) model.RawParcel {
	p := model.RawParcel{
		ParcelID:     str(raw["parcelId"]),
		City:         str(raw["city"]),
		State:        str(raw["state"]),
		Neighborhood: str(raw["neighborhood"]),
	}

	p.PostalCode = firstStr(raw, "zipCode", "zipCodePlusFour")
	p.Address = parseAddress(raw)

	p.Latitude = num(raw["latitude"])
	p.Longitude = num(raw["longitude"])
	p.TotalAssessedValue = num(raw["totalAssessedValue"])
	p.TotalMarketValue = num(raw["totalMarketValue"])
	p.ModelValue = num(raw["modelValue"])
	p.EquityAvailable = firstNum(raw, "equityAvailable", "availableEquity", "equityCurrentEstBal")
	p.TransferDate = parseTransferDate(raw["transferDate"])

	p.Owner = model.OwnerContact{
		Name:         firstStr(raw, "ownerName", "owner1FullName"),
		AddressLine1: firstStr(raw, "ownerAddressLine1", "ownerMailingAddress"),
		City:         str(raw["ownerCity"]),
		State:        str(raw["ownerState"]),
		PostalCode:   str(raw["ownerZipCode"]),
		Phone:        str(raw["ownerPhone"]),
		Email:        str(raw["ownerEmail"]),
	}

	p.ID = firstStr(raw, "_id", "id", "parcelId")
	if p.ID == "" {
		p.ID = p.Address
	}
	if p.ID == "" {
		p.ID = "unknown"
	}

	p.OwnerOccupancy = p.DeriveOwnerOccupancy()
	return p
}

// parseAddress prefers the provider's pre-assembled address fields and
// falls back to assembling one from street parts.
func parseAddress(raw map[string]any) string {
	if addr := firstStr(raw, "addressFull", "addressFormal", "address", "addressRaw"); addr != "" {
		return addr
	}
	if str(raw["streetName"]) == "" {
		return ""
	}
	parts := []string{
		str(raw["streetNumber"]),
		str(raw["streetDirectionPrefix"]),
		str(raw["streetName"]),
		str(raw["streetType"]),
		str(raw["streetDirectionSuffix"]),
	}
	var nonEmpty []string
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, " ")
}

func parseTransferDate(v any) *time.Time {
	s := str(v)
	if s == "" || s == "00000000" {
		return nil
	}
	// Numeric dates arrive as floats through JSON decoding.
	if f, ok := v.(float64); ok {
		s = strconv.Itoa(int(f))
	}
	if len(s) == 8 && isDigits(s) {
		if t, err := time.Parse("20060102", s); err == nil {
			return &t
		}
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func num(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case int:
		f := float64(t)
		return &f
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return &f
		}
	}
	return nil
}

func firstStr(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func firstNum(raw map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if f := num(raw[k]); f != nil {
			return f
		}
	}
	return nil
}
