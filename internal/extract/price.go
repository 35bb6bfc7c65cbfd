package extract

import (
	"strings"

	"github.com/shopspring/decimal"
)

// NormalizePrice turns a scraped price label such as "₹ 1,29,990.00" into a
// number. Everything except ASCII digits and '.' is dropped first, so currency
// symbols and thousands separators of any locale are ignored. Returns nil when
// nothing parseable is left.
//
// A dotted currency prefix is not handled: the dot of "Rs. 1,299" survives
// and the label reads as 0.1299. Both sites render ₹, not "Rs.".
func NormalizePrice(raw string) *float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, raw)

	if strings.Trim(cleaned, ".") == "" {
		return nil
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return nil
	}

	price := d.InexactFloat64()
	return &price
}
