// Package printing prices print-and-deliver jobs.
package printing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxCopies caps a single print document order line.
const MaxCopies = 500

// Pricing holds per-page rates in rupees.
type Pricing struct {
	PerPage        decimal.Decimal
	ColorSurcharge decimal.Decimal // added per page for color prints
}

// Quote returns pages × copies × (per-page rate, plus the color surcharge
// when color is set), rounded to paise.
func (p Pricing) Quote(pages, copies int, color bool) (decimal.Decimal, error) {
	if pages < 1 {
		return decimal.Zero, fmt.Errorf("document has no pages")
	}
	if copies < 1 || copies > MaxCopies {
		return decimal.Zero, fmt.Errorf("copies must be between 1 and %d", MaxCopies)
	}

	rate := p.PerPage
	if color {
		rate = rate.Add(p.ColorSurcharge)
	}
	sheets := decimal.NewFromInt(int64(pages) * int64(copies))
	return rate.Mul(sheets).Round(2), nil
}
