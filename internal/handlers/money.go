package handlers

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// formatAmount renders a minor-unit amount as a display string in the given
// ISO currency, e.g. "USD 103.00". Unknown codes yield an empty string; the
// numeric minor-unit fields stay authoritative either way.
func formatAmount(code string, minor int64) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return ""
	}
	scale, _ := currency.Cash.Rounding(unit)
	value := float64(minor) / math.Pow10(scale)
	return fmt.Sprintf("%v", unit.Amount(value))
}
