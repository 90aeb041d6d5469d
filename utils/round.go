package utils

import "github.com/shopspring/decimal"

// Round2 rounds x to two decimal places, halves away from zero. Used only
// where values leave the system (report rows, exports, API responses).
func Round2(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return f
}
