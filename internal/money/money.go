// Package money converts between the major-unit decimal amounts used at the
// gateway boundary and the native units each provider speaks. Most providers
// expect minor units (cents, stotinki, kopecks); zero-decimal currencies are
// passed through whole.
package money

import (
	"math"
	"strconv"
	"strings"
)

var zeroDecimal = map[string]struct{}{
	"JPY": {},
	"KRW": {},
	"VND": {},
}

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimal[strings.ToUpper(strings.TrimSpace(currency))]
	return ok
}

// ToMinorUnits converts a major-unit amount into the provider-native integer
// representation: cents for two-decimal currencies, whole units otherwise.
func ToMinorUnits(amount float64, currency string) int64 {
	if IsZeroDecimal(currency) {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

// FromMinorUnits converts a provider-native integer amount back into major
// units.
func FromMinorUnits(amount int64, currency string) float64 {
	if IsZeroDecimal(currency) {
		return float64(amount)
	}
	return float64(amount) / 100
}

// FormatDecimal renders a major-unit amount the way form-encoded gateways
// expect it: two decimal places, or none for zero-decimal currencies.
func FormatDecimal(amount float64, currency string) string {
	if IsZeroDecimal(currency) {
		return strconv.FormatInt(int64(math.Round(amount)), 10)
	}
	return strconv.FormatFloat(amount, 'f', 2, 64)
}
