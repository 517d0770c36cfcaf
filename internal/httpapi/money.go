package httpapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const minorUnitDigits = 2

var errInvalidMoney = errors.New("invalid money amount")

// parseMoney converts a decimal string such as "500.25" into minor units. More than two
// fractional digits are rejected rather than rounded.
func parseMoney(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty value", errInvalidMoney)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidMoney, raw)
	}
	minor := value.Shift(minorUnitDigits)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", errInvalidMoney, raw, minorUnitDigits)
	}
	if !minor.IsPositive() {
		return 0, fmt.Errorf("%w: %q must be positive", errInvalidMoney, raw)
	}
	if minor.GreaterThan(decimal.NewFromInt(1 << 53)) {
		return 0, fmt.Errorf("%w: %q is too large", errInvalidMoney, raw)
	}
	return minor.IntPart(), nil
}

// formatMoney renders minor units with exactly two decimal places.
func formatMoney(minor int64) string {
	return decimal.New(minor, -minorUnitDigits).StringFixed(minorUnitDigits)
}
