package money

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the platform-wide number of fractional digits for monetary values.
// Amounts cross component boundaries as int64 units scaled by 10^Scale.
const Scale = 8

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

var unitFactor = decimal.New(1, Scale)

// Round8 truncates a decimal toward zero at Scale fractional digits. Every
// monetary result goes through this exactly once at the point it is produced,
// before it is stored or compared. Truncation never over-credits interest.
func Round8(value decimal.Decimal) decimal.Decimal {
	return value.RoundDown(Scale)
}

func FromUnits(units int64) decimal.Decimal {
	return decimal.New(units, -Scale)
}

func ToUnits(value decimal.Decimal) int64 {
	return Round8(value).Mul(unitFactor).IntPart()
}

// ParseUnits parses a decimal string into units. Inputs with more than Scale
// fractional digits are rejected rather than silently truncated.
func ParseUnits(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	body := trimmed
	if body[0] == '-' || body[0] == '+' {
		body = body[1:]
	}
	parts := strings.SplitN(body, ".", 2)
	wholePart := parts[0]
	if wholePart == "" {
		wholePart = "0"
	}
	if !isDigits(wholePart) {
		return 0, ErrInvalidAmount
	}
	if len(parts) == 2 {
		if len(parts[1]) > Scale {
			return 0, ErrTooManyDecimals
		}
		if parts[1] != "" && !isDigits(parts[1]) {
			return 0, ErrInvalidAmount
		}
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return value.Mul(unitFactor).IntPart(), nil
}

// FormatUnits renders units as a fixed 8-digit decimal string.
func FormatUnits(units int64) string {
	return FromUnits(units).StringFixed(Scale)
}

func ValueToInt64(value interface{}) int64 {
	switch v := value.(type) {
	case nil:
		return 0
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case uint32:
		return int64(v)
	case []byte:
		parsed, _ := strconv.ParseInt(string(v), 10, 64)
		return parsed
	case string:
		parsed, _ := strconv.ParseInt(v, 10, 64)
		return parsed
	default:
		parsed, _ := strconv.ParseInt(fmt.Sprint(v), 10, 64)
		return parsed
	}
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
