package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Unit is a mass unit in which products are packaged.
type Unit string

const (
	// UnitKilograms is the canonical unit all warehouse balances are kept in.
	UnitKilograms Unit = "kilograms"
	UnitPounds    Unit = "pounds"
	UnitTons      Unit = "tons"
)

// CanonicalPrecision is the number of decimal places kept on kilogram amounts.
const CanonicalPrecision int32 = 6

// ErrUnsupportedUnit is returned when a unit name is outside the closed set.
var ErrUnsupportedUnit = errors.New("domain: unsupported unit")

var (
	kilogramsPerUnit = map[Unit]decimal.Decimal{
		UnitKilograms: decimal.NewFromInt(1),
		UnitPounds:    decimal.RequireFromString("0.453592"),
		UnitTons:      decimal.NewFromInt(1000),
	}

	unitAliases = map[string]Unit{
		"kg":        UnitKilograms,
		"kgs":       UnitKilograms,
		"kilo":      UnitKilograms,
		"kilos":     UnitKilograms,
		"kilogram":  UnitKilograms,
		"kilograms": UnitKilograms,
		"lb":        UnitPounds,
		"lbs":       UnitPounds,
		"pound":     UnitPounds,
		"pounds":    UnitPounds,
		"t":         UnitTons,
		"ton":       UnitTons,
		"tons":      UnitTons,
		"tonne":     UnitTons,
		"tonnes":    UnitTons,
	}

	unitFolder = cases.Fold()
)

// Valid reports whether the unit belongs to the closed set.
func (u Unit) Valid() bool {
	_, ok := kilogramsPerUnit[u]
	return ok
}

// ParseUnit resolves a user or store supplied unit name. Matching ignores case and
// accepts the usual abbreviations.
func ParseUnit(raw string) (Unit, error) {
	key := unitFolder.String(strings.TrimSpace(raw))
	if unit, ok := unitAliases[key]; ok {
		return unit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedUnit, raw)
}

// ToCanonicalKilograms converts a quantity expressed in unit to kilograms.
// Unknown units leave the quantity unchanged.
func ToCanonicalKilograms(quantity decimal.Decimal, unit Unit) decimal.Decimal {
	factor, ok := kilogramsPerUnit[unit]
	if !ok {
		return quantity
	}
	return quantity.Mul(factor).Round(CanonicalPrecision)
}

// LenientQuantity decodes a loosely typed numeric value. Missing, non-numeric,
// non-finite and negative values decode to zero.
func LenientQuantity(value any) decimal.Decimal {
	var out decimal.Decimal
	switch v := value.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		out = v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero
		}
		out = decimal.NewFromFloat(v)
	case float32:
		return LenientQuantity(float64(v))
	case int:
		out = decimal.NewFromInt(int64(v))
	case int64:
		out = decimal.NewFromInt(v)
	case int32:
		out = decimal.NewFromInt32(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return decimal.Zero
		}
		return LenientQuantity(f)
	default:
		return decimal.Zero
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// FromFloat converts a stored float into a decimal at canonical precision.
func FromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(CanonicalPrecision)
}

// ToFloat converts a decimal to the float representation persisted by stores.
func ToFloat(d decimal.Decimal) float64 {
	f, _ := d.Round(CanonicalPrecision).Float64()
	return f
}
