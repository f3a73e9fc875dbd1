package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestToCanonicalKilograms(t *testing.T) {
	tests := []struct {
		name     string
		quantity string
		unit     Unit
		want     string
	}{
		{name: "kilograms unchanged", quantity: "12.5", unit: UnitKilograms, want: "12.5"},
		{name: "pounds", quantity: "50", unit: UnitPounds, want: "22.6796"},
		{name: "sack order", quantity: "500", unit: UnitPounds, want: "226.796"},
		{name: "tons", quantity: "1.25", unit: UnitTons, want: "1250"},
		{name: "zero", quantity: "0", unit: UnitPounds, want: "0"},
		{name: "unknown unit passes through", quantity: "7", unit: Unit("bushels"), want: "7"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ToCanonicalKilograms(decimal.RequireFromString(tc.quantity), tc.unit)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestParseUnit(t *testing.T) {
	cases := map[string]Unit{
		"kg":         UnitKilograms,
		"KG":         UnitKilograms,
		" Kilograms": UnitKilograms,
		"lbs":        UnitPounds,
		"Pounds":     UnitPounds,
		"ton":        UnitTons,
		"TONNES":     UnitTons,
	}
	for raw, want := range cases {
		got, err := ParseUnit(raw)
		if err != nil {
			t.Fatalf("ParseUnit(%q) unexpected error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseUnit(%q) = %s, want %s", raw, got, want)
		}
	}

	if _, err := ParseUnit("bushel"); !errors.Is(err, ErrUnsupportedUnit) {
		t.Fatalf("expected ErrUnsupportedUnit, got %v", err)
	}
	if _, err := ParseUnit(""); !errors.Is(err, ErrUnsupportedUnit) {
		t.Fatalf("expected ErrUnsupportedUnit for empty unit, got %v", err)
	}
}

func TestLenientQuantity(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{name: "nil", value: nil, want: "0"},
		{name: "int64", value: int64(40), want: "40"},
		{name: "float", value: 22.5, want: "22.5"},
		{name: "numeric string", value: " 50 ", want: "50"},
		{name: "garbage string", value: "fifty", want: "0"},
		{name: "nan", value: math.NaN(), want: "0"},
		{name: "infinite", value: math.Inf(1), want: "0"},
		{name: "negative", value: -3.0, want: "0"},
		{name: "bool", value: true, want: "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := LenientQuantity(tc.value)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestFloatRoundTripKeepsCanonicalPrecision(t *testing.T) {
	balance := decimal.RequireFromString("500").Sub(decimal.RequireFromString("226.796"))
	got := FromFloat(ToFloat(balance))
	if !got.Equal(decimal.RequireFromString("273.204")) {
		t.Fatalf("expected 273.204 after round trip, got %s", got)
	}
}
