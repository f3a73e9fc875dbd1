package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
)

func TestAggregateDebitsCombinesLinesPerWarehouse(t *testing.T) {
	catalog := []domain.Product{
		{ID: "feed-50lb", Name: "Feed 50lb", PackageQuantity: decimal.NewFromInt(50), PackageUnit: domain.UnitPounds, WarehouseID: "silo-a"},
		{ID: "feed-25kg", Name: "Feed 25kg", PackageQuantity: decimal.NewFromInt(25), PackageUnit: domain.UnitKilograms, WarehouseID: "silo-a"},
		{ID: "lime-1t", Name: "Lime bulk", PackageQuantity: decimal.RequireFromString("0.5"), PackageUnit: domain.UnitTons, WarehouseID: "shed-b"},
	}
	items := []domain.LineItem{
		{ProductID: "feed-50lb", Name: "Feed 50lb", Quantity: 10},
		{ProductID: "feed-25kg", Name: "Feed 25kg", Quantity: 2},
		{ProductID: "lime-1t", Name: "Lime bulk", Quantity: 3},
		{ProductID: "feed-50lb", Name: "Feed 50lb", Quantity: 0},
	}

	debits, err := AggregateDebits(items, catalog)
	if err != nil {
		t.Fatalf("AggregateDebits: %v", err)
	}

	if len(debits) != 2 {
		t.Fatalf("expected 2 warehouses, got %v", debits)
	}
	if want := decimal.RequireFromString("276.796"); !debits["silo-a"].Equal(want) {
		t.Fatalf("silo-a: expected %s, got %s", want, debits["silo-a"])
	}
	if want := decimal.NewFromInt(1500); !debits["shed-b"].Equal(want) {
		t.Fatalf("shed-b: expected %s, got %s", want, debits["shed-b"])
	}
	if ids := debits.WarehouseIDs(); ids[0] != "shed-b" || ids[1] != "silo-a" {
		t.Fatalf("expected sorted ids, got %v", ids)
	}
	if want := decimal.RequireFromString("1776.796"); !debits.Total().Equal(want) {
		t.Fatalf("expected total %s, got %s", want, debits.Total())
	}
}

func TestAggregateDebitsEmptyOrder(t *testing.T) {
	debits, err := AggregateDebits(nil, nil)
	if err != nil {
		t.Fatalf("AggregateDebits: %v", err)
	}
	if len(debits) != 0 {
		t.Fatalf("expected no debits, got %v", debits)
	}
}

func TestAggregateDebitsErrors(t *testing.T) {
	valid := domain.Product{ID: "p1", Name: "Corn sack", PackageQuantity: decimal.NewFromInt(50), PackageUnit: domain.UnitKilograms, WarehouseID: "w1"}

	tests := []struct {
		name     string
		items    []domain.LineItem
		catalog  []domain.Product
		want     error
		contains string
	}{
		{
			name:     "unknown product names the line",
			items:    []domain.LineItem{{ProductID: "gone", Name: "Rice 25kg", Quantity: 1}},
			catalog:  []domain.Product{valid},
			want:     ErrOrderProductNotFound,
			contains: "Rice 25kg",
		},
		{
			name:     "missing warehouse assignment",
			items:    []domain.LineItem{{ProductID: "p2", Name: "Seeds", Quantity: 1}},
			catalog:  []domain.Product{{ID: "p2", Name: "Seeds", PackageQuantity: decimal.NewFromInt(1), PackageUnit: domain.UnitKilograms}},
			want:     ErrOrderMissingWarehouseAssignment,
			contains: "Seeds",
		},
		{
			name:    "unsupported unit",
			items:   []domain.LineItem{{ProductID: "p3", Name: "Hay", Quantity: 1}},
			catalog: []domain.Product{{ID: "p3", Name: "Hay", PackageQuantity: decimal.NewFromInt(1), PackageUnit: domain.Unit("bale"), WarehouseID: "w1"}},
			want:    ErrOrderUnsupportedUnit,
		},
		{
			name:    "negative quantity",
			items:   []domain.LineItem{{ProductID: "p1", Name: "Corn sack", Quantity: -2}},
			catalog: []domain.Product{valid},
			want:    ErrOrderInvalidInput,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			debits, err := AggregateDebits(tc.items, tc.catalog)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if debits != nil {
				t.Fatalf("expected no debits on error, got %v", debits)
			}
			if tc.contains != "" && !strings.Contains(err.Error(), tc.contains) {
				t.Fatalf("expected error to mention %q, got %q", tc.contains, err.Error())
			}
		})
	}
}
