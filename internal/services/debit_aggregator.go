package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
)

// WarehouseDebits maps warehouse IDs to the kilograms an order draws from each.
type WarehouseDebits map[string]decimal.Decimal

// WarehouseIDs returns the implicated warehouses in a stable order so transactions
// always read them in the same sequence.
func (d WarehouseDebits) WarehouseIDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Total sums every debit.
func (d WarehouseDebits) Total() decimal.Decimal {
	total := decimal.Zero
	for _, kg := range d {
		total = total.Add(kg)
	}
	return total
}

// AggregateDebits resolves each line item against the catalog snapshot and sums the
// kilograms required per warehouse. Lines with zero quantity resolve but add no debit.
// It performs no I/O.
func AggregateDebits(items []domain.LineItem, catalog []domain.Product) (WarehouseDebits, error) {
	byID := make(map[string]domain.Product, len(catalog))
	for _, product := range catalog {
		byID[product.ID] = product
	}

	debits := make(WarehouseDebits)
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrOrderProductNotFound, lineDisplayName(item))
		}
		if strings.TrimSpace(product.WarehouseID) == "" {
			return nil, fmt.Errorf("%w: %s", ErrOrderMissingWarehouseAssignment, product.Name)
		}
		if !product.PackageUnit.Valid() {
			return nil, fmt.Errorf("%w: %s is packaged in %q", ErrOrderUnsupportedUnit, product.Name, product.PackageUnit)
		}
		if item.Quantity < 0 {
			return nil, fmt.Errorf("%w: negative quantity for %s", ErrOrderInvalidInput, lineDisplayName(item))
		}
		if item.Quantity == 0 {
			continue
		}

		packages := product.PackageQuantity.Mul(decimal.NewFromInt(int64(item.Quantity)))
		kg := domain.ToCanonicalKilograms(packages, product.PackageUnit)
		if kg.IsZero() {
			continue
		}
		debits[product.WarehouseID] = debits[product.WarehouseID].Add(kg)
	}
	return debits, nil
}

func lineDisplayName(item domain.LineItem) string {
	if name := strings.TrimSpace(item.Name); name != "" {
		return name
	}
	return item.ProductID
}
