package firestore

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/MeltyDeays/AgroApp-sub000/internal/domain"
)

const (
	ordersCollection     = "orders"
	warehousesCollection = "warehouses"
	productsCollection   = "products"
)

type orderDocument struct {
	ID              string             `firestore:"-"`
	OwnerID         string             `firestore:"ownerId"`
	OwnerName       string             `firestore:"ownerName,omitempty"`
	Items           []lineItemDocument `firestore:"items"`
	TotalAmount     float64            `firestore:"totalAmount"`
	DeliveryAddress string             `firestore:"deliveryAddress"`
	PaymentMethod   string             `firestore:"paymentMethod"`
	PaymentDetail   *string            `firestore:"paymentDetail,omitempty"`
	State           string             `firestore:"state"`
	RejectionReason *string            `firestore:"rejectionReason,omitempty"`
	OwnerNotified   bool               `firestore:"ownerNotified"`
	ApprovedBy      string             `firestore:"approvedBy,omitempty"`
	RejectedBy      string             `firestore:"rejectedBy,omitempty"`
	CreatedAt       time.Time          `firestore:"createdAt"`
	UpdatedAt       time.Time          `firestore:"updatedAt"`
	ApprovedAt      *time.Time         `firestore:"approvedAt,omitempty"`
	RejectedAt      *time.Time         `firestore:"rejectedAt,omitempty"`
	CompletedAt     *time.Time         `firestore:"completedAt,omitempty"`
}

type lineItemDocument struct {
	ProductID string  `firestore:"productId"`
	Name      string  `firestore:"name"`
	UnitPrice float64 `firestore:"price"`
	Quantity  int     `firestore:"quantity"`
	LineTotal float64 `firestore:"lineTotal"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]lineItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, lineItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: domain.ToFloat(item.UnitPrice),
			Quantity:  item.Quantity,
			LineTotal: domain.ToFloat(item.LineTotal),
		})
	}
	return orderDocument{
		ID:              order.ID,
		OwnerID:         order.OwnerID,
		OwnerName:       order.OwnerName,
		Items:           items,
		TotalAmount:     domain.ToFloat(order.TotalAmount),
		DeliveryAddress: order.DeliveryAddress,
		PaymentMethod:   order.PaymentMethod,
		PaymentDetail:   order.PaymentDetail,
		State:           string(order.State),
		RejectionReason: order.RejectionReason,
		OwnerNotified:   order.OwnerNotified,
		ApprovedBy:      order.ApprovedBy,
		RejectedBy:      order.RejectedBy,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		ApprovedAt:      utcPtr(order.ApprovedAt),
		RejectedAt:      utcPtr(order.RejectedAt),
		CompletedAt:     utcPtr(order.CompletedAt),
	}
}

func (d orderDocument) toDomain() domain.Order {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.LineItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      item.Name,
			UnitPrice: domain.FromFloat(item.UnitPrice),
			Quantity:  item.Quantity,
			LineTotal: domain.FromFloat(item.LineTotal),
		})
	}
	return domain.Order{
		ID:              d.ID,
		OwnerID:         d.OwnerID,
		OwnerName:       d.OwnerName,
		Items:           items,
		TotalAmount:     domain.FromFloat(d.TotalAmount),
		DeliveryAddress: d.DeliveryAddress,
		PaymentMethod:   d.PaymentMethod,
		PaymentDetail:   d.PaymentDetail,
		State:           domain.OrderState(strings.ToLower(strings.TrimSpace(d.State))),
		RejectionReason: d.RejectionReason,
		OwnerNotified:   d.OwnerNotified,
		ApprovedBy:      d.ApprovedBy,
		RejectedBy:      d.RejectedBy,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ApprovedAt:      d.ApprovedAt,
		RejectedAt:      d.RejectedAt,
		CompletedAt:     d.CompletedAt,
	}
}

func decodeOrder(snap *firestore.DocumentSnapshot) (orderDocument, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return orderDocument{}, err
	}
	doc.ID = snap.Ref.ID
	return doc, nil
}

type warehouseDocument struct {
	ID        string    `firestore:"-"`
	Name      string    `firestore:"name"`
	Material  string    `firestore:"material"`
	Capacity  float64   `firestore:"capacity"`
	Quantity  float64   `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func newWarehouseDocument(w domain.Warehouse) warehouseDocument {
	return warehouseDocument{
		ID:        w.ID,
		Name:      w.Name,
		Material:  w.Material,
		Capacity:  domain.ToFloat(w.Capacity),
		Quantity:  domain.ToFloat(w.Quantity),
		CreatedAt: w.CreatedAt.UTC(),
		UpdatedAt: w.UpdatedAt.UTC(),
	}
}

func (d warehouseDocument) toDomain() domain.Warehouse {
	return domain.Warehouse{
		ID:        d.ID,
		Name:      d.Name,
		Material:  d.Material,
		Capacity:  domain.FromFloat(d.Capacity),
		Quantity:  domain.FromFloat(d.Quantity),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func decodeWarehouse(snap *firestore.DocumentSnapshot) (warehouseDocument, error) {
	var doc warehouseDocument
	if err := snap.DataTo(&doc); err != nil {
		return warehouseDocument{}, err
	}
	doc.ID = snap.Ref.ID
	return doc, nil
}

type productDocument struct {
	ID              string    `firestore:"-"`
	Name            string    `firestore:"name"`
	UnitPrice       float64   `firestore:"price"`
	PackageQuantity float64   `firestore:"packageQuantity"`
	PackageUnit     string    `firestore:"packageUnit"`
	WarehouseID     string    `firestore:"warehouseId"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		ID:              p.ID,
		Name:            p.Name,
		UnitPrice:       domain.ToFloat(p.UnitPrice),
		PackageQuantity: domain.ToFloat(p.PackageQuantity),
		PackageUnit:     string(p.PackageUnit),
		WarehouseID:     p.WarehouseID,
		CreatedAt:       p.CreatedAt.UTC(),
		UpdatedAt:       p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain() domain.Product {
	unit, err := domain.ParseUnit(d.PackageUnit)
	if err != nil {
		// Keep the raw value so debit aggregation reports the unsupported unit.
		unit = domain.Unit(strings.TrimSpace(d.PackageUnit))
	}
	return domain.Product{
		ID:              d.ID,
		Name:            d.Name,
		UnitPrice:       domain.FromFloat(d.UnitPrice),
		PackageQuantity: domain.FromFloat(d.PackageQuantity),
		PackageUnit:     unit,
		WarehouseID:     strings.TrimSpace(d.WarehouseID),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// decodeProduct tolerates catalog documents written by other clients, where numeric
// fields may be strings or absent.
func decodeProduct(snap *firestore.DocumentSnapshot) (productDocument, error) {
	data := snap.Data()
	if data == nil {
		return productDocument{}, fmt.Errorf("product %s has no data", snap.Ref.ID)
	}
	doc := productDocument{
		ID:          snap.Ref.ID,
		Name:        stringField(data, "name"),
		PackageUnit: stringField(data, "packageUnit"),
		WarehouseID: stringField(data, "warehouseId"),
	}
	doc.UnitPrice = domain.ToFloat(domain.LenientQuantity(data["price"]))
	doc.PackageQuantity = domain.ToFloat(domain.LenientQuantity(data["packageQuantity"]))
	if ts, ok := data["createdAt"].(time.Time); ok {
		doc.CreatedAt = ts
	}
	if ts, ok := data["updatedAt"].(time.Time); ok {
		doc.UpdatedAt = ts
	}
	return doc, nil
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
