package ledger

import (
	"errors"
	"fmt"
	"time"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementTypeSale represents a deduction caused by a placed order.
	MovementTypeSale MovementType = "SALE"
	// MovementTypeCancellation restores stock for a cancelled or rejected order.
	MovementTypeCancellation MovementType = "CANCELLATION"
	// MovementTypeReturn restores stock for a completed customer return.
	MovementTypeReturn MovementType = "RETURN"
	// MovementTypePurchaseReceived records goods received against a purchase order.
	MovementTypePurchaseReceived MovementType = "PURCHASE_RECEIVED"
	// MovementTypeAdjustment indicates a manual operator adjustment.
	MovementTypeAdjustment MovementType = "ADJUSTMENT"
	// MovementTypeCorrection records a correcting entry applied by tooling.
	MovementTypeCorrection MovementType = "CORRECTION"
	// MovementTypeDamaged writes off damaged goods.
	MovementTypeDamaged MovementType = "DAMAGED"
	// MovementTypeSoldManual records an off-channel manual sale.
	MovementTypeSoldManual MovementType = "SOLD_MANUAL"
)

// ParseMovementType validates a raw movement type string at the boundary.
func ParseMovementType(raw string) (MovementType, error) {
	t := MovementType(raw)
	switch t {
	case MovementTypeSale, MovementTypeCancellation, MovementTypeReturn,
		MovementTypePurchaseReceived, MovementTypeAdjustment,
		MovementTypeCorrection, MovementTypeDamaged, MovementTypeSoldManual:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMovementType, raw)
}

// Restorative reports whether the type credits stock back for an order.
func (t MovementType) Restorative() bool {
	return t == MovementTypeCancellation || t == MovementTypeReturn
}

// Movement is one immutable signed quantity delta in the stock ledger.
// LocationID zero marks a known-corrupt legacy row pending migration;
// OrderID and PurchaseOrderItemID zero mean the reference is absent.
type Movement struct {
	ID                  int64
	ProductVariantID    int64
	LocationID          int64
	Type                MovementType
	Quantity            int64
	QuantityBefore      int64
	QuantityAfter       int64
	OrderID             int64
	Reference           string
	PurchaseOrderItemID int64
	CreatedAt           time.Time
}

// LocationStock is the materialized per-(variant, location) quantity.
type LocationStock struct {
	ProductVariantID int64
	LocationID       int64
	Quantity         int64
	UpdatedAt        time.Time
}

// VariantStock is the per-variant total across all locations.
type VariantStock struct {
	ProductVariantID int64
	Quantity         int64
	UpdatedAt        time.Time
}

// Location describes a physical or logical stock location.
type Location struct {
	ID        int64
	Name      string
	IsDefault bool
	Active    bool
	CreatedAt time.Time
}

// AppendInput describes a movement to append through the Writer.
type AppendInput struct {
	ProductVariantID    int64
	LocationID          int64
	Type                MovementType
	Quantity            int64
	OrderID             int64
	Reference           string
	PurchaseOrderItemID int64
}

// MovementFilter scopes movement log reads.
type MovementFilter struct {
	ProductVariantID int64
	LocationID       int64
	From             time.Time
	To               time.Time
	Limit            int
}

// ErrInvalidLocation indicates the target location does not exist or is inactive.
var ErrInvalidLocation = errors.New("ledger: location invalid or inactive")

// ErrSignMismatch indicates the quantity sign contradicts the movement type.
var ErrSignMismatch = errors.New("ledger: quantity sign does not match movement type")

// ErrDuplicateSuppressed marks an idempotent skip of an already-recorded movement.
// It is a recognized outcome, not a failure; callers must be able to tell it
// apart from a write that took effect.
var ErrDuplicateSuppressed = errors.New("ledger: duplicate movement suppressed")

// ErrUnknownMovementType indicates an unrecognized type string at the boundary.
var ErrUnknownMovementType = errors.New("ledger: unknown movement type")

// ErrInvalidQuantity indicates a zero quantity delta.
var ErrInvalidQuantity = errors.New("ledger: quantity must be non zero")
