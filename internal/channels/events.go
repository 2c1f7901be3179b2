package channels

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// Channel identifies the originating marketplace.
type Channel string

const (
	// ChannelShopify marks events delivered by the Shopify storefront.
	ChannelShopify Channel = "shopify"
	// ChannelTrendyol marks events delivered by the Trendyol marketplace.
	ChannelTrendyol Channel = "trendyol"
)

// ParseChannel validates a channel slug from the webhook path.
func ParseChannel(raw string) (Channel, error) {
	switch Channel(raw) {
	case ChannelShopify:
		return ChannelShopify, nil
	case ChannelTrendyol:
		return ChannelTrendyol, nil
	}
	return "", ErrUnknownChannel
}

// ErrUnknownChannel indicates an unrecognized marketplace slug.
var ErrUnknownChannel = errors.New("channels: unknown channel")

// OrderItem is one line of an order lifecycle event. Quantity is the ordered
// unit count, always positive; the lifecycle handler decides the ledger sign.
type OrderItem struct {
	ProductVariantID int64 `json:"product_variant_id" validate:"required,gt=0"`
	LocationID       int64 `json:"location_id" validate:"required,gt=0"`
	Quantity         int64 `json:"quantity" validate:"required,gt=0"`
}

// OrderEvent is the channel-agnostic shape of an order lifecycle webhook.
// DeliveryID is the marketplace's delivery identifier, unique per attempt
// group; redeliveries reuse it, which is what the dedup keys off.
type OrderEvent struct {
	DeliveryID  string      `json:"delivery_id" validate:"required"`
	OrderID     int64       `json:"order_id" validate:"required,gt=0"`
	OrderNumber string      `json:"order_number"`
	Items       []OrderItem `json:"items" validate:"required,min=1,dive"`
}

// PurchaseReceipt describes a goods receipt against a purchase order item.
type PurchaseReceipt struct {
	PurchaseOrderItemID int64  `json:"purchase_order_item_id" validate:"required,gt=0"`
	ProductVariantID    int64  `json:"product_variant_id" validate:"required,gt=0"`
	LocationID          int64  `json:"location_id" validate:"required,gt=0"`
	Quantity            int64  `json:"quantity" validate:"required,gt=0"`
	Reference           string `json:"reference"`
}

var validate = validator.New()

// ValidateEvent checks an order event payload at the boundary.
func ValidateEvent(evt OrderEvent) error {
	return validate.Struct(evt)
}

// ValidateReceipt checks a purchase receipt payload at the boundary.
func ValidateReceipt(receipt PurchaseReceipt) error {
	return validate.Struct(receipt)
}
