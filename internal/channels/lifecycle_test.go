package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/shared"
)

type fakeWriter struct {
	appended []ledger.AppendInput
	fail     error
}

func (f *fakeWriter) Append(ctx context.Context, input ledger.AppendInput) (ledger.Movement, error) {
	if f.fail != nil {
		return ledger.Movement{}, f.fail
	}
	f.appended = append(f.appended, input)
	return ledger.Movement{ID: int64(len(f.appended))}, nil
}

type fakeIdempotency struct {
	keys map[string]struct{}
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, channel string) error {
	if f.keys == nil {
		f.keys = make(map[string]struct{})
	}
	if _, ok := f.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = struct{}{}
	return nil
}

func (f *fakeIdempotency) Delete(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

func placedEvent() OrderEvent {
	return OrderEvent{
		DeliveryID:  "dlv-1",
		OrderID:     500,
		OrderNumber: "TY-500",
		Items: []OrderItem{
			{ProductVariantID: 7, LocationID: 1, Quantity: 2},
			{ProductVariantID: 8, LocationID: 1, Quantity: 1},
		},
	}
}

func TestOrderPlacedAppendsNegativeSales(t *testing.T) {
	writer := &fakeWriter{}
	h := NewLifecycleHandler(writer, &fakeIdempotency{}, nil)

	result, err := h.OrderPlaced(context.Background(), ChannelTrendyol, placedEvent())
	require.NoError(t, err)
	require.Equal(t, 2, result.Appended)
	require.Len(t, writer.appended, 2)
	require.Equal(t, ledger.MovementTypeSale, writer.appended[0].Type)
	require.EqualValues(t, -2, writer.appended[0].Quantity)
	require.EqualValues(t, 500, writer.appended[0].OrderID)
	require.Equal(t, "TY-500", writer.appended[0].Reference)
}

func TestRedeliveredWebhookSuppressed(t *testing.T) {
	writer := &fakeWriter{}
	idem := &fakeIdempotency{}
	h := NewLifecycleHandler(writer, idem, nil)

	_, err := h.OrderPlaced(context.Background(), ChannelShopify, placedEvent())
	require.NoError(t, err)

	result, err := h.OrderPlaced(context.Background(), ChannelShopify, placedEvent())
	require.NoError(t, err)
	require.Zero(t, result.Appended)
	require.Equal(t, 2, result.Suppressed)
	require.Len(t, writer.appended, 2)
}

func TestDuplicateLedgerMovementCountedAsSuppressed(t *testing.T) {
	writer := &fakeWriter{fail: ledger.ErrDuplicateSuppressed}
	h := NewLifecycleHandler(writer, &fakeIdempotency{}, nil)

	result, err := h.OrderCancelled(context.Background(), ChannelShopify, OrderEvent{
		DeliveryID: "dlv-9",
		OrderID:    501,
		Items:      []OrderItem{{ProductVariantID: 7, LocationID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Zero(t, result.Appended)
	require.Equal(t, 1, result.Suppressed)
}

func TestOrderCancelledAppendsPositiveRestoration(t *testing.T) {
	writer := &fakeWriter{}
	h := NewLifecycleHandler(writer, &fakeIdempotency{}, nil)

	_, err := h.OrderCancelled(context.Background(), ChannelTrendyol, OrderEvent{
		DeliveryID: "dlv-2",
		OrderID:    500,
		Items:      []OrderItem{{ProductVariantID: 7, LocationID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, ledger.MovementTypeCancellation, writer.appended[0].Type)
	require.EqualValues(t, 2, writer.appended[0].Quantity)
}

func TestEventValidationRejectsEmptyItems(t *testing.T) {
	h := NewLifecycleHandler(&fakeWriter{}, nil, nil)

	_, err := h.OrderPlaced(context.Background(), ChannelShopify, OrderEvent{DeliveryID: "dlv-3", OrderID: 1})
	require.Error(t, err)
}

func TestPurchaseReceived(t *testing.T) {
	writer := &fakeWriter{}
	h := NewLifecycleHandler(writer, nil, nil)

	_, err := h.PurchaseReceived(context.Background(), PurchaseReceipt{
		PurchaseOrderItemID: 33,
		ProductVariantID:    7,
		LocationID:          1,
		Quantity:            10,
		Reference:           "PO-7781",
	})
	require.NoError(t, err)
	require.Equal(t, ledger.MovementTypePurchaseReceived, writer.appended[0].Type)
	require.EqualValues(t, 10, writer.appended[0].Quantity)
	require.EqualValues(t, 33, writer.appended[0].PurchaseOrderItemID)
}

func TestFailedProcessingRollsBackDeliveryKey(t *testing.T) {
	writer := &fakeWriter{fail: ledger.ErrInvalidLocation}
	idem := &fakeIdempotency{}
	h := NewLifecycleHandler(writer, idem, nil)

	_, err := h.OrderPlaced(context.Background(), ChannelShopify, placedEvent())
	require.Error(t, err)
	require.Empty(t, idem.keys)

	writer.fail = nil
	result, err := h.OrderPlaced(context.Background(), ChannelShopify, placedEvent())
	require.NoError(t, err)
	require.Equal(t, 2, result.Appended)
}

func TestPurchaseReceivedGeneratesReference(t *testing.T) {
	writer := &fakeWriter{}
	h := NewLifecycleHandler(writer, nil, nil)

	_, err := h.PurchaseReceived(context.Background(), PurchaseReceipt{
		PurchaseOrderItemID: 33,
		ProductVariantID:    7,
		LocationID:          1,
		Quantity:            10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, writer.appended[0].Reference)
	require.Contains(t, writer.appended[0].Reference, "grn-")
}
