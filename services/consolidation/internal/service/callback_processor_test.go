package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/common/events"
	"github.com/kyungseok/msa-payment-consolidation/common/logger"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
)

func newTestProcessor(t *testing.T, store *memoryStore) (*CallbackProcessor, *fakeDelivery) {
	delivery := &fakeDelivery{}
	return NewCallbackProcessor(newTestConsolidation(t, store), delivery, logger.NewTestLogger(t)), delivery
}

func TestProcessLegCallback_SinglePaymentDelivers(t *testing.T) {
	store := newMemoryStore()
	processor, delivery := newTestProcessor(t, store)

	err := processor.ProcessLegCallback(context.Background(), events.PaymentLegCallbackEvent{
		Identifier:            "ORD-1",
		LegType:               "PIX",
		OriginalTransactionID: "SV000012765016H1",
		SalesOrderID:          "SO-77",
		Legs:                  []events.LegCallback{{TransactionOrderID: "PIX-1", Amount: 9990}},
	})

	require.NoError(t, err)
	require.Len(t, delivery.calls, 1)

	call := delivery.calls[0]
	assert.Equal(t, "SO-77", call.payload.SalesOrderID)
	assert.Equal(t, domain.PaymentTypePix, call.payload.LegType)
	assert.NotEmpty(t, call.order.UUID)
	assert.Equal(t, "99.90", call.order.Payments[0].Value.StringFixed(2))
}

func TestProcessLegCallback_FreshCorrelationPerRun(t *testing.T) {
	store := newMemoryStore()
	processor, delivery := newTestProcessor(t, store)
	evt := events.PaymentLegCallbackEvent{
		Identifier: "ORD-1",
		LegType:    "CREDIT_CARD",
		Legs:       []events.LegCallback{{Amount: 100}},
	}

	require.NoError(t, processor.ProcessLegCallback(context.Background(), evt))
	require.NoError(t, processor.ProcessLegCallback(context.Background(), evt))

	require.Len(t, delivery.calls, 2)
	assert.NotEqual(t, delivery.calls[0].order.UUID, delivery.calls[1].order.UUID)
}

func TestProcessLegCallback_WaitsForRemainingLegs(t *testing.T) {
	existing := tefWebOrder("ORD-1",
		domain.PaymentLeg{Type: domain.PaymentTypeTefWeb, PaymentOrder: domain.IntPtr(1), PaymentStatus: domain.PaymentStatusPending},
		domain.PaymentLeg{Type: domain.PaymentTypeTefWeb, PaymentOrder: domain.IntPtr(2), PaymentStatus: domain.PaymentStatusPending},
	)
	store := newMemoryStore(existing)
	processor, delivery := newTestProcessor(t, store)

	err := processor.ProcessLegCallback(context.Background(), events.PaymentLegCallbackEvent{
		Identifier: "ORD-1",
		LegType:    "TEFWEB",
		Legs:       []events.LegCallback{{TransactionOrderID: "T1", Amount: 1000}},
	})

	require.NoError(t, err)
	assert.Empty(t, delivery.calls)
	assert.Equal(t, domain.PaymentStatusApproved, store.get("ORD-1").Payments[0].PaymentStatus)
}

func TestProcessLegCallback_MultiPaymentResolvesBaseID(t *testing.T) {
	existing := tefWebOrder("ORD-1",
		domain.PaymentLeg{Type: domain.PaymentTypeTefWeb, PaymentOrder: domain.IntPtr(1), PaymentStatus: domain.PaymentStatusApproved, TransactionOrderID: "T1"},
		domain.PaymentLeg{Type: domain.PaymentTypeTefWeb, PaymentOrder: domain.IntPtr(2), PaymentStatus: domain.PaymentStatusPending},
		domain.PaymentLeg{Type: domain.PaymentTypeCash, PaymentOrder: domain.IntPtr(3), PaymentStatus: domain.PaymentStatusPending},
	)
	store := newMemoryStore(existing)
	processor, delivery := newTestProcessor(t, store)

	err := processor.ProcessLegCallback(context.Background(), events.PaymentLegCallbackEvent{
		Identifier:   "ORD-1",
		LegType:      "TEFWEB",
		SalesOrderID: "SO-2",
		Legs:         []events.LegCallback{{TransactionOrderID: "T2", Amount: 140000}},
	})

	require.NoError(t, err)
	require.Len(t, delivery.calls, 1)
	assert.Equal(t, "0012765016", delivery.calls[0].payload.SalesOrderID)
	assert.True(t, store.get("ORD-1").LegsOfType(domain.PaymentTypeCash)[0].IsApproved())
}

func TestProcessLegCallback_MultiPaymentBillingKeepsBillingRoute(t *testing.T) {
	existing := tefWebOrder("ORD-1",
		domain.PaymentLeg{Type: domain.PaymentTypeCreditCard, PaymentOrder: domain.IntPtr(1), PaymentStatus: domain.PaymentStatusPending},
		domain.PaymentLeg{Type: domain.PaymentTypeCash, PaymentOrder: domain.IntPtr(2), PaymentStatus: domain.PaymentStatusPending},
	)
	store := newMemoryStore(existing)
	processor, delivery := newTestProcessor(t, store)

	err := processor.ProcessLegCallback(context.Background(), events.PaymentLegCallbackEvent{
		Identifier:   "ORD-1",
		LegType:      "CREDIT_CARD",
		ProductCodes: []string{"T30"},
		Legs:         []events.LegCallback{{TransactionOrderID: "CC-1", Amount: 5000}},
	})

	require.NoError(t, err)
	require.Len(t, delivery.calls, 1)
	assert.Empty(t, delivery.calls[0].payload.SalesOrderID)
	assert.Equal(t, []string{"T30"}, delivery.calls[0].payload.ProductCodes)
}

func TestProcessLegCallback_Reversal(t *testing.T) {
	existing := domain.NewOrder("ORD-1", "SV1H1", fixedNow)
	store := newMemoryStore(existing)
	processor, delivery := newTestProcessor(t, store)

	err := processor.ProcessLegCallback(context.Background(), events.PaymentLegCallbackEvent{
		Identifier:   "ORD-1",
		LegType:      "PIX",
		ReversalCode: domain.ReversalConfirmed,
	})

	require.NoError(t, err)
	require.Len(t, delivery.calls, 1)
	assert.Equal(t, domain.ReversalConfirmed, delivery.calls[0].payload.ReversalCode)
	assert.Equal(t, 0, store.replaced)
}

func TestProcessLegCallback_ReversalForUnknownOrder(t *testing.T) {
	processor, delivery := newTestProcessor(t, newMemoryStore())

	err := processor.ProcessLegCallback(context.Background(), events.PaymentLegCallbackEvent{
		Identifier:   "ORD-404",
		ReversalCode: domain.ReversalConfirmed,
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsNonRetryable(err))
	assert.Empty(t, delivery.calls)
}

func TestProcessLegCallback_RequiresIdentifier(t *testing.T) {
	processor, _ := newTestProcessor(t, newMemoryStore())

	err := processor.ProcessLegCallback(context.Background(), events.PaymentLegCallbackEvent{LegType: "PIX"})

	assert.True(t, apperrors.IsBusinessError(err))
}
