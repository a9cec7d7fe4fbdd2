package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/common/events"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
)

// CallbackProcessor 콜백 한 건을 병합 → 완결성 판단 → 전달까지 처리
type CallbackProcessor struct {
	consolidation ConsolidationService
	delivery      DeliveryCoordinator
	logger        *zap.Logger
}

// NewCallbackProcessor 콜백 처리기 생성
func NewCallbackProcessor(consolidation ConsolidationService, delivery DeliveryCoordinator, logger *zap.Logger) *CallbackProcessor {
	return &CallbackProcessor{
		consolidation: consolidation,
		delivery:      delivery,
		logger:        logger,
	}
}

// ProcessLegCallback 결제 leg 콜백 처리
//
// 취소 콜백은 병합 없이 취소 전달 경로로 보낸다. 실행마다 새로운 correlation id를 부여한다.
func (p *CallbackProcessor) ProcessLegCallback(ctx context.Context, evt events.PaymentLegCallbackEvent) error {
	if evt.Identifier == "" {
		return apperrors.New(apperrors.ErrCodeInvalidCallback, "identifier is required")
	}

	legType := domain.ParsePaymentType(evt.LegType)
	payload := LegPayload{
		LegType:      legType,
		SalesOrderID: evt.SalesOrderID,
		ProductCodes: evt.ProductCodes,
		ReversalCode: evt.ReversalCode,
		RawJourney:   evt.RawJourney,
	}

	if evt.ReversalCode != "" {
		order, err := p.consolidation.GetOrder(ctx, evt.Identifier)
		if err != nil {
			return err
		}
		order.UUID = uuid.New().String()

		p.logger.Info("processing reversal callback",
			zap.String("identifier", evt.Identifier),
			zap.String("correlationId", order.UUID),
			zap.String("reversalCode", evt.ReversalCode))

		return p.delivery.Deliver(ctx, order, payload)
	}

	opts := []ApplyOption{
		WithMultiplePayment(evt.MultiplePayment),
		WithRawJourney(evt.RawJourney),
	}
	if len(evt.MixedPaymentTypes) > 0 {
		mixed := make([]domain.PaymentType, 0, len(evt.MixedPaymentTypes))
		for _, raw := range evt.MixedPaymentTypes {
			mixed = append(mixed, domain.ParsePaymentType(raw))
		}
		opts = append(opts, WithMixedPaymentTypes(mixed...))
	}

	order, err := p.consolidation.ApplyLegUpdate(ctx, evt.Identifier, legType, toLegs(legType, evt.Legs), evt.OriginalTransactionID, opts...)
	if err != nil {
		return err
	}
	order.UUID = uuid.New().String()

	if !p.consolidation.DecideSapEligibility(ctx, order, legType) {
		p.logger.Info("order waiting for remaining legs",
			zap.String("identifier", order.Identifier),
			zap.String("legType", string(legType)))
		return nil
	}

	// 라우팅은 leg 자체의 sales order id 유무로 결정된다
	if evt.SalesOrderID != "" {
		payload.SalesOrderID = p.consolidation.ResolveSettlementTransactionID(order, evt.SalesOrderID)
	}

	p.logger.Info("order eligible for settlement",
		zap.String("identifier", order.Identifier),
		zap.String("correlationId", order.UUID),
		zap.String("salesOrderId", payload.SalesOrderID))

	return p.delivery.Deliver(ctx, order, payload)
}

func toLegs(legType domain.PaymentType, callbacks []events.LegCallback) []domain.PaymentLeg {
	legs := make([]domain.PaymentLeg, 0, len(callbacks))
	for i, cb := range callbacks {
		legs = append(legs, domain.PaymentLeg{
			Type:               legType,
			PaymentOrder:       cb.PaymentOrder,
			TransactionIndex:   i,
			PaymentStatus:      domain.PaymentStatus(cb.Status),
			Amount:             cb.Amount,
			TransactionOrderID: cb.TransactionOrderID,
			RawCallback:        cb.Raw,
		})
	}
	return legs
}
