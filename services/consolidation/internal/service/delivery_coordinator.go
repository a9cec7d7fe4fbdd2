package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/common/retry"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/repository"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/settlement"
)

// LegPayload 전달 단계에서 필요한 콜백 정보
type LegPayload struct {
	LegType      domain.PaymentType
	SalesOrderID string
	ProductCodes []string
	ReversalCode string
	RawJourney   json.RawMessage
}

// Ports 다운스트림 정산 포트 묶음
type Ports struct {
	Redemptions         settlement.Port
	Payments            settlement.Port
	BillingPayments     settlement.Port
	ChannelNotification settlement.Port
}

// FailureReporter 최종 전달 실패를 원 워크플로우로 보고
type FailureReporter interface {
	ReportFailure(ctx context.Context, order *domain.Order, operation string, cause error) error
}

// DeliveryCoordinator 정산 전달 조정자 인터페이스
type DeliveryCoordinator interface {
	Deliver(ctx context.Context, order *domain.Order, payload LegPayload) error
}

type deliveryStep struct {
	operation string
	port      settlement.Port
}

type deliveryCoordinator struct {
	store        repository.OrderStore
	orchestrator *retry.Orchestrator
	ports        Ports
	credentials  settlement.CredentialsProvider
	reporter     FailureReporter
	billingCodes map[string]struct{}
	tracer       trace.Tracer
	steps        metric.Int64Counter
	logger       *zap.Logger
	now          func() time.Time
}

// NewDeliveryCoordinator 정산 전달 조정자 생성
func NewDeliveryCoordinator(
	store repository.OrderStore,
	orchestrator *retry.Orchestrator,
	ports Ports,
	credentials settlement.CredentialsProvider,
	reporter FailureReporter,
	billingProductCodes []string,
	logger *zap.Logger,
) DeliveryCoordinator {
	billing := make(map[string]struct{}, len(billingProductCodes))
	for _, code := range billingProductCodes {
		billing[code] = struct{}{}
	}

	steps, err := otel.Meter("consolidation/delivery").Int64Counter(
		"delivery.steps",
		metric.WithDescription("Settlement delivery step outcomes"),
	)
	if err != nil {
		logger.Warn("failed to create delivery step counter", zap.Error(err))
	}

	return &deliveryCoordinator{
		store:        store,
		orchestrator: orchestrator,
		ports:        ports,
		credentials:  credentials,
		reporter:     reporter,
		billingCodes: billing,
		tracer:       otel.Tracer("consolidation/delivery"),
		steps:        steps,
		logger:       logger,
		now:          time.Now,
	}
}

// Deliver 주문을 다운스트림으로 전달
//
// 첫 번째 최종 실패에서 중단하고 주문을 ERROR로 기록한다. 상태 기록 실패는 로그만 남긴다.
func (c *deliveryCoordinator) Deliver(ctx context.Context, order *domain.Order, payload LegPayload) error {
	ctx, span := c.tracer.Start(ctx, "delivery.deliver", trace.WithAttributes(
		attribute.String("order.identifier", order.Identifier),
		attribute.String("order.correlation_id", order.UUID),
	))
	defer span.End()

	if payload.ReversalCode != "" {
		return c.deliverReversal(ctx, order, payload)
	}

	steps := c.plan(payload)

	c.logger.Info("delivering order",
		zap.String("identifier", order.Identifier),
		zap.String("correlationId", order.UUID),
		zap.Int("steps", len(steps)))

	for _, step := range steps {
		if err := c.runStep(ctx, order, payload, step); err != nil {
			c.fail(ctx, order, step.operation, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "delivery failed")
			return err
		}
	}

	order.PaymentStatus = domain.PaymentStatusApproved
	order.Error = nil
	if err := c.store.UpdatePaymentStatus(ctx, order.Identifier, domain.PaymentStatusApproved, nil); err != nil {
		c.logger.Error("failed to record approved status",
			zap.String("identifier", order.Identifier),
			zap.Error(err))
	}

	span.SetStatus(codes.Ok, "delivered")
	c.logger.Info("order delivered",
		zap.String("identifier", order.Identifier),
		zap.String("correlationId", order.UUID))

	return nil
}

// plan 전달 경로 결정
func (c *deliveryCoordinator) plan(payload LegPayload) []deliveryStep {
	channel := deliveryStep{settlement.OperationChannelNotification, c.ports.ChannelNotification}

	switch {
	case payload.SalesOrderID != "":
		return []deliveryStep{
			{settlement.OperationRedemptions, c.ports.Redemptions},
			{settlement.OperationPayments, c.ports.Payments},
			channel,
		}
	case c.isBilling(payload.ProductCodes):
		return []deliveryStep{
			{settlement.OperationBillingPayments, c.ports.BillingPayments},
			channel,
		}
	default:
		return []deliveryStep{channel}
	}
}

func (c *deliveryCoordinator) isBilling(productCodes []string) bool {
	for _, code := range productCodes {
		if _, ok := c.billingCodes[code]; ok {
			return true
		}
	}
	return false
}

// deliverReversal 취소 콜백은 상태 기록 후 채널 알림만 수행
func (c *deliveryCoordinator) deliverReversal(ctx context.Context, order *domain.Order, payload LegPayload) error {
	status := domain.MapReversalStatus(payload.ReversalCode)

	c.logger.Info("delivering reversal",
		zap.String("identifier", order.Identifier),
		zap.String("reversalCode", payload.ReversalCode),
		zap.String("status", string(status)))

	order.PaymentStatus = status
	if err := c.store.UpdatePaymentStatus(ctx, order.Identifier, status, nil); err != nil {
		c.logger.Error("failed to record reversal status",
			zap.String("identifier", order.Identifier),
			zap.String("status", string(status)),
			zap.Error(err))
	}

	step := deliveryStep{settlement.OperationChannelNotification, c.ports.ChannelNotification}
	if err := c.runStep(ctx, order, payload, step); err != nil {
		c.report(ctx, order, step.operation, err)
		return err
	}

	return nil
}

func (c *deliveryCoordinator) runStep(ctx context.Context, order *domain.Order, payload LegPayload, step deliveryStep) error {
	ctx, span := c.tracer.Start(ctx, "delivery."+step.operation, trace.WithAttributes(
		attribute.String("order.identifier", order.Identifier),
		attribute.String("delivery.operation", step.operation),
	))
	defer span.End()

	request := c.buildRequest(order, payload, step.operation)

	action := func(ctx context.Context) error {
		headers, err := c.credentials.AuthHeaders(ctx)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeNetworkError, "failed to obtain credentials", err)
		}
		_, err = step.port.Send(ctx, order.UUID, request, headers)
		return err
	}

	if err := c.orchestrator.Execute(ctx, order.UUID, step.operation, action, request); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperrors.KindOf(err).String())
		c.recordStep(ctx, step.operation, apperrors.KindOf(err).String())
		return err
	}

	c.recordStep(ctx, step.operation, "success")
	return nil
}

func (c *deliveryCoordinator) recordStep(ctx context.Context, operation, outcome string) {
	if c.steps == nil {
		return
	}
	c.steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

// fail 주문을 ERROR로 기록하고 실패를 보고
func (c *deliveryCoordinator) fail(ctx context.Context, order *domain.Order, operation string, cause error) {
	detail := domain.NewErrorDetail(cause, c.now())
	if detail != nil && detail.Operation == "" {
		detail.Operation = operation
	}

	order.PaymentStatus = domain.PaymentStatusError
	order.Error = detail

	if err := c.store.UpdatePaymentStatus(ctx, order.Identifier, domain.PaymentStatusError, detail); err != nil {
		c.logger.Error("failed to record error status",
			zap.String("identifier", order.Identifier),
			zap.String("operation", operation),
			zap.Error(err))
	}

	c.report(ctx, order, operation, cause)
}

func (c *deliveryCoordinator) report(ctx context.Context, order *domain.Order, operation string, cause error) {
	c.logger.Error("delivery failed",
		zap.String("identifier", order.Identifier),
		zap.String("correlationId", order.UUID),
		zap.String("operation", operation),
		zap.String("kind", apperrors.KindOf(cause).String()),
		zap.Error(cause))

	if c.reporter == nil {
		return
	}
	if err := c.reporter.ReportFailure(ctx, order, operation, cause); err != nil {
		c.logger.Error("failed to report delivery failure",
			zap.String("identifier", order.Identifier),
			zap.String("operation", operation),
			zap.Error(err))
	}
}

func (c *deliveryCoordinator) buildRequest(order *domain.Order, payload LegPayload, operation string) settlement.Request {
	request := settlement.Request{
		Operation:          operation,
		Identifier:         order.Identifier,
		CorrelationID:      order.UUID,
		TransactionOrderID: order.TransactionOrderID,
		SalesOrderID:       payload.SalesOrderID,
		ProductCodes:       payload.ProductCodes,
		PaymentStatus:      string(order.PaymentStatus),
		ReversalCode:       payload.ReversalCode,
		TotalValue:         decimal.Zero,
		Payments:           make([]settlement.Payment, 0, len(order.Payments)),
	}

	for _, leg := range order.Payments {
		request.TotalValue = request.TotalValue.Add(leg.Value)
		request.Payments = append(request.Payments, settlement.Payment{
			Type:               string(leg.Type),
			PaymentOrder:       leg.PaymentOrder,
			TransactionOrderID: leg.TransactionOrderID,
			Status:             string(leg.PaymentStatus),
			Value:              leg.Value,
		})
	}

	return request
}
