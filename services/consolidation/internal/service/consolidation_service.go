package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/common/txid"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/repository"
)

// ApplyOption 콜백이 함께 전달하는 주문 수준 힌트
type ApplyOption func(*applyOptions)

type applyOptions struct {
	multiplePayment bool
	mixedTypes      []domain.PaymentType
	rawJourney      json.RawMessage
}

// WithMultiplePayment ingress가 복수 결제로 판단한 경우
func WithMultiplePayment(multiple bool) ApplyOption {
	return func(o *applyOptions) {
		o.multiplePayment = multiple
	}
}

// WithMixedPaymentTypes 주문에 기대되는 결제 수단 목록
func WithMixedPaymentTypes(types ...domain.PaymentType) ApplyOption {
	return func(o *applyOptions) {
		o.mixedTypes = append(o.mixedTypes, types...)
	}
}

// WithRawJourney leg에 그대로 보관할 journey 원문
func WithRawJourney(raw json.RawMessage) ApplyOption {
	return func(o *applyOptions) {
		o.rawJourney = raw
	}
}

// ConsolidationService 결제 leg 통합 서비스 인터페이스
type ConsolidationService interface {
	GetOrder(ctx context.Context, identifier string) (*domain.Order, error)
	ApplyLegUpdate(ctx context.Context, identifier string, legType domain.PaymentType, incoming []domain.PaymentLeg, originalCompositeTxID string, opts ...ApplyOption) (*domain.Order, error)
	DecideSapEligibility(ctx context.Context, order *domain.Order, legTypeJustUpdated domain.PaymentType) bool
	ResolveSettlementTransactionID(order *domain.Order, legLevelSalesOrderID string) string
}

type consolidationService struct {
	store  repository.OrderStore
	txid   txid.Config
	logger *zap.Logger
	now    func() time.Time
}

// NewConsolidationService 결제 leg 통합 서비스 생성
func NewConsolidationService(store repository.OrderStore, txidConfig txid.Config, logger *zap.Logger) ConsolidationService {
	return &consolidationService{
		store:  store,
		txid:   txidConfig,
		logger: logger,
		now:    time.Now,
	}
}

// GetOrder identifier로 주문 조회
func (s *consolidationService) GetOrder(ctx context.Context, identifier string) (*domain.Order, error) {
	order, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if stderrors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrCodeOrderNotFound, "order not found", err)
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to load order", err)
	}
	return order, nil
}

// ApplyLegUpdate 콜백 leg를 기존 주문에 병합하고 저장
//
// 주문이 없으면 빈 주문으로 간주하고 생성한다. 기존 leg의 paymentOrder는 유지된다.
func (s *consolidationService) ApplyLegUpdate(
	ctx context.Context,
	identifier string,
	legType domain.PaymentType,
	incoming []domain.PaymentLeg,
	originalCompositeTxID string,
	opts ...ApplyOption,
) (*domain.Order, error) {
	if identifier == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidCallback, "identifier is required")
	}
	if len(incoming) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidCallback, "callback carries no payment legs")
	}

	options := &applyOptions{}
	for _, opt := range opts {
		opt(options)
	}

	now := s.now()

	created := false
	order, err := s.store.FindByIdentifier(ctx, identifier)
	if err != nil {
		if !stderrors.Is(err, repository.ErrOrderNotFound) {
			return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to load order", err)
		}
		order = domain.NewOrder(identifier, originalCompositeTxID, now)
		order.UUID = uuid.New().String()
		created = true
	}

	// 주문 수준 필드 변경 여부 (변경 시 전체 저장)
	orderChanged := false
	if order.TransactionOrderID == "" && originalCompositeTxID != "" {
		order.TransactionOrderID = originalCompositeTxID
		orderChanged = true
	}
	if options.multiplePayment && !order.MultiplePayment {
		order.MarkMultiplePayment()
		orderChanged = true
	}
	if before := len(order.MixedPaymentTypes); len(options.mixedTypes) > 0 {
		order.AddMixedTypes(options.mixedTypes...)
		orderChanged = orderChanged || len(order.MixedPaymentTypes) != before
	}
	if options.rawJourney != nil {
		for i := range incoming {
			if incoming[i].RawJourney == nil {
				incoming[i].RawJourney = options.rawJourney
			}
		}
	}

	existing := order.CountLegs(legType)
	repeated := legType == domain.PaymentTypeTefWeb && (existing > 1 || len(incoming) > 1)

	s.logger.Info("applying leg update",
		zap.String("identifier", identifier),
		zap.String("legType", string(legType)),
		zap.Int("existingLegs", existing),
		zap.Int("incomingLegs", len(incoming)),
		zap.Bool("repeated", repeated),
		zap.Bool("created", created))

	if repeated {
		order.MarkMultiplePayment()
		changed, err := s.mergeRepeatedLegs(order, legType, incoming, now)
		if err != nil {
			return nil, err
		}
		if !changed && !created && !orderChanged {
			return order, nil
		}
		order.UpdatedAt = now
		if err := s.store.ReplaceAll(ctx, order); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to persist order", err)
		}
		return order, nil
	}

	if len(incoming) > 1 {
		s.logger.Warn("multiple legs received for single-leg type, using the first",
			zap.String("identifier", identifier),
			zap.String("legType", string(legType)),
			zap.Int("incomingLegs", len(incoming)))
	}

	leg := s.replaceSingleLeg(order, legType, incoming[0], originalCompositeTxID, now)
	order.UpdatedAt = now

	if created || orderChanged {
		if err := s.store.ReplaceAll(ctx, order); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to persist order", err)
		}
		return order, nil
	}

	if err := s.store.PatchLegsByType(ctx, identifier, legType, []domain.PaymentLeg{leg}); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to patch legs", err)
	}
	return order, nil
}

// replaceSingleLeg 해당 타입 leg를 승인된 단일 leg로 교체
func (s *consolidationService) replaceSingleLeg(
	order *domain.Order,
	legType domain.PaymentType,
	in domain.PaymentLeg,
	originalCompositeTxID string,
	now time.Time,
) domain.PaymentLeg {
	leg := domain.PaymentLeg{
		Type:               legType,
		PaymentOrder:       in.PaymentOrder,
		TransactionIndex:   in.TransactionIndex,
		PaymentStatus:      domain.PaymentStatusApproved,
		TransactionOrderID: in.TransactionOrderID,
		RawCallback:        in.RawCallback,
		RawJourney:         in.RawJourney,
	}
	if leg.TransactionOrderID == "" {
		leg.TransactionOrderID = originalCompositeTxID
	}

	if current := order.LegsOfType(legType); len(current) > 0 {
		prev := current[0]
		if prev.PaymentOrder != nil {
			leg.PaymentOrder = prev.PaymentOrder
		}
		leg.TransactionIndex = prev.TransactionIndex
		leg.Value = prev.Value
		if leg.RawJourney == nil {
			leg.RawJourney = prev.RawJourney
		}
	}
	if in.Amount > 0 {
		leg.Value = domain.DecodeMinorUnits(in.Amount)
	}
	leg.Touch(now)

	order.ReplaceLegsOfType(legType, []domain.PaymentLeg{leg})
	return leg
}

// mergeRepeatedLegs 동일 타입 leg가 여러 개인 주문 병합
//
// 변경이 없으면 (모든 leg가 이미 승인된 재전송) false를 반환한다.
func (s *consolidationService) mergeRepeatedLegs(
	order *domain.Order,
	legType domain.PaymentType,
	incoming []domain.PaymentLeg,
	now time.Time,
) (bool, error) {
	current := order.LegsOfType(legType)

	if len(incoming) == 1 {
		in := incoming[0]
		idx := s.matchLeg(order.Identifier, current, in)
		if idx < 0 && in.TransactionOrderID == "" && allApproved(current) {
			s.logger.Info("callback replayed on settled legs, nothing to merge",
				zap.String("identifier", order.Identifier),
				zap.String("legType", string(legType)))
			return false, nil
		}
		if idx < 0 {
			return false, apperrors.MergeConflict(fmt.Sprintf(
				"no pending %s leg to match callback %s for order %s",
				legType, in.TransactionOrderID, order.Identifier))
		}

		target := &current[idx]
		target.PaymentStatus = domain.PaymentStatusApproved
		if in.Amount > 0 {
			target.Value = domain.DecodeMinorUnits(in.Amount)
		}
		if in.TransactionOrderID != "" {
			target.TransactionOrderID = in.TransactionOrderID
		}
		if in.RawCallback != nil {
			target.RawCallback = in.RawCallback
		}
		target.Touch(now)

		order.ReplaceLegsOfType(legType, current)
		return true, nil
	}

	// 기존 paymentOrder와 겹치지 않도록 최대값 이후로 부여
	next := 0
	for _, leg := range current {
		if leg.PaymentOrder != nil && *leg.PaymentOrder > next {
			next = *leg.PaymentOrder
		}
	}

	merged := make([]domain.PaymentLeg, 0, len(incoming))
	for i, in := range incoming {
		leg := domain.PaymentLeg{
			Type:               legType,
			TransactionIndex:   i,
			PaymentStatus:      in.PaymentStatus,
			TransactionOrderID: in.TransactionOrderID,
			RawCallback:        in.RawCallback,
			RawJourney:         in.RawJourney,
		}
		if leg.PaymentStatus == "" {
			leg.PaymentStatus = domain.PaymentStatusApproved
		}

		if i < len(current) && current[i].PaymentOrder != nil {
			leg.PaymentOrder = current[i].PaymentOrder
		} else {
			next++
			leg.PaymentOrder = domain.IntPtr(next)
		}

		if in.Amount > 0 {
			leg.Value = domain.DecodeMinorUnits(in.Amount)
		} else if i < len(current) {
			leg.Value = current[i].Value
		}
		leg.Touch(now)

		merged = append(merged, leg)
	}

	order.ReplaceLegsOfType(legType, merged)
	return true, nil
}

func allApproved(legs []domain.PaymentLeg) bool {
	if len(legs) == 0 {
		return false
	}
	for _, leg := range legs {
		if !leg.IsApproved() {
			return false
		}
	}
	return true
}

// matchLeg 재전송 콜백은 transactionOrderId로, 나머지는 첫 PENDING leg로 매칭 (FIFO)
func (s *consolidationService) matchLeg(identifier string, legs []domain.PaymentLeg, in domain.PaymentLeg) int {
	if in.TransactionOrderID != "" {
		for i := range legs {
			if legs[i].TransactionOrderID == in.TransactionOrderID {
				return i
			}
		}
	}

	match, pending := -1, 0
	for i := range legs {
		if legs[i].PaymentStatus != domain.PaymentStatusPending {
			continue
		}
		if match < 0 {
			match = i
		}
		pending++
	}

	if pending > 1 {
		s.logger.Warn("several pending legs can match callback, taking the lowest paymentOrder",
			zap.String("identifier", identifier),
			zap.String("transactionOrderId", in.TransactionOrderID),
			zap.Int("pendingLegs", pending))
	}

	return match
}

// DecideSapEligibility 정산 전달 가능 여부 판단
//
// CASH leg만 미승인 상태이면 CASH leg를 승인 처리하고 저장한다.
func (s *consolidationService) DecideSapEligibility(ctx context.Context, order *domain.Order, legTypeJustUpdated domain.PaymentType) bool {
	if !order.MultiplePayment {
		return true
	}

	for _, expected := range order.MixedPaymentTypes {
		if expected == domain.PaymentTypeCash || expected == domain.PaymentTypeUndefined {
			continue
		}
		if order.CountLegs(expected) == 0 {
			s.logger.Warn("expected payment type has no leg",
				zap.String("identifier", order.Identifier),
				zap.String("expectedType", string(expected)),
				zap.String("legType", string(legTypeJustUpdated)))
		}
	}

	pendingCash, pendingOther := 0, 0
	for _, leg := range order.Payments {
		if leg.IsApproved() {
			continue
		}
		if leg.Type == domain.PaymentTypeCash {
			pendingCash++
		} else {
			pendingOther++
		}
	}

	if pendingOther > 0 {
		s.logger.Info("order not yet eligible for settlement",
			zap.String("identifier", order.Identifier),
			zap.String("legType", string(legTypeJustUpdated)),
			zap.Int("pendingLegs", pendingOther))
		return false
	}
	if pendingCash == 0 {
		return true
	}

	now := s.now()
	cash := order.LegsOfType(domain.PaymentTypeCash)
	for i := range cash {
		cash[i].PaymentStatus = domain.PaymentStatusApproved
		if cash[i].TransactionOrderID == "" {
			cash[i].TransactionOrderID = order.TransactionOrderID
		}
		cash[i].Touch(now)
	}

	if err := s.store.PatchLegsByType(ctx, order.Identifier, domain.PaymentTypeCash, cash); err != nil {
		s.logger.Error("failed to approve cash legs",
			zap.String("identifier", order.Identifier),
			zap.Error(err))
		return false
	}

	order.ReplaceLegsOfType(domain.PaymentTypeCash, cash)
	s.logger.Info("cash legs approved",
		zap.String("identifier", order.Identifier),
		zap.Int("cashLegs", len(cash)))

	return true
}

// ResolveSettlementTransactionID 정산 요청에 사용할 거래 ID 결정
func (s *consolidationService) ResolveSettlementTransactionID(order *domain.Order, legLevelSalesOrderID string) string {
	if order.MultiplePayment && order.TransactionOrderID != "" {
		return txid.ExtractBaseID(order.TransactionOrderID, s.txid)
	}
	return legLevelSalesOrderID
}
