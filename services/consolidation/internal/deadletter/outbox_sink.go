package deadletter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/common/events"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/repository"
)

const aggregateType = "payment_order"

// keyed dead letter payload가 자신의 식별 정보를 제공하는 경우
type keyed interface {
	DeadLetterKey() (identifier, operation, correlationID string)
}

// OutboxSink outbox_events 테이블에 기록하는 DeadLetterSink
type OutboxSink struct {
	outbox repository.OutboxRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewOutboxSink outbox 기반 dead letter sink 생성
func NewOutboxSink(outbox repository.OutboxRepository, logger *zap.Logger) *OutboxSink {
	return &OutboxSink{
		outbox: outbox,
		logger: logger,
		now:    time.Now,
	}
}

// Send 재시도 불가 요청을 dead letter 이벤트로 보관
func (s *OutboxSink) Send(ctx context.Context, payload interface{}, cause error) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to encode dead letter payload", err)
	}

	var identifier, operation, correlationID string
	if k, ok := payload.(keyed); ok {
		identifier, operation, correlationID = k.DeadLetterKey()
	}

	event := events.DeadLetterEvent{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.New().String(),
			EventType:     events.EventDeadLetter,
			SchemaVersion: 1,
			OccurredAt:    s.now(),
			CorrelationID: correlationID,
		},
		Identifier: identifier,
		Operation:  operation,
		Payload:    raw,
	}
	if cause != nil {
		event.Reason = cause.Error()
		if domainErr, ok := apperrors.As(cause); ok {
			event.StatusCode = domainErr.StatusCode
		}
	}

	if err := insert(ctx, s.outbox, identifier, event.EventType, event); err != nil {
		return err
	}

	s.logger.Warn("dead letter recorded",
		zap.String("identifier", identifier),
		zap.String("operation", operation),
		zap.String("eventId", event.EventID))

	return nil
}

// OutboxFailureReporter 최종 전달 실패를 outbox 이벤트로 보고
type OutboxFailureReporter struct {
	outbox repository.OutboxRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewOutboxFailureReporter 전달 실패 보고자 생성
func NewOutboxFailureReporter(outbox repository.OutboxRepository, logger *zap.Logger) *OutboxFailureReporter {
	return &OutboxFailureReporter{
		outbox: outbox,
		logger: logger,
		now:    time.Now,
	}
}

// ReportFailure delivery.failed 이벤트 기록
func (r *OutboxFailureReporter) ReportFailure(ctx context.Context, order *domain.Order, operation string, cause error) error {
	now := r.now()
	detail := domain.NewErrorDetail(cause, now)

	event := events.DeliveryFailedEvent{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.New().String(),
			EventType:     events.EventDeliveryFailed,
			SchemaVersion: 1,
			OccurredAt:    now,
			CorrelationID: order.UUID,
		},
		Identifier:         order.Identifier,
		TransactionOrderID: order.TransactionOrderID,
		Operation:          operation,
	}
	if detail != nil {
		event.Code = detail.Code
		event.Kind = detail.Kind
		event.StatusCode = detail.StatusCode
		event.Reason = detail.Message
	}

	if err := insert(ctx, r.outbox, order.Identifier, event.EventType, event); err != nil {
		return err
	}

	r.logger.Info("delivery failure reported",
		zap.String("identifier", order.Identifier),
		zap.String("operation", operation),
		zap.String("eventId", event.EventID))

	return nil
}

func insert(ctx context.Context, outbox repository.OutboxRepository, identifier string, eventType events.EventType, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to marshal event", err)
	}

	if err := outbox.Insert(ctx, &repository.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   identifier,
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to insert outbox event", err)
	}

	return nil
}
