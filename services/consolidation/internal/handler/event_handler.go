package handler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/common/events"
	"github.com/kyungseok/msa-payment-consolidation/common/idempotency"
	"github.com/kyungseok/msa-payment-consolidation/common/messaging"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
)

// CallbackProcessor 콜백 처리 포트
type CallbackProcessor interface {
	ProcessLegCallback(ctx context.Context, evt events.PaymentLegCallbackEvent) error
}

// EventHandler 콜백 이벤트 핸들러
type EventHandler struct {
	processor CallbackProcessor
	idemStore idempotency.Store
	ttl       time.Duration
	logger    *zap.Logger
}

// NewEventHandler 이벤트 핸들러 생성
func NewEventHandler(
	processor CallbackProcessor,
	idemStore idempotency.Store,
	ttl time.Duration,
	logger *zap.Logger,
) *EventHandler {
	return &EventHandler{
		processor: processor,
		idemStore: idemStore,
		ttl:       ttl,
		logger:    logger,
	}
}

// HandleMessage 메시지 처리
func (h *EventHandler) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	h.logger.Info("received message",
		zap.String("topic", msg.Topic),
		zap.String("key", string(msg.Key)),
		zap.Int64("offset", msg.Offset))

	legType, ok := legTypeForTopic(events.EventType(msg.Topic))
	if !ok {
		h.logger.Warn("unknown event type", zap.String("topic", msg.Topic))
		return nil
	}

	var evt events.PaymentLegCallbackEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		h.logger.Error("failed to decode callback event",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return apperrors.Wrap(apperrors.ErrCodeInvalidCallback, "failed to decode callback event", err)
	}
	if evt.LegType == "" {
		evt.LegType = string(legType)
	}

	// 멱등성 체크 (SetNX로 선점)
	if evt.EventID != "" {
		reserved, err := h.idemStore.Reserve(ctx, evt.EventID, h.ttl)
		if err != nil {
			h.logger.Warn("idempotency store unavailable, processing anyway",
				zap.String("eventId", evt.EventID),
				zap.Error(err))
		} else if !reserved {
			h.logger.Info("event already processed", zap.String("eventId", evt.EventID))
			return nil
		}
	}

	if err := h.processor.ProcessLegCallback(ctx, evt); err != nil {
		if apperrors.IsBusinessError(err) {
			h.logger.Warn("callback rejected",
				zap.String("eventId", evt.EventID),
				zap.String("identifier", evt.Identifier),
				zap.Error(err))
			return err
		}

		// 재처리 가능하도록 키 해제
		if evt.EventID != "" {
			if releaseErr := h.idemStore.Release(ctx, evt.EventID); releaseErr != nil {
				h.logger.Error("failed to release idempotency key",
					zap.String("eventId", evt.EventID),
					zap.Error(releaseErr))
			}
		}
		return err
	}

	return nil
}

// legTypeForTopic 토픽에 대응하는 기본 leg 타입
func legTypeForTopic(topic events.EventType) (domain.PaymentType, bool) {
	switch topic {
	case events.EventPixCallback:
		return domain.PaymentTypePix, true
	case events.EventCreditCardCallback:
		return domain.PaymentTypeCreditCard, true
	case events.EventTefWebCallback:
		return domain.PaymentTypeTefWeb, true
	case events.EventTransactionNotification:
		return domain.PaymentTypeUndefined, true
	default:
		return "", false
	}
}
