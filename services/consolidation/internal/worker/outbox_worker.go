package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/msa-payment-consolidation/common/messaging"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/repository"
)

const batchSize = 100

// OutboxWorker outbox 이벤트를 Kafka로 중계하는 워커
type OutboxWorker struct {
	outboxRepo repository.OutboxRepository
	publisher  messaging.Publisher
	topics     map[string]string
	logger     *zap.Logger
	interval   time.Duration
}

// NewOutboxWorker Outbox 워커 생성
//
// topics는 이벤트 타입별 발행 토픽이며 없으면 이벤트 타입을 토픽으로 사용한다.
func NewOutboxWorker(
	outboxRepo repository.OutboxRepository,
	publisher messaging.Publisher,
	topics map[string]string,
	logger *zap.Logger,
	interval time.Duration,
) *OutboxWorker {
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		topics:     topics,
		logger:     logger,
		interval:   interval,
	}
}

// Start 워커 시작 (ctx 취소 시 종료)
func (w *OutboxWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox worker started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 대기 중인 이벤트를 한 번 중계하고 발행 건수를 반환
func (w *OutboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	events, err := w.outboxRepo.FindPending(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	w.logger.Info("processing outbox events", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		topic := w.topicFor(event.EventType)

		// identifier를 키로 사용 (주문 단위 파티셔닝)
		if err := w.publisher.Publish(ctx, topic, event.AggregateID, json.RawMessage(event.Payload)); err != nil {
			w.logger.Error("failed to publish event",
				zap.Int64("eventId", event.ID),
				zap.String("eventType", event.EventType),
				zap.String("topic", topic),
				zap.Error(err))
			continue
		}

		if err := w.outboxRepo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.Int64("eventId", event.ID),
				zap.Error(err))
			continue
		}
		sent++
	}

	return sent, nil
}

func (w *OutboxWorker) topicFor(eventType string) string {
	if topic, ok := w.topics[eventType]; ok && topic != "" {
		return topic
	}
	return eventType
}
