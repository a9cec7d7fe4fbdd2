package retry

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
)

// Config 재시도 설정
type Config struct {
	MaxAttempts int
	// DelayBase 선형 백오프 기준값 (n번째 실패 후 DelayBase * n 대기)
	DelayBase time.Duration
}

// DefaultConfig 기본 재시도 설정
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		DelayBase:   60 * time.Second,
	}
}

// DeadLetterSink 재시도 불가 요청을 보관하는 sink
type DeadLetterSink interface {
	Send(ctx context.Context, payload interface{}, cause error) error
}

// Action 재시도 대상 다운스트림 호출
type Action func(ctx context.Context) error

// Orchestrator 다운스트림 호출 재시도 / dead letter 라우팅
//
// 호출 간 공유 상태가 없으므로 여러 goroutine에서 동시에 사용해도 된다.
type Orchestrator struct {
	config Config
	sink   DeadLetterSink
	logger *zap.Logger
}

// NewOrchestrator 재시도 오케스트레이터 생성
func NewOrchestrator(config Config, sink DeadLetterSink, logger *zap.Logger) *Orchestrator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if config.DelayBase < 0 {
		config.DelayBase = 0
	}
	return &Orchestrator{
		config: config,
		sink:   sink,
		logger: logger,
	}
}

// Config 현재 설정 반환
func (o *Orchestrator) Config() Config {
	return o.config
}

// Execute action을 최대 MaxAttempts회 실행
//
// 422 계열(NonRetryable) 에러는 재시도 없이 deadLetterPayload와 함께 sink로 보내고
// 원래 에러를 그대로 반환한다.
func (o *Orchestrator) Execute(
	ctx context.Context,
	correlationID string,
	operation string,
	action Action,
	deadLetterPayload interface{},
) error {
	var lastErr error

	for attempt := 1; attempt <= o.config.MaxAttempts; attempt++ {
		o.logger.Info("executing downstream call",
			zap.String("correlationId", correlationID),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", o.config.MaxAttempts))

		err := action(ctx)
		if err == nil {
			return nil
		}

		if apperrors.IsNonRetryable(err) {
			o.logger.Warn("non-retryable failure, routing to dead letter",
				zap.String("correlationId", correlationID),
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err))
			o.sendDeadLetter(ctx, correlationID, operation, deadLetterPayload, err)
			return err
		}

		lastErr = err
		o.logger.Warn("retry attempt failed",
			zap.String("correlationId", correlationID),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", o.config.MaxAttempts),
			zap.Error(err))

		// 마지막 시도이면 재시도 안함
		if attempt == o.config.MaxAttempts {
			break
		}

		// 선형 백오프 대기
		wait := o.config.DelayBase * time.Duration(attempt)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.Warn("retry interrupted",
				zap.String("correlationId", correlationID),
				zap.String("operation", operation),
				zap.Int("attempt", attempt))
			return apperrors.Interrupted(operation, attempt, ctx.Err())
		case <-timer.C:
		}
	}

	o.logger.Error("retries exhausted",
		zap.String("correlationId", correlationID),
		zap.String("operation", operation),
		zap.Int("maxAttempts", o.config.MaxAttempts),
		zap.Error(lastErr))

	return apperrors.Exhausted(operation, o.config.MaxAttempts, lastErr)
}

func (o *Orchestrator) sendDeadLetter(ctx context.Context, correlationID, operation string, payload interface{}, cause error) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Send(ctx, payload, cause); err != nil {
		o.logger.Error("failed to send dead letter",
			zap.String("correlationId", correlationID),
			zap.String("operation", operation),
			zap.Error(err))
	}
}
