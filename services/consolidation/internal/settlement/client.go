package settlement

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
)

const correlationHeader = "X-Correlation-ID"

// Response 다운스트림 응답
type Response struct {
	StatusCode int
	Body       []byte
}

// Port 다운스트림 정산 포트
//
// 422 응답은 NonRetryable, 그 외 실패는 Transient DomainError로 반환한다.
type Port interface {
	Send(ctx context.Context, correlationID string, request interface{}, authHeaders map[string]string) (*Response, error)
}

// Client resty 기반 HTTP 정산 포트
type Client struct {
	name   string
	url    string
	http   *resty.Client
	logger *zap.Logger
}

// NewClient 정산 포트 생성
func NewClient(name, url string, timeout time.Duration, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		name:   name,
		url:    url,
		http:   httpClient,
		logger: logger,
	}
}

// Name 포트 이름 (로그 및 operation 명)
func (c *Client) Name() string {
	return c.name
}

// Send 요청 전송 및 상태코드 분류
func (c *Client) Send(ctx context.Context, correlationID string, request interface{}, authHeaders map[string]string) (*Response, error) {
	traceHeaders := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(traceHeaders))

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(traceHeaders).
		SetHeaders(authHeaders).
		SetHeader(correlationHeader, correlationID).
		SetBody(request).
		Post(c.url)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeNetworkError, fmt.Sprintf("%s request failed", c.name), err)
	}

	result := &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
	}

	c.logger.Debug("settlement response received",
		zap.String("port", c.name),
		zap.String("correlationId", correlationID),
		zap.Int("statusCode", result.StatusCode))

	if resp.IsError() || result.StatusCode >= http.StatusMultipleChoices {
		return result, apperrors.FromStatus(
			result.StatusCode,
			fmt.Sprintf("%s responded %d: %s", c.name, result.StatusCode, truncate(resp.String(), 256)),
			nil,
		)
	}

	return result, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
