package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
)

// OrderReader 주문 조회 포트
type OrderReader interface {
	GetOrder(ctx context.Context, identifier string) (*domain.Order, error)
}

// HTTPHandler HTTP 핸들러
type HTTPHandler struct {
	orders OrderReader
	logger *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(orders OrderReader, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		orders: orders,
		logger: logger,
	}
}

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Register 라우트 등록
func (h *HTTPHandler) Register(router gin.IRouter) {
	router.GET("/health", h.HealthCheck)
	router.GET("/orders/:identifier", h.GetOrder)
}

// GetOrder 주문 조회 API
func (h *HTTPHandler) GetOrder(c *gin.Context) {
	identifier := c.Param("identifier")

	order, err := h.orders.GetOrder(c.Request.Context(), identifier)
	if err != nil {
		status, code := http.StatusInternalServerError, ""
		if domainErr, ok := apperrors.As(err); ok {
			code = string(domainErr.Code)
			if domainErr.Code == apperrors.ErrCodeOrderNotFound {
				status = http.StatusNotFound
			}
		}
		if status == http.StatusInternalServerError {
			h.logger.Error("failed to get order",
				zap.String("identifier", identifier),
				zap.Error(err))
		}
		c.JSON(status, ErrorResponse{Error: http.StatusText(status), Code: code})
		return
	}

	c.JSON(http.StatusOK, order)
}

// HealthCheck 헬스 체크 API
func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
