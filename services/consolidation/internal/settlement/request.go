package settlement

import (
	"github.com/shopspring/decimal"
)

const (
	OperationRedemptions         = "redemptions"
	OperationPayments            = "payments"
	OperationBillingPayments     = "billing-payments"
	OperationChannelNotification = "channel-notification"
)

// Payment 정산 요청에 포함되는 결제 leg 요약
type Payment struct {
	Type               string          `json:"type"`
	PaymentOrder       *int            `json:"paymentOrder,omitempty"`
	TransactionOrderID string          `json:"transactionOrderId,omitempty"`
	Status             string          `json:"status"`
	Value              decimal.Decimal `json:"value"`
}

// Request 다운스트림 정산 요청 본문
type Request struct {
	Operation          string          `json:"operation"`
	Identifier         string          `json:"identifier"`
	CorrelationID      string          `json:"correlationId"`
	TransactionOrderID string          `json:"transactionOrderId"`
	SalesOrderID       string          `json:"salesOrderId,omitempty"`
	ProductCodes       []string        `json:"productCodes,omitempty"`
	PaymentStatus      string          `json:"paymentStatus"`
	ReversalCode       string          `json:"reversalCode,omitempty"`
	TotalValue         decimal.Decimal `json:"totalValue"`
	Payments           []Payment       `json:"payments"`
}

// DeadLetterKey dead letter 보관 시 사용할 식별 정보
func (r Request) DeadLetterKey() (identifier, operation, correlationID string) {
	return r.Identifier, r.Operation, r.CorrelationID
}
