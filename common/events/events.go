package events

import (
	"encoding/json"
	"time"
)

// EventType 이벤트 타입 정의
type EventType string

const (
	// Callback Events (ingress 계층이 정규화하여 발행)
	EventPixCallback             EventType = "payment.pix.callback.v1"
	EventCreditCardCallback      EventType = "payment.credit_card.callback.v1"
	EventTefWebCallback          EventType = "payment.tefweb.callback.v1"
	EventTransactionNotification EventType = "payment.transaction.notification.v1"

	// Outbox Events
	EventDeliveryFailed EventType = "payment.delivery.failed.v1"
	EventDeadLetter     EventType = "payment.dead_letter.v1"
)

// CallbackTopics 구독 대상 콜백 토픽
func CallbackTopics() []string {
	return []string{
		string(EventPixCallback),
		string(EventCreditCardCallback),
		string(EventTefWebCallback),
		string(EventTransactionNotification),
	}
}

// BaseEvent 모든 이벤트의 기본 구조
type BaseEvent struct {
	EventID       string    `json:"eventId"`
	EventType     EventType `json:"eventType"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId"`
}

// LegCallback 콜백에 포함된 결제 leg 정보
type LegCallback struct {
	PaymentOrder       *int            `json:"paymentOrder,omitempty"`
	TransactionOrderID string          `json:"transactionOrderId"`
	Amount             int64           `json:"amount"` // 파트너 최소 단위 (centavos)
	Status             string          `json:"status,omitempty"`
	Raw                json.RawMessage `json:"raw,omitempty"`
}

// PaymentLegCallbackEvent 결제 leg 콜백 이벤트
type PaymentLegCallbackEvent struct {
	BaseEvent
	Identifier            string          `json:"identifier"`
	LegType               string          `json:"legType"`
	OriginalTransactionID string          `json:"originalTransactionId"`
	SalesOrderID          string          `json:"salesOrderId,omitempty"`
	ProductCodes          []string        `json:"productCodes,omitempty"`
	ReversalCode          string          `json:"reversalCode,omitempty"`
	MultiplePayment       bool            `json:"multiplePayment,omitempty"`
	MixedPaymentTypes     []string        `json:"mixedPaymentTypes,omitempty"`
	Legs                  []LegCallback   `json:"legs"`
	RawJourney            json.RawMessage `json:"rawJourney,omitempty"`
}

// DeliveryFailedEvent 다운스트림 전달 최종 실패 이벤트
type DeliveryFailedEvent struct {
	BaseEvent
	Identifier         string `json:"identifier"`
	TransactionOrderID string `json:"transactionOrderId"`
	Operation          string `json:"operation"`
	Code               string `json:"code"`
	Kind               string `json:"kind"`
	StatusCode         int    `json:"statusCode,omitempty"`
	Reason             string `json:"reason"`
}

// DeadLetterEvent 재시도 불가 요청 보관 이벤트
type DeadLetterEvent struct {
	BaseEvent
	Identifier string          `json:"identifier,omitempty"`
	Operation  string          `json:"operation,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
	Reason     string          `json:"reason"`
	Payload    json.RawMessage `json:"payload"`
}
