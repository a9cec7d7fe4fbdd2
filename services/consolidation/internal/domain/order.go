package domain

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
)

// PaymentType 결제 수단 (leg 타입)
type PaymentType string

const (
	PaymentTypeCash       PaymentType = "CASH"
	PaymentTypeTefWeb     PaymentType = "TEFWEB"
	PaymentTypeCreditCard PaymentType = "CREDIT_CARD"
	PaymentTypePix        PaymentType = "PIX"
	PaymentTypeUndefined  PaymentType = "UNDEFINED"
)

// ParsePaymentType 문자열을 PaymentType으로 변환 (알 수 없으면 UNDEFINED)
func ParsePaymentType(raw string) PaymentType {
	switch PaymentType(raw) {
	case PaymentTypeCash, PaymentTypeTefWeb, PaymentTypeCreditCard, PaymentTypePix:
		return PaymentType(raw)
	}
	return PaymentTypeUndefined
}

// PaymentStatus 결제 상태
type PaymentStatus string

const (
	PaymentStatusPending            PaymentStatus = "PENDING"
	PaymentStatusApproved           PaymentStatus = "APPROVED"
	PaymentStatusError              PaymentStatus = "ERROR"
	PaymentStatusCanceling          PaymentStatus = "CANCELING"
	PaymentStatusCanceled           PaymentStatus = "CANCELED"
	PaymentStatusPartiallyCancelled PaymentStatus = "PARTIALLY_CANCELLED"
	PaymentStatusCancelFailed       PaymentStatus = "CANCEL_FAILED"
)

// ErrorDetail 주문에 첨부되는 구조화된 에러 정보
type ErrorDetail struct {
	Code       string    `json:"code"`
	Kind       string    `json:"kind"`
	StatusCode int       `json:"statusCode,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewErrorDetail 에러를 주문 첨부용 구조로 변환
func NewErrorDetail(err error, now time.Time) *ErrorDetail {
	if err == nil {
		return nil
	}
	detail := &ErrorDetail{
		Code:       "UNKNOWN_ERROR",
		Kind:       apperrors.KindOf(err).String(),
		Message:    err.Error(),
		OccurredAt: now,
	}
	if domainErr, ok := apperrors.As(err); ok {
		detail.Code = string(domainErr.Code)
		detail.Operation = domainErr.Operation
		detail.StatusCode = domainErr.StatusCode
		// Exhausted는 마지막 다운스트림 상태코드를 노출
		if detail.StatusCode == 0 {
			if inner, ok := apperrors.As(domainErr.Cause); ok {
				detail.StatusCode = inner.StatusCode
			}
		}
	}
	return detail
}

// PaymentLeg 주문을 구성하는 개별 결제건
type PaymentLeg struct {
	Type PaymentType `json:"type"`
	// PaymentOrder 한 번 부여되면 병합 과정에서 바뀌지 않는다 (nil은 마지막 정렬)
	PaymentOrder         *int            `json:"paymentOrder,omitempty"`
	TransactionIndex     int             `json:"transactionIndex"`
	PaymentStatus        PaymentStatus   `json:"paymentStatus"`
	Amount               int64           `json:"-"`
	Value                decimal.Decimal `json:"value"`
	TransactionOrderID   string          `json:"transactionOrderId,omitempty"`
	RawCallback          json.RawMessage `json:"rawCallback,omitempty"`
	RawJourney           json.RawMessage `json:"rawJourney,omitempty"`
	UpdatedAt            time.Time       `json:"updatedAt"`
	UpdatedAtEpochMillis int64           `json:"updatedAtEpochMillis"`
}

// Touch 수정 시각 갱신
func (l *PaymentLeg) Touch(now time.Time) {
	l.UpdatedAt = now
	l.UpdatedAtEpochMillis = now.UnixMilli()
}

// IsApproved 승인 여부
func (l PaymentLeg) IsApproved() bool {
	return l.PaymentStatus == PaymentStatusApproved
}

// Order 결제 통합 주문 (aggregate root)
type Order struct {
	Identifier         string        `json:"identifier"`
	UUID               string        `json:"uuid"`
	TransactionOrderID string        `json:"transactionOrderId"`
	MultiplePayment    bool          `json:"multiplePayment"`
	MixedPaymentTypes  []PaymentType `json:"mixedPaymentTypes,omitempty"`
	PaymentStatus      PaymentStatus `json:"paymentStatus"`
	Error              *ErrorDetail  `json:"error,omitempty"`
	Payments           []PaymentLeg  `json:"payments"`
	Version            int64         `json:"version"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// NewOrder 첫 콜백 수신 시 빈 주문 생성
func NewOrder(identifier, transactionOrderID string, now time.Time) *Order {
	return &Order{
		Identifier:         identifier,
		TransactionOrderID: transactionOrderID,
		PaymentStatus:      PaymentStatusPending,
		Payments:           []PaymentLeg{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// MarkMultiplePayment 복수 결제 플래그 설정 (한 번 true면 해제하지 않음)
func (o *Order) MarkMultiplePayment() {
	o.MultiplePayment = true
}

// LegsOfType 특정 타입 leg 목록 (paymentOrder 오름차순 사본)
func (o *Order) LegsOfType(t PaymentType) []PaymentLeg {
	legs := make([]PaymentLeg, 0)
	for _, leg := range o.Payments {
		if leg.Type == t {
			legs = append(legs, leg)
		}
	}
	SortLegs(legs)
	return legs
}

// CountLegs 특정 타입 leg 개수
func (o *Order) CountLegs(t PaymentType) int {
	count := 0
	for _, leg := range o.Payments {
		if leg.Type == t {
			count++
		}
	}
	return count
}

// ReplaceLegsOfType 특정 타입 leg를 교체하고 전체를 재정렬
func (o *Order) ReplaceLegsOfType(t PaymentType, legs []PaymentLeg) {
	merged := make([]PaymentLeg, 0, len(o.Payments)+len(legs))
	for _, leg := range o.Payments {
		if leg.Type != t {
			merged = append(merged, leg)
		}
	}
	merged = append(merged, legs...)
	SortLegs(merged)
	o.Payments = merged
}

// HasMixedType 기대 결제 수단 목록 포함 여부
func (o *Order) HasMixedType(t PaymentType) bool {
	for _, mixed := range o.MixedPaymentTypes {
		if mixed == t {
			return true
		}
	}
	return false
}

// AddMixedTypes 기대 결제 수단 추가 (중복 제외)
func (o *Order) AddMixedTypes(types ...PaymentType) {
	for _, t := range types {
		if !o.HasMixedType(t) {
			o.MixedPaymentTypes = append(o.MixedPaymentTypes, t)
		}
	}
}

// SortLegs paymentOrder 오름차순 안정 정렬 (nil은 마지막)
func SortLegs(legs []PaymentLeg) {
	sort.SliceStable(legs, func(i, j int) bool {
		a, b := legs[i].PaymentOrder, legs[j].PaymentOrder
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

// DecodeMinorUnits 파트너 최소 단위 금액을 소수 둘째자리 금액으로 변환 (half-up)
func DecodeMinorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Div(decimal.NewFromInt(100)).Round(2)
}

// IntPtr paymentOrder 리터럴 헬퍼
func IntPtr(v int) *int {
	return &v
}

const (
	ReversalConfirmed = "REVERSAL_CONFIRMED"
	ReversalCanceled  = "CANCELED"
	ReversalRequested = "REVERSAL_REQUESTED"
	ReversalCanceling = "CANCELING"
	ReversalPartial   = "PARTIAL_REVERSAL"
)

// MapReversalStatus 취소 콜백 코드를 주문 상태로 변환
func MapReversalStatus(code string) PaymentStatus {
	switch code {
	case ReversalConfirmed, ReversalCanceled:
		return PaymentStatusCanceled
	case ReversalRequested, ReversalCanceling:
		return PaymentStatusCanceling
	case ReversalPartial:
		return PaymentStatusPartiallyCancelled
	default:
		return PaymentStatusCancelFailed
	}
}
