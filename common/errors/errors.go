package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 에러 코드 정의
type ErrorCode string

const (
	// Business Errors
	ErrCodeUnprocessable   ErrorCode = "UNPROCESSABLE"
	ErrCodeOrderNotFound   ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeInvalidCallback ErrorCode = "INVALID_CALLBACK"
	ErrCodeMergeConflict   ErrorCode = "MERGE_CONFLICT"

	// Technical Errors
	ErrCodeDownstreamError    ErrorCode = "DOWNSTREAM_ERROR"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeNetworkError       ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeoutError       ErrorCode = "TIMEOUT_ERROR"
	ErrCodeSerializationError ErrorCode = "SERIALIZATION_ERROR"

	// Retry Errors
	ErrCodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	ErrCodeRetryInterrupted ErrorCode = "RETRY_INTERRUPTED"
)

// Kind 재시도 관점의 에러 분류
type Kind int

const (
	KindTransient Kind = iota
	KindNonRetryable
	KindExhausted
	KindInterrupted
	KindMergeConflict
)

func (k Kind) String() string {
	switch k {
	case KindNonRetryable:
		return "NON_RETRYABLE"
	case KindExhausted:
		return "EXHAUSTED"
	case KindInterrupted:
		return "INTERRUPTED"
	case KindMergeConflict:
		return "MERGE_CONFLICT"
	default:
		return "TRANSIENT"
	}
}

// DomainError 도메인 에러 구조체
type DomainError struct {
	Code       ErrorCode
	Kind       Kind
	StatusCode int
	Operation  string
	Attempts   int
	Message    string
	Cause      error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// New 새로운 도메인 에러 생성
func New(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Kind:    kindForCode(code),
		Message: message,
	}
}

// Wrap 기존 에러를 래핑한 도메인 에러 생성
func Wrap(code ErrorCode, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Kind:    kindForCode(code),
		Message: message,
		Cause:   cause,
	}
}

// FromStatus 다운스트림 응답 상태코드로 에러 분류 (422 -> 재시도 불가)
func FromStatus(statusCode int, message string, cause error) *DomainError {
	if statusCode == http.StatusUnprocessableEntity {
		return &DomainError{
			Code:       ErrCodeUnprocessable,
			Kind:       KindNonRetryable,
			StatusCode: statusCode,
			Message:    message,
			Cause:      cause,
		}
	}
	return &DomainError{
		Code:       ErrCodeDownstreamError,
		Kind:       KindTransient,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// Exhausted 최대 재시도 초과 에러 생성
func Exhausted(operation string, attempts int, last error) *DomainError {
	return &DomainError{
		Code:      ErrCodeRetriesExhausted,
		Kind:      KindExhausted,
		Operation: operation,
		Attempts:  attempts,
		Message:   fmt.Sprintf("operation %s failed after %d attempts", operation, attempts),
		Cause:     last,
	}
}

// Interrupted 백오프 대기 중 취소된 경우
func Interrupted(operation string, attempt int, cause error) *DomainError {
	return &DomainError{
		Code:      ErrCodeRetryInterrupted,
		Kind:      KindInterrupted,
		Operation: operation,
		Attempts:  attempt,
		Message:   fmt.Sprintf("operation %s interrupted while waiting to retry", operation),
		Cause:     cause,
	}
}

// MergeConflict 반복 결제건 매칭 불가
func MergeConflict(message string) *DomainError {
	return &DomainError{
		Code:    ErrCodeMergeConflict,
		Kind:    KindMergeConflict,
		Message: message,
	}
}

func kindForCode(code ErrorCode) Kind {
	switch code {
	case ErrCodeUnprocessable, ErrCodeInvalidCallback, ErrCodeOrderNotFound:
		return KindNonRetryable
	case ErrCodeMergeConflict:
		return KindMergeConflict
	case ErrCodeRetriesExhausted:
		return KindExhausted
	case ErrCodeRetryInterrupted:
		return KindInterrupted
	}
	return KindTransient
}

// As 체인에서 DomainError 추출
func As(err error) (*DomainError, bool) {
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// KindOf 에러 분류 조회 (DomainError가 아니면 Transient)
func KindOf(err error) Kind {
	if domainErr, ok := As(err); ok {
		return domainErr.Kind
	}
	return KindTransient
}

// IsNonRetryable 즉시 dead letter로 보내야 하는 에러인지 판단
func IsNonRetryable(err error) bool {
	return err != nil && KindOf(err) == KindNonRetryable
}

// IsRetryable 재시도 가능한 에러인지 판단
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// IsBusinessError 비즈니스 에러인지 판단 (재시도 불필요)
func IsBusinessError(err error) bool {
	if domainErr, ok := As(err); ok {
		switch domainErr.Code {
		case ErrCodeUnprocessable, ErrCodeOrderNotFound, ErrCodeInvalidCallback, ErrCodeMergeConflict:
			return true
		}
	}
	return false
}
