package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/lib/pq"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
)

var (
	// ErrOrderNotFound 주문 없음
	ErrOrderNotFound = apperrors.New(apperrors.ErrCodeOrderNotFound, "order not found")
	// ErrVersionConflict 동시 수정 감지 (optimistic lock)
	ErrVersionConflict = apperrors.New(apperrors.ErrCodeDatabaseError, "order version conflict")
)

// Schema payment_orders 테이블 DDL
const Schema = `
CREATE TABLE IF NOT EXISTS payment_orders (
	identifier           TEXT PRIMARY KEY,
	uuid                 TEXT NOT NULL DEFAULT '',
	transaction_order_id TEXT NOT NULL DEFAULT '',
	multiple_payment     BOOLEAN NOT NULL DEFAULT FALSE,
	mixed_payment_types  TEXT[] NOT NULL DEFAULT '{}',
	payment_status       TEXT NOT NULL,
	error_detail         JSONB,
	payments             JSONB NOT NULL DEFAULT '[]',
	version              BIGINT NOT NULL DEFAULT 1,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        JSONB NOT NULL,
	status         TEXT NOT NULL DEFAULT 'PENDING',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sent_at        TIMESTAMPTZ
);
`

// OrderStore 주문 저장소 포트
type OrderStore interface {
	FindByIdentifier(ctx context.Context, identifier string) (*domain.Order, error)
	ReplaceAll(ctx context.Context, order *domain.Order) error
	PatchLegsByType(ctx context.Context, identifier string, legType domain.PaymentType, legs []domain.PaymentLeg) error
	UpdatePaymentStatus(ctx context.Context, identifier string, status domain.PaymentStatus, detail *domain.ErrorDetail) error
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository PostgreSQL 주문 저장소 생성
func NewOrderRepository(db *sql.DB) OrderStore {
	return &orderRepository{db: db}
}

// Migrate 스키마 생성
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// FindByIdentifier identifier로 주문 조회
func (r *orderRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Order, error) {
	query := `
		SELECT identifier, uuid, transaction_order_id, multiple_payment, mixed_payment_types,
		       payment_status, error_detail, payments, version, created_at, updated_at
		FROM payment_orders
		WHERE identifier = $1
	`

	order := &domain.Order{}
	var mixed pq.StringArray
	var errorDetail, payments []byte

	err := r.db.QueryRowContext(ctx, query, identifier).Scan(
		&order.Identifier,
		&order.UUID,
		&order.TransactionOrderID,
		&order.MultiplePayment,
		&mixed,
		&order.PaymentStatus,
		&errorDetail,
		&payments,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identifier %s: %w", identifier, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}

	for _, t := range mixed {
		order.MixedPaymentTypes = append(order.MixedPaymentTypes, domain.PaymentType(t))
	}
	if len(errorDetail) > 0 {
		order.Error = &domain.ErrorDetail{}
		if err := json.Unmarshal(errorDetail, order.Error); err != nil {
			return nil, fmt.Errorf("failed to decode error detail: %w", err)
		}
	}
	if order.Payments, err = decodeLegs(payments); err != nil {
		return nil, err
	}

	return order, nil
}

// ReplaceAll 주문 전체 upsert (version 일치 시에만 갱신)
//
// multiple_payment는 OR로 병합되어 DB 수준에서도 해제되지 않는다.
func (r *orderRepository) ReplaceAll(ctx context.Context, order *domain.Order) error {
	domain.SortLegs(order.Payments)

	payments, err := json.Marshal(order.Payments)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to encode payments", err)
	}
	errorDetail, err := encodeErrorDetail(order.Error)
	if err != nil {
		return err
	}

	mixed := make(pq.StringArray, 0, len(order.MixedPaymentTypes))
	for _, t := range order.MixedPaymentTypes {
		mixed = append(mixed, string(t))
	}

	query := `
		INSERT INTO payment_orders (identifier, uuid, transaction_order_id, multiple_payment, mixed_payment_types,
		                            payment_status, error_detail, payments, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW(), NOW())
		ON CONFLICT (identifier) DO UPDATE SET
			uuid = EXCLUDED.uuid,
			transaction_order_id = EXCLUDED.transaction_order_id,
			multiple_payment = payment_orders.multiple_payment OR EXCLUDED.multiple_payment,
			mixed_payment_types = EXCLUDED.mixed_payment_types,
			payment_status = EXCLUDED.payment_status,
			error_detail = EXCLUDED.error_detail,
			payments = EXCLUDED.payments,
			version = payment_orders.version + 1,
			updated_at = NOW()
		WHERE payment_orders.version = $9
		RETURNING version, updated_at
	`

	err = r.db.QueryRowContext(
		ctx,
		query,
		order.Identifier,
		order.UUID,
		order.TransactionOrderID,
		order.MultiplePayment,
		mixed,
		order.PaymentStatus,
		errorDetail,
		payments,
		order.Version,
	).Scan(&order.Version, &order.UpdatedAt)

	if stderrors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("identifier %s: %w", order.Identifier, ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to replace order: %w", err)
	}

	return nil
}

// PatchLegsByType 특정 타입 leg만 교체
func (r *orderRepository) PatchLegsByType(ctx context.Context, identifier string, legType domain.PaymentType, legs []domain.PaymentLeg) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, `
		SELECT payments FROM payment_orders WHERE identifier = $1 FOR UPDATE
	`, identifier).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("identifier %s: %w", identifier, ErrOrderNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}

	current, err := decodeLegs(raw)
	if err != nil {
		return err
	}

	order := &domain.Order{Payments: current}
	order.ReplaceLegsOfType(legType, legs)

	payments, err := json.Marshal(order.Payments)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to encode payments", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE payment_orders
		SET payments = $1, version = version + 1, updated_at = NOW()
		WHERE identifier = $2
	`, payments, identifier); err != nil {
		return fmt.Errorf("failed to patch legs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to commit transaction", err)
	}

	return nil
}

// UpdatePaymentStatus 주문 상태 및 에러 정보 갱신
func (r *orderRepository) UpdatePaymentStatus(ctx context.Context, identifier string, status domain.PaymentStatus, detail *domain.ErrorDetail) error {
	errorDetail, err := encodeErrorDetail(detail)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_orders
		SET payment_status = $1, error_detail = $2, version = version + 1, updated_at = NOW()
		WHERE identifier = $3
	`, status, errorDetail, identifier)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("identifier %s: %w", identifier, ErrOrderNotFound)
	}

	return nil
}

func decodeLegs(raw []byte) ([]domain.PaymentLeg, error) {
	legs := make([]domain.PaymentLeg, 0)
	if len(raw) == 0 {
		return legs, nil
	}
	if err := json.Unmarshal(raw, &legs); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to decode payments", err)
	}
	return legs, nil
}

func encodeErrorDetail(detail *domain.ErrorDetail) (interface{}, error) {
	if detail == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(detail)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeSerializationError, "failed to encode error detail", err)
	}
	return encoded, nil
}
