package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/domain"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/repository"
	"github.com/kyungseok/msa-payment-consolidation/services/consolidation/internal/settlement"
)

type statusUpdate struct {
	identifier string
	status     domain.PaymentStatus
	detail     *domain.ErrorDetail
}

// memoryStore 테스트용 인메모리 OrderStore
type memoryStore struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	replaced int
	patched  int
	statuses []statusUpdate

	patchErr  error
	statusErr error
}

func newMemoryStore(orders ...*domain.Order) *memoryStore {
	s := &memoryStore{orders: make(map[string]*domain.Order)}
	for _, o := range orders {
		s.orders[o.Identifier] = cloneOrder(o)
	}
	return s
}

func (s *memoryStore) FindByIdentifier(ctx context.Context, identifier string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[identifier]
	if !ok {
		return nil, fmt.Errorf("identifier %s: %w", identifier, repository.ErrOrderNotFound)
	}
	return cloneOrder(order), nil
}

func (s *memoryStore) ReplaceAll(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replaced++
	order.Version++
	s.orders[order.Identifier] = cloneOrder(order)
	return nil
}

func (s *memoryStore) PatchLegsByType(ctx context.Context, identifier string, legType domain.PaymentType, legs []domain.PaymentLeg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.patchErr != nil {
		return s.patchErr
	}
	order, ok := s.orders[identifier]
	if !ok {
		return fmt.Errorf("identifier %s: %w", identifier, repository.ErrOrderNotFound)
	}

	s.patched++
	order.ReplaceLegsOfType(legType, append([]domain.PaymentLeg(nil), legs...))
	order.Version++
	return nil
}

func (s *memoryStore) UpdatePaymentStatus(ctx context.Context, identifier string, status domain.PaymentStatus, detail *domain.ErrorDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses = append(s.statuses, statusUpdate{identifier: identifier, status: status, detail: detail})
	if s.statusErr != nil {
		return s.statusErr
	}
	if order, ok := s.orders[identifier]; ok {
		order.PaymentStatus = status
		order.Error = detail
	}
	return nil
}

func (s *memoryStore) get(identifier string) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[identifier])
}

func cloneOrder(o *domain.Order) *domain.Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Payments = append([]domain.PaymentLeg(nil), o.Payments...)
	c.MixedPaymentTypes = append([]domain.PaymentType(nil), o.MixedPaymentTypes...)
	return &c
}

type mockPort struct {
	mock.Mock
}

func (m *mockPort) Send(ctx context.Context, correlationID string, request interface{}, authHeaders map[string]string) (*settlement.Response, error) {
	args := m.Called(ctx, correlationID, request, authHeaders)
	resp, _ := args.Get(0).(*settlement.Response)
	return resp, args.Error(1)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Send(ctx context.Context, payload interface{}, cause error) error {
	args := m.Called(ctx, payload, cause)
	return args.Error(0)
}

type reportedFailure struct {
	identifier string
	operation  string
	cause      error
}

type fakeReporter struct {
	mu       sync.Mutex
	failures []reportedFailure
}

func (r *fakeReporter) ReportFailure(ctx context.Context, order *domain.Order, operation string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, reportedFailure{identifier: order.Identifier, operation: operation, cause: cause})
	return nil
}

type fakeDelivery struct {
	calls []deliveryCall
	err   error
}

type deliveryCall struct {
	order   *domain.Order
	payload LegPayload
}

func (d *fakeDelivery) Deliver(ctx context.Context, order *domain.Order, payload LegPayload) error {
	d.calls = append(d.calls, deliveryCall{order: cloneOrder(order), payload: payload})
	return d.err
}
