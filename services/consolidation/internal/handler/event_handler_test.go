package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kyungseok/msa-payment-consolidation/common/errors"
	"github.com/kyungseok/msa-payment-consolidation/common/events"
	"github.com/kyungseok/msa-payment-consolidation/common/logger"
	"github.com/kyungseok/msa-payment-consolidation/common/messaging"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ProcessLegCallback(ctx context.Context, evt events.PaymentLegCallbackEvent) error {
	return m.Called(ctx, evt).Error(0)
}

type memoryIdemStore struct {
	mu       sync.Mutex
	keys     map[string]bool
	err      error
	released []string
}

func newMemoryIdemStore() *memoryIdemStore {
	return &memoryIdemStore{keys: make(map[string]bool)}
}

func (s *memoryIdemStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *memoryIdemStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	s.released = append(s.released, key)
	return nil
}

func callbackMessage(t *testing.T, topic events.EventType, evt events.PaymentLegCallbackEvent) *messaging.Message {
	value, err := json.Marshal(evt)
	require.NoError(t, err)
	return &messaging.Message{Topic: string(topic), Key: []byte(evt.Identifier), Value: value}
}

func TestEventHandler_ProcessesOnce(t *testing.T) {
	processor := &mockProcessor{}
	store := newMemoryIdemStore()
	h := NewEventHandler(processor, store, time.Hour, logger.NewTestLogger(t))

	evt := events.PaymentLegCallbackEvent{
		BaseEvent:  events.BaseEvent{EventID: "evt-1"},
		Identifier: "ORD-1",
		Legs:       []events.LegCallback{{Amount: 100}},
	}
	processor.On("ProcessLegCallback", mock.Anything, mock.MatchedBy(func(e events.PaymentLegCallbackEvent) bool {
		return e.LegType == "PIX" && e.Identifier == "ORD-1"
	})).Return(nil).Once()

	msg := callbackMessage(t, events.EventPixCallback, evt)
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	require.NoError(t, h.HandleMessage(context.Background(), msg))

	processor.AssertExpectations(t)
}

func TestEventHandler_ReleasesKeyOnTransientFailure(t *testing.T) {
	processor := &mockProcessor{}
	store := newMemoryIdemStore()
	h := NewEventHandler(processor, store, time.Hour, logger.NewTestLogger(t))

	evt := events.PaymentLegCallbackEvent{BaseEvent: events.BaseEvent{EventID: "evt-2"}, Identifier: "ORD-1"}
	processor.On("ProcessLegCallback", mock.Anything, mock.Anything).
		Return(apperrors.Wrap(apperrors.ErrCodeDatabaseError, "failed to persist order", stderrors.New("timeout"))).Once()

	err := h.HandleMessage(context.Background(), callbackMessage(t, events.EventTefWebCallback, evt))

	require.Error(t, err)
	assert.Equal(t, []string{"evt-2"}, store.released)
}

func TestEventHandler_KeepsKeyOnBusinessError(t *testing.T) {
	processor := &mockProcessor{}
	store := newMemoryIdemStore()
	h := NewEventHandler(processor, store, time.Hour, logger.NewTestLogger(t))

	evt := events.PaymentLegCallbackEvent{BaseEvent: events.BaseEvent{EventID: "evt-3"}, Identifier: "ORD-1"}
	processor.On("ProcessLegCallback", mock.Anything, mock.Anything).
		Return(apperrors.MergeConflict("no pending leg")).Once()

	err := h.HandleMessage(context.Background(), callbackMessage(t, events.EventTefWebCallback, evt))

	require.Error(t, err)
	assert.Empty(t, store.released)
}

func TestEventHandler_ProcessesWhenStoreUnavailable(t *testing.T) {
	processor := &mockProcessor{}
	store := newMemoryIdemStore()
	store.err = stderrors.New("redis down")
	h := NewEventHandler(processor, store, time.Hour, logger.NewTestLogger(t))

	processor.On("ProcessLegCallback", mock.Anything, mock.Anything).Return(nil).Once()

	evt := events.PaymentLegCallbackEvent{BaseEvent: events.BaseEvent{EventID: "evt-4"}, Identifier: "ORD-1"}
	require.NoError(t, h.HandleMessage(context.Background(), callbackMessage(t, events.EventCreditCardCallback, evt)))

	processor.AssertExpectations(t)
}

func TestEventHandler_IgnoresUnknownTopic(t *testing.T) {
	processor := &mockProcessor{}
	h := NewEventHandler(processor, newMemoryIdemStore(), time.Hour, logger.NewTestLogger(t))

	err := h.HandleMessage(context.Background(), &messaging.Message{Topic: "order.created.v1", Value: []byte(`{}`)})

	require.NoError(t, err)
	processor.AssertNotCalled(t, "ProcessLegCallback", mock.Anything, mock.Anything)
}

func TestEventHandler_RejectsMalformedPayload(t *testing.T) {
	processor := &mockProcessor{}
	h := NewEventHandler(processor, newMemoryIdemStore(), time.Hour, logger.NewTestLogger(t))

	err := h.HandleMessage(context.Background(), &messaging.Message{Topic: string(events.EventPixCallback), Value: []byte(`{`)})

	require.Error(t, err)
	assert.True(t, apperrors.IsBusinessError(err))
}
