package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKafkaPublisher_PublishMarshalsEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "ORD-1", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(value, &decoded))
		assert.Equal(t, "ORD-1", decoded["identifier"])
		return nil
	})

	publisher := NewPublisherWithProducer(producer, zap.NewNop())
	err := publisher.Publish(context.Background(), "payment.dead_letter.v1", "ORD-1", map[string]string{"identifier": "ORD-1"})

	require.NoError(t, err)
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_PublishRawPayloadUnchanged(t *testing.T) {
	raw := json.RawMessage(`{"eventId":"e-1"}`)
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		assert.JSONEq(t, string(raw), string(value))
		return nil
	})

	publisher := NewPublisherWithProducer(producer, zap.NewNop())

	require.NoError(t, publisher.Publish(context.Background(), "payment.delivery.failed.v1", "", raw))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndFail(errors.New("broker unavailable"))

	publisher := NewPublisherWithProducer(producer, zap.NewNop())
	err := publisher.Publish(context.Background(), "payment.dead_letter.v1", "ORD-1", map[string]string{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
	require.NoError(t, publisher.Close())
}
