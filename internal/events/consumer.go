// Package events получает события об оплаченных заказах из Kafka.
package events

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"
)

const pollTimeoutMs = 100

// MessageHandler обрабатывает тело одного сообщения.
type MessageHandler interface {
	HandleMessage(ctx context.Context, message []byte) error
}

// Poller описывает используемые методы *kafka.Consumer.
type Poller interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	Close() error
}

// KafkaConsumer читает топик и передаёт сообщения обработчику.
type KafkaConsumer struct {
	consumer Poller
	topic    string
	handler  MessageHandler
	logger   *zap.Logger
}

// NewConsumerConfig собирает настройки потребителя группы groupID.
func NewConsumerConfig(bootstrapServers, groupID string) *kafka.ConfigMap {
	return &kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"group.id":           groupID,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": true,
	}
}

// NewKafkaConsumer подписывает consumer на topic.
func NewKafkaConsumer(consumer Poller, topic string, handler MessageHandler, logger *zap.Logger) (*KafkaConsumer, error) {
	if err := consumer.SubscribeTopics([]string{topic}, nil); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	logger.Info("subscribed to kafka topic", zap.String("topic", topic))
	return &KafkaConsumer{consumer: consumer, topic: topic, handler: handler, logger: logger}, nil
}

// Start читает сообщения до отмены ctx или фатальной ошибки брокера.
// Ошибка обработки одного сообщения не останавливает чтение.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka consumer stopping")
			return nil
		default:
		}

		ev := c.consumer.Poll(pollTimeoutMs)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := c.handler.HandleMessage(ctx, e.Value); err != nil {
				c.logger.Error("failed to handle message",
					zap.Error(err),
					zap.String("topic", c.topic),
					zap.String("key", string(e.Key)),
				)
			}
		case kafka.Error:
			c.logger.Error("kafka error", zap.Error(e))
			if e.IsFatal() {
				return e
			}
		}
	}
}

// Close закрывает потребителя.
func (c *KafkaConsumer) Close() error {
	return c.consumer.Close()
}
