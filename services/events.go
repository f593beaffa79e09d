package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"gifconverter/models"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher announces every written ConversionRecord on a topic, keyed by
// job id.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   topic,
		}),
	}
}

func (k *KafkaPublisher) Publish(ctx context.Context, rec models.ConversionRecord) error {
	msg, err := recordMessage(rec)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish record for job %d: %w", rec.JobID, err)
	}
	return nil
}

func recordMessage(rec models.ConversionRecord) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode record: %w", err)
	}
	return kafka.Message{
		Key:   []byte(strconv.FormatInt(rec.JobID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(rec.Status)},
		},
	}, nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
