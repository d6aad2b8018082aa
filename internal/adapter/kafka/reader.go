// Package kafka adapts Kafka topics to the pipeline's source and sink
// interfaces using segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/rain-gauge-reconciler/internal/config"
	"github.com/couchcryptid/rain-gauge-reconciler/internal/pipeline"
)

// Reader consumes raw reading batches from the source topic.
// It implements pipeline.BatchSource.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates a Kafka consumer for the configured source topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.KafkaGroupID,
		Topic:    cfg.KafkaSourceTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &Reader{reader: r, logger: logger}
}

// Next fetches the next reading batch, skipping messages whose payload is not
// a valid envelope. Offsets are committed through the returned batch's Commit
// so redelivery happens if the batch is never persisted.
func (r *Reader) Next(ctx context.Context) (pipeline.Batch, error) {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			return pipeline.Batch{}, err
		}

		batch, err := mapMessageToBatch(msg)
		if err != nil {
			r.logger.Warn("dropping malformed message",
				"error", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			if cerr := r.reader.CommitMessages(ctx, msg); cerr != nil {
				r.logger.Warn("commit malformed message failed", "error", cerr)
			}
			continue
		}

		batch.Commit = func(ctx context.Context) error {
			return r.reader.CommitMessages(ctx, msg)
		}
		return batch, nil
	}
}

func (r *Reader) Close() error {
	return r.reader.Close()
}

// readingEnvelope is the wire format of the source topic: one message per
// station batch.
type readingEnvelope struct {
	Station string              `json:"station"`
	Rows    []map[string]string `json:"rows"`
}

// mapMessageToBatch decodes a Kafka message into a pipeline batch. The
// message key is the fallback station id when the envelope omits one.
func mapMessageToBatch(msg kafkago.Message) (pipeline.Batch, error) {
	var env readingEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return pipeline.Batch{}, err
	}
	station := env.Station
	if station == "" {
		station = string(msg.Key)
	}
	return pipeline.Batch{
		StationID: station,
		Rows:      env.Rows,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}, nil
}
