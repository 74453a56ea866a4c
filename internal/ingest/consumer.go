package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/escalation-service/internal/config"
)

const (
	minBytes = 1
	maxBytes = 1 << 20
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CheckResultConsumer reads check results from Kafka in order and commits
// each offset after handling it.
type CheckResultConsumer struct {
	reader    messageReader
	processor *Processor
	logger    *zap.Logger
}

func NewCheckResultConsumer(cfg config.KafkaConfig, processor *Processor, logger *zap.Logger) *CheckResultConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:       cfg.Brokers,
		Topic:         cfg.Topic,
		GroupID:       cfg.GroupID,
		MinBytes:      minBytes,
		MaxBytes:      maxBytes,
		QueueCapacity: 1,
		Dialer:        &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
	})
	return newCheckResultConsumer(reader, processor, logger)
}

func newCheckResultConsumer(reader messageReader, processor *Processor, logger *zap.Logger) *CheckResultConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckResultConsumer{reader: reader, processor: processor, logger: logger}
}

// Run consumes until ctx is cancelled. A message that fails to process is
// logged and committed so a poison message cannot wedge the partition.
func (c *CheckResultConsumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch check result: %w", err)
		}

		if err := c.handleMessage(ctx, msg); err != nil {
			c.logger.Error("check result handling failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit kafka offset: %w", err)
		}
	}
}

func (c *CheckResultConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var result CheckResult
	if err := json.Unmarshal(msg.Value, &result); err != nil {
		return fmt.Errorf("decode check result: %w", err)
	}
	outcome, err := c.processor.Handle(ctx, result)
	if err != nil {
		return err
	}
	if outcome.Suppressed {
		c.logger.Debug("issue creation suppressed",
			zap.String("site_id", result.SiteID),
			zap.String("check_id", result.CheckID),
			zap.String("reason", outcome.Reason))
	}
	return nil
}

func (c *CheckResultConsumer) Close() error {
	return c.reader.Close()
}
