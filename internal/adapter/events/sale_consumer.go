// Package events consumes settled-sale notifications from the marketplace
// order pipeline and credits vendor balances.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vendor-payouts/config"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/internal/core/ports"
	"vendor-payouts/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	minRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff = 30 * time.Second
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SaleConsumer credits vendor balances from sale events. An offset is
// committed only once its event has been credited or judged malformed, so
// a crash replays the event and Credit's source_ref dedup absorbs it.
type SaleConsumer struct {
	reader   MessageReader
	balances ports.BalanceService
	log      zerolog.Logger
	backoff  time.Duration
}

// NewSaleConsumer creates a consumer reading from reader.
func NewSaleConsumer(reader MessageReader, balances ports.BalanceService, log zerolog.Logger) *SaleConsumer {
	return &SaleConsumer{
		reader:   reader,
		balances: balances,
		log:      log,
		backoff:  minRetryBackoff,
	}
}

// NewKafkaReader builds a consumer-group reader for the sale topic.
func NewKafkaReader(cfg config.KafkaConfig) (*kafka.Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer requires group id")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka consumer requires a topic")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}), nil
}

// Run consumes until ctx is cancelled.
func (c *SaleConsumer) Run(ctx context.Context) error {
	c.log.Info().Msg("sale consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("sale consumer stopped")
				return nil
			}
			return fmt.Errorf("fetch sale event: %w", err)
		}

		if !c.handle(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit sale event: %w", err)
		}
	}
}

// Close closes the underlying reader.
func (c *SaleConsumer) Close() error {
	return c.reader.Close()
}

// handle credits one message, retrying transient failures until ctx ends.
// It returns false only when ctx was cancelled before the message settled.
func (c *SaleConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	log := c.log.With().Int("partition", msg.Partition).Int64("offset", msg.Offset).Logger()

	ev, err := decodeSaleEvent(msg.Value)
	if err != nil {
		log.Warn().Err(err).Msg("skipping malformed sale event")
		return true
	}

	backoff := c.backoff
	for {
		applied, err := c.balances.CreditSale(ctx, *ev)
		if err == nil {
			log.Debug().Str("source_ref", ev.SourceRef).Bool("applied", applied).Msg("sale event consumed")
			return true
		}
		if apperror.HasCode(err, apperror.CodeValidation) {
			log.Warn().Err(err).Str("source_ref", ev.SourceRef).Msg("skipping rejected sale event")
			return true
		}

		log.Error().Err(err).Str("source_ref", ev.SourceRef).Dur("retry_in", backoff).Msg("sale credit failed")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func decodeSaleEvent(raw []byte) (*domain.SaleEvent, error) {
	var ev domain.SaleEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	switch {
	case ev.SourceRef == "":
		return nil, errors.New("missing source_ref")
	case ev.VendorID == uuid.Nil:
		return nil, errors.New("missing vendor_id")
	case ev.GrossAmount <= 0:
		return nil, errors.New("gross_amount must be positive")
	}
	return &ev, nil
}
