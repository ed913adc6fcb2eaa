package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"notification-engine/internal/dispatcher"
	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
)

type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Handler is the engine side of the intake.
type Handler interface {
	Notify(ctx context.Context, req models.NotifyRequest) (models.NotifyResult, error)
	DispatchNotification(ctx context.Context, id string) ([]dispatcher.ChannelResult, error)
}

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// message is either a full notify request or a bare notification id to
// re-dispatch.
type message struct {
	NotificationID string `json:"notification_id"`
	models.NotifyRequest
}

type Consumer struct {
	reader  MessageReader
	handler Handler
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewConsumer(cfg Config, handler Handler, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return NewConsumerWithReader(r, handler, logger)
}

func NewConsumerWithReader(r MessageReader, handler Handler, logger *logging.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{reader: r, handler: handler, logger: logger, ctx: ctx, cancel: cancel}
}

func (c *Consumer) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Info("Kafka consumer started")
		for {
			msg, err := c.reader.FetchMessage(c.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || c.ctx.Err() != nil {
					c.logger.Info("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				time.Sleep(time.Second)
				continue
			}

			if err := c.handle(c.ctx, msg.Value); err != nil {
				c.logger.Errorf("Message at %s/%d offset %d dropped: %v", msg.Topic, msg.Partition, msg.Offset, err)
			}
			if err := c.reader.CommitMessages(c.ctx, msg); err != nil && c.ctx.Err() == nil {
				c.logger.Errorf("Commit offset %d failed: %v", msg.Offset, err)
			}
		}
	}()
}

func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var m message
	if err := json.Unmarshal(value, &m); err != nil {
		return apperrors.NewInvalidRequest("malformed message: %v", err)
	}

	if m.NotificationID != "" && m.Title == "" {
		results, err := c.handler.DispatchNotification(ctx, m.NotificationID)
		if err != nil {
			return err
		}
		c.logger.Infof("Re-dispatched notification %s over %d channels", m.NotificationID, len(results))
		return nil
	}

	res, err := c.handler.Notify(ctx, m.NotifyRequest)
	if err != nil {
		return err
	}
	c.logger.Infof("Processed request %s: %d notifications for %d recipients", m.RequestID, len(res.NotificationIDs), res.Recipients)
	return nil
}

func (c *Consumer) Close() {
	c.cancel()
	if err := c.reader.Close(); err != nil {
		c.logger.Warnf("Kafka reader close failed: %v", err)
	}
}
