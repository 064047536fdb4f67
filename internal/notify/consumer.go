package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed indica que el broker cerro el canal de entregas.
var ErrDeliveriesClosed = errors.New("amqp deliveries channel closed")

// VerificationHandler procesa un mensaje de verificacion.
type VerificationHandler func(ctx context.Context, msg VerificationMessage) error

// Consumer lee mensajes de verificacion de la cola configurada.
type Consumer struct {
	logger   *zap.Logger
	topology Topology
	ch       amqpChannel
	conn     io.Closer
}

// NewConsumer conecta con el broker y declara la topologia, para poder arrancar antes que el publisher.
func NewConsumer(url string, topology Topology, logger *zap.Logger) (*Consumer, error) {
	return newConsumer(dialOpener(url), topology, logger)
}

func newConsumer(open channelOpener, topology Topology, logger *zap.Logger) (*Consumer, error) {
	if err := topology.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ch, conn, err := open()
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}
	if err := declareTopology(ch, topology); err != nil {
		_ = multierr.Combine(ch.Close(), closeQuietly(conn))
		return nil, fmt.Errorf("amqp declare topology: %w", err)
	}
	return &Consumer{logger: logger, topology: topology, ch: ch, conn: conn}, nil
}

// Run consume hasta que ctx se cancela o el broker cierra el canal.
func (c *Consumer) Run(ctx context.Context, handle VerificationHandler) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := c.ch.Consume(c.topology.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}
	c.logger.Info("consuming verification messages", zap.String("queue", c.topology.Queue))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.process(ctx, d, handle)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery, handle VerificationHandler) {
	var msg VerificationMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil || strings.TrimSpace(msg.Email) == "" || strings.TrimSpace(msg.Token) == "" {
		c.logger.Warn("dropping malformed verification message", zap.Uint64("delivery_tag", d.DeliveryTag), zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("nack failed", zap.Error(nackErr))
		}
		return
	}

	if err := handle(ctx, msg); err != nil {
		// Se reintenta una sola vez; la segunda falla descarta el mensaje.
		requeue := !d.Redelivered
		c.logger.Warn("verification message handler failed",
			zap.Error(err),
			zap.String("email", msg.Email),
			zap.Bool("requeue", requeue),
		)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			c.logger.Error("nack failed", zap.Error(nackErr))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("ack failed", zap.Error(err))
	}
}

func (c *Consumer) Close() error {
	return multierr.Combine(c.ch.Close(), closeQuietly(c.conn))
}
