package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrPublisherUnavailable se devuelve mientras el canal se reconecta en background.
	ErrPublisherUnavailable = errors.New("amqp publisher unavailable")
	ErrPublisherClosed      = errors.New("amqp publisher closed")
)

const (
	defaultRetryDelay = 500 * time.Millisecond
	maxRetryDelay     = 30 * time.Second
)

// AMQPPublisher publica mensajes de verificacion en un exchange topic.
// No reconecta dentro de PublishVerification: si el canal cayo, devuelve
// ErrPublisherUnavailable y una unica goroutine reconecta con backoff.
type AMQPPublisher struct {
	logger     *zap.Logger
	open       channelOpener
	topology   Topology
	timeout    time.Duration
	retryDelay time.Duration

	mu           sync.Mutex
	ch           amqpChannel
	conn         io.Closer
	reconnecting bool
	closed       bool
	done         chan struct{}
	wg           sync.WaitGroup
}

// NewAMQPPublisher conecta con el broker y declara la topologia.
func NewAMQPPublisher(url string, topology Topology, timeout time.Duration, logger *zap.Logger) (*AMQPPublisher, error) {
	return newAMQPPublisher(dialOpener(url), topology, timeout, logger)
}

func newAMQPPublisher(open channelOpener, topology Topology, timeout time.Duration, logger *zap.Logger) (*AMQPPublisher, error) {
	if err := topology.validate(); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &AMQPPublisher{
		logger:     logger,
		open:       open,
		topology:   topology,
		timeout:    timeout,
		retryDelay: defaultRetryDelay,
		done:       make(chan struct{}),
	}
	ch, conn, err := p.connect()
	if err != nil {
		return nil, err
	}
	p.ch, p.conn = ch, conn
	return p, nil
}

// PublishVerification publica msg sin depender de la cancelacion de ctx;
// solo aplica el timeout propio del publisher.
func (p *AMQPPublisher) PublishVerification(ctx context.Context, msg VerificationMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal verification message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}
	if p.ch == nil || p.ch.IsClosed() {
		p.startReconnectLocked()
		return ErrPublisherUnavailable
	}

	err = p.ch.PublishWithContext(ctx, p.topology.Exchange, p.topology.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.startReconnectLocked()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// Close detiene la reconexion y libera canal y conexion.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	err := p.resetLocked()
	p.mu.Unlock()

	p.wg.Wait()
	return err
}

func (p *AMQPPublisher) connect() (amqpChannel, io.Closer, error) {
	ch, conn, err := p.open()
	if err != nil {
		return nil, nil, fmt.Errorf("amqp connect: %w", err)
	}
	if err := declareTopology(ch, p.topology); err != nil {
		_ = multierr.Combine(ch.Close(), closeQuietly(conn))
		return nil, nil, fmt.Errorf("amqp declare topology: %w", err)
	}
	return ch, conn, nil
}

func (p *AMQPPublisher) startReconnectLocked() {
	if p.reconnecting || p.closed {
		return
	}
	p.reconnecting = true
	if err := p.resetLocked(); err != nil {
		p.logger.Debug("amqp close before reconnect", zap.Error(err))
	}
	p.logger.Warn("amqp channel unavailable, reconnecting in background")
	p.wg.Add(1)
	go p.reconnectLoop()
}

func (p *AMQPPublisher) reconnectLoop() {
	defer p.wg.Done()

	delay := p.retryDelay
	for {
		ch, conn, err := p.connect()

		p.mu.Lock()
		if p.closed {
			p.reconnecting = false
			p.mu.Unlock()
			if err == nil {
				_ = multierr.Combine(ch.Close(), closeQuietly(conn))
			}
			return
		}
		if err == nil {
			p.ch, p.conn = ch, conn
			p.reconnecting = false
			p.mu.Unlock()
			p.logger.Info("amqp publisher reconnected")
			return
		}
		p.mu.Unlock()

		p.logger.Warn("amqp reconnect failed", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-p.done:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// available reporta si hay un canal abierto listo para publicar.
func (p *AMQPPublisher) available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch != nil && !p.ch.IsClosed()
}

func (p *AMQPPublisher) resetLocked() error {
	var err error
	if p.ch != nil {
		err = multierr.Append(err, p.ch.Close())
	}
	err = multierr.Append(err, closeQuietly(p.conn))
	p.ch = nil
	p.conn = nil
	return err
}

func closeQuietly(c io.Closer) error {
	if c == nil {
		return nil
	}
	return c.Close()
}
