// Package amqp publishes fatura lifecycle events to RabbitMQ for the
// WhatsApp notifier.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("amqp")

// channel is the subset of *amqp091.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// dialFunc opens a connection and a channel with the exchange declared.
type dialFunc func() (channel, func() error, error)

// Publisher sends domain.InvoiceEvent messages to a topic exchange.
// Routing keys are "<routingKey>.<event type>", e.g. "faturas.fatura.fechada".
type Publisher struct {
	mu         sync.Mutex
	ch         channel
	closeConn  func() error
	dial       dialFunc
	exchange   string
	routingKey string
	logger     *zap.Logger
}

// NewPublisher dials url and declares a durable topic exchange.
func NewPublisher(url, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	dial := func() (channel, func() error, error) {
		conn, err := amqp091.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("dial AMQP: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("open channel: %w", err)
		}
		err = ch.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, fmt.Errorf("declare exchange: %w", err)
		}
		return ch, conn.Close, nil
	}
	return newPublisher(dial, exchange, routingKey, logger)
}

func newPublisher(dial dialFunc, exchange, routingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, closeConn, err := dial()
	if err != nil {
		return nil, err
	}
	return &Publisher{
		ch:         ch,
		closeConn:  closeConn,
		dial:       dial,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}, nil
}

// PublishInvoiceEvent publishes ev as a persistent JSON message. A broken
// connection is redialed once before giving up.
func (p *Publisher) PublishInvoiceEvent(ctx context.Context, ev *domain.InvoiceEvent) error {
	ctx, span := tracer.Start(ctx, "AMQP.PublishInvoiceEvent")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", ev.Type), attribute.String("invoice.id", ev.InvoiceID))

	msg, err := encode(ev)
	if err != nil {
		return err
	}
	key := p.routingKey + "." + ev.Type

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	if err != nil && isConnectionError(err) {
		p.logger.Warn("amqp: connection lost, redialing", zap.Error(err))
		if rerr := p.reconnect(); rerr != nil {
			return errors.Join(err, rerr)
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	p.logger.Debug("amqp: event published",
		zap.String("type", ev.Type),
		zap.String("fatura_id", ev.InvoiceID),
		zap.String("routing_key", key),
	)
	return nil
}

func (p *Publisher) reconnect() error {
	_ = p.ch.Close()
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	ch, closeConn, err := p.dial()
	if err != nil {
		return err
	}
	p.ch, p.closeConn = ch, closeConn
	return nil
}

// Close shuts the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.closeConn != nil {
		err = errors.Join(err, p.closeConn())
	}
	return err
}

func encode(ev *domain.InvoiceEvent) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		MessageId:    ev.InvoiceID + ":" + ev.Type + ":" + ev.OccurredAt.Format(time.RFC3339Nano),
		Body:         body,
	}, nil
}

func isConnectionError(err error) bool {
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection closed", "channel/connection is not open", "broken pipe", "unexpected eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// NoopPublisher drops events. Used when AMQP_URL is not configured.
type NoopPublisher struct{}

// PublishInvoiceEvent does nothing.
func (NoopPublisher) PublishInvoiceEvent(context.Context, *domain.InvoiceEvent) error {
	return nil
}
