package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeKind = "topic"

// AMQPPublisher publishes JSON events to a durable topic exchange, routing by
// event type. A connection dropped by the broker is redialled on the next publish.
type AMQPPublisher struct {
	mu       sync.Mutex
	url      string
	dial     func(url string) (*amqp091.Connection, error)
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	log      *zap.Logger
}

func dialAMQP(url string) (*amqp091.Connection, error) {
	return amqp091.DialConfig(url, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
}

func NewAMQPPublisher(rawURL, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(rawURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(exchange) == "" {
		return nil, errors.New("exchange name is required")
	}

	p := &AMQPPublisher{url: cleanURL, dial: dialAMQP, exchange: exchange, log: log.Named("events.amqp")}
	if err := p.reopen(); err != nil {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		return nil, err
	}
	return p, nil
}

// reopen replaces the channel and re-declares the exchange, dialling a new
// connection first when the current one is gone. Callers hold mu or own p
// exclusively.
func (p *AMQPPublisher) reopen() error {
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := p.dial(p.url)
		if err != nil {
			return err
		}
		p.conn = conn
		p.channel = nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(p.exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = ch
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     evt.ID,
		CorrelationId: evt.CorrelationID,
		Type:          evt.Type,
		Timestamp:     evt.OccurredAt,
		Body:          body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		if err := p.reopen(); err != nil {
			return err
		}
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, evt.Type, false, false, msg)
	if err == nil {
		return nil
	}

	// One retry on a fresh channel, and a fresh connection if the broker dropped it.
	p.log.Warn("publish failed, reopening channel", zap.String("event_type", evt.Type), zap.Error(err))
	if reopenErr := p.reopen(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return p.channel.PublishWithContext(ctx, p.exchange, evt.Type, false, false, msg)
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
