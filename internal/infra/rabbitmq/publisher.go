package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/rabbitmq/amqp091-go"
)

// DefaultExchange receives attempt lifecycle events.
const DefaultExchange = "practice.events"

// Publisher sends lifecycle events to a topic exchange, routed by event type.
type Publisher struct {
	conn     *amqp091.Connection
	mu       sync.Mutex
	channel  *amqp091.Channel
	exchange string
}

// NewPublisher dials url and declares a durable topic exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Printf("event publisher initialized with exchange: %s", exchange)
	return &Publisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	msg, err := encode(evt)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange, // exchange
		evt.Type,   // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			log.Printf("error closing rabbitmq channel: %v", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}

func encode(evt domain.Event) (amqp091.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	headers := amqp091.Table{
		"event_type": evt.Type,
		"attempt_id": evt.AttemptID.String(),
	}
	if evt.UserID != nil {
		headers["user_id"] = evt.UserID.String()
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    evt.OccurredAt,
		MessageId:    evt.AttemptID.String() + ":" + evt.Type,
		Body:         body,
		Headers:      headers,
	}, nil
}
