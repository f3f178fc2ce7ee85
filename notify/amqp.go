/*
Package notify publishes stock-change events to RabbitMQ.

The engine treats delivery as best-effort: StockChanged never returns an
error, publish failures are logged and dropped. Downstream consumers
(storefront websockets, dashboards) must tolerate missed events and
reconcile from the API.
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/warp/consign-engine/market"
)

const (
	ExchangeName = "consign.events"
	ExchangeType = "topic"

	routingKeyStock = "stock.changed"
)

// Publisher implements market.Notifier on top of an AMQP topic exchange.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	appID   string
	log     *zap.Logger
}

// NewPublisher connects to RabbitMQ and declares the exchange.
func NewPublisher(url, appID string, log *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		ExchangeName,
		ExchangeType,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	log.Info("publisher connected", zap.String("exchange", ExchangeName))

	return &Publisher{
		conn:    conn,
		channel: ch,
		appID:   appID,
		log:     log,
	}, nil
}

// StockChanged publishes the event. Failures are logged, never propagated.
func (p *Publisher) StockChanged(ctx context.Context, ev market.StockEvent) {
	body, err := json.Marshal(struct {
		EventType string            `json:"event_type"`
		Payload   market.StockEvent `json:"payload"`
	}{
		EventType: routingKeyStock,
		Payload:   ev,
	})
	if err != nil {
		p.log.Error("failed to marshal stock event",
			zap.String("event_id", ev.EventID), zap.Error(err))
		return
	}

	err = p.channel.PublishWithContext(ctx,
		ExchangeName,
		routingKeyStock,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.EventID,
			AppId:        p.appID,
		},
	)
	if err != nil {
		p.log.Error("failed to publish stock event",
			zap.String("event_id", ev.EventID),
			zap.Int64("product_id", int64(ev.ProductID)),
			zap.Error(err))
	}
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
