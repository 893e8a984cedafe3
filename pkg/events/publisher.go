// Package events publishes upload notifications so the analyst service
// can refresh any per-file caches. Publishing is best-effort: the
// upload pipeline never fails because the broker is down.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeName = "file.uploaded"

// FileUploaded is the event body emitted after a successful upload.
type FileUploaded struct {
	FileID     string    `json:"fileId"`
	FileName   string    `json:"fileName"`
	FileURL    string    `json:"fileUrl"`
	OwnerToken string    `json:"ownerToken,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// Publisher emits upload events.
type Publisher interface {
	PublishUploaded(ctx context.Context, ev FileUploaded) error
	Close() error
}

// RabbitPublisher implements Publisher over a RabbitMQ fanout exchange.
type RabbitPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitPublisher connects to the broker and declares the exchange.
func NewRabbitPublisher(url string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &RabbitPublisher{conn: conn, channel: channel}, nil
}

// PublishUploaded emits one event to the fanout exchange.
func (p *RabbitPublisher) PublishUploaded(ctx context.Context, ev FileUploaded) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.channel.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
}

// Close releases the channel and connection.
func (p *RabbitPublisher) Close() error {
	_ = p.channel.Close()
	return p.conn.Close()
}
