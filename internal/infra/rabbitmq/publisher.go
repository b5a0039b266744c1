package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fiapx/fiapx-detection-service/internal/domain/port"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher shares one channel between the status and DLQ publishers.
// Publishes on the channel are serialized by mu.
type Publisher struct {
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publisher channel: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

type StatusPublisher struct {
	pub         *Publisher
	statusKey   string
	progressKey string
}

func NewStatusPublisher(pub *Publisher) *StatusPublisher {
	return &StatusPublisher{pub: pub, statusKey: StatusRoutingKey, progressKey: ProgressRoutingKey}
}

var _ port.StatusPublisher = (*StatusPublisher)(nil)

func (sp *StatusPublisher) PublishStatus(ctx context.Context, msg []byte) error {
	return sp.publish(ctx, sp.statusKey, msg, amqp.Persistent)
}

// PublishProgress sends non-persistent messages; only the latest update matters.
func (sp *StatusPublisher) PublishProgress(ctx context.Context, msg []byte) error {
	return sp.publish(ctx, sp.progressKey, msg, amqp.Transient)
}

func (sp *StatusPublisher) publish(ctx context.Context, routingKey string, msg []byte, mode uint8) error {
	sp.pub.mu.Lock()
	defer sp.pub.mu.Unlock()
	return sp.pub.channel.PublishWithContext(ctx,
		sp.pub.exchange,
		routingKey,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         msg,
			DeliveryMode: mode,
			Timestamp:    time.Now().UTC(),
			Headers:      injectTrace(ctx, nil),
		},
	)
}

type DLQPublisher struct {
	pub   *Publisher
	queue string
}

func NewDLQPublisher(pub *Publisher, dlqQueue string) *DLQPublisher {
	return &DLQPublisher{pub: pub, queue: dlqQueue}
}

var _ port.DLQPublisher = (*DLQPublisher)(nil)

func (dp *DLQPublisher) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	dp.pub.mu.Lock()
	defer dp.pub.mu.Unlock()
	return dp.pub.channel.PublishWithContext(ctx,
		"",
		dp.queue,
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         msg,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      injectTrace(ctx, amqp.Table{"x-dlq-reason": reason}),
		},
	)
}

func (p *Publisher) Close() error {
	return p.channel.Close()
}
