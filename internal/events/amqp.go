package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Hakan2211/course-platform/internal/progress"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

var errMissingQueue = errors.New("events: queue name is required")

// amqpChannel is the subset of *amqp.Channel the publisher relies on.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisherConfig struct {
	URL    string
	Queue  string
	Clock  func() time.Time
	Logger *zap.Logger
}

// AMQPPublisher publishes ProgressUpdatedEvent messages to a durable queue on
// the default exchange. Failures are logged and never reach the request path.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel amqpChannel
	queue   string
	clock   func() time.Time
	logger  *zap.Logger
}

// DialAMQPPublisher connects to the broker and declares the queue.
func DialAMQPPublisher(cfg AMQPPublisherConfig) (*AMQPPublisher, error) {
	if cfg.Queue == "" {
		return nil, errMissingQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	publisher, err := newAMQPPublisher(channel, cfg)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, err
	}
	publisher.conn = conn
	return publisher, nil
}

func newAMQPPublisher(channel amqpChannel, cfg AMQPPublisherConfig) (*AMQPPublisher, error) {
	if cfg.Queue == "" {
		return nil, errMissingQueue
	}
	if _, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPPublisher{
		channel: channel,
		queue:   cfg.Queue,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Publish sends one persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, event ProgressUpdatedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(publishCtx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.clock().UTC(),
		Body:         body,
	})
}

func (p *AMQPPublisher) ProgressChanged(ctx context.Context, record progress.LessonProgress) {
	if err := p.Publish(ctx, NewProgressUpdatedEvent(record)); err != nil {
		p.logger.Warn("progress event publish failed",
			zap.String("queue", p.queue),
			zap.String("user_id", record.UserID),
			zap.String("module_slug", record.ModuleSlug),
			zap.String("lesson_slug", record.LessonSlug),
			zap.Error(err))
	}
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
