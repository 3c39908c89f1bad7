package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"whatsapp-hub/pkg/logger"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RoutingKeyBroadcast routes broadcast dispatch jobs.
const RoutingKeyBroadcast = "broadcast.dispatch"

// broadcastJob is the wire payload for one queued broadcast run.
type broadcastJob struct {
	BroadcastID int64 `json:"broadcast_id"`
	EnqueuedAt  int64 `json:"enqueued_at"`
}

func encodeJob(broadcastID int64) ([]byte, error) {
	return json.Marshal(broadcastJob{
		BroadcastID: broadcastID,
		EnqueuedAt:  time.Now().Unix(),
	})
}

func decodeJob(body []byte) (int64, error) {
	var job broadcastJob
	if err := json.Unmarshal(body, &job); err != nil {
		return 0, fmt.Errorf("decode broadcast job: %w", err)
	}
	if job.BroadcastID <= 0 {
		return 0, fmt.Errorf("broadcast job carries no id")
	}
	return job.BroadcastID, nil
}

// Publisher hands broadcast runs to the background worker through a
// durable topic exchange.
type Publisher struct {
	conn     *amqp091.Connection
	exchange string
}

// NewPublisher connects and declares the exchange.
func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{conn: conn, exchange: exchange}, nil
}

// PublishBroadcast enqueues one broadcast run. Satisfies
// services.JobPublisher.
func (p *Publisher) PublishBroadcast(broadcastID int64) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	body, err := encodeJob(broadcastID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = ch.PublishWithContext(
		ctx, p.exchange, RoutingKeyBroadcast, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish broadcast %d: %w", broadcastID, err)
	}

	logger.Info("broadcast job published",
		zap.Int64("broadcast_id", broadcastID),
		zap.String("exchange", p.exchange))
	return nil
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}

// BroadcastRunner executes one persisted broadcast by id.
type BroadcastRunner interface {
	Process(ctx context.Context, broadcastID int64) error
}

// Consumer drains broadcast jobs and runs them through the dispatcher.
type Consumer struct {
	conn       *amqp091.Connection
	ch         *amqp091.Channel
	exchange   string
	runner     BroadcastRunner
	jobTimeout time.Duration
	done       chan struct{}
}

// NewConsumer connects and declares the exchange. Start must be called
// to begin draining.
func NewConsumer(url, exchange string, runner BroadcastRunner, jobTimeout time.Duration) (*Consumer, error) {
	if runner == nil {
		return nil, fmt.Errorf("broadcast runner is required")
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Consumer{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		runner:     runner,
		jobTimeout: jobTimeout,
		done:       make(chan struct{}),
	}, nil
}

// Start binds the queue and consumes until Close. Failed jobs are
// requeued once by the broker redelivery flag; a job that fails twice is
// dropped to keep a poisoned payload from wedging the queue.
func (c *Consumer) Start(queueName string) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queueName, err)
	}
	if err := c.ch.QueueBind(q.Name, RoutingKeyBroadcast, c.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	deliveries, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	go func() {
		for {
			select {
			case <-c.done:
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				c.handle(delivery)
			}
		}
	}()

	logger.Info("broadcast consumer started", zap.String("queue", q.Name))
	return nil
}

func (c *Consumer) handle(delivery amqp091.Delivery) {
	broadcastID, err := decodeJob(delivery.Body)
	if err != nil {
		logger.Warn("unreadable broadcast job dropped", zap.Error(err))
		_ = delivery.Nack(false, false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.jobTimeout)
	err = c.runner.Process(ctx, broadcastID)
	cancel()

	if err != nil {
		logger.Error("broadcast job failed",
			zap.Int64("broadcast_id", broadcastID),
			zap.Bool("redelivered", delivery.Redelivered),
			zap.Error(err))
		_ = delivery.Nack(false, !delivery.Redelivered)
		return
	}
	_ = delivery.Ack(false)
}

// Close stops the drain loop and closes the connection.
func (c *Consumer) Close() error {
	close(c.done)
	_ = c.ch.Close()
	return c.conn.Close()
}
