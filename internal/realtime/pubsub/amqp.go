package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	routingPrefix   = "account."
	maxDialDelay    = 30 * time.Second
	defaultAttempts = 5
)

// RoutingKey returns the topic routing key of an account group.
func RoutingKey(accountID string) string {
	return routingPrefix + strings.TrimSpace(accountID)
}

// AMQPOptions configures the RabbitMQ broker.
type AMQPOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
	Buffer        int
}

// AMQP publishes envelopes to a RabbitMQ topic exchange and consumes them
// back through one exclusive queue per process, fanning out locally. Every
// instance behind a load balancer therefore sees every account's events.
type AMQP struct {
	conn     *amqp091.Connection
	pubMu    sync.Mutex
	pubCh    *amqp091.Channel
	subCh    *amqp091.Channel
	exchange string
	local    *Memory
	logger   *slog.Logger
	done     chan struct{}
	closeMu  sync.Once
}

// NewAMQP dials RabbitMQ, declares the exchange and starts consuming.
func NewAMQP(ctx context.Context, log *slog.Logger, opts AMQPOptions) (*AMQP, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "pubsub_amqp"))
	if strings.TrimSpace(opts.Exchange) == "" {
		return nil, fmt.Errorf("exchange is required")
	}
	conn, err := dialWithRetry(ctx, log, opts)
	if err != nil {
		return nil, err
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := pubCh.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	subCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := subCh.Qos(64, 0, false); err != nil {
		conn.Close()
		return nil, err
	}
	q, err := subCh.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := subCh.QueueBind(q.Name, routingPrefix+"*", opts.Exchange, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	deliveries, err := subCh.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}

	b := &AMQP{
		conn:     conn,
		pubCh:    pubCh,
		subCh:    subCh,
		exchange: opts.Exchange,
		local:    NewMemory(log, opts.Buffer),
		logger:   log,
		done:     make(chan struct{}),
	}
	go b.consume(deliveries, conn.NotifyClose(make(chan *amqp091.Error, 1)))
	log.Info("subscriber started", slog.String("queue", q.Name), slog.String("exchange", opts.Exchange))
	return b, nil
}

// Publish sends env to the exchange under the account routing key.
func (b *AMQP) Publish(ctx context.Context, accountID string, env Envelope) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("account id is required")
	}
	if env.AccountID == "" {
		env.AccountID = accountID
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.pubCh.PublishWithContext(ctx, b.exchange, RoutingKey(accountID), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Transient,
		MessageId:    env.ID,
		Timestamp:    env.Timestamp,
		Body:         body,
	})
}

// Subscribe joins the local fan-out for accountID.
func (b *AMQP) Subscribe(accountID string) (<-chan Envelope, func(), error) {
	return b.local.Subscribe(accountID)
}

// Close stops consuming and closes the connection.
func (b *AMQP) Close() error {
	var err error
	b.closeMu.Do(func() {
		close(b.done)
		err = b.conn.Close()
	})
	return err
}

// consume fans deliveries out locally until the broker is closed or the
// connection is lost. Either way the local subscriptions are closed.
func (b *AMQP) consume(deliveries <-chan amqp091.Delivery, connClosed <-chan *amqp091.Error) {
	defer func() {
		_ = b.local.Close()
	}()
	for {
		select {
		case <-b.done:
			return
		case amqpErr := <-connClosed:
			if amqpErr != nil {
				b.logger.Error("rabbit connection lost", slog.Any("error", amqpErr))
			}
			return
		case msg, ok := <-deliveries:
			if !ok {
				b.logger.Error("delivery channel closed")
				return
			}
			var env Envelope
			if err := json.Unmarshal(msg.Body, &env); err != nil {
				b.logger.Error("decode envelope failed", slog.String("key", msg.RoutingKey), slog.Any("error", err))
				_ = msg.Nack(false, false)
				continue
			}
			accountID := strings.TrimPrefix(msg.RoutingKey, routingPrefix)
			if err := b.local.Publish(context.Background(), accountID, env); err != nil {
				b.logger.Error("local fan-out failed", slog.String("key", msg.RoutingKey), slog.Any("error", err))
				_ = msg.Nack(false, false)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func dialWithRetry(ctx context.Context, log *slog.Logger, opts AMQPOptions) (*amqp091.Connection, error) {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = time.Second
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				log.Info("rabbit connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}
		sleep := delay << (i - 1)
		if sleep > maxDialDelay {
			sleep = maxDialDelay
		}
		log.Warn("rabbit dial failed", slog.Int("attempt", i), slog.Duration("sleep", sleep), slog.Any("error", err))
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, lastErr)
}
