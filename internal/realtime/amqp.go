package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/logging"
)

// Publisher sends envelopes to a broker.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

const (
	dialAttempts   = 3
	dialBaseDelay  = 500 * time.Millisecond
	dialMaxDelay   = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// AMQPPublisher publishes to a durable topic exchange with publisher
// confirms.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *logging.Logger
}

// DialAMQP connects with exponential backoff and declares the exchange.
func DialAMQP(ctx context.Context, cfg config.AMQPConfig, log *logging.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("realtime: amqp url is empty")
	}
	log = log.Sub("realtime")

	var conn *amqp.Connection
	var err error
	delay := dialBaseDelay
	for attempt := 1; attempt <= dialAttempts; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Dur("sleep", delay).Msg("amqp dial failed")
		if attempt == dialAttempts {
			return nil, fmt.Errorf("connecting to amqp after %d attempts: %w", dialAttempts, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("amqp dial cancelled: %w", ctx.Err())
		case <-timer.C:
		}
		delay = min(delay*2, dialMaxDelay)
	}

	p := &AMQPPublisher{conn: conn, exchange: cfg.Exchange, log: log}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	log.Info().Str("exchange", cfg.Exchange).Msg("amqp publisher connected")
	return p, nil
}

func (p *AMQPPublisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declaring exchange %q: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enabling confirms: %w", err)
	}
	p.ch = ch
	return nil
}

// Publish sends one envelope and waits for the broker's confirm. A closed
// channel is reopened once.
func (p *AMQPPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.openChannel(); err != nil {
			return err
		}
	}

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.Meta.ID,
		Type:         env.Meta.Type,
		AppId:        env.Meta.Producer,
		Timestamp:    env.Meta.Time,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", key, err)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirm: %w", err)
	}
	if !ok {
		return fmt.Errorf("broker nacked %s", key)
	}
	p.log.Debug().Str("key", key).Str("id", env.Meta.ID).Msg("published")
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	return p.conn.Close()
}

// ErrQueueFull is returned when the bridge cannot take another event.
var ErrQueueFull = errors.New("realtime: publish queue full")

const (
	defaultQueueSize = 1024
	drainTimeout     = 5 * time.Second
)

// Bridge forwards workspace hook events to a Publisher. Handle only queues;
// Run owns the broker round trips so request paths never wait on confirms.
type Bridge struct {
	pub      Publisher
	producer string
	queue    chan hooks.Payload
	log      *logging.Logger
}

// NewBridge creates a bridge. producer names this process in envelopes;
// queueSize bounds the events waiting for the broker.
func NewBridge(pub Publisher, producer string, queueSize int, log *logging.Logger) *Bridge {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bridge{
		pub:      pub,
		producer: producer,
		queue:    make(chan hooks.Payload, queueSize),
		log:      log.Sub("realtime"),
	}
}

// Attach subscribes the bridge to every workspace event.
func (b *Bridge) Attach(m *hooks.Manager) {
	m.OnAll("amqp", b.Handle)
}

// Handle queues one hook payload without blocking. A full queue drops the
// event; the durable write has already happened and clients resync on
// reconnect.
func (b *Bridge) Handle(_ context.Context, p hooks.Payload) error {
	select {
	case b.queue <- p:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, p.Event)
	}
}

// Run publishes queued events until ctx is cancelled, then spends up to
// drainTimeout flushing what is still queued.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case p := <-b.queue:
			b.publish(context.Background(), p)
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bridge) drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		select {
		case p := <-b.queue:
			b.publish(context.Background(), p)
		default:
			return
		}
	}
	if n := len(b.queue); n > 0 {
		b.log.Warn().Int("dropped", n).Msg("amqp drain timed out")
	}
}

func (b *Bridge) publish(ctx context.Context, p hooks.Payload) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.pub.Publish(ctx, RoutingKey(p), NewEnvelope(p, b.producer)); err != nil {
		b.log.Warn().Err(err).Str("event", p.Event).Str("workspace_id", p.WorkspaceID).Msg("amqp publish failed")
	}
}
