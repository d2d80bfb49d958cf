package bus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// Redis key layout. Streams persist messages, pub/sub fans out
// notifications to external listeners, and priority queues feed
// whichever collaborator drains by urgency.
const (
	streamKeyPrefix  = "stream:"
	pubsubKeyPrefix  = "events:"
	queueKeyPrefix   = "queue:"
	deadLetterStream = "dlq:failed_messages"

	publishAttempts = 3
)

// RedisBus is the durable transport backed by Redis streams
type RedisBus struct {
	client *redis.Client
	opts   Options
	logger *zap.Logger
	disp   *dispatcher

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisBus creates a Redis-backed bus from a connection URL
func NewRedisBus(url string, opts Options, logger *zap.Logger) (*RedisBus, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, err, "invalid redis url")
	}

	client := redis.NewClient(redisOpts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "redis unreachable")
	}

	opts.applyDefaults()
	b := &RedisBus{
		client: client,
		opts:   opts,
		logger: logger,
		disp:   newDispatcher(logger, opts.MaxRetries, opts.RetryBackoff, opts.RetryBackoffCap),
	}
	b.disp.notify = b.Publish
	return b, nil
}

// Publish writes the message to its stream, notifies pub/sub listeners,
// and enqueues into the priority queue. All three writes go through one
// pipeline; transient failures are retried before surfacing a transport
// error.
func (b *RedisBus) Publish(ctx context.Context, msg *Message) error {
	raw, err := msg.Marshal()
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, err, "marshal message")
	}

	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fault.Wrap(fault.KindTransient, ctx.Err(), "publish cancelled")
			case <-time.After(b.disp.backoffFor(attempt)):
			}
		}

		pipe := b.client.Pipeline()
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: streamKeyPrefix + msg.EventType,
			MaxLen: int64(b.opts.StreamMaxLen),
			Approx: true,
			Values: map[string]interface{}{"payload": raw},
		})
		pipe.Publish(ctx, pubsubKeyPrefix+msg.EventType, raw)
		pipe.RPush(ctx, queueKeyPrefix+msg.Priority.String(), raw)

		if _, lastErr = pipe.Exec(ctx); lastErr == nil {
			return nil
		}

		b.logger.Warn("publish attempt failed",
			zap.String("event_type", msg.EventType),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))
	}

	return fault.Wrap(fault.KindTransient, lastErr, "publish failed after retries")
}

// Subscribe registers a handler; idempotent by handler identity
func (b *RedisBus) Subscribe(eventType string, handler Handler) {
	b.disp.register(eventType, handler)
}

// StartConsumers launches a stream reader per subscribed event type and
// a worker pool that delivers what the readers fetch
func (b *RedisBus) StartConsumers(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for _, eventType := range b.disp.eventTypes() {
		feed := make(chan *Message, 256)

		b.wg.Add(1)
		go b.readStream(runCtx, eventType, feed)

		for i := 0; i < b.opts.ConsumerPool; i++ {
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				for {
					select {
					case <-runCtx.Done():
						return
					case msg, ok := <-feed:
						if !ok {
							return
						}
						b.disp.deliver(runCtx, msg, b.DeadLetter)
					}
				}
			}()
		}
	}

	b.logger.Info("redis bus consumers started",
		zap.Strings("event_types", b.disp.eventTypes()),
		zap.Int("pool_size", b.opts.ConsumerPool))
	return nil
}

// readStream tails one event-type stream from its current tip
func (b *RedisBus) readStream(ctx context.Context, eventType string, feed chan<- *Message) {
	defer b.wg.Done()
	defer close(feed)

	lastID := "$"
	stream := streamKeyPrefix + eventType

	for {
		if ctx.Err() != nil {
			return
		}

		res, err := b.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   64,
			Block:   time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.Error("stream read failed",
				zap.String("stream", stream),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, sr := range res {
			for _, entry := range sr.Messages {
				lastID = entry.ID
				payload, ok := entry.Values["payload"].(string)
				if !ok {
					b.logger.Warn("stream entry without payload",
						zap.String("stream", stream),
						zap.String("entry_id", entry.ID))
					continue
				}
				msg, err := UnmarshalMessage([]byte(payload))
				if err != nil {
					b.logger.Error("undecodable stream entry",
						zap.String("stream", stream),
						zap.String("entry_id", entry.ID),
						zap.Error(err))
					continue
				}
				select {
				case feed <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Stop drains in-flight deliveries within the shutdown bound and closes
// the client
func (b *RedisBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return b.client.Close()
	}
	b.started = false
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	if b.cancel != nil {
		// Readers stop on cancel; workers finish the messages they hold
		b.cancel()
	}

	select {
	case <-done:
	case <-time.After(b.opts.ShutdownDrain):
		b.logger.Warn("shutdown drain expired with deliveries still in flight")
	case <-ctx.Done():
	}

	return b.client.Close()
}

// GetStream replays persisted messages after sinceID in publish order
func (b *RedisBus) GetStream(ctx context.Context, eventType, sinceID string, count int64) ([]*Message, error) {
	start := "-"
	if sinceID != "" {
		start = "(" + sinceID
	}
	if count <= 0 {
		count = 100
	}

	entries, err := b.client.XRangeN(ctx, streamKeyPrefix+eventType, start, "+", count).Result()
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, err, "stream replay failed")
	}

	out := make([]*Message, 0, len(entries))
	for _, entry := range entries {
		payload, ok := entry.Values["payload"].(string)
		if !ok {
			continue
		}
		msg, err := UnmarshalMessage([]byte(payload))
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// DeadLetter appends the failed message to the dead-letter stream
func (b *RedisBus) DeadLetter(ctx context.Context, msg *Message, cause error) error {
	raw, err := msg.Marshal()
	if err != nil {
		return fault.Wrap(fault.KindInvalidInput, err, "marshal dead letter")
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterStream,
		Values: map[string]interface{}{
			"original":  raw,
			"error":     cause.Error(),
			"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fault.Wrap(fault.KindTransient, err, "dead-letter write failed")
	}
	return nil
}
