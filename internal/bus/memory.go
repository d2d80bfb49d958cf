package bus

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/procureflow/invoice-orchestrator/internal/fault"
)

// Options tunes bus delivery behaviour
type Options struct {
	StreamMaxLen int

	// ConsumerPool sizes the delivery worker pool of the Redis
	// transport. The in-process transport always runs a single
	// consumer per event type so deliveries within a type stay
	// ordered.
	ConsumerPool int

	// MaxRetries is the per-message retry budget before dead-lettering
	MaxRetries int

	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration
	ShutdownDrain   time.Duration
}

func (o *Options) applyDefaults() {
	if o.StreamMaxLen <= 0 {
		o.StreamMaxLen = 10000
	}
	if o.ConsumerPool <= 0 {
		o.ConsumerPool = 1
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Second
	}
	if o.RetryBackoffCap <= 0 {
		o.RetryBackoffCap = 30 * time.Second
	}
	if o.ShutdownDrain <= 0 {
		o.ShutdownDrain = 30 * time.Second
	}
}

type streamEntry struct {
	id  string
	msg *Message
}

// DeadLetterEntry records one dead-lettered message
type DeadLetterEntry struct {
	Original *Message  `json:"original"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// MemoryBus is the in-process transport. It keeps the same contract as
// the Redis transport but persists nothing; its use is logged at
// startup so a missing broker is never silent.
type MemoryBus struct {
	opts   Options
	logger *zap.Logger
	disp   *dispatcher

	mu      sync.Mutex
	seq     uint64
	streams map[string][]streamEntry
	queues  map[string]chan *Message
	dlq     []DeadLetterEntry

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMemoryBus creates an in-process bus
func NewMemoryBus(opts Options, logger *zap.Logger) *MemoryBus {
	opts.applyDefaults()
	b := &MemoryBus{
		opts:    opts,
		logger:  logger,
		disp:    newDispatcher(logger, opts.MaxRetries, opts.RetryBackoff, opts.RetryBackoffCap),
		streams: make(map[string][]streamEntry),
		queues:  make(map[string]chan *Message),
	}
	b.disp.notify = b.Publish
	return b
}

// Publish records the message on the per-type stream and hands it to
// the consumer for its event type
func (b *MemoryBus) Publish(ctx context.Context, msg *Message) error {
	b.mu.Lock()
	b.seq++
	id := strconv.FormatUint(b.seq, 10)
	entries := append(b.streams[msg.EventType], streamEntry{id: id, msg: msg})
	if len(entries) > b.opts.StreamMaxLen {
		entries = entries[len(entries)-b.opts.StreamMaxLen:]
	}
	b.streams[msg.EventType] = entries
	queue, hasConsumer := b.queues[msg.EventType]
	b.mu.Unlock()

	if hasConsumer {
		select {
		case queue <- msg:
		case <-ctx.Done():
			return fault.Wrap(fault.KindTransient, ctx.Err(), "publish cancelled")
		}
	}
	return nil
}

// Subscribe registers a handler; idempotent by handler identity
func (b *MemoryBus) Subscribe(eventType string, handler Handler) {
	b.disp.register(eventType, handler)
}

// StartConsumers launches one consumer goroutine per subscribed event
// type. A single consumer per type keeps deliveries within a type in
// publish order, which the pipeline's idempotency guards rely on;
// Options.ConsumerPool only applies to the Redis transport.
func (b *MemoryBus) StartConsumers(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	b.started = true

	runCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	for _, eventType := range b.disp.eventTypes() {
		queue := make(chan *Message, 256)
		b.queues[eventType] = queue

		b.wg.Add(1)
		go func(eventType string, queue chan *Message) {
			defer b.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case msg, ok := <-queue:
					if !ok {
						return
					}
					b.disp.deliver(runCtx, msg, b.DeadLetter)
				}
			}
		}(eventType, queue)
	}

	b.logger.Warn("event bus running in-process with no persistence; messages are lost on restart")
	return nil
}

// Stop drains in-flight deliveries within the shutdown bound
func (b *MemoryBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	for _, q := range b.queues {
		close(q)
	}
	b.queues = make(map[string]chan *Message)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(b.opts.ShutdownDrain):
		b.logger.Warn("shutdown drain expired with deliveries still in flight")
	case <-ctx.Done():
	}

	if b.cancel != nil {
		b.cancel()
	}
	return nil
}

// GetStream replays recorded messages in publish order
func (b *MemoryBus) GetStream(_ context.Context, eventType, sinceID string, count int64) ([]*Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.streams[eventType]
	start := 0
	if sinceID != "" {
		for i, e := range entries {
			if e.id == sinceID {
				start = i + 1
				break
			}
		}
	}

	out := make([]*Message, 0)
	for i := start; i < len(entries); i++ {
		if count > 0 && int64(len(out)) >= count {
			break
		}
		out = append(out, entries[i].msg)
	}
	return out, nil
}

// DeadLetter records a message that exhausted its retry budget
func (b *MemoryBus) DeadLetter(_ context.Context, msg *Message, cause error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dlq = append(b.dlq, DeadLetterEntry{
		Original: msg,
		Error:    cause.Error(),
		FailedAt: time.Now().UTC(),
	})
	return nil
}

// DeadLetters returns a copy of the dead-letter queue contents
func (b *MemoryBus) DeadLetters() []DeadLetterEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]DeadLetterEntry, len(b.dlq))
	copy(out, b.dlq)
	return out
}
