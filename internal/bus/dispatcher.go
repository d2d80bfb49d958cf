package bus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// dispatcher holds the handler registry and the retry/dead-letter
// delivery policy shared by both transports.
type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	// handler identity by function pointer, for idempotent registration
	registered map[string]map[uintptr]bool

	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
	backoffCap time.Duration

	// notify publishes the system.error raised when a message exhausts
	// its retry budget. Set by the owning transport after construction.
	notify func(ctx context.Context, msg *Message) error
}

func newDispatcher(logger *zap.Logger, maxRetries int, backoff, backoffCap time.Duration) *dispatcher {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	if backoffCap <= 0 {
		backoffCap = 30 * time.Second
	}
	return &dispatcher{
		handlers:   make(map[string][]Handler),
		registered: make(map[string]map[uintptr]bool),
		logger:     logger,
		maxRetries: maxRetries,
		backoff:    backoff,
		backoffCap: backoffCap,
	}
}

func (d *dispatcher) register(eventType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ptr := reflect.ValueOf(handler).Pointer()
	if d.registered[eventType] == nil {
		d.registered[eventType] = make(map[uintptr]bool)
	}
	if d.registered[eventType][ptr] {
		return
	}
	d.registered[eventType][ptr] = true
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

func (d *dispatcher) handlersFor(eventType string) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	hs := d.handlers[eventType]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

func (d *dispatcher) eventTypes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	return types
}

// deliver invokes every handler registered for the message's event
// type, retrying failed invocations with exponential backoff until the
// message's retry budget is exhausted, then dead-letters it.
func (d *dispatcher) deliver(ctx context.Context, msg *Message, deadLetter func(context.Context, *Message, error) error) {
	for _, handler := range d.handlersFor(msg.EventType) {
		d.deliverOne(ctx, msg, handler, deadLetter)
	}
}

func (d *dispatcher) deliverOne(ctx context.Context, msg *Message, handler Handler, deadLetter func(context.Context, *Message, error) error) {
	budget := msg.MaxRetries
	if budget <= 0 {
		budget = d.maxRetries
	}

	for {
		err := d.invoke(ctx, msg, handler)
		if err == nil {
			return
		}

		if msg.RetryCount >= budget {
			d.logger.Error("message exhausted retry budget, dead-lettering",
				zap.String("message_id", msg.ID),
				zap.String("event_type", msg.EventType),
				zap.Int("retry_count", msg.RetryCount),
				zap.Error(err))
			if dlqErr := deadLetter(ctx, msg, err); dlqErr != nil {
				d.logger.Error("dead-letter write failed",
					zap.String("message_id", msg.ID),
					zap.Error(dlqErr))
			}
			d.raiseFailure(ctx, msg, err)
			return
		}

		msg.RetryCount++
		wait := d.backoffFor(msg.RetryCount)
		d.logger.Warn("handler failed, retrying",
			zap.String("message_id", msg.ID),
			zap.String("event_type", msg.EventType),
			zap.Int("retry_count", msg.RetryCount),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// raiseFailure publishes a high-priority system.error alongside the
// dead-letter entry. A failing system.error message never raises
// another one.
func (d *dispatcher) raiseFailure(ctx context.Context, msg *Message, cause error) {
	if d.notify == nil || msg.EventType == EventSystemError {
		return
	}
	failure := NewMessage(EventSystemError, map[string]interface{}{
		"message_id":  msg.ID,
		"event_type":  msg.EventType,
		"error":       cause.Error(),
		"retry_count": msg.RetryCount,
		"severity":    "error",
	}).WithPriority(PriorityHigh).WithCorrelationID(msg.CorrelationID)
	if err := d.notify(ctx, failure); err != nil {
		d.logger.Error("failed to publish delivery failure",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// invoke runs the handler with panic recovery; a panicking handler is
// treated as a failed delivery, not a crashed consumer.
func (d *dispatcher) invoke(ctx context.Context, msg *Message, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
			d.logger.Error("recovered from handler panic",
				zap.String("message_id", msg.ID),
				zap.String("event_type", msg.EventType),
				zap.Any("panic", r))
		}
	}()

	return handler(ctx, msg)
}

// backoffFor returns the exponential delay for the given retry attempt,
// capped at the configured maximum. Attempt 1 waits the base duration.
func (d *dispatcher) backoffFor(attempt int) time.Duration {
	wait := d.backoff
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= d.backoffCap {
			return d.backoffCap
		}
	}
	if wait > d.backoffCap {
		return d.backoffCap
	}
	return wait
}
