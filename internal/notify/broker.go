package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"dispatch-ops/internal/observability/metrics"
)

// Message is one broadcast in flight.
type Message struct {
	Channel string         `json:"channel"`
	Payload map[string]any `json:"payload"`
	SentAt  time.Time      `json:"sent_at"`
}

// Sink receives every delivered message. Implementations must not block
// for long; a slow sink delays the whole delivery loop.
type Sink interface {
	Deliver(ctx context.Context, msg Message)
}

// Broker fans broadcasts out to registered sinks through a bounded
// queue. Broadcast never blocks the caller; when the queue is full the
// message is dropped and counted.
type Broker struct {
	logger *log.Logger
	queue  chan Message

	mu    sync.Mutex
	sinks []Sink

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// BrokerOption customizes a broker.
type BrokerOption func(*Broker)

// WithQueueSize overrides the delivery queue capacity.
func WithQueueSize(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.queue = make(chan Message, n)
		}
	}
}

// NewBroker constructs a broker. Call Start before broadcasting.
func NewBroker(logger *log.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		logger: logger,
		queue:  make(chan Message, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register adds a delivery sink.
func (b *Broker) Register(sink Sink) {
	if b == nil || sink == nil {
		return
	}
	b.mu.Lock()
	b.sinks = append(b.sinks, sink)
	b.mu.Unlock()
}

// Start launches the delivery goroutine.
func (b *Broker) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		for {
			select {
			case msg := <-b.queue:
				b.deliver(ctx, msg)
			case <-b.stop:
				b.drainQueue(ctx)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Broadcast enqueues a message without blocking. A full queue or a
// closed broker drops the message and counts the drop. The queue
// channel itself is never closed, so broadcasts racing a shutdown
// degrade to drops instead of panicking.
func (b *Broker) Broadcast(channel string, payload map[string]any) {
	if b == nil {
		return
	}
	select {
	case <-b.stop:
		metrics.IncBroadcastDropped()
		if b.logger != nil {
			b.logger.Printf("notify: broker closed, dropped broadcast on %s", channel)
		}
		return
	default:
	}
	msg := Message{Channel: channel, Payload: payload, SentAt: time.Now().UTC()}
	select {
	case b.queue <- msg:
		metrics.IncBroadcast(channel)
	default:
		metrics.IncBroadcastDropped()
		if b.logger != nil {
			b.logger.Printf("notify: queue full, dropped broadcast on %s", channel)
		}
	}
}

// Close stops accepting broadcasts and waits for queued messages to
// drain. Safe to call more than once.
func (b *Broker) Close() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		close(b.stop)
	})
	<-b.done
}

func (b *Broker) drainQueue(ctx context.Context) {
	for {
		select {
		case msg := <-b.queue:
			b.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (b *Broker) deliver(ctx context.Context, msg Message) {
	b.mu.Lock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()
	for _, sink := range sinks {
		sink.Deliver(ctx, msg)
	}
}
