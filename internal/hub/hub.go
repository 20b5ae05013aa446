// Package hub fans pipeline messages out to live subscribers.
package hub

import (
	"log/slog"
	"sync"

	"github.com/graaaaa/vrcwatch/internal/event"
)

const (
	defaultSubscriberBufferSize = 32
	defaultBroadcastBufferSize  = 64
)

// SnapshotFunc builds the state-of-the-world message a new subscriber
// receives before any live traffic.
type SnapshotFunc func() *event.Message

// Subscriber is one attached client connection.
type Subscriber struct {
	messages chan *event.Message
	done     chan struct{}
}

// Messages returns the channel delivering broadcast messages.
func (s *Subscriber) Messages() <-chan *event.Message {
	return s.messages
}

// Done is closed when the subscriber is detached.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// Hub manages subscribers and broadcasts messages. All subscriber state is
// owned by the single Run goroutine; the channels are the only interface.
type Hub struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan *event.Message
	stop       chan struct{}
	stopped    chan struct{}
	stopOnce   sync.Once

	subscriberBufferSize int
	snapshot             SnapshotFunc
	logger               *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithSubscriberBufferSize sets the per-subscriber channel capacity.
func WithSubscriberBufferSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.subscriberBufferSize = size
		}
	}
}

// WithSnapshot sets the snapshot builder. When set, every new subscriber's
// first message is the snapshot.
func WithSnapshot(fn SnapshotFunc) Option {
	return func(h *Hub) { h.snapshot = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// New creates a hub. Call Run in a goroutine to start it.
func New(opts ...Option) *Hub {
	h := &Hub{
		register:             make(chan *Subscriber),
		unregister:           make(chan *Subscriber),
		broadcast:            make(chan *event.Message, defaultBroadcastBufferSize),
		stop:                 make(chan struct{}),
		stopped:              make(chan struct{}),
		subscriberBufferSize: defaultSubscriberBufferSize,
		logger:               slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's event loop. Blocks until Stop is called.
func (h *Hub) Run() {
	clients := make(map[*Subscriber]struct{})
	defer close(h.stopped)

	for {
		select {
		case sub := <-h.register:
			// The snapshot is built here, on the loop goroutine: every
			// broadcast already processed is reflected in it, and every
			// later one is delivered, so no message falls between the two.
			if h.snapshot != nil {
				if msg := h.snapshot(); msg != nil {
					sub.messages <- msg
				}
			}
			clients[sub] = struct{}{}
			h.logger.Debug("subscriber attached", "count", len(clients))

		case sub := <-h.unregister:
			if _, ok := clients[sub]; ok {
				delete(clients, sub)
				close(sub.done)
				close(sub.messages)
				h.logger.Debug("subscriber detached", "count", len(clients))
			}

		case msg := <-h.broadcast:
			for sub := range clients {
				select {
				case sub.messages <- msg:
				default:
					// Slow consumer; it keeps its connection but loses
					// this message.
					h.logger.Warn("subscriber channel full, message dropped",
						"kind", msg.Kind,
					)
				}
			}

		case <-h.stop:
			for sub := range clients {
				close(sub.done)
				close(sub.messages)
			}
			return
		}
	}
}

// Stop shuts the hub down and detaches all subscribers. Idempotent; blocks
// until the run loop has exited.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
	<-h.stopped
}

// Subscribe attaches a new subscriber. When a snapshot builder is
// configured, the run loop queues the snapshot during registration so it
// always precedes live messages. The caller must call Unsubscribe when done.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{
		messages: make(chan *event.Message, h.subscriberBufferSize),
		done:     make(chan struct{}),
	}

	select {
	case h.register <- sub:
		return sub
	case <-h.stopped:
		close(sub.done)
		close(sub.messages)
		return sub
	}
}

// Unsubscribe detaches a subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	select {
	case h.unregister <- sub:
	case <-h.stopped:
	}
}

// Publish queues a message for all subscribers. Non-blocking; drops the
// message when the broadcast channel is full.
func (h *Hub) Publish(msg *event.Message) {
	if msg == nil {
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.stopped:
	default:
		h.logger.Warn("broadcast channel full, message dropped", "kind", msg.Kind)
	}
}
