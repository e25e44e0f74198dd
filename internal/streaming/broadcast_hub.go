package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obwan02/Actionator/pkg/schema"
)

const (
	// DefaultQueueCapacity is used when HubConfig.QueueCapacity is not positive.
	DefaultQueueCapacity = 1024
	// DefaultSendTimeout bounds a single delivery to a single subscriber.
	DefaultSendTimeout = 5 * time.Second
)

// HubConfig configures a BroadcastHub.
type HubConfig struct {
	QueueCapacity int
	// SendTimeout bounds each Send. Delivery is serial, so a stalled
	// subscriber holds up everyone behind it for up to this long per
	// message before it is dropped.
	SendTimeout time.Duration
	Logger      *slog.Logger
}

// envelope pairs a queued message with its publish sequence number.
type envelope struct {
	seq uint64
	msg schema.Message
}

// BroadcastHub is a single bounded FIFO shared by all producers plus a set of
// subscriber conns, drained by one delivery goroutine started with Start.
type BroadcastHub struct {
	queue       chan envelope
	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *hubMetrics

	seq     atomic.Uint64
	running atomic.Bool

	mu   sync.RWMutex
	subs map[Conn]uint64 // conn → publish sequence observed at subscribe time
}

// NewBroadcastHub creates a hub. The delivery loop is not running until Start.
func NewBroadcastHub(cfg HubConfig) *BroadcastHub {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &BroadcastHub{
		queue:       make(chan envelope, cfg.QueueCapacity),
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
		metrics:     newHubMetrics(),
		subs:        make(map[Conn]uint64),
	}
}

// Publish enqueues msg for delivery. It fails fast with a QUEUE_FULL error
// instead of blocking when the queue is at capacity.
func (h *BroadcastHub) Publish(msg schema.Message) error {
	env := envelope{seq: h.seq.Add(1), msg: msg}
	select {
	case h.queue <- env:
		h.metrics.published.Add(context.Background(), 1)
		return nil
	default:
		h.metrics.dropped.Add(context.Background(), 1)
		return schema.NewErrorf(schema.ErrCodeQueueFull,
			"hub queue is full (capacity %d)", cap(h.queue)).
			WithDetails(map[string]any{"producer": msg.Producer})
	}
}

// Subscribe adds conn to the subscriber set. Only messages published after
// this call are delivered to it. Subscribing an existing conn is a no-op.
func (h *BroadcastHub) Subscribe(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[conn]; ok {
		return
	}
	h.subs[conn] = h.seq.Load()
}

// Unsubscribe removes conn. Messages dequeued afterwards are not delivered to it.
func (h *BroadcastHub) Unsubscribe(conn Conn) {
	h.mu.Lock()
	delete(h.subs, conn)
	h.mu.Unlock()
}

// SubscriberCount returns the number of current subscribers.
func (h *BroadcastHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Pending returns the number of messages waiting in the queue.
func (h *BroadcastHub) Pending() int {
	return len(h.queue)
}

// Running reports whether the delivery loop is active.
func (h *BroadcastHub) Running() bool {
	return h.running.Load()
}

// Start launches the delivery loop on its own goroutine. It returns false and
// does nothing when a loop is already running. The loop stops when ctx is done.
func (h *BroadcastHub) Start(ctx context.Context) bool {
	if !h.running.CompareAndSwap(false, true) {
		return false
	}
	go h.loop(ctx)
	return true
}

func (h *BroadcastHub) loop(ctx context.Context) {
	defer h.running.Store(false)
	h.logger.Info("delivery loop started", slog.Int("queue_capacity", cap(h.queue)))

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("delivery loop stopped", slog.Int("pending", len(h.queue)))
			return
		case env := <-h.queue:
			h.deliver(ctx, env)
		}
	}
}

// deliver offers one message to the subscriber snapshot taken at dequeue time.
func (h *BroadcastHub) deliver(ctx context.Context, env envelope) {
	data, err := json.Marshal(env.msg)
	if err != nil {
		h.logger.Error("encode message failed",
			slog.String("producer", env.msg.Producer),
			slog.String("error", err.Error()),
		)
		return
	}
	frame := Frame{Message: env.msg, Data: data}

	for _, conn := range h.snapshot(env.seq) {
		sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
		err := safeSend(sendCtx, conn, frame)
		cancel()
		if err != nil {
			h.drop(conn)
			h.metrics.failures.Add(ctx, 1)
			h.logger.Warn("subscriber removed after failed delivery",
				slog.String("producer", env.msg.Producer),
				slog.String("error", err.Error()),
			)
			continue
		}
		h.metrics.delivered.Add(ctx, 1)
	}
}

// drop unsubscribes conn and closes it when it implements Closer.
func (h *BroadcastHub) drop(conn Conn) {
	h.Unsubscribe(conn)
	if c, ok := conn.(Closer); ok {
		c.Close()
	}
}

// snapshot returns the conns that subscribed before message seq was published.
func (h *BroadcastHub) snapshot(seq uint64) []Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]Conn, 0, len(h.subs))
	for c, since := range h.subs {
		if since < seq {
			conns = append(conns, c)
		}
	}
	return conns
}

// safeSend converts a panicking conn into a delivery error.
func safeSend(ctx context.Context, conn Conn, frame Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return conn.Send(ctx, frame)
}

var _ Hub = (*BroadcastHub)(nil)
