// Package bus implements the priority-ordered asynchronous message bus with
// request/response correlation and bounded backpressure. Delivery is strict
// priority order across messages, FIFO within equal priority, fan-out per
// recipient. Publishers that overrun the bounded queue see a drop; the bus
// never retries on its own.
package bus

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

var (
	// ErrQueueFull is returned by Publish when the bounded queue is at
	// capacity. The message is dropped and the drop is logged.
	ErrQueueFull = errors.New("bus: queue full")
	// ErrClosed is returned when publishing to a closed bus.
	ErrClosed = errors.New("bus: closed")
	// ErrTimeout is returned by SendRequest when no response arrives in time.
	ErrTimeout = errors.New("bus: request timed out")
)

// DefaultRequestTimeout applies when a request message carries no timeout.
const DefaultRequestTimeout = 30 * time.Second

// Handler consumes a message for a recipient. The returned payload is
// routed back to the sender when the message expects a response.
type Handler func(ctx context.Context, msg types.Message) (map[string]any, error)

// queued pairs a message with its arrival sequence for FIFO tie-breaking.
type queued struct {
	msg types.Message
	seq uint64
}

// msgHeap is a max-heap on priority; equal priorities pop in arrival order.
type msgHeap []queued

func (h msgHeap) Len() int { return len(h) }
func (h msgHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}
func (h msgHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *msgHeap) Push(x any)        { *h = append(*h, x.(queued)) }
func (h *msgHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Stats is a monitoring snapshot of the bus.
type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	PendingWaiters int    `json:"pending_waiters"`
	Published      uint64 `json:"published"`
	Delivered      uint64 `json:"delivered"`
	Dropped        uint64 `json:"dropped"`
	HandlerErrors  uint64 `json:"handler_errors"`
	NoSubscriber   uint64 `json:"no_subscriber"`
}

// Bus is the in-process message bus. All inter-agent communication passes
// through it. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	queue  msgHeap
	seq    uint64
	closed bool
	wake   chan struct{}

	subMu       sync.RWMutex
	subscribers map[string][]Handler

	pendingMu sync.Mutex
	pending   map[string]chan map[string]any

	logMu   sync.Mutex
	recent  []types.Message
	logSize int

	maxQueue int
	stats    Stats

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a bus with the given queue bound and monitoring log size.
func New(maxQueueSize, logSize int) *Bus {
	if maxQueueSize < 1 {
		maxQueueSize = 1000
	}
	if logSize < 1 {
		logSize = 10000
	}
	return &Bus{
		wake:        make(chan struct{}, 1),
		subscribers: make(map[string][]Handler),
		pending:     make(map[string]chan map[string]any),
		maxQueue:    maxQueueSize,
		logSize:     logSize,
		done:        make(chan struct{}),
	}
}

// Start launches the single processing goroutine. Call once.
func (b *Bus) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	go b.process(ctx)
}

// Close stops processing and fails all pending request waiters.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		<-b.done
	}

	b.pendingMu.Lock()
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()
	logging.Bus("bus closed")
}

// Publish enqueues a message. Fails with ErrQueueFull when the bounded
// capacity is reached; never blocks indefinitely.
func (b *Bus) Publish(msg types.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	// Priority lives in [0,1]; out-of-range values are clamped so a sloppy
	// publisher cannot starve everyone else.
	if msg.Priority < 0 {
		msg.Priority = 0
	} else if msg.Priority > 1 {
		msg.Priority = 1
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if len(b.queue) >= b.maxQueue {
		b.stats.Dropped++
		b.mu.Unlock()
		logging.Get(logging.CategoryBus).Warn("queue full (%d), dropping %s from %s to %s",
			b.maxQueue, msg.Kind, msg.Sender, msg.Recipient)
		return ErrQueueFull
	}
	b.seq++
	heap.Push(&b.queue, queued{msg: msg, seq: b.seq})
	b.stats.Published++
	b.mu.Unlock()

	b.appendLog(msg)

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe registers a handler for a recipient name. Multiple handlers per
// recipient are allowed; each delivered message fans out to all of them.
func (b *Bus) Subscribe(recipient string, handler Handler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subscribers[recipient] = append(b.subscribers[recipient], handler)
	logging.BusDebug("subscriber added for %s (now %d)", recipient, len(b.subscribers[recipient]))
}

// SendRequest publishes msg with response-expected set and waits up to the
// message timeout for a correlated response. The pending record is always
// removed on exit. On timeout the returned payload carries the error text.
func (b *Bus) SendRequest(ctx context.Context, msg types.Message) (map[string]any, error) {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}
	msg.ResponseExpected = true
	msg.Kind = types.MessageRequest
	timeout := msg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	ch := make(chan map[string]any, 1)
	b.pendingMu.Lock()
	b.pending[msg.CorrelationID] = ch
	b.pendingMu.Unlock()

	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, msg.CorrelationID)
		b.pendingMu.Unlock()
	}()

	if err := b.Publish(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return payload, nil
	case <-timer.C:
		return map[string]any{"error": fmt.Sprintf("request to %s timed out after %v", msg.Recipient, timeout)}, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendResponse completes the pending wait keyed by correlationID.
// No-op if no waiter exists.
func (b *Bus) SendResponse(correlationID string, payload map[string]any) {
	b.pendingMu.Lock()
	ch, ok := b.pending[correlationID]
	if ok {
		delete(b.pending, correlationID)
	}
	b.pendingMu.Unlock()
	if !ok {
		logging.BusDebug("response for %s has no waiter, dropping", correlationID)
		return
	}
	select {
	case ch <- payload:
	default:
	}
}

// process is the single dispatch loop: pop the highest-priority message,
// deliver to all subscribers for its recipient.
func (b *Bus) process(ctx context.Context) {
	defer close(b.done)
	for {
		b.mu.Lock()
		var item queued
		have := len(b.queue) > 0
		if have {
			item = heap.Pop(&b.queue).(queued)
		}
		b.mu.Unlock()

		if !have {
			select {
			case <-ctx.Done():
				return
			case <-b.wake:
				continue
			}
		}

		b.dispatch(ctx, item.msg)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// dispatch fans the message out. The first handler of a response-expected
// message answers the request; all other invocations have their results
// discarded and errors logged.
func (b *Bus) dispatch(ctx context.Context, msg types.Message) {
	b.subMu.RLock()
	handlers := append([]Handler(nil), b.subscribers[msg.Recipient]...)
	b.subMu.RUnlock()

	if len(handlers) == 0 {
		b.mu.Lock()
		b.stats.NoSubscriber++
		b.mu.Unlock()
		logging.BusDebug("no subscriber for %s (kind=%s from=%s)", msg.Recipient, msg.Kind, msg.Sender)
		if msg.ResponseExpected {
			b.SendResponse(msg.CorrelationID, map[string]any{
				"error": fmt.Sprintf("no subscriber for %s", msg.Recipient),
			})
		}
		return
	}

	b.mu.Lock()
	b.stats.Delivered++
	b.mu.Unlock()

	if msg.ResponseExpected {
		// First handler's result answers the request; remaining handlers
		// still observe the message.
		payload, err := b.invoke(ctx, handlers[0], msg)
		if err != nil {
			b.mu.Lock()
			b.stats.HandlerErrors++
			b.mu.Unlock()
			payload = map[string]any{"error": err.Error()}
		}
		b.SendResponse(msg.CorrelationID, payload)
		for _, h := range handlers[1:] {
			b.invokeLogged(ctx, h, msg)
		}
		return
	}

	// Results are discarded and errors logged, but handlers run inside the
	// dispatch loop so per-subscriber delivery order tracks dequeue order.
	for _, h := range handlers {
		b.invokeLogged(ctx, h, msg)
	}
}

// invoke runs a handler, converting panics into errors so a bad subscriber
// cannot take down the dispatch loop.
func (b *Bus) invoke(ctx context.Context, h Handler, msg types.Message) (payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}

func (b *Bus) invokeLogged(ctx context.Context, h Handler, msg types.Message) {
	if _, err := b.invoke(ctx, h, msg); err != nil {
		b.mu.Lock()
		b.stats.HandlerErrors++
		b.mu.Unlock()
		logging.Get(logging.CategoryBus).Warn("handler error for %s: %v", msg.Recipient, err)
	}
}

// appendLog keeps the recent-message ring for monitoring.
func (b *Bus) appendLog(msg types.Message) {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	b.recent = append(b.recent, msg)
	if len(b.recent) > b.logSize {
		// Evict the oldest tenth to amortize copies.
		drop := b.logSize / 10
		if drop < 1 {
			drop = 1
		}
		b.recent = append([]types.Message(nil), b.recent[drop:]...)
	}
}

// RecentMessages returns up to n most recent published messages.
func (b *Bus) RecentMessages(n int) []types.Message {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	out := make([]types.Message, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}

// GetStats returns a monitoring snapshot.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	s := b.stats
	s.QueueDepth = len(b.queue)
	b.mu.Unlock()

	b.pendingMu.Lock()
	s.PendingWaiters = len(b.pending)
	b.pendingMu.Unlock()
	return s
}
