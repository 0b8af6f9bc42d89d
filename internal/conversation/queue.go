package conversation

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/smmassistant/avito-ai-platform/internal/observability/metrics"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

// WebhookEvent is the decoded body of one messenger webhook delivery.
type WebhookEvent struct {
	EventType string         `json:"event_type"`
	Payload   WebhookPayload `json:"payload"`
}

type WebhookPayload struct {
	ChatID  string         `json:"chat_id"`
	Message WebhookMessage `json:"message"`
}

type WebhookMessage struct {
	ID        string `json:"id"`
	ChatID    string `json:"chat_id"`
	AuthorID  int64  `json:"author_id"`
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// ResolveChatID returns the chat the event belongs to, preferring the
// payload-level field over the one nested in the message.
func (e WebhookEvent) ResolveChatID() string {
	if e.Payload.ChatID != "" {
		return e.Payload.ChatID
	}
	return e.Payload.Message.ChatID
}

// Queue is a bounded buffer between webhook intake and the workers.
// It is sharded by chat id so every message of one chat lands on the
// same worker and is processed in order, which keeps concurrent
// updates to a single conversation off the table. When a shard is
// full the newest event is dropped, never the intake blocked.
type Queue struct {
	shards  []chan WebhookEvent
	depth   atomic.Int64
	dropped atomic.Int64
	closed  atomic.Bool
	mu      sync.Mutex
	logger  *logging.Logger
	metrics *metrics.PipelineMetrics
}

// NewQueue splits capacity evenly across shards. shards should equal
// the worker count; each worker owns exactly one shard.
func NewQueue(capacity, shards int, logger *logging.Logger, m *metrics.PipelineMetrics) *Queue {
	if shards < 1 {
		shards = 1
	}
	per := capacity / shards
	if per < 1 {
		per = 1
	}
	q := &Queue{
		shards:  make([]chan WebhookEvent, shards),
		logger:  logger,
		metrics: m,
	}
	for i := range q.shards {
		q.shards[i] = make(chan WebhookEvent, per)
	}
	return q
}

func (q *Queue) shardFor(chatID string) int {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// Enqueue offers an event without blocking. It returns false when the
// event was dropped, either because its shard is full or the queue is
// already closed.
func (q *Queue) Enqueue(ev WebhookEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Load() {
		return false
	}
	shard := q.shards[q.shardFor(ev.ResolveChatID())]
	select {
	case shard <- ev:
		q.metrics.SetQueueDepth(int(q.depth.Add(1)))
		return true
	default:
		q.dropped.Add(1)
		q.metrics.ObserveQueueDrop()
		q.logger.Error("queue full, dropping webhook event",
			"chat_id", ev.ResolveChatID(), "event_type", ev.EventType, "dropped_total", q.dropped.Load())
		return false
	}
}

// Shard exposes the receive side for one worker.
func (q *Queue) Shard(i int) <-chan WebhookEvent {
	return q.shards[i]
}

// Shards returns the shard count.
func (q *Queue) Shards() int { return len(q.shards) }

// Dropped returns how many events were rejected since startup.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Depth returns the number of events currently buffered.
func (q *Queue) Depth() int64 { return q.depth.Load() }

// Close stops intake and closes the shard channels. Safe to call once;
// Enqueue after Close reports a drop-free false.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed.Swap(true) {
		return
	}
	for _, s := range q.shards {
		close(s)
	}
}

// noteDequeue is called by workers after taking an event.
func (q *Queue) noteDequeue() {
	q.metrics.SetQueueDepth(int(q.depth.Add(-1)))
}
