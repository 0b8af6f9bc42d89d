package conversation

import (
	"context"
	"sync"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

const (
	EventMessageNew  = "message.new"
	EventMessageRead = "message.read"
)

// WorkerPool drains the queue. One goroutine per shard, so events of a
// chat are handled strictly in arrival order.
type WorkerPool struct {
	queue   *Queue
	manager *Manager
	sender  *ReplySender
	selfID  int64
	logger  *logging.Logger
	wg      sync.WaitGroup
}

func NewWorkerPool(queue *Queue, manager *Manager, sender *ReplySender, selfID int64, logger *logging.Logger) *WorkerPool {
	return &WorkerPool{
		queue:   queue,
		manager: manager,
		sender:  sender,
		selfID:  selfID,
		logger:  logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled or their
// shard channel is closed, whichever comes first.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.queue.Shards(); i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has returned.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, shard int) {
	defer p.wg.Done()
	ch := p.queue.Shard(shard)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			p.queue.noteDequeue()
			p.handle(ctx, ev)
		}
	}
}

func (p *WorkerPool) handle(ctx context.Context, ev WebhookEvent) {
	switch ev.EventType {
	case EventMessageNew:
		p.handleNewMessage(ctx, ev)
	case EventMessageRead:
		p.logger.Debug("message read", "chat_id", ev.ResolveChatID())
	default:
		p.logger.Warn("unknown webhook event type", "event_type", ev.EventType)
	}
}

func (p *WorkerPool) handleNewMessage(ctx context.Context, ev WebhookEvent) {
	chatID := ev.ResolveChatID()
	if chatID == "" {
		p.logger.Warn("webhook message without chat id", "message_id", ev.Payload.Message.ID)
		return
	}
	msg := ev.Payload.Message
	if p.selfID != 0 && msg.AuthorID == p.selfID {
		return
	}
	switch msg.Type {
	case "text":
	case "image":
		p.sender.Send(ctx, chatID, ImageReply)
		return
	default:
		p.logger.Debug("skipping unsupported message type",
			"chat_id", chatID, "message_type", msg.Type)
		return
	}
	if msg.Text == "" {
		return
	}

	reply, err := p.manager.HandleMessage(ctx, chatID, msg.Text)
	if err != nil {
		p.logger.Error("message handling failed", "chat_id", chatID, "error", err)
		return
	}
	if reply != "" {
		p.sender.Send(ctx, chatID, reply)
	}
}
