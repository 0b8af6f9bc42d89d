package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/smmassistant/avito-ai-platform/internal/avito"
	"github.com/smmassistant/avito-ai-platform/internal/observability/metrics"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

// messenger is the outbound side of the Avito client.
type messenger interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

const maxSendAttempts = 3

// ReplySender delivers bot replies. It waits a short humanizing delay
// before each reply and retries rate-limited or failed sends. Delivery
// is best effort: after the last attempt the failure is logged and the
// conversation moves on, since the context was already persisted.
type ReplySender struct {
	client  messenger
	delay   time.Duration
	logger  *logging.Logger
	metrics *metrics.PipelineMetrics

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewReplySender(client messenger, delay time.Duration, logger *logging.Logger, m *metrics.PipelineMetrics) *ReplySender {
	return &ReplySender{
		client:  client,
		delay:   delay,
		logger:  logger,
		metrics: m,
		sleep:   sleepCtx,
	}
}

// Send pushes one reply to a chat.
func (s *ReplySender) Send(ctx context.Context, chatID, text string) {
	if s.delay > 0 && !s.sleep(ctx, s.delay) {
		return
	}
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		err := s.client.SendMessage(ctx, chatID, text)
		if err == nil {
			s.metrics.ObserveSend("ok")
			return
		}
		if attempt == maxSendAttempts-1 {
			break
		}
		wait := time.Duration(1<<uint(attempt)) * time.Second
		var rle *avito.RateLimitError
		if errors.As(err, &rle) && rle.RetryAfter > 0 {
			wait = rle.RetryAfter
		}
		s.metrics.ObserveSendRetry()
		s.logger.Warn("reply send failed, retrying",
			"chat_id", chatID, "attempt", attempt+1, "wait", wait.String(), "error", err)
		if !s.sleep(ctx, wait) {
			return
		}
	}
	s.metrics.ObserveSend("failed")
	s.logger.Error("reply delivery gave up", "chat_id", chatID, "attempts", maxSendAttempts)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
