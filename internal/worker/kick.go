package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"kbase/internal/middleware"
)

type kickPayload struct {
	JobID         string `json:"job_id"`
	CorrelationID string `json:"correlation_id"`
}

// KickConsumer wakes the worker when a job is submitted, so processing starts
// without waiting for the next ticker interval.
type KickConsumer struct {
	worker *Worker
}

func NewKickConsumer(w *Worker) *KickConsumer {
	return &KickConsumer{worker: w}
}

func (c *KickConsumer) HandleMessage(m *nsq.Message) error {
	ctx := context.Background()

	if len(m.Body) > 0 {
		var payload kickPayload
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			// Poison pill: invalid JSON, don't retry
			slog.Error("poison pill: invalid kick payload", "error", err)
			return nil
		}
		if payload.CorrelationID != "" {
			ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
		}
	}

	if err := c.worker.Drain(ctx); err != nil {
		slog.ErrorContext(ctx, "drain after kick failed", "error", err)
		return err // Retry
	}
	return nil
}

// RunTicker drains on a fixed interval until ctx is cancelled. It backstops
// lost kick messages and picks up requeued retries.
func (w *Worker) RunTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "scheduled drain failed", "error", err)
			}
		}
	}
}
