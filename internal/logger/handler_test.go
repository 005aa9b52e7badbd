package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"kbase/internal/middleware"
)

func TestContextHandler_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := middleware.WithCorrelationID(context.Background(), "corr-42")
	l.InfoContext(ctx, "job claimed", "job_id", "j1")

	assert.Contains(t, buf.String(), `"correlation_id":"corr-42"`)
}

func TestContextHandler_NoIDNoAttr(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	l.InfoContext(context.Background(), "job claimed")

	assert.NotContains(t, buf.String(), "correlation_id")
}
