package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext_Default(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithLogger(context.Background(), base)
	ctx = With(ctx, "item_id", "42")

	FromContext(ctx).Info("processing")

	assert.Contains(t, buf.String(), "item_id=42")
	assert.Contains(t, buf.String(), "msg=processing")
}
