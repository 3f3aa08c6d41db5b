package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledTracingIsNoop(t *testing.T) {
	require.NoError(t, Init(false, "test"))

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()

	assert.False(t, span.SpanContext().IsValid())
	_, ok := TraceID(ctx)
	assert.False(t, ok)
}

func TestEnabledTracingStartsSpans(t *testing.T) {
	require.NoError(t, Init(true, "test"))
	t.Cleanup(func() {
		_ = Shutdown(context.Background())
		_ = Init(false, "test")
	})

	ctx, span := StartSpan(context.Background(), "TradeService.ProcessTrade")
	defer span.End()

	traceID, ok := TraceID(ctx)
	require.True(t, ok)
	assert.Len(t, traceID, 32)

	_, child := StartSpan(ctx, "LotMatcher.MatchSell")
	defer child.End()
	assert.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())
}
