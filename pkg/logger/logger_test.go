package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appctx "chronolog/internal/core/context"
)

func TestNew_FallsBackToInfoOnBadLevel(t *testing.T) {
	l, err := New(Config{Level: "loud", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	assert.True(t, l.Desugar().Core().Enabled(0))
	assert.False(t, l.Desugar().Core().Enabled(-1))
}

func TestFromContext_PrefersAttachedLogger(t *testing.T) {
	nop := NewNop()
	ctx := WithLogger(context.Background(), nop)
	ctx = appctx.WithActor(ctx, "bob@example.com")

	l := FromContext(ctx)
	require.NotNil(t, l)
	assert.False(t, l.Desugar().Core().Enabled(0), "nop logger must stay disabled")
}

func TestFromContext_TagsRunAndActor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := WithLogger(context.Background(), &Logger{zap.New(core).Sugar()})
	run := appctx.NewRun(ctx, "chronolog history")
	ctx = appctx.WithActor(appctx.WithRun(ctx, run), "bob@example.com")

	Debug(ctx, "store opened", "driver", "sqlite")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, run.ID, fields["run_id"])
	assert.Equal(t, "chronolog history", fields["command"])
	assert.Equal(t, "bob@example.com", fields["actor"])
	assert.Equal(t, "sqlite", fields["driver"])
	assert.NotContains(t, fields, "trace_id")
}

func TestFromContext_FallbackOnlyWarns(t *testing.T) {
	l := FromContext(context.Background())
	assert.False(t, l.Desugar().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Desugar().Core().Enabled(zapcore.WarnLevel))
}
