package log

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core, LevelDebug)

	l.With(String("component", "engine")).Info("tree loaded",
		String("tree", "guard"),
		Int("nodes", 7),
		Duration("took", time.Millisecond),
		Bool("hot", true),
		Error(errors.New("boom")),
	)

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	require.Equal(t, "engine", ctx["component"])
	require.Equal(t, "guard", ctx["tree"])
	require.EqualValues(t, 7, ctx["nodes"])
	require.Equal(t, true, ctx["hot"])
	require.Equal(t, "boom", ctx["error"])
}

func TestLoggerLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewWithCore(core, LevelWarn)

	l.Info("dropped")
	l.Warn("kept")
	require.Equal(t, 1, logs.Len())

	l.SetLevel(LevelDebug)
	require.Equal(t, LevelDebug, l.GetLevel())
	l.Debug("now kept")
	require.Equal(t, 2, logs.Len())

	l.SetLevel(LevelSilent)
	l.Log(LevelError, "silenced")
	require.Equal(t, 2, logs.Len())
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		"WARNING": LevelWarn,
		"error":   LevelError,
		"off":     LevelSilent,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestProvideWithoutNew(t *testing.T) {
	require.NotNil(t, Provide())
	Provide().Info("discarded")
}
