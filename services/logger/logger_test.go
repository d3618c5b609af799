package logsvc

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/masomo/core"
)

func TestZapLogger(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	log := WrapZap(zap.New(obs))

	log.Info("tenant connection opened", map[string]interface{}{"tenant": "nps", "namespace": "school_nps"})
	log.Error("boom", errors.New("disk full"), core.Person{ID: "1", Username: "ngugi"}, 42)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	assert.Equal(t, "tenant connection opened", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, map[string]interface{}{"tenant": "nps", "namespace": "school_nps"}, entries[0].ContextMap())

	ctx := entries[1].ContextMap()
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "disk full", ctx["error"])
	assert.Equal(t, "ngugi", ctx["person.username"])
	assert.EqualValues(t, 42, ctx["arg2"])
}

func TestNew(t *testing.T) {
	conf := &core.Config{Env: "TEST", TestMode: true, AppName: "Masomo", LogLevel: "warn"}

	log, err := New(conf)
	require.NoError(t, err)
	assert.IsType(t, &ZapLogger{}, log)

	conf.RollbarToken = "token"
	log, err = New(conf)
	require.NoError(t, err)
	assert.IsType(t, &RollbarLogger{}, log)

	conf.LogLevel = "loud"
	_, err = New(conf)
	assert.Error(t, err)
}
