package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVAInetwork/NOVAI-node/internal/types"
)

func TestNew_WritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	cfg := FromLoggingConfig(types.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		FileOutput: true,
		FileName:   "node.log",
	}, dir)

	l, err := New(cfg)
	require.NoError(t, err)
	l.Info("started", "view", 7)
	component := l.Component("pacemaker")
	component.Debug().Msg("tick")

	data, err := os.ReadFile(filepath.Join(dir, "node.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"view":7`)
	assert.Contains(t, string(data), `"component":"pacemaker"`)
}

func TestNew_RejectsBadSettings(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	_, err = New(Config{Level: "info", FileOutput: true})
	assert.Error(t, err, "file output needs a name")

	_, err = New(Config{Level: "info", FileOutput: true, FileName: "x.log", FileMaxSize: "lots", Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestParseMaxSize(t *testing.T) {
	for in, want := range map[string]int{"": 10, "25MB": 25, "5mb": 5, "7": 7} {
		got, err := parseMaxSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestGlobal_DisabledUntilInit(t *testing.T) {
	prev := globalLogger
	t.Cleanup(func() { globalLogger = prev })

	globalLogger = nil
	Info("dropped")
	assert.Equal(t, "disabled", Global().GetLevel().String())

	require.NoError(t, Init(Config{Level: "warn", Format: "json", Dir: t.TempDir()}))
	assert.Equal(t, "warn", Global().GetLevel().String())
}
