package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"trace":    TRACE,
		"DEBUG":    DEBUG,
		" info ":   INFO,
		"warning":  WARN,
		"error":    ERROR,
		"critical": CRITICAL,
		"bogus":    INFO,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "CRITICAL", CRITICAL.String())
	assert.Equal(t, zerolog.ErrorLevel, CRITICAL.zerolog())
}

func TestNewLogger_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rc.log")
	log, closer := NewLogger(LogConfig{Level: "warn", FilePath: path}, "rc_test")

	log.Info().Msg("filtered")
	log.Warn().Str("k", "v").Msg("kept")
	Critical(log).Msg("stop")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "filtered")
	assert.Contains(t, out, `"message":"kept"`)
	assert.Contains(t, out, `"service":"rc_test"`)
	assert.Contains(t, out, `"critical":true`)
}

func TestNopMetrics(t *testing.T) {
	m := NopMetrics()
	ctx := context.Background()
	m.DatagramReceived(ctx)
	m.FailSafeForwarded(ctx, "watchdog")
	m.EnvelopeChanged(ctx, "up")

	_, err := NewMetrics()
	assert.NoError(t, err)
}

type recordingCloser struct {
	name  string
	order *[]string
}

func (c recordingCloser) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

func TestExit_ClosesBeforeExiting(t *testing.T) {
	var order []string
	code := -1
	prev := osExit
	osExit = func(c int) {
		order = append(order, "exit")
		code = c
	}
	defer func() { osExit = prev }()

	path := filepath.Join(t.TempDir(), "rc.log")
	log, closer := NewLogger(LogConfig{Level: "info", FilePath: path}, "rc_test")
	Critical(log).Msg("Run failed")

	Exit(1, recordingCloser{"hw", &order}, closer, recordingCloser{"log", &order})

	assert.Equal(t, 1, code)
	assert.Equal(t, []string{"hw", "log", "exit"}, order)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Run failed")
}
