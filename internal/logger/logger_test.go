package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestInitLevels(t *testing.T) {
	t.Cleanup(func() { Init("info", "json") })

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		Init(tt.level, "console")
		assert.Equal(t, tt.want, zerolog.GlobalLevel(), tt.level)
	}
}

func TestGetAndComponent(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	l := Get()
	l.Warn().Msg("global")
	assert.Contains(t, buf.String(), `"message":"global"`)

	buf.Reset()
	c := Component("reconciler")
	c.Warn().Msg("tagged")
	assert.Contains(t, buf.String(), `"component":"reconciler"`)
}
