package logger_test

import (
	"bytes"
	"os"
	"testing"

	"github.com/hbomb79/hevcify/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func Test_Emit_RespectsMinimumLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	logger.SetMinLoggingLevel(logger.WARNING.Level())
	t.Cleanup(func() {
		logger.SetOutput(os.Stdout)
		logger.SetMinLoggingLevel(logger.INFO.Level())
	})

	log := logger.Get("Test")
	log.Emit(logger.INFO, "hidden\n")
	log.Emit(logger.ERROR, "shown %d\n", 42)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[Test]")
	assert.Contains(t, buf.String(), "(!!) shown 42")
}

func Test_Emit_PadsNamesToLongestSeen(t *testing.T) {
	buf := &bytes.Buffer{}
	logger.SetOutput(buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	logger.Get("LongerName").Emit(logger.INFO, "first\n")
	buf.Reset()
	logger.Get("Short").Emit(logger.INFO, "second\n")

	assert.Equal(t, "[Short]      (I) second\n", buf.String())
}

func Test_IsTerminal_NonFileWriter(t *testing.T) {
	assert.False(t, logger.IsTerminal(&bytes.Buffer{}))
}
