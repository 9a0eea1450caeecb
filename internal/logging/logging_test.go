package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel(t *testing.T) {
	tests := map[string]logrus.Level{
		"silent":  logrus.PanicLevel,
		"error":   logrus.ErrorLevel,
		"warn":    logrus.WarnLevel,
		"info":    logrus.InfoLevel,
		"debug":   logrus.DebugLevel,
		"unknown": logrus.InfoLevel,
	}
	for name, want := range tests {
		assert.Equal(t, want, Level(name), name)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New("info", "json", &buf)

	logger.WithField("profile", "smoke").Info("Run started")
	logger.Debug("hidden")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Run started", entry["msg"])
	assert.Equal(t, "smoke", entry["profile"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNew_Silent(t *testing.T) {
	var buf bytes.Buffer
	logger := New("silent", "text", &buf)
	logger.Error("nothing")
	assert.Zero(t, buf.Len())
}
