package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsafe-analysis-server/internal/domain"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(domain.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.WithField("source", "openfda").Info("Registry lookup")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Registry lookup", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "openfda", entry["source"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(domain.LoggingConfig{Level: "WARN", Format: "text"}, &buf)

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	logger.Info("suppressed")
	logger.Warn("visible")

	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "msg=visible")
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger := New(domain.LoggingConfig{Level: "verbose"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}
