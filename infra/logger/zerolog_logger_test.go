package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZerologLoggerMethods(t *testing.T) {
	assert.NoError(t, os.Setenv("APP_ENV", "dev"))
	defer func() { assert.NoError(t, os.Unsetenv("APP_ENV")) }()
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, Configure(Options{Level: "info", Format: "json", Output: &buf}))
	defer func() { assert.NoError(t, Configure(Options{})) }()

	New("actor").With(map[string]any{"actor": "V1"}).Infof("fuel %d", 19)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	assert.Equal(t, "actor", entry["component"])
	assert.Equal(t, "V1", entry["actor"])
	assert.Equal(t, "fuel 19", entry["message"])
}

func TestConfigureLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, Configure(Options{Level: "warn", Format: "json", Output: &buf}))
	defer func() { assert.NoError(t, Configure(Options{})) }()

	l := New("bus")
	l.Infof("hidden")
	assert.Equal(t, 0, buf.Len())
	l.Warnf("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Configure(Options{Level: "loud"}))
}
