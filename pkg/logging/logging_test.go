package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf})

	log.LogInformation("server listening")
	log.LogWarning("frame dropped", errors.New("frame corrupted"))
	log.LogError("accept failed", nil)
	log.Debugf("hidden %d", 1)

	out := buf.String()
	assert.Contains(t, out, "server listening")
	assert.Contains(t, out, "level=warning")
	assert.Contains(t, out, "frame corrupted")
	assert.Contains(t, out, "accept failed")
	assert.NotContains(t, out, "hidden")
}

func TestLoggerVerboseJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Verbose: true, JSON: true}).
		WithComponent("server").
		With(logrus.Fields{"remote": "10.0.0.1:8391"})

	log.Debugf("frame of %d packets", 2)

	out := buf.String()
	assert.Contains(t, out, `"component":"server"`)
	assert.Contains(t, out, `"remote":"10.0.0.1:8391"`)
	assert.Contains(t, out, "frame of 2 packets")
}

func TestLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.log")
	log := New(Options{Output: &bytes.Buffer{}, File: path})

	log.LogInformation("written to file")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestDiscard(t *testing.T) {
	var sink Sink = Discard()
	sink.LogInformation("nothing")
	sink.LogWarning("nothing", errors.New("x"))
	sink.LogError("nothing", nil)
	assert.NoError(t, Discard().Close())
}

func TestDebugfHelper(t *testing.T) {
	var buf bytes.Buffer
	Debugf(New(Options{Output: &buf, Verbose: true}), "visible %s", "line")
	assert.Contains(t, buf.String(), "visible line")

	Debugf(plainSink{}, "ignored")
}

type plainSink struct{}

func (plainSink) LogInformation(string)    {}
func (plainSink) LogWarning(string, error) {}
func (plainSink) LogError(string, error)   {}
