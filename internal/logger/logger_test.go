package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, logrus.DebugLevel, ParseLevel("DEBUG"))
	require.Equal(t, logrus.WarnLevel, ParseLevel(" warn "))
	require.Equal(t, logrus.InfoLevel, ParseLevel(""))
	require.Equal(t, logrus.InfoLevel, ParseLevel("loud"))
}

func TestNew_JSONFields(t *testing.T) {
	t.Parallel()

	l := New(Config{Level: "debug"})
	var buf bytes.Buffer
	l.SetOutput(&buf)

	l.WithField("component", "cache").Debug("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["message"])
	require.Equal(t, "debug", rec["level"])
	require.Equal(t, "cache", rec["component"])
	require.Contains(t, rec, "timestamp")
}

func TestNew_FileSink(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fundingwatch.log")
	l := New(Config{File: path})
	l.Info("to file")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "to file")
}
