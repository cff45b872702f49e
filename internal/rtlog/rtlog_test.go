package rtlog_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"

	"github.com/joeycumines/niocoro/internal/rtlog"
)

func TestRtlog_DisabledLevelProducesNoOutput(t *testing.T) {
	var buf bytes.Buffer
	rtlog.SetLogger(stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelDisabled),
	))
	defer rtlog.SetLogger(nil)

	rtlog.Info("should not appear", rtlog.Fields{"x": 1})

	require.Empty(t, buf.String())
}

func TestRtlog_InfoAtSufficientLevelWritesOutput(t *testing.T) {
	var buf bytes.Buffer
	rtlog.SetLogger(stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelInformational),
	))
	defer rtlog.SetLogger(nil)

	rtlog.Info("worker started", rtlog.Fields{"worker_id": 3})

	out := buf.String()
	require.Contains(t, out, "worker started")
	require.Contains(t, out, "worker_id")
}

func TestRtlog_ErrorAttachesErrField(t *testing.T) {
	var buf bytes.Buffer
	rtlog.SetLogger(stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelError),
	))
	defer rtlog.SetLogger(nil)

	rtlog.Error("operation failed", errors.New("boom"), nil)

	out := buf.String()
	require.Contains(t, out, "operation failed")
	require.Contains(t, out, "boom")
}

func TestRtlog_LevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	rtlog.SetLogger(stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&buf)),
		stumpy.L.WithLevel(logiface.LevelWarning),
	))
	defer rtlog.SetLogger(nil)

	rtlog.Info("filtered out", nil)
	require.Empty(t, buf.String())

	rtlog.Warn("passes threshold", nil)
	require.Contains(t, buf.String(), "passes threshold")
}
