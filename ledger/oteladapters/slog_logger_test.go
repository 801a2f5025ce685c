package oteladapters_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/groupledger/groupledger/ledger/oteladapters"
)

func Test_NewSlogBridgeLogger_Construction(t *testing.T) {
	logger := oteladapters.NewSlogBridgeLogger("groupledger")

	assert.NotNil(t, logger)
}

func Test_SlogLogger_ForwardsLevelsAndAttributes(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := oteladapters.NewSlogLoggerWithHandler(handler)

	logger.Debug("sync tick completed", "group_id", "g1")
	logger.Info("sync loop started", "group_id", "g1")
	logger.Warn("backend read failed", "error", "connection reset")
	logger.Error("failed to build query", "error", "boom")

	output := buf.String()
	assert.Contains(t, output, "sync tick completed")
	assert.Contains(t, output, "group_id=g1")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "level=ERROR")
	assert.Equal(t, 4, strings.Count(output, "\n"))
}
