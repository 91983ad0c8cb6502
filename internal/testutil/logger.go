package testutil

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a logger that drops everything. Scenario runs use it
// so expected diagnostics do not clutter test output.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
