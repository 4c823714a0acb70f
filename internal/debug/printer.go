package debug

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/leapdao/acebusters-backend/internal/models"
	"github.com/leapdao/acebusters-backend/internal/oracle"
)

func enabled() bool {
	return slog.Default().Enabled(context.Background(), slog.LevelDebug)
}

// PrintHandChange prints the redacted new state of a change feed entry in JSON format
func PrintHandChange(change models.HandChange) {
	if !enabled() || change.New == nil {
		return
	}
	jsonData, err := json.MarshalIndent(oracle.Redact(change.New), "", "  ")
	if err != nil {
		slog.Error("Failed to marshal hand to JSON", "error", err)
		return
	}

	slog.Debug("Hand change details", "seq", change.Seq, "json", string(jsonData))
}

// PrintNotification prints a bus notification in JSON format
func PrintNotification(n *models.Notification) {
	if !enabled() {
		return
	}
	jsonData, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal notification to JSON", "error", err)
		return
	}

	slog.Debug("Notification details", "json", string(jsonData))
}
