package downloader

import (
	"log/slog"

	"github.com/veranemoloko/batchdl/internal/metrics"
)

// recordError reports an unexpected failure to diagnostics under reason.
func recordError(logger *slog.Logger, msg, reason string, err error, args ...any) {
	metrics.ErrorsRecorded.WithLabelValues(reason).Inc()
	logger.Error(msg, append([]any{"reason", reason, "error", err}, args...)...)
}
