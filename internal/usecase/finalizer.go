package usecase

import (
	"strings"

	"go.uber.org/zap"

	"dikt/internal/ports"
)

// transcriptFinalizer applies post-processing rules to a finished transcript.
// A failing rule set never loses the transcript; the raw text is used instead.
type transcriptFinalizer struct {
	rules  ports.PostProcessor
	logger *zap.SugaredLogger
}

func newTranscriptFinalizer(rules ports.PostProcessor, logger *zap.SugaredLogger) transcriptFinalizer {
	return transcriptFinalizer{rules: rules, logger: logger}
}

func (f transcriptFinalizer) Finalize(sessionID uint64, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || f.rules == nil {
		return raw
	}

	transformed, err := f.rules.Apply(raw)
	if err != nil {
		f.logger.Warnw("post-processing failed; using raw transcript", "session_id", sessionID, "error", err)
		return raw
	}
	return strings.TrimSpace(transformed)
}
