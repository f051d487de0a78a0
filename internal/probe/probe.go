// Package probe performs download-free metadata inspection of media URLs.
package probe

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/fetchgate/internal/media"
	"github.com/JakeFAU/fetchgate/internal/metrics"
)

// Failure text patterns, checked in order. Forbidden wins over auth because
// private resources often mention signing in as well.
var classifiers = []struct {
	kind    media.ProbeErrorKind
	pattern *regexp.Regexp
}{
	{media.ProbeForbidden, regexp.MustCompile(`(?i)private video|http error 403|\bforbidden\b|not available in your country|geo.?restrict`)},
	{media.ProbeAuthRequired, regexp.MustCompile(`(?i)sign in|cookies|log ?in|login required|authenticat|confirm you.?re not a bot`)},
	{media.ProbeUnavailable, regexp.MustCompile(`(?i)video unavailable|http error 404|not found|been removed|no longer available|does not exist`)},
}

// Prober turns the extractor's loose response into media.Metadata.
type Prober struct {
	extractor media.Extractor
	logger    *zap.Logger
}

// New constructs a Prober.
func New(extractor media.Extractor, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{extractor: extractor, logger: logger}
}

// Probe inspects url without fetching content. Failures are always *media.ProbeError.
func (p *Prober) Probe(ctx context.Context, url string, auth media.AuthContext) (media.Metadata, error) {
	raw, err := p.extractor.Extract(ctx, url, auth)
	if err != nil {
		probeErr := Classify(err)
		metrics.ObserveProbeError(string(probeErr.Kind))
		if probeErr.Kind == media.ProbeAuthRequired {
			p.logger.Warn("probe requires fresh auth context",
				zap.String("url", url),
				zap.Bool("auth_attached", !auth.Empty()),
				zap.Error(err),
			)
		} else {
			p.logger.Info("probe failed", zap.String("url", url), zap.String("kind", string(probeErr.Kind)), zap.Error(err))
		}
		return media.Metadata{}, probeErr
	}

	meta := MapMetadata(raw)
	p.logger.Debug("probe succeeded",
		zap.String("url", url),
		zap.String("title", meta.Title),
		zap.Int64("estimated_size_bytes", meta.EstimatedSizeBytes),
	)
	return meta, nil
}

// Classify maps extractor failure text onto a probe error kind.
func Classify(err error) *media.ProbeError {
	var existing *media.ProbeError
	if errors.As(err, &existing) {
		return existing
	}
	msg := strings.TrimSpace(err.Error())
	for _, c := range classifiers {
		if c.pattern.MatchString(msg) {
			return &media.ProbeError{Kind: c.kind, Message: msg, Err: err}
		}
	}
	return &media.ProbeError{Kind: media.ProbeUnknown, Message: msg, Err: err}
}
