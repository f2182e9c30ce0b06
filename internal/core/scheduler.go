package core

// scheduler.go keeps the export template warm.
//
// The template is fetched once at startup and then every interval, so an
// export rarely waits on the network and an unreachable template is
// noticed in the logs before anyone exports. Failures are logged and never
// stop the loop.

import (
	"context"
	"time"
)

// DefaultTemplateRefresh is how often the export template is reloaded.
const DefaultTemplateRefresh = time.Hour

// StartTemplateRefresher loads the export template immediately, then every
// interval until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Service) StartTemplateRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTemplateRefresh
	}
	s.logger.Info("template refresher started", "interval", interval)

	s.refreshTemplate(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("template refresher stopped")
			return
		case <-ticker.C:
			s.refreshTemplate(ctx)
		}
	}
}

// refreshTemplate performs one load.
func (s *Service) refreshTemplate(ctx context.Context) {
	start := time.Now()
	headers, err := s.templates.Refresh(ctx)
	if err != nil {
		s.logger.Warn("template refresh failed", "error", err)
		return
	}
	s.logger.Debug("template refreshed",
		"headers", len(headers),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
