package catalog

import (
	"context"
	"log/slog"
	"time"
)

// Periodic runs a sync immediately and then on every tick until ctx ends.
type Periodic struct {
	Name   string
	Every  time.Duration
	Sync   func(context.Context) (int, error)
	Logger *slog.Logger
}

func (p Periodic) Run(ctx context.Context) {
	if p.Every <= 0 {
		p.Every = 6 * time.Hour
	}
	ticker := time.NewTicker(p.Every)
	defer ticker.Stop()

	for {
		p.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p Periodic) runOnce(ctx context.Context) {
	start := time.Now()
	n, err := p.Sync(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.Logger.Error("catalog sync failed", "catalog", p.Name, "stored", n, "err", err)
		}
		return
	}
	p.Logger.Info("catalog synced", "catalog", p.Name, "stored", n, "took", time.Since(start).String())
}
