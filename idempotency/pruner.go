package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	gamefi "github.com/FJDeFi/Embodied-AI-Agent-for-GameFi-Ecosystem"
)

// Pruner periodically removes terminal write records past the retention window
type Pruner struct {
	store gamefi.IdempotencyStore
	cfg   *config
	cron  *cron.Cron
}

// NewPruner creates a pruner for store. Call Start to schedule it.
func NewPruner(store gamefi.IdempotencyStore, opts ...Option) *Pruner {
	return &Pruner{
		store: store,
		cfg:   newConfig(opts),
	}
}

// Start schedules pruning on the configured cron spec
func (p *Pruner) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(p.cfg.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = p.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.cfg.schedule, err)
	}
	p.cron = c
	c.Start()
	p.cfg.logger.WithField("schedule", p.cfg.schedule).Info("write record pruner started")
	return nil
}

// Stop halts the schedule and waits for a running prune to finish
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// RunOnce prunes terminal records last updated before now minus retention
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	cutoff := p.cfg.now().Add(-p.cfg.retention)
	removed, err := p.store.Prune(ctx, cutoff)
	log := p.cfg.logger.WithFields(logrus.Fields{
		"cutoff":  cutoff,
		"removed": removed,
	})
	if err != nil {
		log.WithError(err).Error("pruning write records failed")
		return removed, err
	}
	log.Debug("pruned write records")
	return removed, nil
}
