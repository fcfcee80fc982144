package monitoring

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/queue"
)

const (
	ruleSnapshotKey = "monitoring:active_rules"
	ruleSnapshotTTL = 60 * time.Second
)

// RuleSource lists the active monitoring rules from the store
type RuleSource interface {
	ListActive(ctx context.Context, ruleType string) ([]*models.Rule, error)
}

// SnapshotProvider serves the active rule set for evaluation. Each
// evaluation works from one snapshot, so rule changes committed
// mid-evaluation never affect an in-flight transaction. A short Redis cache
// keeps the hot path off the database; the store stays authoritative.
type SnapshotProvider struct {
	rules RuleSource
	cache *queue.CacheClient
}

// NewSnapshotProvider creates a snapshot provider. cache may be nil, in
// which case every snapshot reads through to the store.
func NewSnapshotProvider(rules RuleSource, cache *queue.CacheClient) *SnapshotProvider {
	return &SnapshotProvider{rules: rules, cache: cache}
}

// Snapshot returns the active transaction-monitoring rules
func (p *SnapshotProvider) Snapshot(ctx context.Context) ([]*models.Rule, error) {
	if p.cache != nil {
		var cached []*models.Rule
		if err := p.cache.Get(ctx, ruleSnapshotKey, &cached); err == nil {
			return cached, nil
		}
	}

	active, err := p.rules.ListActive(ctx, models.RuleTypeTransactionMonitoring)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, ruleSnapshotKey, active, ruleSnapshotTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache rule snapshot")
		}
	}

	return active, nil
}

// Invalidate drops the cached snapshot after a rule lifecycle change
func (p *SnapshotProvider) Invalidate(ctx context.Context) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Delete(ctx, ruleSnapshotKey); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate rule snapshot")
	}
}
