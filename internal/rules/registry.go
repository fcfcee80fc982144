package rules

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
)

var (
	ErrRuleNotTested     = errors.New("rule has not been back-tested")
	ErrRuleAlreadyActive = errors.New("rule is already active")
	ErrRuleNotActive     = errors.New("rule is not active")
)

// RuleStore is the persistence contract the registry needs
type RuleStore interface {
	Create(ctx context.Context, rule *models.Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Rule, error)
	Update(ctx context.Context, rule *models.Rule) error
	ListActive(ctx context.Context, ruleType string) ([]*models.Rule, error)
	List(ctx context.Context, status, ruleType string, limit int) ([]*models.Rule, error)
}

// AlertStatsSource aggregates alert outcomes for performance review
type AlertStatsSource interface {
	StatsByRule(ctx context.Context, ruleID uuid.UUID, since time.Time) (*repositories.RuleAlertStats, error)
}

// Registry manages the monitoring rule lifecycle: creation, back-testing,
// activation, threshold tuning, and performance review.
type Registry struct {
	rules      RuleStore
	backtester *Backtester
	alertStats AlertStatsSource
	auditSink  audit.Sink
}

// NewRegistry creates a rule registry
func NewRegistry(rules RuleStore, backtester *Backtester, alertStats AlertStatsSource, auditSink audit.Sink) *Registry {
	return &Registry{
		rules:      rules,
		backtester: backtester,
		alertStats: alertStats,
		auditSink:  auditSink,
	}
}

// Create stores a new rule in draft state
func (r *Registry) Create(ctx context.Context, actor audit.Actor, rule *models.Rule) error {
	rule.Status = models.RuleStatusDraft
	if rule.Version == "" {
		rule.Version = "1.0"
	}
	if rule.RuleType == "" {
		rule.RuleType = models.RuleTypeTransactionMonitoring
	}
	rule.CreatedBy = actor.Email

	if err := r.rules.Create(ctx, rule); err != nil {
		return err
	}

	entry := audit.NewEntry(models.AuditCategoryRulesManagement, "rule_created", audit.ActionCreate,
		actor, "rule", rule.ID.String(),
		fmt.Sprintf("Created monitoring rule %s (%s)", rule.RuleCode, rule.RuleName))
	entry.NewValues = models.JSONB{"rule_code": rule.RuleCode, "status": rule.Status, "version": rule.Version}
	entry.RegulatorySignificance = true
	return r.auditSink.Emit(ctx, entry)
}

// Test replays a rule against historical transactions and persists the
// resulting quality metrics.
func (r *Registry) Test(ctx context.Context, actor audit.Actor, ruleID uuid.UUID, periodDays int) (*BacktestResult, error) {
	rule, err := r.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	result, err := r.backtester.Run(ctx, rule, periodDays)
	if err != nil {
		return nil, fmt.Errorf("backtest failed for rule %s: %w", rule.RuleCode, err)
	}

	now := time.Now().UTC()
	rule.LastTested = &now
	rule.FalsePositiveRate = result.FalsePositiveRate * 100
	rule.EffectivenessScore = result.Effectiveness * 100
	rule.TestResults = result.AsJSONB()

	if err := r.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	log.Info().
		Str("rule_code", rule.RuleCode).
		Int("evaluated", result.TransactionsEvaluated).
		Int("triggers", result.Triggers).
		Float64("precision", result.Precision).
		Msg("Rule backtest completed")

	entry := audit.NewEntry(models.AuditCategoryRulesManagement, "rule_tested", audit.ActionUpdate,
		actor, "rule", rule.ID.String(),
		fmt.Sprintf("Back-tested rule %s over %d days", rule.RuleCode, periodDays))
	entry.Details = result.AsJSONB()
	if err := r.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return result, nil
}

// Activate moves a tested rule into the active set
func (r *Registry) Activate(ctx context.Context, actor audit.Actor, ruleID uuid.UUID) (*models.Rule, error) {
	rule, err := r.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if rule.LastTested == nil {
		return nil, ErrRuleNotTested
	}
	if rule.Status == models.RuleStatusActive {
		return nil, ErrRuleAlreadyActive
	}

	now := time.Now().UTC()
	rule.Status = models.RuleStatusActive
	rule.EffectiveDate = &now

	if err := r.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryRulesManagement, "rule_activated", audit.ActionUpdate,
		actor, "rule", rule.ID.String(),
		fmt.Sprintf("Activated rule %s", rule.RuleCode))
	entry.RegulatorySignificance = true
	if err := r.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return rule, nil
}

// Deactivate removes an active rule from the monitoring set
func (r *Registry) Deactivate(ctx context.Context, actor audit.Actor, ruleID uuid.UUID, reason string) (*models.Rule, error) {
	rule, err := r.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	if rule.Status != models.RuleStatusActive {
		return nil, ErrRuleNotActive
	}

	rule.Status = models.RuleStatusInactive

	if err := r.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryRulesManagement, "rule_deactivated", audit.ActionUpdate,
		actor, "rule", rule.ID.String(),
		fmt.Sprintf("Deactivated rule %s: %s", rule.RuleCode, reason))
	entry.Details = models.JSONB{"reason": reason}
	entry.RegulatorySignificance = true
	if err := r.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return rule, nil
}

// UpdateThresholds replaces a rule's thresholds, bumps the minor version,
// and clears the tuning flag.
func (r *Registry) UpdateThresholds(ctx context.Context, actor audit.Actor, ruleID uuid.UUID, thresholds models.FloatMap, reason string) (*models.Rule, error) {
	rule, err := r.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	old := rule.Thresholds
	rule.Thresholds = thresholds
	rule.Version = bumpMinorVersion(rule.Version)
	rule.TuningRequired = false

	if err := r.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryRulesManagement, "rule_thresholds_updated", audit.ActionUpdate,
		actor, "rule", rule.ID.String(),
		fmt.Sprintf("Updated thresholds for rule %s: %s", rule.RuleCode, reason))
	oldVals, _ := old.Value()
	newVals, _ := thresholds.Value()
	entry.OldValues = models.JSONB{"thresholds": string(oldVals)}
	entry.NewValues = models.JSONB{"thresholds": string(newVals), "version": rule.Version}
	entry.ChangedFields = []string{"thresholds", "version", "tuning_required"}
	if err := r.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return rule, nil
}

// PerformanceReport summarizes how a rule's alerts fared in investigation
type PerformanceReport struct {
	RuleID            uuid.UUID `json:"rule_id"`
	RuleCode          string    `json:"rule_code"`
	PeriodDays        int       `json:"period_days"`
	AlertsGenerated   int       `json:"alerts_generated"`
	FalsePositiveRate float64   `json:"false_positive_rate"`
	EscalationRate    float64   `json:"escalation_rate"`
	ResolutionRate    float64   `json:"resolution_rate"`
	TuningRequired    bool      `json:"tuning_required"`
}

// Performance aggregates a rule's alert outcomes and flags it for tuning
// when the false-positive rate is excessive or almost nothing escalates.
// A window with no alerts still flags the rule: zero escalations means it
// is not earning its keep.
func (r *Registry) Performance(ctx context.Context, actor audit.Actor, ruleID uuid.UUID, days int) (*PerformanceReport, error) {
	rule, err := r.rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := r.alertStats.StatsByRule(ctx, ruleID, since)
	if err != nil {
		return nil, err
	}

	report := &PerformanceReport{
		RuleID:          rule.ID,
		RuleCode:        rule.RuleCode,
		PeriodDays:      days,
		AlertsGenerated: stats.Total,
	}

	if stats.Total > 0 {
		report.FalsePositiveRate = float64(stats.FalsePositives) / float64(stats.Total) * 100
		report.EscalationRate = float64(stats.Escalated) / float64(stats.Total) * 100
		report.ResolutionRate = float64(stats.Resolved) / float64(stats.Total) * 100
		rule.FalsePositiveRate = report.FalsePositiveRate
	}
	report.TuningRequired = report.FalsePositiveRate > 70 || report.EscalationRate < 10

	rule.TuningRequired = report.TuningRequired
	if err := r.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryRulesManagement, "rule_performance_reviewed", audit.ActionView,
		actor, "rule", rule.ID.String(),
		fmt.Sprintf("Reviewed %d-day alert performance for rule %s", days, rule.RuleCode))
	entry.Details = models.JSONB{
		"alerts_generated":    stats.Total,
		"false_positive_rate": report.FalsePositiveRate,
		"escalation_rate":     report.EscalationRate,
		"resolution_rate":     report.ResolutionRate,
		"tuning_required":     report.TuningRequired,
	}
	if err := r.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return report, nil
}

// Get retrieves one rule
func (r *Registry) Get(ctx context.Context, ruleID uuid.UUID) (*models.Rule, error) {
	return r.rules.GetByID(ctx, ruleID)
}

// List retrieves rules filtered by status and type
func (r *Registry) List(ctx context.Context, status, ruleType string, limit int) ([]*models.Rule, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.rules.List(ctx, status, ruleType, limit)
}

// ListActive retrieves the active monitoring rule set
func (r *Registry) ListActive(ctx context.Context) ([]*models.Rule, error) {
	return r.rules.ListActive(ctx, models.RuleTypeTransactionMonitoring)
}

// bumpMinorVersion turns M.n into M.(n+1), falling back to 1.1 when the
// stored version does not parse.
func bumpMinorVersion(version string) string {
	parts := strings.Split(version, ".")
	if len(parts) == 2 {
		major, majErr := strconv.Atoi(parts[0])
		minor, minErr := strconv.Atoi(parts[1])
		if majErr == nil && minErr == nil {
			return fmt.Sprintf("%d.%d", major, minor+1)
		}
	}
	return "1.1"
}
