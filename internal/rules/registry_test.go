package rules

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
)

type fakeRuleStore struct {
	rules   map[uuid.UUID]*models.Rule
	byCode  map[string]uuid.UUID
	updates int
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{
		rules:  make(map[uuid.UUID]*models.Rule),
		byCode: make(map[string]uuid.UUID),
	}
}

func (s *fakeRuleStore) Create(_ context.Context, rule *models.Rule) error {
	if _, exists := s.byCode[rule.RuleCode]; exists {
		return repositories.ErrDuplicateRuleCode
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	s.rules[rule.ID] = rule
	s.byCode[rule.RuleCode] = rule.ID
	return nil
}

func (s *fakeRuleStore) GetByID(_ context.Context, id uuid.UUID) (*models.Rule, error) {
	rule, ok := s.rules[id]
	if !ok {
		return nil, repositories.ErrRuleNotFound
	}
	return rule, nil
}

func (s *fakeRuleStore) Update(_ context.Context, rule *models.Rule) error {
	s.rules[rule.ID] = rule
	s.updates++
	return nil
}

func (s *fakeRuleStore) ListActive(_ context.Context, ruleType string) ([]*models.Rule, error) {
	var out []*models.Rule
	for _, rule := range s.rules {
		if rule.Status == models.RuleStatusActive && rule.RuleType == ruleType {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) List(_ context.Context, status, ruleType string, limit int) ([]*models.Rule, error) {
	var out []*models.Rule
	for _, rule := range s.rules {
		if status != "" && rule.Status != status {
			continue
		}
		if ruleType != "" && rule.RuleType != ruleType {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, rule)
	}
	return out, nil
}

type fakeAlertStats struct {
	stats *repositories.RuleAlertStats
}

func (s *fakeAlertStats) StatsByRule(_ context.Context, _ uuid.UUID, _ time.Time) (*repositories.RuleAlertStats, error) {
	return s.stats, nil
}

type fakeSink struct {
	entries []*models.AuditLog
}

func (s *fakeSink) Emit(_ context.Context, entry *models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeSink) lastEvent() string {
	if len(s.entries) == 0 {
		return ""
	}
	return s.entries[len(s.entries)-1].EventType
}

// fakeHistory serves backtests out of an in-memory transaction slice,
// computing window aggregates the same way the SQL queries do.
type fakeHistory struct {
	txns []*models.Transaction
}

func (h *fakeHistory) GetHistorical(_ context.Context, since time.Time, _, _ []string, limit int) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, txn := range h.txns {
		if txn.TransactionDate.Before(since) {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, txn)
	}
	return out, nil
}

func (h *fakeHistory) WindowStats(_ context.Context, customerID uuid.UUID, since, until time.Time) (int, float64, error) {
	count := 0
	total := 0.0
	for _, txn := range h.txns {
		if txn.CustomerID != customerID {
			continue
		}
		if txn.TransactionDate.Before(since) || txn.TransactionDate.After(until) {
			continue
		}
		count++
		total += txn.Amount
	}
	return count, total, nil
}

func (h *fakeHistory) NearThresholdStats(_ context.Context, customerID uuid.UUID, lo, hi float64, since, until time.Time) (int, float64, error) {
	count := 0
	total := 0.0
	for _, txn := range h.txns {
		if txn.CustomerID != customerID {
			continue
		}
		if txn.TransactionDate.Before(since) || txn.TransactionDate.After(until) {
			continue
		}
		if txn.Amount < lo || txn.Amount > hi {
			continue
		}
		count++
		total += txn.Amount
	}
	return count, total, nil
}

type fakeCustomers struct {
	customers map[uuid.UUID]*models.Customer
}

func (c *fakeCustomers) GetByID(_ context.Context, id uuid.UUID) (*models.Customer, error) {
	customer, ok := c.customers[id]
	if !ok {
		return nil, repositories.ErrCustomerNotFound
	}
	return customer, nil
}

var testActor = audit.Actor{ID: "u-1", Email: "analyst@prodetect.ng", Role: "compliance_officer"}

func newTestRegistry(store *fakeRuleStore, history *fakeHistory, customers *fakeCustomers, stats *fakeAlertStats, sink *fakeSink) *Registry {
	if history == nil {
		history = &fakeHistory{}
	}
	if customers == nil {
		customers = &fakeCustomers{customers: map[uuid.UUID]*models.Customer{}}
	}
	if stats == nil {
		stats = &fakeAlertStats{stats: &repositories.RuleAlertStats{}}
	}
	return NewRegistry(store, NewBacktester(history, customers), stats, sink)
}

func TestRegistryCreateDefaults(t *testing.T) {
	store := newFakeRuleStore()
	sink := &fakeSink{}
	registry := newTestRegistry(store, nil, nil, nil, sink)

	rule := &models.Rule{RuleCode: "CUST-001", RuleName: "custom rule"}
	require.NoError(t, registry.Create(context.Background(), testActor, rule))

	assert.Equal(t, models.RuleStatusDraft, rule.Status)
	assert.Equal(t, "1.0", rule.Version)
	assert.Equal(t, models.RuleTypeTransactionMonitoring, rule.RuleType)
	assert.Equal(t, testActor.Email, rule.CreatedBy)
	assert.NotEqual(t, uuid.Nil, rule.ID)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "rule_created", sink.entries[0].EventType)
	assert.True(t, sink.entries[0].RegulatorySignificance)
}

func TestRegistryCreateDuplicateCode(t *testing.T) {
	store := newFakeRuleStore()
	registry := newTestRegistry(store, nil, nil, nil, &fakeSink{})

	require.NoError(t, registry.Create(context.Background(), testActor, &models.Rule{RuleCode: "DUP-001"}))
	err := registry.Create(context.Background(), testActor, &models.Rule{RuleCode: "DUP-001"})
	assert.ErrorIs(t, err, repositories.ErrDuplicateRuleCode)
}

func TestActivateRequiresBacktest(t *testing.T) {
	store := newFakeRuleStore()
	sink := &fakeSink{}
	registry := newTestRegistry(store, nil, nil, nil, sink)

	rule := &models.Rule{RuleCode: "ACT-001"}
	require.NoError(t, registry.Create(context.Background(), testActor, rule))

	_, err := registry.Activate(context.Background(), testActor, rule.ID)
	assert.ErrorIs(t, err, ErrRuleNotTested)

	now := time.Now().UTC()
	rule.LastTested = &now

	activated, err := registry.Activate(context.Background(), testActor, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RuleStatusActive, activated.Status)
	require.NotNil(t, activated.EffectiveDate)
	assert.Equal(t, "rule_activated", sink.lastEvent())

	_, err = registry.Activate(context.Background(), testActor, rule.ID)
	assert.ErrorIs(t, err, ErrRuleAlreadyActive)
}

func TestDeactivateOnlyActiveRules(t *testing.T) {
	store := newFakeRuleStore()
	sink := &fakeSink{}
	registry := newTestRegistry(store, nil, nil, nil, sink)

	rule := &models.Rule{RuleCode: "DEACT-001"}
	require.NoError(t, registry.Create(context.Background(), testActor, rule))

	_, err := registry.Deactivate(context.Background(), testActor, rule.ID, "too noisy")
	assert.ErrorIs(t, err, ErrRuleNotActive)

	now := time.Now().UTC()
	rule.LastTested = &now
	_, err = registry.Activate(context.Background(), testActor, rule.ID)
	require.NoError(t, err)

	deactivated, err := registry.Deactivate(context.Background(), testActor, rule.ID, "too noisy")
	require.NoError(t, err)
	assert.Equal(t, models.RuleStatusInactive, deactivated.Status)
	assert.Equal(t, "rule_deactivated", sink.lastEvent())
}

func TestUpdateThresholdsBumpsVersion(t *testing.T) {
	store := newFakeRuleStore()
	sink := &fakeSink{}
	registry := newTestRegistry(store, nil, nil, nil, sink)

	rule := &models.Rule{
		RuleCode:       "THR-001",
		Thresholds:     models.FloatMap{"amount": 1_000_000},
		TuningRequired: true,
	}
	require.NoError(t, registry.Create(context.Background(), testActor, rule))

	updated, err := registry.UpdateThresholds(context.Background(), testActor, rule.ID,
		models.FloatMap{"amount": 2_000_000}, "reduce false positives")
	require.NoError(t, err)

	assert.Equal(t, "1.1", updated.Version)
	assert.Equal(t, 2_000_000.0, updated.Thresholds["amount"])
	assert.False(t, updated.TuningRequired)

	require.Len(t, sink.entries, 2)
	entry := sink.entries[1]
	assert.Equal(t, "rule_thresholds_updated", entry.EventType)
	assert.Contains(t, entry.ChangedFields, "thresholds")
	assert.NotNil(t, entry.OldValues)
	assert.NotNil(t, entry.NewValues)
}

func TestBumpMinorVersion(t *testing.T) {
	assert.Equal(t, "1.1", bumpMinorVersion("1.0"))
	assert.Equal(t, "2.4", bumpMinorVersion("2.3"))
	assert.Equal(t, "2.10", bumpMinorVersion("2.9"))
	assert.Equal(t, "1.1", bumpMinorVersion(""))
	assert.Equal(t, "1.1", bumpMinorVersion("garbage"))
	assert.Equal(t, "1.1", bumpMinorVersion("1.2.3"))
}

func TestPerformanceFlagsNoisyRule(t *testing.T) {
	store := newFakeRuleStore()
	stats := &fakeAlertStats{stats: &repositories.RuleAlertStats{
		Total: 100, FalsePositives: 80, Escalated: 15, Resolved: 90,
	}}
	sink := &fakeSink{}
	registry := newTestRegistry(store, nil, nil, stats, sink)

	rule := &models.Rule{RuleCode: "PERF-001"}
	require.NoError(t, registry.Create(context.Background(), testActor, rule))

	report, err := registry.Performance(context.Background(), testActor, rule.ID, 30)
	require.NoError(t, err)

	assert.Equal(t, 100, report.AlertsGenerated)
	assert.Equal(t, 80.0, report.FalsePositiveRate)
	assert.Equal(t, 15.0, report.EscalationRate)
	assert.Equal(t, 90.0, report.ResolutionRate)
	assert.True(t, report.TuningRequired)

	assert.True(t, rule.TuningRequired)
	assert.Equal(t, 80.0, rule.FalsePositiveRate)
	assert.Equal(t, "rule_performance_reviewed", sink.lastEvent())
}

func TestPerformanceFlagsLowEscalation(t *testing.T) {
	store := newFakeRuleStore()
	stats := &fakeAlertStats{stats: &repositories.RuleAlertStats{
		Total: 50, FalsePositives: 10, Escalated: 2, Resolved: 40,
	}}
	registry := newTestRegistry(store, nil, nil, stats, &fakeSink{})

	rule := &models.Rule{RuleCode: "PERF-002"}
	require.NoError(t, registry.Create(context.Background(), testActor, rule))

	report, err := registry.Performance(context.Background(), testActor, rule.ID, 30)
	require.NoError(t, err)

	assert.Equal(t, 20.0, report.FalsePositiveRate)
	assert.Equal(t, 4.0, report.EscalationRate)
	assert.True(t, report.TuningRequired)
}

func TestPerformanceNoAlerts(t *testing.T) {
	store := newFakeRuleStore()
	sink := &fakeSink{}
	registry := newTestRegistry(store, nil, nil, nil, sink)

	rule := &models.Rule{RuleCode: "PERF-003", FalsePositiveRate: 35.0}
	require.NoError(t, registry.Create(context.Background(), testActor, rule))
	updatesBefore := store.updates

	report, err := registry.Performance(context.Background(), testActor, rule.ID, 30)
	require.NoError(t, err)

	assert.Zero(t, report.AlertsGenerated)
	assert.Zero(t, report.FalsePositiveRate)
	assert.Zero(t, report.EscalationRate)
	// A rule that escalated nothing in the window needs tuning, even when
	// the reason is that it never fired at all
	assert.True(t, report.TuningRequired)

	assert.True(t, rule.TuningRequired)
	assert.Equal(t, updatesBefore+1, store.updates)
	// The back-test figure survives a silent window
	assert.Equal(t, 35.0, rule.FalsePositiveRate)
	assert.Equal(t, "rule_performance_reviewed", sink.lastEvent())
}

func TestRegistryTestPersistsResults(t *testing.T) {
	customerID := uuid.New()
	customer := &models.Customer{ID: customerID, CustomerID: "CUST-100", RiskCategory: models.RiskCategoryLow}

	// Three transactions days apart so each evaluates against an empty window
	base := time.Now().UTC().AddDate(0, 0, -20)
	history := &fakeHistory{txns: []*models.Transaction{
		{CustomerID: customerID, Amount: 2_000_100, TransactionDate: base, IsSuspicious: true},
		{CustomerID: customerID, Amount: 1_500_100, TransactionDate: base.AddDate(0, 0, 2)},
		{CustomerID: customerID, Amount: 500_000, TransactionDate: base.AddDate(0, 0, 4)},
	}}
	customers := &fakeCustomers{customers: map[uuid.UUID]*models.Customer{customerID: customer}}

	store := newFakeRuleStore()
	sink := &fakeSink{}
	registry := newTestRegistry(store, history, customers, nil, sink)

	rule := &models.Rule{
		RuleCode:   "BT-001",
		Conditions: models.RuleConditions{AmountThreshold: true},
		Thresholds: models.FloatMap{},
		RiskWeight: 1.0,
	}
	require.NoError(t, registry.Create(context.Background(), testActor, rule))

	result, err := registry.Test(context.Background(), testActor, rule.ID, 30)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TransactionsEvaluated)
	assert.Equal(t, 2, result.Triggers)
	assert.Equal(t, 1, result.TruePositives)
	assert.Equal(t, 1, result.FalsePositives)
	assert.InDelta(t, 2.0/3.0, result.TriggerRate, 1e-9)
	assert.Equal(t, 0.5, result.FalsePositiveRate)
	assert.Equal(t, 0.5, result.Precision)
	assert.Equal(t, 0.25, result.Effectiveness)

	require.NotNil(t, rule.LastTested)
	assert.Equal(t, 50.0, rule.FalsePositiveRate)
	assert.Equal(t, 25.0, rule.EffectivenessScore)
	assert.NotNil(t, rule.TestResults)
	assert.Equal(t, "rule_tested", sink.lastEvent())
}

func TestBacktestSegmentScope(t *testing.T) {
	customerID := uuid.New()
	customer := &models.Customer{ID: customerID, CustomerID: "CUST-200", RiskCategory: models.RiskCategoryLow}

	history := &fakeHistory{txns: []*models.Transaction{
		{CustomerID: customerID, Amount: 2_000_000, TransactionDate: time.Now().UTC().AddDate(0, 0, -5)},
	}}
	customers := &fakeCustomers{customers: map[uuid.UUID]*models.Customer{customerID: customer}}
	backtester := NewBacktester(history, customers)

	rule := &models.Rule{
		RuleCode:         "SEG-001",
		Conditions:       models.RuleConditions{AmountThreshold: true},
		Thresholds:       models.FloatMap{},
		RiskWeight:       1.0,
		CustomerSegments: []string{models.RiskCategoryHigh},
	}

	result, err := backtester.Run(context.Background(), rule, 30)
	require.NoError(t, err)

	// Low-risk customer is outside the rule's segment scope
	assert.Zero(t, result.TransactionsEvaluated)
	assert.Zero(t, result.Triggers)
}

func TestBacktestActivityBacksOutCurrentRow(t *testing.T) {
	customerID := uuid.New()
	now := time.Now().UTC()

	current := &models.Transaction{CustomerID: customerID, Amount: 4_900_000, TransactionDate: now}
	prior := &models.Transaction{CustomerID: customerID, Amount: 4_800_000, TransactionDate: now.Add(-1 * time.Hour)}

	history := &fakeHistory{txns: []*models.Transaction{prior, current}}
	backtester := NewBacktester(history, &fakeCustomers{})

	activity, err := backtester.activityAt(context.Background(), current)
	require.NoError(t, err)

	// The stored row itself is removed from every window aggregate
	assert.Equal(t, 1, activity.Count24h)
	assert.Equal(t, 4_800_000.0, activity.Total24h)
	assert.Equal(t, 1, activity.NearThresholdCount)
	assert.Equal(t, 4_800_000.0, activity.NearThresholdTotal)
	assert.Equal(t, 4_800_000.0, activity.AverageAmount30d)
}

func TestBacktestAverageNeedsTwoPriorRows(t *testing.T) {
	customerID := uuid.New()
	now := time.Now().UTC()

	only := &models.Transaction{CustomerID: customerID, Amount: 600_000, TransactionDate: now}
	history := &fakeHistory{txns: []*models.Transaction{only}}
	backtester := NewBacktester(history, &fakeCustomers{})

	activity, err := backtester.activityAt(context.Background(), only)
	require.NoError(t, err)

	assert.Zero(t, activity.Count24h)
	assert.Zero(t, activity.AverageAmount30d)
}

func TestSeedStandardRulesIdempotent(t *testing.T) {
	store := newFakeRuleStore()
	registry := newTestRegistry(store, nil, nil, nil, &fakeSink{})

	require.NoError(t, registry.SeedStandardRules(context.Background()))
	assert.Len(t, store.rules, 4)

	// Second run hits duplicate codes and leaves the existing rules alone
	require.NoError(t, registry.SeedStandardRules(context.Background()))
	assert.Len(t, store.rules, 4)

	for _, rule := range store.rules {
		assert.Equal(t, models.RuleStatusDraft, rule.Status)
		assert.Equal(t, "1.0", rule.Version)
		assert.Equal(t, "system", rule.CreatedBy)
	}
}
