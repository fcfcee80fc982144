package monitoring

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodetect/aml-engine/configs"
	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
	"github.com/prodetect/aml-engine/internal/rules"
)

type fakeCustomerSource struct {
	customer *models.Customer
}

func (s *fakeCustomerSource) GetByCustomerID(_ context.Context, customerID string) (*models.Customer, error) {
	if s.customer == nil || s.customer.CustomerID != customerID {
		return nil, repositories.ErrCustomerNotFound
	}
	return s.customer, nil
}

type fakeActivitySource struct {
	count24   int
	total24   float64
	nearCount int
	nearTotal float64
	avg30     float64
}

func (s *fakeActivitySource) WindowStats(_ context.Context, _ uuid.UUID, _, _ time.Time) (int, float64, error) {
	return s.count24, s.total24, nil
}

func (s *fakeActivitySource) NearThresholdStats(_ context.Context, _ uuid.UUID, _, _ float64, _, _ time.Time) (int, float64, error) {
	return s.nearCount, s.nearTotal, nil
}

func (s *fakeActivitySource) AverageAmount(_ context.Context, _ uuid.UUID, _, _ time.Time) (float64, error) {
	return s.avg30, nil
}

type fakeRuleSource struct {
	active []*models.Rule
}

func (s *fakeRuleSource) ListActive(_ context.Context, _ string) ([]*models.Rule, error) {
	return s.active, nil
}

type fakeCommitter struct {
	txn      *models.Transaction
	alerts   []*models.Alert
	counters map[uuid.UUID]repositories.RuleCounterBump
	entry    *models.AuditLog
	commits  int
}

func (c *fakeCommitter) CommitEvaluation(_ context.Context, txn *models.Transaction, alerts []*models.Alert, counters map[uuid.UUID]repositories.RuleCounterBump, entry *models.AuditLog) error {
	c.txn = txn
	c.alerts = alerts
	c.counters = counters
	c.entry = entry
	c.commits++
	return nil
}

func complianceConfig() configs.ComplianceConfig {
	return configs.ComplianceConfig{
		HomeCountry:         "NG",
		CTRThreshold:        5_000_000,
		AuditRetentionYears: 5,
	}
}

func activeRule(code string, conditions models.RuleConditions, weight float64) *models.Rule {
	return &models.Rule{
		ID:            uuid.New(),
		RuleCode:      code,
		RuleName:      code,
		RuleType:      models.RuleTypeTransactionMonitoring,
		Status:        models.RuleStatusActive,
		Conditions:    conditions,
		Thresholds:    models.FloatMap{},
		RiskWeight:    weight,
		SeverityLevel: models.SeverityHigh,
		AlertPriority: 2,
	}
}

func engineCustomer() *models.Customer {
	return &models.Customer{
		ID:           uuid.New(),
		CustomerID:   "CUST-001",
		RiskCategory: models.RiskCategoryLow,
	}
}

func newTestEngine(customer *models.Customer, activity *fakeActivitySource, ruleSet []*models.Rule, committer *fakeCommitter) *Engine {
	snapshot := NewSnapshotProvider(&fakeRuleSource{active: ruleSet}, nil)
	return NewEngine(&fakeCustomerSource{customer: customer}, activity, snapshot, committer, complianceConfig())
}

func baseEvent(amount float64) *models.TransactionEvent {
	return &models.TransactionEvent{
		CustomerID:        "CUST-001",
		AccountNumber:     "0123456789",
		Amount:            amount,
		Currency:          "NGN",
		TransactionType:   "transfer",
		TransactionMethod: "electronic",
		Channel:           "mobile",
		TransactionDate:   time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC),
	}
}

func TestProcessTransactionVelocityAlert(t *testing.T) {
	rule := activeRule("CBN-VEL-001", models.RuleConditions{VelocityCheck: true}, 1.0)
	committer := &fakeCommitter{}
	engine := newTestEngine(engineCustomer(), &fakeActivitySource{count24: 50, total24: 900_000}, []*models.Rule{rule}, committer)

	txn, alerts, err := engine.ProcessTransaction(context.Background(), audit.SystemActor, baseEvent(10_500))
	require.NoError(t, err)

	assert.Equal(t, 15.0, txn.RiskScore)
	assert.False(t, txn.IsSuspicious)
	assert.True(t, txn.VelocityFlag)
	assert.True(t, txn.RiskFlags[rules.ConditionVelocityCheck])

	require.Len(t, alerts, 1)
	alert := alerts[0]
	assert.Equal(t, 15.0, alert.RiskScore)
	assert.Equal(t, models.AlertStatusOpen, alert.Status)
	assert.Equal(t, &rule.ID, alert.RuleID)
	assert.Contains(t, alert.TriggeredRules, "CBN-VEL-001")

	require.Contains(t, committer.counters, rule.ID)
	assert.Equal(t, repositories.RuleCounterBump{Triggers: 1, Alerts: 1}, committer.counters[rule.ID])
	assert.Equal(t, 1, committer.commits)
}

func TestProcessTransactionStructuring(t *testing.T) {
	rule := activeRule("CBN-VEL-001", models.RuleConditions{StructuringDetection: true}, 1.0)
	committer := &fakeCommitter{}
	activity := &fakeActivitySource{nearCount: 2, nearTotal: 9_700_000}
	engine := newTestEngine(engineCustomer(), activity, []*models.Rule{rule}, committer)

	txn, alerts, err := engine.ProcessTransaction(context.Background(), audit.SystemActor, baseEvent(4_900_000))
	require.NoError(t, err)

	assert.Equal(t, 25.0, txn.RiskScore)
	assert.True(t, txn.StructuringIndicator)
	assert.False(t, txn.AboveCTRThreshold)
	require.Len(t, alerts, 1)
}

func TestProcessTransactionSuspicious(t *testing.T) {
	pepRule := activeRule("CBN-PEP-001", models.RuleConditions{CustomerRisk: true, PEPMonitoring: true}, 2.0)
	cbRule := activeRule("CBN-CB-001", models.RuleConditions{CrossBorder: true, HighRiskCountry: true}, 1.0)

	customer := engineCustomer()
	customer.RiskCategory = models.RiskCategoryHigh
	customer.PEPStatus = true

	committer := &fakeCommitter{}
	engine := newTestEngine(customer, &fakeActivitySource{}, []*models.Rule{pepRule, cbRule}, committer)

	event := baseEvent(2_000_500)
	event.BeneficiaryCountry = "IR"
	event.BeneficiaryName = "Acme Trading FZE"

	txn, alerts, err := engine.ProcessTransaction(context.Background(), audit.SystemActor, event)
	require.NoError(t, err)

	// PEP rule contributes 2x10 + 2x15, cross-border sanctioned 1x10 + 1x20
	assert.Equal(t, 80.0, txn.RiskScore)
	assert.True(t, txn.IsSuspicious)
	assert.True(t, txn.CrossBorder)
	require.Len(t, alerts, 2)

	require.NotNil(t, committer.entry)
	assert.Equal(t, "transaction_processed", committer.entry.EventType)
	assert.True(t, committer.entry.RegulatorySignificance)
	assert.Equal(t, 80.0, committer.entry.RiskScore)
}

func TestProcessTransactionDerivedFlags(t *testing.T) {
	committer := &fakeCommitter{}
	engine := newTestEngine(engineCustomer(), &fakeActivitySource{}, nil, committer)

	event := baseEvent(5_000_000)
	event.TransactionType = "cash_deposit"
	event.TransactionMethod = "cash"
	event.BeneficiaryCountry = "GB"

	txn, _, err := engine.ProcessTransaction(context.Background(), audit.SystemActor, event)
	require.NoError(t, err)

	// Reporting threshold is inclusive
	assert.True(t, txn.AboveCTRThreshold)
	assert.True(t, txn.CrossBorder)
	assert.True(t, txn.CashTransaction)
	assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
	require.NotNil(t, txn.ProcessingDate)
}

func TestProcessTransactionDomesticBelowThreshold(t *testing.T) {
	committer := &fakeCommitter{}
	engine := newTestEngine(engineCustomer(), &fakeActivitySource{}, nil, committer)

	event := baseEvent(4_999_999.99)
	event.BeneficiaryCountry = "NG"

	txn, alerts, err := engine.ProcessTransaction(context.Background(), audit.SystemActor, event)
	require.NoError(t, err)

	assert.False(t, txn.AboveCTRThreshold)
	assert.False(t, txn.CrossBorder)
	assert.False(t, txn.CashTransaction)
	assert.Empty(t, alerts)
	assert.Empty(t, committer.counters)
	// Even clean transactions leave an audit trail
	assert.Equal(t, 1, committer.commits)
	assert.False(t, committer.entry.RegulatorySignificance)
}

func TestProcessTransactionPatternAlert(t *testing.T) {
	committer := &fakeCommitter{}
	engine := newTestEngine(engineCustomer(), &fakeActivitySource{avg30: 50_000}, nil, committer)

	txn, alerts, err := engine.ProcessTransaction(context.Background(), audit.SystemActor, baseEvent(600_500))
	require.NoError(t, err)

	assert.Equal(t, 15.0, txn.RiskScore)
	assert.True(t, txn.UnusualPatternFlag)
	assert.True(t, txn.RiskFlags[rules.PatternUnusualAmount])

	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].RiskFactors, rules.PatternUnusualAmount)
	assert.Nil(t, alerts[0].RuleID)
	// Pattern detectors are not rules, so no counters get bumped
	assert.Empty(t, committer.counters)
}

func TestProcessTransactionIdentifiers(t *testing.T) {
	rule := activeRule("CBN-CASH-001", models.RuleConditions{CashMonitoring: true}, 1.5)
	committer := &fakeCommitter{}
	engine := newTestEngine(engineCustomer(), &fakeActivitySource{}, []*models.Rule{rule}, committer)

	event := baseEvent(750_000)
	event.TransactionMethod = "cash"

	txn, alerts, err := engine.ProcessTransaction(context.Background(), audit.SystemActor, event)
	require.NoError(t, err)

	datePart := time.Now().UTC().Format("20060102")
	assert.True(t, strings.HasPrefix(txn.ReferenceNumber, "REF-"+datePart+"-"))
	assert.Len(t, txn.ReferenceNumber, len("REF--")+len(datePart)+8)

	require.Len(t, alerts, 1)
	assert.True(t, strings.HasPrefix(alerts[0].AlertID, "TXN-"+datePart+"-"))
}

func TestProcessTransactionUnknownCustomer(t *testing.T) {
	committer := &fakeCommitter{}
	engine := newTestEngine(engineCustomer(), &fakeActivitySource{}, nil, committer)

	event := baseEvent(10_000)
	event.CustomerID = "CUST-404"

	_, _, err := engine.ProcessTransaction(context.Background(), audit.SystemActor, event)
	assert.ErrorIs(t, err, repositories.ErrCustomerNotFound)
	assert.Zero(t, committer.commits)
}
