package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/configs"
	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
	"github.com/prodetect/aml-engine/internal/rules"
)

// CustomerSource resolves the customer a transaction belongs to
type CustomerSource interface {
	GetByCustomerID(ctx context.Context, customerID string) (*models.Customer, error)
}

// ActivitySource supplies the rolling-window aggregates the detectors need
type ActivitySource interface {
	WindowStats(ctx context.Context, customerID uuid.UUID, since, until time.Time) (int, float64, error)
	NearThresholdStats(ctx context.Context, customerID uuid.UUID, lo, hi float64, since, until time.Time) (int, float64, error)
	AverageAmount(ctx context.Context, customerID uuid.UUID, since, until time.Time) (float64, error)
}

// Committer persists one evaluation outcome atomically
type Committer interface {
	CommitEvaluation(ctx context.Context, txn *models.Transaction, alerts []*models.Alert, counters map[uuid.UUID]repositories.RuleCounterBump, entry *models.AuditLog) error
}

// Engine evaluates incoming transactions against the active rule set,
// derives risk flags, and emits alerts.
type Engine struct {
	customers CustomerSource
	activity  ActivitySource
	snapshot  *SnapshotProvider
	committer Committer

	homeCountry    string
	ctrThreshold   float64
	retentionYears int
}

// NewEngine creates a monitoring engine
func NewEngine(customers CustomerSource, activity ActivitySource, snapshot *SnapshotProvider, committer Committer, cfg configs.ComplianceConfig) *Engine {
	return &Engine{
		customers:      customers,
		activity:       activity,
		snapshot:       snapshot,
		committer:      committer,
		homeCountry:    cfg.HomeCountry,
		ctrThreshold:   cfg.CTRThreshold,
		retentionYears: cfg.AuditRetentionYears,
	}
}

// ProcessTransaction persists an incoming transaction with system-derived
// fields and runs the monitoring pass. The transaction, its alerts, the
// rule counter bumps, and the audit record commit in one database
// transaction.
func (e *Engine) ProcessTransaction(ctx context.Context, actor audit.Actor, event *models.TransactionEvent) (*models.Transaction, []*models.Alert, error) {
	customer, err := e.customers.GetByCustomerID(ctx, event.CustomerID)
	if err != nil {
		return nil, nil, err
	}

	txn := e.buildTransaction(event, customer)

	activity, err := e.loadActivity(ctx, customer.ID, txn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load customer activity: %w", err)
	}

	ruleSet, err := e.snapshot.Snapshot(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load rule snapshot: %w", err)
	}

	var (
		total    float64
		alerts   []*models.Alert
		counters = make(map[uuid.UUID]repositories.RuleCounterBump)
	)

	for _, rule := range ruleSet {
		eval := rules.Evaluate(rule, txn, customer, activity)
		if !eval.Fired() {
			continue
		}

		total += eval.Contribution
		bump := repositories.RuleCounterBump{Triggers: 1}
		for _, name := range eval.Triggered {
			txn.RiskFlags[name] = true
		}
		if eval.AlertRequired {
			bump.Alerts = 1
			alerts = append(alerts, e.buildRuleAlert(rule, eval, txn, customer))
		}
		counters[rule.ID] = bump
	}

	for _, hit := range rules.DetectPatterns(txn, activity.AverageAmount30d) {
		total += hit.Contribution
		txn.RiskFlags[hit.Name] = true
		txn.UnusualPatternFlag = true
		if hit.AlertRequired {
			alerts = append(alerts, e.buildPatternAlert(hit, txn, customer))
		}
	}

	txn.RiskScore = rules.ClampScore(total)
	txn.IsSuspicious = txn.RiskScore >= rules.SuspiciousScoreFloor
	txn.AmountThresholdFlag = txn.RiskFlags[rules.ConditionAmountThreshold]
	txn.VelocityFlag = txn.RiskFlags[rules.ConditionVelocityCheck]
	txn.StructuringIndicator = txn.RiskFlags[rules.ConditionStructuring]

	for _, alert := range alerts {
		alert.RiskScore = txn.RiskScore
	}

	entry := e.auditEntry(actor, txn, len(alerts))

	if err := e.committer.CommitEvaluation(ctx, txn, alerts, counters, entry); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("reference", txn.ReferenceNumber).
		Str("customer_id", customer.CustomerID).
		Float64("risk_score", txn.RiskScore).
		Bool("suspicious", txn.IsSuspicious).
		Int("alerts", len(alerts)).
		Msg("Transaction processed")

	return txn, alerts, nil
}

func (e *Engine) buildTransaction(event *models.TransactionEvent, customer *models.Customer) *models.Transaction {
	now := time.Now().UTC()
	txnDate := event.TransactionDate
	if txnDate.IsZero() {
		txnDate = now
	}

	crossBorder := event.BeneficiaryCountry != "" && event.BeneficiaryCountry != e.homeCountry
	cash := event.TransactionMethod == "cash" || strings.HasPrefix(event.TransactionType, "cash")

	return &models.Transaction{
		ID:                 uuid.New(),
		ReferenceNumber:    fmt.Sprintf("REF-%s-%s", now.Format("20060102"), shortHex()),
		ExternalReference:  event.ExternalReference,
		TransactionType:    event.TransactionType,
		TransactionMethod:  event.TransactionMethod,
		Channel:            event.Channel,
		Currency:           event.Currency,
		Amount:             event.Amount,
		CustomerID:         customer.ID,
		AccountNumber:      event.AccountNumber,
		BeneficiaryName:    event.BeneficiaryName,
		BeneficiaryAccount: event.BeneficiaryAccount,
		BeneficiaryBank:    event.BeneficiaryBank,
		BeneficiaryCountry: event.BeneficiaryCountry,
		TransactionDate:    txnDate,
		ProcessingDate:     &now,
		Status:             models.TransactionStatusCompleted,
		RiskFlags:          models.BoolMap{},
		AboveCTRThreshold:  event.Amount >= e.ctrThreshold,
		CrossBorder:        crossBorder,
		CashTransaction:    cash,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (e *Engine) loadActivity(ctx context.Context, customerID uuid.UUID, txn *models.Transaction) (rules.Activity, error) {
	var activity rules.Activity
	until := txn.TransactionDate

	count, totalAmt, err := e.activity.WindowStats(ctx, customerID, until.Add(-24*time.Hour), until)
	if err != nil {
		return activity, err
	}
	activity.Count24h = count
	activity.Total24h = totalAmt

	lo := rules.StructuringLowFactor * rules.CTRThreshold
	hi := rules.StructuringHighFactor * rules.CTRThreshold
	nearCount, nearTotal, err := e.activity.NearThresholdStats(ctx, customerID, lo, hi, until.Add(-24*time.Hour), until)
	if err != nil {
		return activity, err
	}
	activity.NearThresholdCount = nearCount
	activity.NearThresholdTotal = nearTotal

	avg, err := e.activity.AverageAmount(ctx, customerID, until.AddDate(0, 0, -30), until)
	if err != nil {
		return activity, err
	}
	activity.AverageAmount30d = avg

	return activity, nil
}

func (e *Engine) buildRuleAlert(rule *models.Rule, eval rules.Evaluation, txn *models.Transaction, customer *models.Customer) *models.Alert {
	now := time.Now().UTC()
	ruleID := rule.ID

	return &models.Alert{
		ID:                     uuid.New(),
		AlertID:                fmt.Sprintf("TXN-%s-%s", now.Format("20060102"), shortHex()),
		CustomerID:             customer.ID,
		TransactionID:          &txn.ID,
		RuleID:                 &ruleID,
		Title:                  fmt.Sprintf("%s triggered", rule.RuleName),
		Description:            fmt.Sprintf("Rule %s triggered on transaction %s for customer %s", rule.RuleCode, txn.ReferenceNumber, customer.CustomerID),
		Severity:               rule.SeverityLevel,
		Priority:               rule.AlertPriority,
		RiskFactors:            eval.Triggered,
		TriggeredRules:         []string{rule.RuleCode},
		ThresholdValues:        eval.ThresholdValues,
		Status:                 models.AlertStatusOpen,
		EscalationLevel:        1,
		TriggeredAt:            now,
		RegulatorySignificance: true,
		DetectionMethod:        models.DetectionRuleBased,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func (e *Engine) buildPatternAlert(hit rules.PatternHit, txn *models.Transaction, customer *models.Customer) *models.Alert {
	now := time.Now().UTC()

	return &models.Alert{
		ID:                     uuid.New(),
		AlertID:                fmt.Sprintf("TXN-%s-%s", now.Format("20060102"), shortHex()),
		CustomerID:             customer.ID,
		TransactionID:          &txn.ID,
		Title:                  "Unusual transaction pattern detected",
		Description:            fmt.Sprintf("%s on transaction %s for customer %s", hit.Description, txn.ReferenceNumber, customer.CustomerID),
		Severity:               hit.Severity,
		Priority:               3,
		RiskFactors:            []string{hit.Name},
		ThresholdValues:        models.JSONB{"pattern": hit.Name, "amount": txn.Amount},
		Status:                 models.AlertStatusOpen,
		EscalationLevel:        1,
		TriggeredAt:            now,
		RegulatorySignificance: true,
		DetectionMethod:        models.DetectionRuleBased,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func (e *Engine) auditEntry(actor audit.Actor, txn *models.Transaction, alertCount int) *models.AuditLog {
	entry := audit.NewEntry(models.AuditCategoryTransactionMonitoring, "transaction_processed", audit.ActionProcess,
		actor, "transaction", txn.ID.String(),
		fmt.Sprintf("Processed transaction %s with risk score %.1f", txn.ReferenceNumber, txn.RiskScore))
	entry.Details = models.JSONB{
		"reference_number": txn.ReferenceNumber,
		"amount":           txn.Amount,
		"risk_score":       txn.RiskScore,
		"is_suspicious":    txn.IsSuspicious,
		"alerts_generated": alertCount,
	}
	entry.RiskScore = txn.RiskScore
	entry.RegulatorySignificance = txn.IsSuspicious
	audit.Finalize(entry, e.retentionYears)
	return entry
}

func shortHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
