package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prodetect/aml-engine/internal/models"
)

// RuleCounterBump carries the per-rule counter increments from one evaluation
type RuleCounterBump struct {
	Triggers int
	Alerts   int
}

// MonitoringStore commits the outcome of a transaction evaluation. The
// scored transaction, its alerts, the rule counter bumps, and the audit
// entry land in a single database transaction so a crash never leaves a
// scored transaction without its alerts.
type MonitoringStore struct {
	db           *Database
	transactions *TransactionRepository
	alerts       *AlertRepository
	rules        *RuleRepository
}

// NewMonitoringStore creates a monitoring commit store
func NewMonitoringStore(db *Database, transactions *TransactionRepository, alerts *AlertRepository, rules *RuleRepository) *MonitoringStore {
	return &MonitoringStore{db: db, transactions: transactions, alerts: alerts, rules: rules}
}

// CommitEvaluation persists an evaluated transaction atomically
func (s *MonitoringStore) CommitEvaluation(ctx context.Context, txn *models.Transaction, alerts []*models.Alert, counters map[uuid.UUID]RuleCounterBump, entry *models.AuditLog) error {
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := s.transactions.insertTx(ctx, tx, txn); err != nil {
			return err
		}

		for _, alert := range alerts {
			if err := s.alerts.insertTx(ctx, tx, alert); err != nil {
				return err
			}
		}

		for ruleID, bump := range counters {
			if err := s.rules.bumpCountersTx(ctx, tx, ruleID, bump.Triggers, bump.Alerts); err != nil {
				return err
			}
		}

		if entry != nil {
			if err := insertAuditTx(ctx, tx, entry); err != nil {
				return err
			}
		}

		return nil
	})
}
