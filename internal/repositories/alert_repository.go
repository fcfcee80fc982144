package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/prodetect/aml-engine/internal/models"
)

var ErrAlertNotFound = errors.New("alert not found")

const alertColumns = `
	id, alert_id, customer_id, transaction_id, rule_id, title, description,
	severity, priority, risk_score, risk_factors, triggered_rules, threshold_values,
	status, assigned_to, investigation_notes, case_id, escalation_level,
	triggered_at, acknowledged_at, investigated_at, resolved_at,
	resolution, resolved_by, resolution_notes, sla_deadline, sla_breached,
	regulatory_significance, detection_method, created_at, updated_at`

// AlertRepository handles alert database operations
type AlertRepository struct {
	db *Database
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *Database) *AlertRepository {
	return &AlertRepository{db: db}
}

// insertTx inserts an alert within an existing database transaction.
// Monitoring commits alerts atomically with the transaction row.
func (r *AlertRepository) insertTx(ctx context.Context, tx pgx.Tx, a *models.Alert) error {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
	`

	thresholdBytes, _ := a.ThresholdValues.Value()

	_, err := tx.Exec(ctx, query,
		a.ID, a.AlertID, a.CustomerID, a.TransactionID, a.RuleID, a.Title, a.Description,
		a.Severity, a.Priority, a.RiskScore, pq.Array(a.RiskFactors), pq.Array(a.TriggeredRules), thresholdBytes,
		a.Status, a.AssignedTo, pq.Array(a.InvestigationNotes), a.CaseID, a.EscalationLevel,
		a.TriggeredAt, a.AcknowledgedAt, a.InvestigatedAt, a.ResolvedAt,
		a.Resolution, a.ResolvedBy, a.ResolutionNotes, a.SLADeadline, a.SLABreached,
		a.RegulatorySignificance, a.DetectionMethod, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// Create inserts a standalone alert outside the monitoring commit path
func (r *AlertRepository) Create(ctx context.Context, a *models.Alert) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return r.insertTx(ctx, tx, a)
	})
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	row := r.db.Pool.QueryRow(ctx, query, id)
	return scanAlertRow(row)
}

// GetByIDs retrieves a set of alerts by primary key
func (r *AlertRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Alert, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE id = ANY($1)
		ORDER BY triggered_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// Update writes back an alert with an optimistic-concurrency check on updated_at
func (r *AlertRepository) Update(ctx context.Context, a *models.Alert) error {
	query := `
		UPDATE alerts SET
			severity = $3, priority = $4, status = $5, assigned_to = $6,
			investigation_notes = $7, case_id = $8, escalation_level = $9,
			acknowledged_at = $10, investigated_at = $11, resolved_at = $12,
			resolution = $13, resolved_by = $14, resolution_notes = $15,
			sla_breached = $16, updated_at = $17
		WHERE id = $1 AND updated_at = $2
	`

	expected := a.UpdatedAt
	a.UpdatedAt = time.Now().UTC()

	result, err := r.db.Pool.Exec(ctx, query,
		a.ID, expected,
		a.Severity, a.Priority, a.Status, a.AssignedTo,
		pq.Array(a.InvestigationNotes), a.CaseID, a.EscalationLevel,
		a.AcknowledgedAt, a.InvestigatedAt, a.ResolvedAt,
		a.Resolution, a.ResolvedBy, a.ResolutionNotes,
		a.SLABreached, a.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM alerts WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAlertNotFound
		}
		return ErrStaleWrite
	}

	return nil
}

// ListOpen retrieves open alerts ordered by priority then recency
func (r *AlertRepository) ListOpen(ctx context.Context, limit int) ([]*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE status = $1
		ORDER BY priority ASC, triggered_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, models.AlertStatusOpen, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListByCase retrieves all alerts linked to a case
func (r *AlertRepository) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE case_id = $1
		ORDER BY triggered_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// RuleAlertStats aggregates alert outcomes for rule performance review
type RuleAlertStats struct {
	Total          int
	FalsePositives int
	Escalated      int
	Resolved       int
}

// StatsByRule aggregates outcomes of alerts a rule generated since a cutoff
func (r *AlertRepository) StatsByRule(ctx context.Context, ruleID uuid.UUID, since time.Time) (*RuleAlertStats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = $3),
			COUNT(*) FILTER (WHERE status = $4 OR case_id IS NOT NULL),
			COUNT(*) FILTER (WHERE resolved_at IS NOT NULL)
		FROM alerts
		WHERE rule_id = $1 AND triggered_at >= $2
	`

	stats := &RuleAlertStats{}
	err := r.db.Pool.QueryRow(ctx, query, ruleID, since,
		models.AlertStatusFalsePositive, models.AlertStatusEscalated,
	).Scan(&stats.Total, &stats.FalsePositives, &stats.Escalated, &stats.Resolved)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// CountByCustomer counts a customer's alerts since a cutoff, used by risk
// reassessment.
func (r *AlertRepository) CountByCustomer(ctx context.Context, customerID uuid.UUID, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM alerts WHERE customer_id = $1 AND triggered_at >= $2`

	var count int
	if err := r.db.Pool.QueryRow(ctx, query, customerID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanAlerts(rows pgx.Rows) ([]*models.Alert, error) {
	var alerts []*models.Alert
	for rows.Next() {
		a, err := scanAlertRow(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

func scanAlertRow(row pgx.Row) (*models.Alert, error) {
	a := &models.Alert{}
	var thresholdBytes []byte

	err := row.Scan(
		&a.ID, &a.AlertID, &a.CustomerID, &a.TransactionID, &a.RuleID, &a.Title, &a.Description,
		&a.Severity, &a.Priority, &a.RiskScore, pq.Array(&a.RiskFactors), pq.Array(&a.TriggeredRules), &thresholdBytes,
		&a.Status, &a.AssignedTo, pq.Array(&a.InvestigationNotes), &a.CaseID, &a.EscalationLevel,
		&a.TriggeredAt, &a.AcknowledgedAt, &a.InvestigatedAt, &a.ResolvedAt,
		&a.Resolution, &a.ResolvedBy, &a.ResolutionNotes, &a.SLADeadline, &a.SLABreached,
		&a.RegulatorySignificance, &a.DetectionMethod, &a.CreatedAt, &a.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}

	a.ThresholdValues.Scan(thresholdBytes)
	return a, nil
}
