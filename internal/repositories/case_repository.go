package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/prodetect/aml-engine/internal/models"
)

var ErrCaseNotFound = errors.New("case not found")

const caseColumns = `
	id, case_number, case_type, category, title, description, priority, risk_level,
	customer_id, related_customers, alert_ids, transaction_ids,
	status, investigation_stage, assigned_to, reviewer, approver, team_members,
	sla_deadline, sla_extended, sla_breached,
	evidence_collected, interviews_conducted, external_inquiries, investigation_notes,
	findings, decision, recommended_actions,
	str_required, str_filed, str_reference, str_filing_date, ctr_required, ctr_filed,
	qa_reviewed, qa_approved,
	investigation_started_at, review_started_at, closed_at, closed_by, closure_reason,
	created_by, created_at, updated_at`

// CaseRepository handles investigation case database operations
type CaseRepository struct {
	db *Database
}

// NewCaseRepository creates a new case repository
func NewCaseRepository(db *Database) *CaseRepository {
	return &CaseRepository{db: db}
}

// CreateWithAlertLinks creates a case, assigns its month-scoped case number,
// links the source alerts to it, and records the audit entry, all in one
// database transaction.
func (r *CaseRepository) CreateWithAlertLinks(ctx context.Context, kase *models.Case, alertIDs []uuid.UUID, entry *models.AuditLog) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		prefix := fmt.Sprintf("CASE-%s-", kase.CreatedAt.Format("200601"))
		number, err := nextMonthlySequence(ctx, tx, "cases", "case_number", prefix)
		if err != nil {
			return err
		}
		kase.CaseNumber = number

		if err := r.insertTx(ctx, tx, kase); err != nil {
			return err
		}

		if len(alertIDs) > 0 {
			linkQuery := `
				UPDATE alerts
				SET case_id = $1, status = $2, escalation_level = escalation_level + 1,
					updated_at = $3
				WHERE id = ANY($4)
			`
			if _, err := tx.Exec(ctx, linkQuery, kase.ID, models.AlertStatusEscalated, kase.UpdatedAt, alertIDs); err != nil {
				return fmt.Errorf("failed to link alerts to case: %w", err)
			}
		}

		if entry != nil {
			entry.ResourceID = kase.ID.String()
			if err := insertAuditTx(ctx, tx, entry); err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *CaseRepository) insertTx(ctx context.Context, tx pgx.Tx, c *models.Case) error {
	query := `
		INSERT INTO cases (` + caseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
			$31, $32, $33, $34, $35, $36, $37, $38, $39, $40,
			$41, $42, $43, $44)
	`

	evidenceBytes, _ := c.EvidenceCollected.Value()
	interviewsBytes, _ := c.InterviewsConducted.Value()
	inquiriesBytes, _ := c.ExternalInquiries.Value()

	_, err := tx.Exec(ctx, query,
		c.ID, c.CaseNumber, c.CaseType, c.Category, c.Title, c.Description, c.Priority, c.RiskLevel,
		c.CustomerID, pq.Array(c.RelatedCustomers), pq.Array(c.AlertIDs), pq.Array(c.TransactionIDs),
		c.Status, c.InvestigationStage, c.AssignedTo, c.Reviewer, c.Approver, pq.Array(c.TeamMembers),
		c.SLADeadline, c.SLAExtended, c.SLABreached,
		evidenceBytes, interviewsBytes, inquiriesBytes, pq.Array(c.InvestigationNotes),
		c.Findings, c.Decision, pq.Array(c.RecommendedActions),
		c.STRRequired, c.STRFiled, c.STRReference, c.STRFilingDate, c.CTRRequired, c.CTRFiled,
		c.QAReviewed, c.QAApproved,
		c.InvestigationStartedAt, c.ReviewStartedAt, c.ClosedAt, c.ClosedBy, c.ClosureReason,
		c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

// GetByID retrieves a case by ID
func (r *CaseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = $1`

	row := r.db.Pool.QueryRow(ctx, query, id)
	return scanCaseRow(row)
}

// Update writes back a case with an optimistic-concurrency check on updated_at
func (r *CaseRepository) Update(ctx context.Context, c *models.Case) error {
	query := `
		UPDATE cases SET
			priority = $3, risk_level = $4, status = $5, investigation_stage = $6,
			assigned_to = $7, reviewer = $8, approver = $9, team_members = $10,
			sla_deadline = $11, sla_extended = $12, sla_breached = $13,
			evidence_collected = $14, interviews_conducted = $15, external_inquiries = $16,
			investigation_notes = $17, findings = $18, decision = $19, recommended_actions = $20,
			str_required = $21, str_filed = $22, str_reference = $23, str_filing_date = $24,
			ctr_required = $25, ctr_filed = $26, qa_reviewed = $27, qa_approved = $28,
			investigation_started_at = $29, review_started_at = $30,
			closed_at = $31, closed_by = $32, closure_reason = $33, updated_at = $34
		WHERE id = $1 AND updated_at = $2
	`

	expected := c.UpdatedAt
	c.UpdatedAt = time.Now().UTC()

	evidenceBytes, _ := c.EvidenceCollected.Value()
	interviewsBytes, _ := c.InterviewsConducted.Value()
	inquiriesBytes, _ := c.ExternalInquiries.Value()

	result, err := r.db.Pool.Exec(ctx, query,
		c.ID, expected,
		c.Priority, c.RiskLevel, c.Status, c.InvestigationStage,
		c.AssignedTo, c.Reviewer, c.Approver, pq.Array(c.TeamMembers),
		c.SLADeadline, c.SLAExtended, c.SLABreached,
		evidenceBytes, interviewsBytes, inquiriesBytes,
		pq.Array(c.InvestigationNotes), c.Findings, c.Decision, pq.Array(c.RecommendedActions),
		c.STRRequired, c.STRFiled, c.STRReference, c.STRFilingDate,
		c.CTRRequired, c.CTRFiled, c.QAReviewed, c.QAApproved,
		c.InvestigationStartedAt, c.ReviewStartedAt,
		c.ClosedAt, c.ClosedBy, c.ClosureReason, c.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrCaseNotFound
		}
		return ErrStaleWrite
	}

	return nil
}

// CloseWithAlertFanout closes a case and propagates the closure to every
// linked alert that is still open, atomically with the audit entry.
func (r *CaseRepository) CloseWithAlertFanout(ctx context.Context, c *models.Case, entry *models.AuditLog) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE cases SET
				status = $3, decision = $4, findings = $5, recommended_actions = $6,
				closed_at = $7, closed_by = $8, closure_reason = $9,
				str_required = $10, updated_at = $11
			WHERE id = $1 AND updated_at = $2
		`

		expected := c.UpdatedAt
		c.UpdatedAt = time.Now().UTC()

		result, err := tx.Exec(ctx, query,
			c.ID, expected,
			c.Status, c.Decision, c.Findings, pq.Array(c.RecommendedActions),
			c.ClosedAt, c.ClosedBy, c.ClosureReason,
			c.STRRequired, c.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM cases WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrCaseNotFound
			}
			return ErrStaleWrite
		}

		fanout := `
			UPDATE alerts
			SET status = $2, resolution = $3, resolution_notes = $4,
				resolved_at = $5, resolved_by = $6, updated_at = $5
			WHERE case_id = $1 AND status <> $2
		`
		if _, err := tx.Exec(ctx, fanout, c.ID, models.AlertStatusClosed, c.Decision, c.Findings, c.UpdatedAt, c.ClosedBy); err != nil {
			return fmt.Errorf("failed to close linked alerts: %w", err)
		}

		if entry != nil {
			if err := insertAuditTx(ctx, tx, entry); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetAssigned retrieves cases assigned to an investigator, optionally
// filtered by status.
func (r *CaseRepository) GetAssigned(ctx context.Context, assignee, status string, limit int) ([]*models.Case, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE assigned_to = $1 AND ($2 = '' OR status = $2)
		ORDER BY priority ASC, created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, assignee, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCases(rows)
}

// OverdueUnclosed retrieves unclosed cases whose SLA deadline has passed and
// that are not yet flagged as breached.
func (r *CaseRepository) OverdueUnclosed(ctx context.Context, now time.Time) ([]*models.Case, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE status <> $1
		AND sla_deadline IS NOT NULL AND sla_deadline < $2
		AND sla_breached = false
		ORDER BY sla_deadline ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, models.CaseStatusClosed, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanCases(rows)
}

// List retrieves cases filtered by status with pagination
func (r *CaseRepository) List(ctx context.Context, status string, page, pageSize int) ([]*models.Case, int, error) {
	offset := (page - 1) * pageSize

	var total int
	countQuery := `SELECT COUNT(*) FROM cases WHERE ($1 = '' OR status = $1)`
	if err := r.db.Pool.QueryRow(ctx, countQuery, status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + caseColumns + `
		FROM cases
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, status, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	cases, err := scanCases(rows)
	if err != nil {
		return nil, 0, err
	}
	return cases, total, nil
}

func scanCases(rows pgx.Rows) ([]*models.Case, error) {
	var cases []*models.Case
	for rows.Next() {
		c, err := scanCaseRow(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, nil
}

func scanCaseRow(row pgx.Row) (*models.Case, error) {
	c := &models.Case{}
	var evidenceBytes, interviewsBytes, inquiriesBytes []byte

	err := row.Scan(
		&c.ID, &c.CaseNumber, &c.CaseType, &c.Category, &c.Title, &c.Description, &c.Priority, &c.RiskLevel,
		&c.CustomerID, pq.Array(&c.RelatedCustomers), pq.Array(&c.AlertIDs), pq.Array(&c.TransactionIDs),
		&c.Status, &c.InvestigationStage, &c.AssignedTo, &c.Reviewer, &c.Approver, pq.Array(&c.TeamMembers),
		&c.SLADeadline, &c.SLAExtended, &c.SLABreached,
		&evidenceBytes, &interviewsBytes, &inquiriesBytes, pq.Array(&c.InvestigationNotes),
		&c.Findings, &c.Decision, pq.Array(&c.RecommendedActions),
		&c.STRRequired, &c.STRFiled, &c.STRReference, &c.STRFilingDate, &c.CTRRequired, &c.CTRFiled,
		&c.QAReviewed, &c.QAApproved,
		&c.InvestigationStartedAt, &c.ReviewStartedAt, &c.ClosedAt, &c.ClosedBy, &c.ClosureReason,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCaseNotFound
		}
		return nil, err
	}

	c.EvidenceCollected.Scan(evidenceBytes)
	c.InterviewsConducted.Scan(interviewsBytes)
	c.ExternalInquiries.Scan(inquiriesBytes)
	return c, nil
}
