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

var ErrReportNotFound = errors.New("report not found")

const reportColumns = `
	id, report_number, report_type, case_id, customer_id, transaction_ids, alert_ids,
	narrative, activity_type, activity_description, activity_timeline, subject_information,
	evidence_summary, total_amount, currency, period_from, period_to,
	status, qa_approved, legal_reviewed, reviewed_by, review_notes,
	filed, filing_date, filing_reference, filing_method, filed_by,
	authority_reference, acknowledged_at, export_format, export_data,
	prepared_by, approved_by, created_at, updated_at`

// ReportRepository handles regulatory report database operations
type ReportRepository struct {
	db *Database
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *Database) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create creates a report, assigns its month-scoped report number, and
// records the audit entry in the same transaction.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report, entry *models.AuditLog) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		prefix := fmt.Sprintf("%s-%s-", report.ReportType, report.CreatedAt.Format("200601"))
		number, err := nextMonthlySequence(ctx, tx, "reports", "report_number", prefix)
		if err != nil {
			return err
		}
		report.ReportNumber = number

		query := `
			INSERT INTO reports (` + reportColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
				$21, $22, $23, $24, $25, $26, $27, $28, $29, $30,
				$31, $32, $33, $34, $35)
		`

		timelineBytes, _ := report.ActivityTimeline.Value()
		subjectBytes, _ := report.SubjectInformation.Value()
		evidenceBytes, _ := report.EvidenceSummary.Value()
		exportBytes, _ := report.ExportData.Value()

		_, err = tx.Exec(ctx, query,
			report.ID, report.ReportNumber, report.ReportType, report.CaseID, report.CustomerID,
			pq.Array(report.TransactionIDs), pq.Array(report.AlertIDs),
			report.Narrative, report.ActivityType, report.ActivityDescription, timelineBytes, subjectBytes,
			evidenceBytes, report.TotalAmount, report.Currency, report.PeriodFrom, report.PeriodTo,
			report.Status, report.QAApproved, report.LegalReviewed, report.ReviewedBy, report.ReviewNotes,
			report.Filed, report.FilingDate, report.FilingReference, report.FilingMethod, report.FiledBy,
			report.AuthorityReference, report.AcknowledgedAt, report.ExportFormat, exportBytes,
			report.PreparedBy, report.ApprovedBy, report.CreatedAt, report.UpdatedAt,
		)
		if err != nil {
			return err
		}

		if report.CaseID != nil && report.ReportType == models.ReportTypeSTR {
			markQuery := `UPDATE cases SET str_required = true, updated_at = $2 WHERE id = $1`
			if _, err := tx.Exec(ctx, markQuery, *report.CaseID, report.UpdatedAt); err != nil {
				return fmt.Errorf("failed to flag case for STR: %w", err)
			}
		}

		if entry != nil {
			entry.ResourceID = report.ID.String()
			if err := insertAuditTx(ctx, tx, entry); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetByID retrieves a report by ID
func (r *ReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`

	row := r.db.Pool.QueryRow(ctx, query, id)
	return scanReportRow(row)
}

// Update writes back a report with an optimistic-concurrency check on updated_at
func (r *ReportRepository) Update(ctx context.Context, report *models.Report) error {
	query := `
		UPDATE reports SET
			narrative = $3, activity_type = $4, activity_description = $5,
			activity_timeline = $6, subject_information = $7, evidence_summary = $8,
			status = $9, qa_approved = $10, legal_reviewed = $11,
			reviewed_by = $12, review_notes = $13, approved_by = $14,
			export_format = $15, export_data = $16, updated_at = $17
		WHERE id = $1 AND updated_at = $2
	`

	expected := report.UpdatedAt
	report.UpdatedAt = time.Now().UTC()

	timelineBytes, _ := report.ActivityTimeline.Value()
	subjectBytes, _ := report.SubjectInformation.Value()
	evidenceBytes, _ := report.EvidenceSummary.Value()
	exportBytes, _ := report.ExportData.Value()

	result, err := r.db.Pool.Exec(ctx, query,
		report.ID, expected,
		report.Narrative, report.ActivityType, report.ActivityDescription,
		timelineBytes, subjectBytes, evidenceBytes,
		report.Status, report.QAApproved, report.LegalReviewed,
		report.ReviewedBy, report.ReviewNotes, report.ApprovedBy,
		report.ExportFormat, exportBytes, report.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reports WHERE id = $1)`, report.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrReportNotFound
		}
		return ErrStaleWrite
	}

	return nil
}

// FileWithCaseMirror marks a report as filed and mirrors STR filing details
// onto the originating case, atomically with the audit entry.
func (r *ReportRepository) FileWithCaseMirror(ctx context.Context, report *models.Report, entry *models.AuditLog) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE reports SET
				status = $3, filed = $4, filing_date = $5, filing_reference = $6,
				filing_method = $7, filed_by = $8, export_format = $9, export_data = $10,
				updated_at = $11
			WHERE id = $1 AND updated_at = $2
		`

		expected := report.UpdatedAt
		report.UpdatedAt = time.Now().UTC()

		exportBytes, _ := report.ExportData.Value()

		result, err := tx.Exec(ctx, query,
			report.ID, expected,
			report.Status, report.Filed, report.FilingDate, report.FilingReference,
			report.FilingMethod, report.FiledBy, report.ExportFormat, exportBytes,
			report.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reports WHERE id = $1)`, report.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrReportNotFound
			}
			return ErrStaleWrite
		}

		if report.CaseID != nil && report.ReportType == models.ReportTypeSTR {
			mirror := `
				UPDATE cases
				SET str_filed = true, str_reference = $2, str_filing_date = $3, updated_at = $4
				WHERE id = $1
			`
			if _, err := tx.Exec(ctx, mirror, *report.CaseID, report.FilingReference, report.FilingDate, report.UpdatedAt); err != nil {
				return fmt.Errorf("failed to mirror filing onto case: %w", err)
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

// Pending retrieves unfiled reports, optionally filtered by type
func (r *ReportRepository) Pending(ctx context.Context, reportType string, limit int) ([]*models.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE filed = false AND ($1 = '' OR report_type = $1)
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, reportType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReports(rows)
}

// Filed retrieves reports filed since a cutoff
func (r *ReportRepository) Filed(ctx context.Context, since time.Time, limit int) ([]*models.Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE filed = true AND filing_date >= $1
		ORDER BY filing_date DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanReports(rows)
}

// ReportStatistics aggregates filing activity over a period
type ReportStatistics struct {
	TotalReports  int            `json:"total_reports"`
	ByType        map[string]int `json:"by_type"`
	ByStatus      map[string]int `json:"by_status"`
	FiledCount    int            `json:"filed_count"`
	PendingCount  int            `json:"pending_count"`
	TotalAmount   float64        `json:"total_amount"`
	AvgFilingDays float64        `json:"avg_filing_days"`
}

// Statistics aggregates report counts and amounts for a reporting period
func (r *ReportRepository) Statistics(ctx context.Context, from, to time.Time) (*ReportStatistics, error) {
	stats := &ReportStatistics{
		ByType:   make(map[string]int),
		ByStatus: make(map[string]int),
	}

	summary := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE filed),
			COUNT(*) FILTER (WHERE NOT filed),
			COALESCE(SUM(total_amount), 0),
			COALESCE(AVG(EXTRACT(EPOCH FROM (filing_date - created_at)) / 86400) FILTER (WHERE filed), 0)
		FROM reports
		WHERE created_at >= $1 AND created_at <= $2
	`
	err := r.db.Pool.QueryRow(ctx, summary, from, to).Scan(
		&stats.TotalReports, &stats.FiledCount, &stats.PendingCount,
		&stats.TotalAmount, &stats.AvgFilingDays,
	)
	if err != nil {
		return nil, err
	}

	byType := `
		SELECT report_type, COUNT(*)
		FROM reports
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY report_type
	`
	rows, err := r.db.Pool.Query(ctx, byType, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.ByType[t] = n
	}

	byStatus := `
		SELECT status, COUNT(*)
		FROM reports
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY status
	`
	statusRows, err := r.db.Pool.Query(ctx, byStatus, from, to)
	if err != nil {
		return nil, err
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var s string
		var n int
		if err := statusRows.Scan(&s, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[s] = n
	}

	return stats, nil
}

func scanReports(rows pgx.Rows) ([]*models.Report, error) {
	var reports []*models.Report
	for rows.Next() {
		report, err := scanReportRow(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func scanReportRow(row pgx.Row) (*models.Report, error) {
	report := &models.Report{}
	var timelineBytes, subjectBytes, evidenceBytes, exportBytes []byte

	err := row.Scan(
		&report.ID, &report.ReportNumber, &report.ReportType, &report.CaseID, &report.CustomerID,
		pq.Array(&report.TransactionIDs), pq.Array(&report.AlertIDs),
		&report.Narrative, &report.ActivityType, &report.ActivityDescription, &timelineBytes, &subjectBytes,
		&evidenceBytes, &report.TotalAmount, &report.Currency, &report.PeriodFrom, &report.PeriodTo,
		&report.Status, &report.QAApproved, &report.LegalReviewed, &report.ReviewedBy, &report.ReviewNotes,
		&report.Filed, &report.FilingDate, &report.FilingReference, &report.FilingMethod, &report.FiledBy,
		&report.AuthorityReference, &report.AcknowledgedAt, &report.ExportFormat, &exportBytes,
		&report.PreparedBy, &report.ApprovedBy, &report.CreatedAt, &report.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, err
	}

	report.ActivityTimeline.Scan(timelineBytes)
	report.SubjectInformation.Scan(subjectBytes)
	report.EvidenceSummary.Scan(evidenceBytes)
	report.ExportData.Scan(exportBytes)
	return report, nil
}
