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

var ErrAuditEntryNotFound = errors.New("audit entry not found")

const auditColumns = `
	id, event_id, event_type, event_category, user_id, user_email, user_role,
	impersonated_by, action, resource_type, resource_id, description, details,
	ip_address, user_agent, session_id, request_id, correlation_id,
	old_values, new_values, changed_fields, risk_score, suspicious_activity,
	regulatory_significance, retention_period_years, data_classification,
	reviewed, reviewed_by, review_date, review_notes, created_at`

// AuditRepository handles the append-only audit trail
type AuditRepository struct {
	db *Database
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *Database) *AuditRepository {
	return &AuditRepository{db: db}
}

// insertAuditTx appends an audit entry within an existing transaction. The
// multi-write repository methods use it so business writes and their audit
// entries commit together.
func insertAuditTx(ctx context.Context, tx pgx.Tx, entry *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
	`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	detailsBytes, _ := entry.Details.Value()
	oldBytes, _ := entry.OldValues.Value()
	newBytes, _ := entry.NewValues.Value()

	_, err := tx.Exec(ctx, query,
		entry.ID, entry.EventID, entry.EventType, entry.EventCategory,
		entry.UserID, entry.UserEmail, entry.UserRole,
		entry.ImpersonatedBy, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.Description, detailsBytes,
		entry.IPAddress, entry.UserAgent, entry.SessionID, entry.RequestID, entry.CorrelationID,
		oldBytes, newBytes, pq.Array(entry.ChangedFields),
		entry.RiskScore, entry.SuspiciousActivity,
		entry.RegulatorySignificance, entry.RetentionPeriodYears, entry.DataClassification,
		entry.Reviewed, entry.ReviewedBy, entry.ReviewDate, entry.ReviewNotes, entry.CreatedAt,
	)
	return err
}

// Create appends a single audit entry
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return insertAuditTx(ctx, tx, entry)
	})
}

// AuditSearchFilter bounds an audit trail search
type AuditSearchFilter struct {
	EventCategory  string
	EventType      string
	Action         string
	UserEmail      string
	ResourceType   string
	ResourceID     string
	SuspiciousOnly bool
	From           *time.Time
	To             *time.Time
	Limit          int
}

// Search retrieves audit entries matching the filter, newest first. The
// limit is always applied; callers default it before the query runs.
func (r *AuditRepository) Search(ctx context.Context, filter AuditSearchFilter) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE ($1 = '' OR event_category = $1)
		AND ($2 = '' OR event_type = $2)
		AND ($3 = '' OR action = $3)
		AND ($4 = '' OR user_email = $4)
		AND ($5 = '' OR resource_type = $5)
		AND ($6 = '' OR resource_id = $6)
		AND (NOT $7 OR suspicious_activity)
		AND ($8::timestamptz IS NULL OR created_at >= $8)
		AND ($9::timestamptz IS NULL OR created_at <= $9)
		ORDER BY created_at DESC
		LIMIT $10
	`

	rows, err := r.db.Pool.Query(ctx, query,
		filter.EventCategory, filter.EventType, filter.Action, filter.UserEmail,
		filter.ResourceType, filter.ResourceID, filter.SuspiciousOnly,
		filter.From, filter.To, filter.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditLogs(rows)
}

// ComplianceTrail retrieves every entry for a resource in chronological order
func (r *AuditRepository) ComplianceTrail(ctx context.Context, resourceType, resourceID string) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditLogs(rows)
}

// UserActivityStats summarizes one user's audit footprint over a window
type UserActivityStats struct {
	TotalEvents        int                `json:"total_events"`
	ByCategory         map[string]int     `json:"by_category"`
	ByAction           map[string]int     `json:"by_action"`
	SuspiciousCount    int                `json:"suspicious_count"`
	FirstActivity      *time.Time         `json:"first_activity,omitempty"`
	LastActivity       *time.Time         `json:"last_activity,omitempty"`
	DistinctIPs        int                `json:"distinct_ips"`
	LoginCount         int                `json:"login_count"`
	LogoutCount        int                `json:"logout_count"`
	LastLogin          *time.Time         `json:"last_login,omitempty"`
	ActiveDays         int                `json:"active_days"`
	HighRiskActivities []*models.AuditLog `json:"high_risk_activities,omitempty"`
}

// UserActivity aggregates a user's events over a window
func (r *AuditRepository) UserActivity(ctx context.Context, userEmail string, from, to time.Time) (*UserActivityStats, error) {
	stats := &UserActivityStats{
		ByCategory: make(map[string]int),
		ByAction:   make(map[string]int),
	}

	summary := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE suspicious_activity),
			MIN(created_at), MAX(created_at),
			COUNT(DISTINCT ip_address)
		FROM audit_logs
		WHERE user_email = $1 AND created_at >= $2 AND created_at <= $3
	`
	err := r.db.Pool.QueryRow(ctx, summary, userEmail, from, to).Scan(
		&stats.TotalEvents, &stats.SuspiciousCount,
		&stats.FirstActivity, &stats.LastActivity, &stats.DistinctIPs,
	)
	if err != nil {
		return nil, err
	}

	logins := `
		SELECT COUNT(*) FILTER (WHERE action = 'login'),
			COUNT(*) FILTER (WHERE action = 'logout'),
			MAX(created_at) FILTER (WHERE action = 'login'),
			COUNT(DISTINCT created_at::date)
		FROM audit_logs
		WHERE user_email = $1 AND created_at >= $2 AND created_at <= $3
		AND event_category = $4
	`
	err = r.db.Pool.QueryRow(ctx, logins, userEmail, from, to, models.AuditCategoryAuthentication).Scan(
		&stats.LoginCount, &stats.LogoutCount, &stats.LastLogin, &stats.ActiveDays,
	)
	if err != nil {
		return nil, err
	}

	grouped := `
		SELECT event_category, action, COUNT(*)
		FROM audit_logs
		WHERE user_email = $1 AND created_at >= $2 AND created_at <= $3
		GROUP BY event_category, action
	`
	rows, err := r.db.Pool.Query(ctx, grouped, userEmail, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var category, action string
		var n int
		if err := rows.Scan(&category, &action, &n); err != nil {
			return nil, err
		}
		stats.ByCategory[category] += n
		stats.ByAction[action] += n
	}

	highRisk := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE user_email = $1 AND created_at >= $2 AND created_at <= $3
		AND (regulatory_significance OR suspicious_activity)
		ORDER BY created_at DESC
		LIMIT 20
	`
	riskRows, err := r.db.Pool.Query(ctx, highRisk, userEmail, from, to)
	if err != nil {
		return nil, err
	}
	defer riskRows.Close()

	stats.HighRiskActivities, err = scanAuditLogs(riskRows)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// CategoryCount is a per-category event tally
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// DailyCount is a per-day event tally
type DailyCount struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// UserCount ties a tally to a user
type UserCount struct {
	UserEmail string `json:"user_email"`
	Count     int    `json:"count"`
}

// SystemActivityReport summarizes platform-wide audit activity over a window
type SystemActivityReport struct {
	TotalEvents      int             `json:"total_events"`
	ByCategory       []CategoryCount `json:"by_category"`
	DailyTrend       []DailyCount    `json:"daily_trend"`
	TopUsers         []UserCount     `json:"top_users"`
	LoginCount       int             `json:"login_count"`
	FailedLoginCount int             `json:"failed_login_count"`
	SuspiciousCount  int             `json:"suspicious_count"`
}

// SystemReport aggregates platform-wide audit activity for a window
func (r *AuditRepository) SystemReport(ctx context.Context, from, to time.Time) (*SystemActivityReport, error) {
	report := &SystemActivityReport{}

	summary := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE action = 'login'),
			COUNT(*) FILTER (WHERE action = 'login_failed'),
			COUNT(*) FILTER (WHERE suspicious_activity)
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
	`
	err := r.db.Pool.QueryRow(ctx, summary, from, to).Scan(
		&report.TotalEvents, &report.LoginCount, &report.FailedLoginCount, &report.SuspiciousCount,
	)
	if err != nil {
		return nil, err
	}

	byCategory := `
		SELECT event_category, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY event_category
		ORDER BY COUNT(*) DESC
	`
	rows, err := r.db.Pool.Query(ctx, byCategory, from, to)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			rows.Close()
			return nil, err
		}
		report.ByCategory = append(report.ByCategory, cc)
	}
	rows.Close()

	daily := `
		SELECT date_trunc('day', created_at) AS day, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY day
		ORDER BY day ASC
	`
	dailyRows, err := r.db.Pool.Query(ctx, daily, from, to)
	if err != nil {
		return nil, err
	}
	for dailyRows.Next() {
		var dc DailyCount
		if err := dailyRows.Scan(&dc.Day, &dc.Count); err != nil {
			dailyRows.Close()
			return nil, err
		}
		report.DailyTrend = append(report.DailyTrend, dc)
	}
	dailyRows.Close()

	topUsers := `
		SELECT user_email, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2 AND user_email <> ''
		GROUP BY user_email
		ORDER BY COUNT(*) DESC
		LIMIT 10
	`
	userRows, err := r.db.Pool.Query(ctx, topUsers, from, to)
	if err != nil {
		return nil, err
	}
	for userRows.Next() {
		var uc UserCount
		if err := userRows.Scan(&uc.UserEmail, &uc.Count); err != nil {
			userRows.Close()
			return nil, err
		}
		report.TopUsers = append(report.TopUsers, uc)
	}
	userRows.Close()

	return report, nil
}

// OffHoursLogins counts per-user logins outside normal working hours
func (r *AuditRepository) OffHoursLogins(ctx context.Context, since time.Time) ([]UserCount, error) {
	query := `
		SELECT user_email, COUNT(*)
		FROM audit_logs
		WHERE action = 'login' AND created_at >= $1 AND user_email <> ''
		AND (EXTRACT(HOUR FROM created_at) < 6 OR EXTRACT(HOUR FROM created_at) > 22)
		GROUP BY user_email
	`
	return r.queryUserCounts(ctx, query, since)
}

// HighVolumeViewers counts per-user record views over a window
func (r *AuditRepository) HighVolumeViewers(ctx context.Context, since time.Time) ([]UserCount, error) {
	query := `
		SELECT user_email, COUNT(*)
		FROM audit_logs
		WHERE action = 'view' AND created_at >= $1 AND user_email <> ''
		GROUP BY user_email
	`
	return r.queryUserCounts(ctx, query, since)
}

// AuthFailureCount tallies authentication failures by email and source IP
type AuthFailureCount struct {
	UserEmail string `json:"user_email"`
	IPAddress string `json:"ip_address"`
	Count     int    `json:"count"`
}

// AuthFailures counts failed logins grouped by email and IP over a window
func (r *AuditRepository) AuthFailures(ctx context.Context, since time.Time) ([]AuthFailureCount, error) {
	query := `
		SELECT user_email, ip_address, COUNT(*)
		FROM audit_logs
		WHERE action = 'login_failed' AND created_at >= $1
		GROUP BY user_email, ip_address
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []AuthFailureCount
	for rows.Next() {
		var c AuthFailureCount
		if err := rows.Scan(&c.UserEmail, &c.IPAddress, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, nil
}

// HourlyBurst tallies one user's operations in a single hour
type HourlyBurst struct {
	UserEmail string    `json:"user_email"`
	Hour      time.Time `json:"hour"`
	Count     int       `json:"count"`
}

// HourlyBursts finds user-hours whose operation count exceeds the threshold
func (r *AuditRepository) HourlyBursts(ctx context.Context, since time.Time, threshold int) ([]HourlyBurst, error) {
	query := `
		SELECT user_email, date_trunc('hour', created_at) AS hour, COUNT(*)
		FROM audit_logs
		WHERE created_at >= $1 AND user_email <> ''
		GROUP BY user_email, hour
		HAVING COUNT(*) > $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bursts []HourlyBurst
	for rows.Next() {
		var b HourlyBurst
		if err := rows.Scan(&b.UserEmail, &b.Hour, &b.Count); err != nil {
			return nil, err
		}
		bursts = append(bursts, b)
	}
	return bursts, nil
}

// Export retrieves all entries in a window for regulatory export, oldest first
func (r *AuditRepository) Export(ctx context.Context, from, to time.Time, category string) ([]*models.AuditLog, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_logs
		WHERE created_at >= $1 AND created_at <= $2
		AND ($3 = '' OR event_category = $3)
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, from, to, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAuditLogs(rows)
}

func (r *AuditRepository) queryUserCounts(ctx context.Context, query string, since time.Time) ([]UserCount, error) {
	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []UserCount
	for rows.Next() {
		var c UserCount
		if err := rows.Scan(&c.UserEmail, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, nil
}

func scanAuditLogs(rows pgx.Rows) ([]*models.AuditLog, error) {
	var entries []*models.AuditLog
	for rows.Next() {
		entry := &models.AuditLog{}
		var detailsBytes, oldBytes, newBytes []byte

		if err := rows.Scan(
			&entry.ID, &entry.EventID, &entry.EventType, &entry.EventCategory,
			&entry.UserID, &entry.UserEmail, &entry.UserRole,
			&entry.ImpersonatedBy, &entry.Action, &entry.ResourceType, &entry.ResourceID,
			&entry.Description, &detailsBytes,
			&entry.IPAddress, &entry.UserAgent, &entry.SessionID, &entry.RequestID, &entry.CorrelationID,
			&oldBytes, &newBytes, pq.Array(&entry.ChangedFields),
			&entry.RiskScore, &entry.SuspiciousActivity,
			&entry.RegulatorySignificance, &entry.RetentionPeriodYears, &entry.DataClassification,
			&entry.Reviewed, &entry.ReviewedBy, &entry.ReviewDate, &entry.ReviewNotes, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}

		entry.Details.Scan(detailsBytes)
		entry.OldValues.Scan(oldBytes)
		entry.NewValues.Scan(newBytes)
		entries = append(entries, entry)
	}

	return entries, nil
}
