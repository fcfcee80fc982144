package forensics

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
)

const (
	defaultSearchLimit = 100

	offHoursLoginThreshold = 5
	viewVolumeThreshold    = 1000
	authFailureThreshold   = 10
	hourlyBurstThreshold   = 100
)

// TrailStore is the audit persistence surface forensics reads from
type TrailStore interface {
	Search(ctx context.Context, filter repositories.AuditSearchFilter) ([]*models.AuditLog, error)
	ComplianceTrail(ctx context.Context, resourceType, resourceID string) ([]*models.AuditLog, error)
	UserActivity(ctx context.Context, userEmail string, from, to time.Time) (*repositories.UserActivityStats, error)
	SystemReport(ctx context.Context, from, to time.Time) (*repositories.SystemActivityReport, error)
	OffHoursLogins(ctx context.Context, since time.Time) ([]repositories.UserCount, error)
	HighVolumeViewers(ctx context.Context, since time.Time) ([]repositories.UserCount, error)
	AuthFailures(ctx context.Context, since time.Time) ([]repositories.AuthFailureCount, error)
	HourlyBursts(ctx context.Context, since time.Time, threshold int) ([]repositories.HourlyBurst, error)
	Export(ctx context.Context, from, to time.Time, category string) ([]*models.AuditLog, error)
}

// Service answers forensic queries over the audit trail. Every query is
// itself audited so investigations of the log leave their own trace.
type Service struct {
	store     TrailStore
	auditSink audit.Sink
}

// NewService creates a forensics service
func NewService(store TrailStore, auditSink audit.Sink) *Service {
	return &Service{store: store, auditSink: auditSink}
}

// Search queries the audit trail with a bounded filter and records the
// search as a meta-event.
func (s *Service) Search(ctx context.Context, actor audit.Actor, filter repositories.AuditSearchFilter) ([]*models.AuditLog, error) {
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = defaultSearchLimit
	}

	results, err := s.store.Search(ctx, filter)
	if err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryAuditManagement, "audit_searched", audit.ActionSearch,
		actor, "audit_log", "",
		fmt.Sprintf("Searched audit trail, %d result(s)", len(results)))
	entry.Details = models.JSONB{
		"event_category": filter.EventCategory,
		"event_type":     filter.EventType,
		"user_email":     filter.UserEmail,
		"resource_type":  filter.ResourceType,
		"result_count":   len(results),
	}
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return results, nil
}

// UserActivity summarizes one user's audit footprint over the last N days
func (s *Service) UserActivity(ctx context.Context, actor audit.Actor, userEmail string, days int) (*repositories.UserActivityStats, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	stats, err := s.store.UserActivity(ctx, userEmail, from, to)
	if err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryAuditManagement, "user_activity_reviewed", audit.ActionView,
		actor, "user_activity", userEmail,
		fmt.Sprintf("Reviewed %d days of activity for %s", days, userEmail))
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return stats, nil
}

// SystemReport aggregates platform-wide activity over the last N days
func (s *Service) SystemReport(ctx context.Context, actor audit.Actor, days int) (*repositories.SystemActivityReport, error) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	report, err := s.store.SystemReport(ctx, from, to)
	if err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryAuditManagement, "system_report_generated", audit.ActionView,
		actor, "audit_log", "",
		fmt.Sprintf("Generated %d-day system activity report", days))
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return report, nil
}

// ComplianceTrail returns the complete chronological trail for a resource
func (s *Service) ComplianceTrail(ctx context.Context, actor audit.Actor, resourceType, resourceID string) ([]*models.AuditLog, error) {
	trail, err := s.store.ComplianceTrail(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryAuditManagement, "compliance_trail_viewed", audit.ActionView,
		actor, resourceType, resourceID,
		fmt.Sprintf("Viewed compliance trail for %s %s", resourceType, resourceID))
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return trail, nil
}

// SuspiciousPatternReport groups the insider-activity detections
type SuspiciousPatternReport struct {
	PeriodDays       int                             `json:"period_days"`
	OffHoursLogins   []repositories.UserCount        `json:"off_hours_logins"`
	HighVolumeViews  []repositories.UserCount        `json:"high_volume_views"`
	RepeatedFailures []repositories.AuthFailureCount `json:"repeated_auth_failures"`
	ActivityBursts   []repositories.HourlyBurst      `json:"activity_bursts"`
}

// Empty reports whether no detector fired
func (r *SuspiciousPatternReport) Empty() bool {
	return len(r.OffHoursLogins) == 0 && len(r.HighVolumeViews) == 0 &&
		len(r.RepeatedFailures) == 0 && len(r.ActivityBursts) == 0
}

// SuspiciousPatterns scans the trail for insider-threat indicators:
// off-hours logins, bulk record viewing, repeated authentication failures,
// and per-hour operation bursts. Any finding is flagged into the trail
// itself as a suspicious meta-event.
func (s *Service) SuspiciousPatterns(ctx context.Context, actor audit.Actor, days int) (*SuspiciousPatternReport, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	report := &SuspiciousPatternReport{PeriodDays: days}

	offHours, err := s.store.OffHoursLogins(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, c := range offHours {
		if c.Count > offHoursLoginThreshold {
			report.OffHoursLogins = append(report.OffHoursLogins, c)
		}
	}

	viewers, err := s.store.HighVolumeViewers(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, c := range viewers {
		if c.Count > viewVolumeThreshold {
			report.HighVolumeViews = append(report.HighVolumeViews, c)
		}
	}

	failures, err := s.store.AuthFailures(ctx, since)
	if err != nil {
		return nil, err
	}
	for _, c := range failures {
		if c.Count > authFailureThreshold {
			report.RepeatedFailures = append(report.RepeatedFailures, c)
		}
	}

	bursts, err := s.store.HourlyBursts(ctx, since, hourlyBurstThreshold)
	if err != nil {
		return nil, err
	}
	report.ActivityBursts = bursts

	entry := audit.NewEntry(models.AuditCategoryAuditManagement, "suspicious_pattern_scan", audit.ActionSearch,
		actor, "audit_log", "",
		fmt.Sprintf("Scanned %d days of audit activity for suspicious patterns", days))
	entry.Details = models.JSONB{
		"off_hours_logins":  len(report.OffHoursLogins),
		"high_volume_views": len(report.HighVolumeViews),
		"repeated_failures": len(report.RepeatedFailures),
		"activity_bursts":   len(report.ActivityBursts),
	}
	if !report.Empty() {
		entry.SuspiciousActivity = true
		log.Warn().
			Int("off_hours", len(report.OffHoursLogins)).
			Int("bulk_views", len(report.HighVolumeViews)).
			Int("auth_failures", len(report.RepeatedFailures)).
			Int("bursts", len(report.ActivityBursts)).
			Msg("Suspicious audit patterns detected")
	}
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return report, nil
}

// Export retrieves a window of the trail for regulatory handover
func (s *Service) Export(ctx context.Context, actor audit.Actor, from, to time.Time, category string) ([]*models.AuditLog, error) {
	entries, err := s.store.Export(ctx, from, to, category)
	if err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryAuditManagement, "audit_exported", audit.ActionExport,
		actor, "audit_log", "",
		fmt.Sprintf("Exported %d audit entries for %s to %s", len(entries), from.Format("2006-01-02"), to.Format("2006-01-02")))
	entry.RegulatorySignificance = true
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return entries, nil
}
