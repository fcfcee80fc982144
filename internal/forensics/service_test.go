package forensics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
)

type fakeTrailStore struct {
	results    []*models.AuditLog
	lastFilter repositories.AuditSearchFilter
	userStats  *repositories.UserActivityStats
	offHours   []repositories.UserCount
	viewers    []repositories.UserCount
	failures   []repositories.AuthFailureCount
	bursts     []repositories.HourlyBurst
}

func (s *fakeTrailStore) Search(_ context.Context, filter repositories.AuditSearchFilter) ([]*models.AuditLog, error) {
	s.lastFilter = filter
	return s.results, nil
}

func (s *fakeTrailStore) ComplianceTrail(_ context.Context, _, _ string) ([]*models.AuditLog, error) {
	return s.results, nil
}

func (s *fakeTrailStore) UserActivity(_ context.Context, _ string, _, _ time.Time) (*repositories.UserActivityStats, error) {
	if s.userStats != nil {
		return s.userStats, nil
	}
	return &repositories.UserActivityStats{TotalEvents: 42}, nil
}

func (s *fakeTrailStore) SystemReport(_ context.Context, _, _ time.Time) (*repositories.SystemActivityReport, error) {
	return &repositories.SystemActivityReport{TotalEvents: 1000}, nil
}

func (s *fakeTrailStore) OffHoursLogins(_ context.Context, _ time.Time) ([]repositories.UserCount, error) {
	return s.offHours, nil
}

func (s *fakeTrailStore) HighVolumeViewers(_ context.Context, _ time.Time) ([]repositories.UserCount, error) {
	return s.viewers, nil
}

func (s *fakeTrailStore) AuthFailures(_ context.Context, _ time.Time) ([]repositories.AuthFailureCount, error) {
	return s.failures, nil
}

func (s *fakeTrailStore) HourlyBursts(_ context.Context, _ time.Time, _ int) ([]repositories.HourlyBurst, error) {
	return s.bursts, nil
}

func (s *fakeTrailStore) Export(_ context.Context, _, _ time.Time, _ string) ([]*models.AuditLog, error) {
	return s.results, nil
}

type fakeSink struct {
	entries []*models.AuditLog
}

func (s *fakeSink) Emit(_ context.Context, entry *models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeSink) last() *models.AuditLog {
	return s.entries[len(s.entries)-1]
}

var testActor = audit.Actor{ID: "u-1", Email: "auditor@prodetect.ng", Role: "admin"}

func TestSearchBoundsLimit(t *testing.T) {
	store := &fakeTrailStore{}
	sink := &fakeSink{}
	svc := NewService(store, sink)

	_, err := svc.Search(context.Background(), testActor, repositories.AuditSearchFilter{})
	require.NoError(t, err)
	assert.Equal(t, defaultSearchLimit, store.lastFilter.Limit)

	_, err = svc.Search(context.Background(), testActor, repositories.AuditSearchFilter{Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, defaultSearchLimit, store.lastFilter.Limit)

	_, err = svc.Search(context.Background(), testActor, repositories.AuditSearchFilter{Limit: 250})
	require.NoError(t, err)
	assert.Equal(t, 250, store.lastFilter.Limit)
}

func TestSearchLeavesMetaEvent(t *testing.T) {
	store := &fakeTrailStore{results: []*models.AuditLog{{EventType: "login"}, {EventType: "login"}}}
	sink := &fakeSink{}
	svc := NewService(store, sink)

	results, err := svc.Search(context.Background(), testActor, repositories.AuditSearchFilter{EventType: "login"})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	require.Len(t, sink.entries, 1)
	entry := sink.last()
	assert.Equal(t, "audit_searched", entry.EventType)
	assert.Equal(t, testActor.Email, entry.UserEmail)
	assert.Equal(t, 2, entry.Details["result_count"])
}

func TestUserActivityAudited(t *testing.T) {
	lastLogin := time.Date(2025, 6, 2, 9, 15, 0, 0, time.UTC)
	store := &fakeTrailStore{userStats: &repositories.UserActivityStats{
		TotalEvents: 42,
		LoginCount:  12,
		LogoutCount: 11,
		LastLogin:   &lastLogin,
		ActiveDays:  9,
		HighRiskActivities: []*models.AuditLog{
			{EventType: "report_filed", RegulatorySignificance: true},
		},
	}}
	sink := &fakeSink{}
	svc := NewService(store, sink)

	stats, err := svc.UserActivity(context.Background(), testActor, "analyst@prodetect.ng", 30)
	require.NoError(t, err)
	assert.Equal(t, 42, stats.TotalEvents)

	// Login summary and the flagged high-risk entries ride along
	assert.Equal(t, 12, stats.LoginCount)
	assert.Equal(t, 11, stats.LogoutCount)
	assert.Equal(t, 9, stats.ActiveDays)
	require.NotNil(t, stats.LastLogin)
	assert.Equal(t, lastLogin, *stats.LastLogin)
	require.Len(t, stats.HighRiskActivities, 1)
	assert.Equal(t, "report_filed", stats.HighRiskActivities[0].EventType)

	assert.Equal(t, "user_activity_reviewed", sink.last().EventType)
	assert.Equal(t, "analyst@prodetect.ng", sink.last().ResourceID)
}

func TestComplianceTrailAudited(t *testing.T) {
	store := &fakeTrailStore{results: []*models.AuditLog{{EventType: "case_created"}}}
	sink := &fakeSink{}
	svc := NewService(store, sink)

	trail, err := svc.ComplianceTrail(context.Background(), testActor, "case", "abc-123")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
	assert.Equal(t, "compliance_trail_viewed", sink.last().EventType)
	assert.Equal(t, "case", sink.last().ResourceType)
}

func TestSuspiciousPatternsThresholds(t *testing.T) {
	store := &fakeTrailStore{
		offHours: []repositories.UserCount{
			{UserEmail: "night@prodetect.ng", Count: 6},
			{UserEmail: "early@prodetect.ng", Count: 5},
		},
		viewers: []repositories.UserCount{
			{UserEmail: "bulk@prodetect.ng", Count: 1001},
			{UserEmail: "normal@prodetect.ng", Count: 900},
		},
		failures: []repositories.AuthFailureCount{
			{UserEmail: "target@prodetect.ng", IPAddress: "10.0.0.9", Count: 11},
			{UserEmail: "typo@prodetect.ng", IPAddress: "10.0.0.8", Count: 3},
		},
	}
	sink := &fakeSink{}
	svc := NewService(store, sink)

	report, err := svc.SuspiciousPatterns(context.Background(), testActor, 7)
	require.NoError(t, err)

	// Only counts strictly over each threshold survive
	require.Len(t, report.OffHoursLogins, 1)
	assert.Equal(t, "night@prodetect.ng", report.OffHoursLogins[0].UserEmail)
	require.Len(t, report.HighVolumeViews, 1)
	assert.Equal(t, "bulk@prodetect.ng", report.HighVolumeViews[0].UserEmail)
	require.Len(t, report.RepeatedFailures, 1)
	assert.Equal(t, "target@prodetect.ng", report.RepeatedFailures[0].UserEmail)

	assert.False(t, report.Empty())
	assert.True(t, sink.last().SuspiciousActivity)
	assert.Equal(t, "suspicious_pattern_scan", sink.last().EventType)
}

func TestSuspiciousPatternsCleanScan(t *testing.T) {
	store := &fakeTrailStore{
		offHours: []repositories.UserCount{{UserEmail: "a@prodetect.ng", Count: 2}},
		failures: []repositories.AuthFailureCount{{UserEmail: "b@prodetect.ng", Count: 1}},
	}
	sink := &fakeSink{}
	svc := NewService(store, sink)

	report, err := svc.SuspiciousPatterns(context.Background(), testActor, 7)
	require.NoError(t, err)

	assert.True(t, report.Empty())
	assert.False(t, sink.last().SuspiciousActivity)
}

func TestSuspiciousPatternsBursts(t *testing.T) {
	store := &fakeTrailStore{
		bursts: []repositories.HourlyBurst{
			{UserEmail: "scripted@prodetect.ng", Hour: time.Now().UTC().Truncate(time.Hour), Count: 450},
		},
	}
	svc := NewService(store, &fakeSink{})

	report, err := svc.SuspiciousPatterns(context.Background(), testActor, 7)
	require.NoError(t, err)
	require.Len(t, report.ActivityBursts, 1)
	assert.False(t, report.Empty())
}

func TestExportAudited(t *testing.T) {
	store := &fakeTrailStore{results: []*models.AuditLog{{EventType: "report_filed"}}}
	sink := &fakeSink{}
	svc := NewService(store, sink)

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)

	entries, err := svc.Export(context.Background(), testActor, from, to, "reporting")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Equal(t, "audit_exported", sink.last().EventType)
	assert.True(t, sink.last().RegulatorySignificance)
}
