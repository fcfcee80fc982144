package cases

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
)

type fakeCaseStore struct {
	cases      map[uuid.UUID]*models.Case
	overdue    []*models.Case
	seq        int
	updates    int
	lastClosed *models.Case
}

func newFakeCaseStore() *fakeCaseStore {
	return &fakeCaseStore{cases: make(map[uuid.UUID]*models.Case)}
}

func (s *fakeCaseStore) CreateWithAlertLinks(_ context.Context, kase *models.Case, _ []uuid.UUID, _ *models.AuditLog) error {
	s.seq++
	kase.CaseNumber = "CASE-2025-" + string(rune('0'+s.seq))
	s.cases[kase.ID] = kase
	return nil
}

func (s *fakeCaseStore) GetByID(_ context.Context, id uuid.UUID) (*models.Case, error) {
	return s.cases[id], nil
}

func (s *fakeCaseStore) Update(_ context.Context, c *models.Case) error {
	s.cases[c.ID] = c
	s.updates++
	return nil
}

func (s *fakeCaseStore) CloseWithAlertFanout(_ context.Context, c *models.Case, _ *models.AuditLog) error {
	s.cases[c.ID] = c
	s.lastClosed = c
	return nil
}

func (s *fakeCaseStore) GetAssigned(_ context.Context, assignee, status string, limit int) ([]*models.Case, error) {
	var out []*models.Case
	for _, c := range s.cases {
		if c.AssignedTo == assignee {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCaseStore) OverdueUnclosed(_ context.Context, _ time.Time) ([]*models.Case, error) {
	return s.overdue, nil
}

func (s *fakeCaseStore) List(_ context.Context, _ string, _, _ int) ([]*models.Case, int, error) {
	return nil, 0, nil
}

type fakeAlertSource struct {
	alerts map[uuid.UUID]*models.Alert
}

func (s *fakeAlertSource) GetByIDs(_ context.Context, ids []uuid.UUID) ([]*models.Alert, error) {
	var out []*models.Alert
	for _, id := range ids {
		if alert, ok := s.alerts[id]; ok {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (s *fakeAlertSource) ListByCase(_ context.Context, _ uuid.UUID) ([]*models.Alert, error) {
	return nil, nil
}

type fakeSink struct {
	entries []*models.AuditLog
}

func (s *fakeSink) Emit(_ context.Context, entry *models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

var testActor = audit.Actor{ID: "u-1", Email: "investigator@prodetect.ng", Role: "compliance_officer"}

func makeAlert(customerID uuid.UUID, score float64) *models.Alert {
	txnID := uuid.New()
	return &models.Alert{
		ID:            uuid.New(),
		CustomerID:    customerID,
		TransactionID: &txnID,
		RiskScore:     score,
		Status:        models.AlertStatusOpen,
	}
}

func newTestService(alerts ...*models.Alert) (*Service, *fakeCaseStore, *fakeAlertSource, *fakeSink) {
	store := newFakeCaseStore()
	source := &fakeAlertSource{alerts: make(map[uuid.UUID]*models.Alert)}
	for _, alert := range alerts {
		source.alerts[alert.ID] = alert
	}
	sink := &fakeSink{}
	return NewService(store, source, sink, 5), store, source, sink
}

func alertIDs(alerts ...*models.Alert) []uuid.UUID {
	ids := make([]uuid.UUID, len(alerts))
	for i, alert := range alerts {
		ids[i] = alert.ID
	}
	return ids
}

func TestCreateFromAlertsRequiresAlerts(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.CreateFromAlerts(context.Background(), testActor, nil, "aml_investigation", "t", "d", 2)
	assert.ErrorIs(t, err, ErrNoAlerts)

	_, err = svc.CreateFromAlerts(context.Background(), testActor, []uuid.UUID{uuid.New()}, "aml_investigation", "t", "d", 2)
	assert.ErrorIs(t, err, ErrAlertsMissing)
}

func TestCreateFromAlertsSubjects(t *testing.T) {
	primary := uuid.New()
	related := uuid.New()
	a1 := makeAlert(primary, 45)
	a2 := makeAlert(primary, 55)
	a3 := makeAlert(related, 30)

	svc, _, _, _ := newTestService(a1, a2, a3)

	kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(a1, a2, a3),
		"aml_investigation", "Layered transfers", "Repeated sub-threshold movements", 2)
	require.NoError(t, err)

	assert.Equal(t, primary, kase.CustomerID)
	assert.Equal(t, []string{related.String()}, kase.RelatedCustomers)
	assert.Len(t, kase.AlertIDs, 3)
	assert.Len(t, kase.TransactionIDs, 3)
	assert.Equal(t, models.CaseStatusOpen, kase.Status)
	assert.Equal(t, "initial_review", kase.InvestigationStage)
	assert.Equal(t, testActor.Email, kase.AssignedTo)
	assert.NotEmpty(t, kase.CaseNumber)
}

func TestCreateFromAlertsRiskLevel(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		want   string
	}{
		{"single weak alert", []float64{20}, models.SeverityLow},
		{"two alerts", []float64{20, 25}, models.SeverityMedium},
		{"strong alert", []float64{65}, models.SeverityHigh},
		{"three alerts", []float64{10, 15, 20}, models.SeverityHigh},
		{"critical score", []float64{85}, models.SeverityCritical},
		{"five alerts", []float64{10, 10, 10, 10, 10}, models.SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			customerID := uuid.New()
			var alerts []*models.Alert
			for _, score := range tt.scores {
				alerts = append(alerts, makeAlert(customerID, score))
			}
			svc, _, _, _ := newTestService(alerts...)

			kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(alerts...),
				"aml_investigation", "t", "d", 3)
			require.NoError(t, err)
			assert.Equal(t, tt.want, kase.RiskLevel)
		})
	}
}

func TestSLADeadlineByPriority(t *testing.T) {
	alert := makeAlert(uuid.New(), 30)
	svc, _, _, _ := newTestService(alert)

	before := time.Now().UTC()
	kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(alert),
		"aml_investigation", "t", "d", 1)
	require.NoError(t, err)

	require.NotNil(t, kase.SLADeadline)
	assert.WithinDuration(t, before.Add(4*time.Hour), *kase.SLADeadline, 5*time.Second)
}

func TestSLAHalvedForSanctionsCases(t *testing.T) {
	assert.Equal(t, 12*time.Hour, slaDuration(2, models.CaseTypeSanctionsInvestigation))
	assert.Equal(t, 36*time.Hour, slaDuration(3, models.CaseTypeTerrorismFinancing))
	// Halving never goes under the four-hour floor
	assert.Equal(t, 4*time.Hour, slaDuration(1, models.CaseTypeSanctionsInvestigation))
	// Unknown priority falls back to the standard 72-hour clock
	assert.Equal(t, 72*time.Hour, slaDuration(9, "aml_investigation"))
}

func TestUpdateStatusStampsStages(t *testing.T) {
	alert := makeAlert(uuid.New(), 30)
	svc, _, _, sink := newTestService(alert)

	kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(alert),
		"aml_investigation", "t", "d", 3)
	require.NoError(t, err)

	updated, err := svc.UpdateStatus(context.Background(), testActor, kase.ID, models.CaseStatusInvestigating, "starting review")
	require.NoError(t, err)
	require.NotNil(t, updated.InvestigationStartedAt)
	firstStarted := *updated.InvestigationStartedAt
	assert.NotEmpty(t, updated.InvestigationNotes)

	// Re-entering the same stage keeps the original timestamp
	updated, err = svc.UpdateStatus(context.Background(), testActor, kase.ID, models.CaseStatusInvestigating, "")
	require.NoError(t, err)
	assert.Equal(t, firstStarted, *updated.InvestigationStartedAt)

	updated, err = svc.UpdateStatus(context.Background(), testActor, kase.ID, models.CaseStatusPendingReview, "")
	require.NoError(t, err)
	require.NotNil(t, updated.ReviewStartedAt)

	assert.Equal(t, "case_status_changed", sink.entries[len(sink.entries)-1].EventType)
}

func TestAddEvidenceStampsActor(t *testing.T) {
	alert := makeAlert(uuid.New(), 30)
	svc, _, _, _ := newTestService(alert)

	kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(alert),
		"aml_investigation", "t", "d", 3)
	require.NoError(t, err)

	updated, err := svc.AddEvidence(context.Background(), testActor, kase.ID, "bank_statements",
		map[string]interface{}{"period": "2025-01"})
	require.NoError(t, err)

	evidence, ok := updated.EvidenceCollected["bank_statements"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, testActor.Email, evidence["collected_by"])
	assert.NotEmpty(t, evidence["collected_at"])
}

func TestConductInterviewAppends(t *testing.T) {
	alert := makeAlert(uuid.New(), 30)
	svc, _, _, _ := newTestService(alert)

	kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(alert),
		"aml_investigation", "t", "d", 3)
	require.NoError(t, err)

	updated, err := svc.ConductInterview(context.Background(), testActor, kase.ID,
		map[string]interface{}{"subject": "account officer"})
	require.NoError(t, err)
	require.Len(t, updated.InterviewsConducted, 1)
	assert.Equal(t, testActor.Email, updated.InterviewsConducted[0]["conducted_by"])
}

func TestCloseWithSTRDecision(t *testing.T) {
	alert := makeAlert(uuid.New(), 70)
	svc, store, _, _ := newTestService(alert)

	kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(alert),
		"aml_investigation", "t", "d", 2)
	require.NoError(t, err)

	closed, err := svc.Close(context.Background(), testActor, kase.ID,
		"investigation_complete", "Funds routed through shell accounts", "file_str",
		[]string{"freeze_account", "file_str"})
	require.NoError(t, err)

	assert.Equal(t, models.CaseStatusClosed, closed.Status)
	assert.True(t, closed.STRRequired)
	assert.Equal(t, testActor.Email, closed.ClosedBy)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, "investigation_complete", closed.ClosureReason)

	// The fanout writes the closure findings onto each linked alert as its
	// resolution notes, so they must reach the store on the closed case
	require.NotNil(t, store.lastClosed)
	assert.Equal(t, "Funds routed through shell accounts", store.lastClosed.Findings)
	assert.Equal(t, "file_str", store.lastClosed.Decision)
}

func TestCloseIdempotent(t *testing.T) {
	alert := makeAlert(uuid.New(), 30)
	svc, _, _, _ := newTestService(alert)

	kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(alert),
		"aml_investigation", "t", "d", 3)
	require.NoError(t, err)

	closed, err := svc.Close(context.Background(), testActor, kase.ID, "no_issue", "clean", "no_action", nil)
	require.NoError(t, err)
	firstClosedAt := *closed.ClosedAt

	again, err := svc.Close(context.Background(), testActor, kase.ID, "other_reason", "", "file_str", nil)
	require.NoError(t, err)
	assert.Equal(t, firstClosedAt, *again.ClosedAt)
	assert.Equal(t, "no_action", again.Decision)
	assert.False(t, again.STRRequired)
}

func TestCloseNoActionDoesNotRequireSTR(t *testing.T) {
	alert := makeAlert(uuid.New(), 30)
	svc, _, _, _ := newTestService(alert)

	kase, err := svc.CreateFromAlerts(context.Background(), testActor, alertIDs(alert),
		"aml_investigation", "t", "d", 3)
	require.NoError(t, err)

	closed, err := svc.Close(context.Background(), testActor, kase.ID, "no_issue", "clean", "no_action", nil)
	require.NoError(t, err)
	assert.False(t, closed.STRRequired)
}

func TestOverdueScanFlagsBreaches(t *testing.T) {
	svc, store, _, sink := newTestService()

	past := time.Now().UTC().Add(-2 * time.Hour)
	overdue := &models.Case{ID: uuid.New(), CaseNumber: "CASE-2025-90", Status: models.CaseStatusOpen, SLADeadline: &past}
	store.cases[overdue.ID] = overdue
	store.overdue = []*models.Case{overdue}

	flagged, err := svc.OverdueScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, flagged)
	assert.True(t, overdue.SLABreached)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "sla_breached", sink.entries[0].EventType)
	assert.Equal(t, audit.SystemActor.Email, sink.entries[0].UserEmail)
}

func TestOverdueScanNothingDue(t *testing.T) {
	svc, _, _, sink := newTestService()

	flagged, err := svc.OverdueScan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, flagged)
	assert.Empty(t, sink.entries)
}
