package customers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
)

type fakeCustomerStore struct {
	customers map[uuid.UUID]*models.Customer
	updates   int
}

func newFakeCustomerStore() *fakeCustomerStore {
	return &fakeCustomerStore{customers: make(map[uuid.UUID]*models.Customer)}
}

func (s *fakeCustomerStore) Create(_ context.Context, c *models.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.customers[c.ID] = c
	return nil
}

func (s *fakeCustomerStore) GetByID(_ context.Context, id uuid.UUID) (*models.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, repositories.ErrCustomerNotFound
	}
	return c, nil
}

func (s *fakeCustomerStore) GetByCustomerID(_ context.Context, customerID string) (*models.Customer, error) {
	for _, c := range s.customers {
		if c.CustomerID == customerID {
			return c, nil
		}
	}
	return nil, repositories.ErrCustomerNotFound
}

func (s *fakeCustomerStore) Update(_ context.Context, c *models.Customer) error {
	s.customers[c.ID] = c
	s.updates++
	return nil
}

func (s *fakeCustomerStore) GetHighRisk(_ context.Context, limit int) ([]*models.Customer, error) {
	var out []*models.Customer
	for _, c := range s.customers {
		if c.RiskCategory == models.RiskCategoryHigh {
			if len(out) == limit {
				break
			}
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeCustomerStore) List(_ context.Context, _, _ int) ([]*models.Customer, int, error) {
	var out []*models.Customer
	for _, c := range s.customers {
		out = append(out, c)
	}
	return out, len(out), nil
}

type fakeActivity struct {
	summary repositories.ActivitySummary
}

func (a *fakeActivity) GetActivitySummary(_ context.Context, _ uuid.UUID, _ time.Time) (*repositories.ActivitySummary, error) {
	summary := a.summary
	return &summary, nil
}

type fakeAlertCounter struct {
	count int
}

func (a *fakeAlertCounter) CountByCustomer(_ context.Context, _ uuid.UUID, _ time.Time) (int, error) {
	return a.count, nil
}

type fakeScreener struct {
	result *models.ScreeningResult
	err    error
}

func (f *fakeScreener) Screen(_ context.Context, _ *models.Customer) (*models.ScreeningResult, error) {
	return f.result, f.err
}

type fakeSink struct {
	entries []*models.AuditLog
}

func (s *fakeSink) Emit(_ context.Context, entry *models.AuditLog) error {
	s.entries = append(s.entries, entry)
	return nil
}

var testActor = audit.Actor{ID: "u-1", Email: "analyst@prodetect.ng", Role: "analyst"}

func TestCreateInitialScoreBaseline(t *testing.T) {
	store := newFakeCustomerStore()
	sink := &fakeSink{}
	svc := NewService(store, &fakeActivity{}, &fakeAlertCounter{}, &fakeScreener{}, sink)

	customer := &models.Customer{
		CustomerID:  "CUST-001",
		Nationality: "NG",
	}
	require.NoError(t, svc.Create(context.Background(), testActor, customer))

	assert.Equal(t, 10.0, customer.RiskScore)
	assert.Equal(t, models.RiskCategoryLow, customer.RiskCategory)
	assert.Equal(t, models.KYCStatusPending, customer.KYCStatus)
	require.NotNil(t, customer.LastRiskAssessment)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "customer_created", sink.entries[0].EventType)
}

func TestCreateInitialScoreSanctionedNationality(t *testing.T) {
	store := newFakeCustomerStore()
	svc := NewService(store, &fakeActivity{}, &fakeAlertCounter{}, &fakeScreener{}, &fakeSink{})

	customer := &models.Customer{
		CustomerID:  "CUST-002",
		Nationality: "IR",
	}
	require.NoError(t, svc.Create(context.Background(), testActor, customer))

	assert.Equal(t, 50.0, customer.RiskScore)
	assert.Equal(t, models.RiskCategoryMedium, customer.RiskCategory)
}

func TestCreateInitialScoreBusinessAccounts(t *testing.T) {
	store := newFakeCustomerStore()
	svc := NewService(store, &fakeActivity{}, &fakeAlertCounter{}, &fakeScreener{}, &fakeSink{})

	customer := &models.Customer{
		CustomerID:   "CUST-003",
		Nationality:  "NG",
		AccountTypes: []string{"savings", "business", "corporate"},
	}
	require.NoError(t, svc.Create(context.Background(), testActor, customer))

	// base 10 plus 15 for each of the two business-class accounts
	assert.Equal(t, 40.0, customer.RiskScore)
	assert.Equal(t, models.RiskCategoryMedium, customer.RiskCategory)
}

func TestReassessRiskBands(t *testing.T) {
	tests := []struct {
		name       string
		start      float64
		summary    repositories.ActivitySummary
		alertCount int
		want       float64
	}{
		{
			name:    "quiet customer stays put",
			start:   10,
			summary: repositories.ActivitySummary{Count: 20, Total: 400_000},
			want:    10,
		},
		{
			name:    "high volume",
			start:   10,
			summary: repositories.ActivitySummary{Count: 100, Total: 12_000_000},
			want:    30,
		},
		{
			name:    "moderate volume",
			start:   10,
			summary: repositories.ActivitySummary{Count: 100, Total: 6_000_000},
			want:    20,
		},
		{
			name:    "very frequent",
			start:   10,
			summary: repositories.ActivitySummary{Count: 1200, Total: 1_000_000},
			want:    25,
		},
		{
			name:       "alert history",
			start:      10,
			summary:    repositories.ActivitySummary{Count: 10, Total: 100_000},
			alertCount: 12,
			want:       35,
		},
		{
			name:    "mostly cash",
			start:   10,
			summary: repositories.ActivitySummary{Count: 10, Total: 100_000, CashCount: 8},
			want:    30,
		},
		{
			name:       "everything at once clamps to 100",
			start:      60,
			summary:    repositories.ActivitySummary{Count: 1500, Total: 20_000_000, CashCount: 1400},
			alertCount: 15,
			want:       100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeCustomerStore()
			customer := &models.Customer{CustomerID: "CUST-010", RiskScore: tt.start, RiskCategory: models.RiskCategoryLow}
			require.NoError(t, store.Create(context.Background(), customer))

			svc := NewService(store, &fakeActivity{summary: tt.summary}, &fakeAlertCounter{count: tt.alertCount}, &fakeScreener{}, &fakeSink{})

			updated, err := svc.ReassessRisk(context.Background(), testActor, customer.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, updated.RiskScore)
		})
	}
}

func TestScreenCleanCustomer(t *testing.T) {
	store := newFakeCustomerStore()
	customer := &models.Customer{CustomerID: "CUST-020", RiskScore: 10, RiskCategory: models.RiskCategoryLow}
	require.NoError(t, store.Create(context.Background(), customer))

	screener := &fakeScreener{result: &models.ScreeningResult{
		SourcesChecked: []string{"un", "ofac", "efcc", "pep"},
	}}
	sink := &fakeSink{}
	svc := NewService(store, &fakeActivity{}, &fakeAlertCounter{}, screener, sink)

	result, err := svc.Screen(context.Background(), testActor, customer.ID)
	require.NoError(t, err)
	assert.False(t, result.AnyHit())

	// Clean outcome still marks the customer as checked
	assert.True(t, customer.SanctionsChecked)
	assert.False(t, customer.RequiresEnhancedDD)
	assert.Equal(t, 10.0, customer.RiskScore)

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "customer_screened", sink.entries[0].EventType)
	assert.False(t, sink.entries[0].RegulatorySignificance)
}

func TestScreenSanctionsHit(t *testing.T) {
	store := newFakeCustomerStore()
	customer := &models.Customer{CustomerID: "CUST-021", RiskScore: 50, RiskCategory: models.RiskCategoryMedium}
	require.NoError(t, store.Create(context.Background(), customer))

	screener := &fakeScreener{result: &models.ScreeningResult{
		SanctionsHit:    true,
		ConfidenceScore: 0.92,
		SourcesChecked:  []string{"un", "ofac"},
	}}
	sink := &fakeSink{}
	svc := NewService(store, &fakeActivity{}, &fakeAlertCounter{}, screener, sink)

	_, err := svc.Screen(context.Background(), testActor, customer.ID)
	require.NoError(t, err)

	assert.Equal(t, 80.0, customer.RiskScore)
	assert.Equal(t, models.RiskCategoryHigh, customer.RiskCategory)
	assert.True(t, customer.RequiresEnhancedDD)
	assert.True(t, sink.entries[0].RegulatorySignificance)
}

func TestScreenHitClampsScore(t *testing.T) {
	store := newFakeCustomerStore()
	customer := &models.Customer{CustomerID: "CUST-022", RiskScore: 85, RiskCategory: models.RiskCategoryHigh}
	require.NoError(t, store.Create(context.Background(), customer))

	screener := &fakeScreener{result: &models.ScreeningResult{WatchlistHit: true}}
	svc := NewService(store, &fakeActivity{}, &fakeAlertCounter{}, screener, &fakeSink{})

	_, err := svc.Screen(context.Background(), testActor, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, customer.RiskScore)
}

func TestScreenPEPHitUpdatesStatus(t *testing.T) {
	store := newFakeCustomerStore()
	customer := &models.Customer{CustomerID: "CUST-023", RiskScore: 10}
	require.NoError(t, store.Create(context.Background(), customer))

	screener := &fakeScreener{result: &models.ScreeningResult{PEPHit: true}}
	svc := NewService(store, &fakeActivity{}, &fakeAlertCounter{}, screener, &fakeSink{})

	_, err := svc.Screen(context.Background(), testActor, customer.ID)
	require.NoError(t, err)
	assert.True(t, customer.PEPStatus)
	assert.True(t, customer.RequiresEnhancedDD)
}

func TestScreenFailureLeavesCustomerUntouched(t *testing.T) {
	store := newFakeCustomerStore()
	customer := &models.Customer{CustomerID: "CUST-024", RiskScore: 10}
	require.NoError(t, store.Create(context.Background(), customer))
	updatesBefore := store.updates

	screener := &fakeScreener{err: errors.New("screening provider timeout")}
	svc := NewService(store, &fakeActivity{}, &fakeAlertCounter{}, screener, &fakeSink{})

	_, err := svc.Screen(context.Background(), testActor, customer.ID)
	require.Error(t, err)
	assert.False(t, customer.SanctionsChecked)
	assert.Equal(t, updatesBefore, store.updates)
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, models.RiskCategoryLow, categorize(0))
	assert.Equal(t, models.RiskCategoryLow, categorize(39.9))
	assert.Equal(t, models.RiskCategoryMedium, categorize(40))
	assert.Equal(t, models.RiskCategoryMedium, categorize(69.9))
	assert.Equal(t, models.RiskCategoryHigh, categorize(70))
	assert.Equal(t, models.RiskCategoryHigh, categorize(100))
}
