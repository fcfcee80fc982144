package customers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
	"github.com/prodetect/aml-engine/internal/rules"
)

// CustomerStore is the persistence contract the service needs
type CustomerStore interface {
	Create(ctx context.Context, c *models.Customer) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	GetByCustomerID(ctx context.Context, customerID string) (*models.Customer, error)
	Update(ctx context.Context, c *models.Customer) error
	GetHighRisk(ctx context.Context, limit int) ([]*models.Customer, error)
	List(ctx context.Context, page, pageSize int) ([]*models.Customer, int, error)
}

// ActivitySource aggregates a customer's recent transaction behaviour
type ActivitySource interface {
	GetActivitySummary(ctx context.Context, customerID uuid.UUID, since time.Time) (*repositories.ActivitySummary, error)
}

// AlertCounter counts a customer's alerts over a window
type AlertCounter interface {
	CountByCustomer(ctx context.Context, customerID uuid.UUID, since time.Time) (int, error)
}

// Screener is the external sanctions-lookup boundary. Implementations query
// the UN, OFAC, EFCC, and PEP sources; the service only consumes the result
// envelope.
type Screener interface {
	Screen(ctx context.Context, customer *models.Customer) (*models.ScreeningResult, error)
}

// Service computes customer risk scores and applies screening outcomes
type Service struct {
	store     CustomerStore
	activity  ActivitySource
	alerts    AlertCounter
	screener  Screener
	auditSink audit.Sink
}

// NewService creates a customer risk service
func NewService(store CustomerStore, activity ActivitySource, alerts AlertCounter, screener Screener, auditSink audit.Sink) *Service {
	return &Service{
		store:     store,
		activity:  activity,
		alerts:    alerts,
		screener:  screener,
		auditSink: auditSink,
	}
}

// Create onboards a customer with their initial risk assessment
func (s *Service) Create(ctx context.Context, actor audit.Actor, customer *models.Customer) error {
	customer.RiskScore = initialScore(customer)
	customer.RiskCategory = categorize(customer.RiskScore)
	if customer.KYCStatus == "" {
		customer.KYCStatus = models.KYCStatusPending
	}
	now := time.Now().UTC()
	customer.LastRiskAssessment = &now

	if err := s.store.Create(ctx, customer); err != nil {
		return err
	}

	entry := audit.NewEntry(models.AuditCategoryCustomerManagement, "customer_created", audit.ActionCreate,
		actor, "customer", customer.ID.String(),
		fmt.Sprintf("Onboarded customer %s with initial risk score %.0f", customer.CustomerID, customer.RiskScore))
	entry.NewValues = models.JSONB{"risk_score": customer.RiskScore, "risk_category": customer.RiskCategory}
	return s.auditSink.Emit(ctx, entry)
}

// ReassessRisk recomputes a customer's dynamic risk score from 90-day
// behaviour and recent alert volume.
func (s *Service) ReassessRisk(ctx context.Context, actor audit.Actor, customerID uuid.UUID) (*models.Customer, error) {
	customer, err := s.store.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -90)
	summary, err := s.activity.GetActivitySummary(ctx, customer.ID, since)
	if err != nil {
		return nil, err
	}
	alertCount, err := s.alerts.CountByCustomer(ctx, customer.ID, since)
	if err != nil {
		return nil, err
	}

	oldScore := customer.RiskScore
	customer.RiskScore = dynamicScore(customer.RiskScore, summary, alertCount)
	customer.RiskCategory = categorize(customer.RiskScore)
	now := time.Now().UTC()
	customer.LastRiskAssessment = &now

	if err := s.store.Update(ctx, customer); err != nil {
		return nil, err
	}

	log.Info().
		Str("customer_id", customer.CustomerID).
		Float64("old_score", oldScore).
		Float64("new_score", customer.RiskScore).
		Msg("Customer risk reassessed")

	entry := audit.NewEntry(models.AuditCategoryCustomerManagement, "risk_reassessed", audit.ActionUpdate,
		actor, "customer", customer.ID.String(),
		fmt.Sprintf("Reassessed risk for customer %s", customer.CustomerID))
	entry.OldValues = models.JSONB{"risk_score": oldScore}
	entry.NewValues = models.JSONB{"risk_score": customer.RiskScore, "risk_category": customer.RiskCategory}
	entry.ChangedFields = []string{"risk_score", "risk_category", "last_risk_assessment"}
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return customer, nil
}

// Screen runs the customer through the external sanctions boundary and
// applies the outcome to the record. Any hit raises the score by 30 and
// forces enhanced due diligence.
func (s *Service) Screen(ctx context.Context, actor audit.Actor, customerID uuid.UUID) (*models.ScreeningResult, error) {
	customer, err := s.store.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	result, err := s.screener.Screen(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("sanctions screening failed for %s: %w", customer.CustomerID, err)
	}

	customer.SanctionsChecked = true
	customer.PEPStatus = result.PEPHit
	if result.AnyHit() {
		customer.RiskScore = rules.ClampScore(customer.RiskScore + 30)
		customer.RiskCategory = categorize(customer.RiskScore)
		customer.RequiresEnhancedDD = true
	}

	if err := s.store.Update(ctx, customer); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryCustomerManagement, "customer_screened", audit.ActionScreen,
		actor, "customer", customer.ID.String(),
		fmt.Sprintf("Screened customer %s against sanctions sources", customer.CustomerID))
	entry.Details = models.JSONB{
		"sanctions_hit":    result.SanctionsHit,
		"pep_hit":          result.PEPHit,
		"watchlist_hit":    result.WatchlistHit,
		"confidence_score": result.ConfidenceScore,
		"sources_checked":  result.SourcesChecked,
	}
	entry.RegulatorySignificance = result.AnyHit()
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return result, nil
}

// Get retrieves one customer
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	return s.store.GetByID(ctx, id)
}

// GetHighRisk retrieves the highest-risk customers
func (s *Service) GetHighRisk(ctx context.Context, limit int) ([]*models.Customer, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.GetHighRisk(ctx, limit)
}

// initialScore computes the onboarding risk score: base 10, +40 for
// sanctioned nationality, +15 for each business-class account type.
func initialScore(customer *models.Customer) float64 {
	score := 10.0
	if rules.IsSanctionedCountry(customer.Nationality) {
		score += 40
	}
	for _, accountType := range customer.AccountTypes {
		switch accountType {
		case "business", "corporate", "trust":
			score += 15
		}
	}
	return rules.ClampScore(score)
}

// dynamicScore layers behavioural bands on top of the current score
func dynamicScore(current float64, summary *repositories.ActivitySummary, alertCount int) float64 {
	score := current

	switch {
	case summary.Total > 10_000_000:
		score += 20
	case summary.Total > 5_000_000:
		score += 10
	}

	switch {
	case summary.Count > 1000:
		score += 15
	case summary.Count > 500:
		score += 8
	}

	switch {
	case alertCount > 10:
		score += 25
	case alertCount > 5:
		score += 15
	case alertCount >= 1:
		score += 5
	}

	if summary.Count > 0 && float64(summary.CashCount)/float64(summary.Count) > 0.5 {
		score += 20
	}

	return rules.ClampScore(score)
}

func categorize(score float64) string {
	switch {
	case score >= 70:
		return models.RiskCategoryHigh
	case score >= 40:
		return models.RiskCategoryMedium
	default:
		return models.RiskCategoryLow
	}
}
