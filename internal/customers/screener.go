package customers

import (
	"context"

	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/rules"
)

var screeningSources = []string{"UN", "OFAC", "EFCC", "PEP_LIST"}

// StubScreener stands in for the external sanctions provider until the real
// integration is wired. It flags sanctioned nationalities and preserves a
// known PEP status, which is enough for end-to-end flows in non-production
// environments.
type StubScreener struct{}

// NewStubScreener creates the stand-in screener
func NewStubScreener() *StubScreener {
	return &StubScreener{}
}

// Screen produces a screening envelope from locally available signals
func (s *StubScreener) Screen(_ context.Context, customer *models.Customer) (*models.ScreeningResult, error) {
	result := &models.ScreeningResult{
		SourcesChecked: screeningSources,
	}

	if rules.IsSanctionedCountry(customer.Nationality) {
		result.SanctionsHit = true
		result.ConfidenceScore = 0.95
	}
	if customer.PEPStatus {
		result.PEPHit = true
		if result.ConfidenceScore < 0.85 {
			result.ConfidenceScore = 0.85
		}
	}

	return result, nil
}
