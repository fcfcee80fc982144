package rules

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
)

// standardRules are the baseline CBN AML/CFT monitoring rules every
// deployment starts from. They are seeded in draft and must be back-tested
// before activation like any other rule.
func standardRules() []*models.Rule {
	return []*models.Rule{
		{
			RuleCode:    "CBN-CASH-001",
			RuleName:    "High-Value Cash Transaction Monitoring",
			RuleType:    models.RuleTypeTransactionMonitoring,
			Category:    "cash",
			Description: "Flags cash transactions at or above the CBN reporting threshold",
			Conditions:  models.RuleConditions{CashMonitoring: true},
			Thresholds:  models.FloatMap{"cash_amount": DefaultCashThreshold},
			RiskWeight:  1.5,
			SeverityLevel: models.SeverityHigh,
			AlertPriority: 2,
		},
		{
			RuleCode:    "CBN-VEL-001",
			RuleName:    "Transaction Velocity and Structuring Monitoring",
			RuleType:    models.RuleTypeTransactionMonitoring,
			Category:    "velocity",
			Description: "Flags high-frequency activity and sub-threshold structuring over a 24-hour window",
			Conditions:  models.RuleConditions{VelocityCheck: true, StructuringDetection: true},
			RiskWeight:  1.0,
			SeverityLevel: models.SeverityMedium,
			AlertPriority: 3,
		},
		{
			RuleCode:    "CBN-CB-001",
			RuleName:    "Cross-Border High-Risk Jurisdiction Monitoring",
			RuleType:    models.RuleTypeTransactionMonitoring,
			Category:    "cross_border",
			Description: "Flags transfers to beneficiaries in sanctioned or high-risk jurisdictions",
			Conditions:  models.RuleConditions{CrossBorder: true, HighRiskCountry: true},
			RiskWeight:  1.0,
			SeverityLevel: models.SeverityHigh,
			AlertPriority: 2,
		},
		{
			RuleCode:    "CBN-PEP-001",
			RuleName:    "PEP Enhanced Monitoring",
			RuleType:    models.RuleTypeTransactionMonitoring,
			Category:    "pep",
			Description: "Flags activity by politically exposed persons and high-risk customers",
			Conditions:  models.RuleConditions{CustomerRisk: true, PEPMonitoring: true},
			RiskWeight:  2.0,
			SeverityLevel: models.SeverityHigh,
			AlertPriority: 1,
		},
	}
}

// SeedStandardRules inserts the baseline CBN rules. Codes that already
// exist are left untouched, so the seed is safe to run on every startup.
func (r *Registry) SeedStandardRules(ctx context.Context) error {
	for _, rule := range standardRules() {
		rule.Status = models.RuleStatusDraft
		rule.Version = "1.0"
		rule.CreatedBy = "system"

		err := r.rules.Create(ctx, rule)
		if err != nil {
			if errors.Is(err, repositories.ErrDuplicateRuleCode) {
				continue
			}
			return err
		}

		log.Info().Str("rule_code", rule.RuleCode).Msg("Seeded standard monitoring rule")
	}
	return nil
}
