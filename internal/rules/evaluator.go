package rules

import (
	"math"

	"github.com/prodetect/aml-engine/internal/models"
)

// Regulatory monetary constants, in NGN
const (
	CTRThreshold           = 5_000_000.0
	DefaultAmountThreshold = 1_000_000.0
	DefaultCashThreshold   = 500_000.0

	VelocityMaxCount24h = 50
	VelocityMaxTotal24h = 10_000_000.0

	StructuringLowFactor  = 0.8
	StructuringHighFactor = 0.99
	StructuringMinCount   = 3

	SuspiciousScoreFloor = 60.0
)

// Named predicates a rule can enable
const (
	ConditionAmountThreshold = "amount_threshold"
	ConditionVelocityCheck   = "velocity_check"
	ConditionStructuring     = "structuring_detection"
	ConditionCrossBorder     = "cross_border"
	ConditionHighRiskCountry = "high_risk_country"
	ConditionCashMonitoring  = "cash_monitoring"
	ConditionCustomerRisk    = "customer_risk"
	ConditionPEPMonitoring   = "pep_monitoring"
)

// Pattern detector flags, outside any rule
const (
	PatternUnusualTime   = "unusual_time"
	PatternRoundAmount   = "round_amount"
	PatternUnusualAmount = "unusual_amount"
)

// sanctionedCountries per current CBN AML/CFT guidance
var sanctionedCountries = map[string]bool{
	"AF": true,
	"IR": true,
	"KP": true,
	"SY": true,
}

// IsSanctionedCountry reports whether a beneficiary country is on the
// high-risk jurisdiction list
func IsSanctionedCountry(code string) bool {
	return sanctionedCountries[code]
}

// Activity carries the customer's aggregated history needed to evaluate one
// transaction. The engine loads it from the store before evaluation; the
// backtester computes it relative to each historical transaction's own
// timestamp.
type Activity struct {
	Count24h           int
	Total24h           float64
	NearThresholdCount int
	NearThresholdTotal float64
	AverageAmount30d   float64
}

// Evaluation is the outcome of running one rule against one transaction
type Evaluation struct {
	Contribution    float64
	Triggered       []string
	AlertRequired   bool
	ThresholdValues models.JSONB
}

// Triggered reports whether any predicate fired
func (e Evaluation) Fired() bool {
	return len(e.Triggered) > 0
}

// Evaluate runs a rule's enabled predicates against a transaction in fixed
// order and sums the weighted risk contribution. It is a pure function of
// its inputs; all history is supplied through activity.
func Evaluate(rule *models.Rule, txn *models.Transaction, customer *models.Customer, activity Activity) Evaluation {
	eval := Evaluation{ThresholdValues: models.JSONB{}}
	weight := rule.RiskWeight

	if rule.Conditions.AmountThreshold {
		threshold := rule.Thresholds.GetOrDefault("amount", DefaultAmountThreshold)
		if txn.Amount >= threshold {
			eval.Contribution += weight * 20
			eval.Triggered = append(eval.Triggered, ConditionAmountThreshold)
			eval.AlertRequired = true
			eval.ThresholdValues["amount"] = threshold
		}
	}

	if rule.Conditions.VelocityCheck {
		if activity.Count24h >= VelocityMaxCount24h || activity.Total24h >= VelocityMaxTotal24h {
			eval.Contribution += weight * 15
			eval.Triggered = append(eval.Triggered, ConditionVelocityCheck)
			eval.AlertRequired = true
			eval.ThresholdValues["velocity_count"] = activity.Count24h
			eval.ThresholdValues["velocity_total"] = activity.Total24h
		}
	}

	if rule.Conditions.StructuringDetection {
		count := activity.NearThresholdCount
		total := activity.NearThresholdTotal
		if inStructuringBand(txn.Amount) {
			count++
			total += txn.Amount
		}
		if count >= StructuringMinCount && total > CTRThreshold {
			eval.Contribution += weight * 25
			eval.Triggered = append(eval.Triggered, ConditionStructuring)
			eval.AlertRequired = true
			eval.ThresholdValues["structuring_count"] = count
			eval.ThresholdValues["structuring_total"] = total
		}
	}

	if rule.Conditions.CrossBorder || rule.Conditions.HighRiskCountry {
		sanctioned := txn.CrossBorder && IsSanctionedCountry(txn.BeneficiaryCountry)
		if rule.Conditions.CrossBorder && txn.CrossBorder {
			eval.Contribution += weight * 10
			eval.Triggered = append(eval.Triggered, ConditionCrossBorder)
			eval.ThresholdValues["beneficiary_country"] = txn.BeneficiaryCountry
		}
		if sanctioned {
			eval.Contribution += weight * 20
			eval.Triggered = append(eval.Triggered, ConditionHighRiskCountry)
			eval.AlertRequired = true
			eval.ThresholdValues["beneficiary_country"] = txn.BeneficiaryCountry
		}
	}

	if rule.Conditions.CashMonitoring {
		threshold := rule.Thresholds.GetOrDefault("cash_amount", DefaultCashThreshold)
		if txn.CashTransaction && txn.Amount >= threshold {
			eval.Contribution += weight * 15
			eval.Triggered = append(eval.Triggered, ConditionCashMonitoring)
			eval.AlertRequired = true
			eval.ThresholdValues["cash_amount"] = threshold
		}
	}

	pepHandled := false
	if rule.Conditions.CustomerRisk {
		if customer.RiskCategory == models.RiskCategoryHigh {
			eval.Contribution += weight * 10
			eval.Triggered = append(eval.Triggered, ConditionCustomerRisk)
			eval.ThresholdValues["customer_risk_category"] = customer.RiskCategory
		}
		if customer.PEPStatus {
			eval.Contribution += weight * 15
			eval.Triggered = append(eval.Triggered, ConditionPEPMonitoring)
			eval.AlertRequired = true
			eval.ThresholdValues["pep_status"] = true
			pepHandled = true
		}
	}

	if rule.Conditions.PEPMonitoring && !pepHandled && customer.PEPStatus {
		eval.Contribution += weight * 15
		eval.Triggered = append(eval.Triggered, ConditionPEPMonitoring)
		eval.AlertRequired = true
		eval.ThresholdValues["pep_status"] = true
	}

	return eval
}

// PatternHit is one detector firing outside the rule set
type PatternHit struct {
	Name          string
	Contribution  float64
	AlertRequired bool
	Severity      string
	Description   string
}

// DetectPatterns runs the rule-independent pattern detectors
func DetectPatterns(txn *models.Transaction, avg30d float64) []PatternHit {
	var hits []PatternHit

	hour := txn.TransactionDate.Hour()
	if hour < 6 || hour > 22 {
		hits = append(hits, PatternHit{
			Name:         PatternUnusualTime,
			Contribution: 5,
			Severity:     models.SeverityLow,
			Description:  "Transaction executed outside normal banking hours",
		})
	}

	if txn.Amount >= 1_000_000 && math.Mod(txn.Amount, 1_000_000) == 0 {
		hits = append(hits, PatternHit{
			Name:         PatternRoundAmount,
			Contribution: 8,
			Severity:     models.SeverityLow,
			Description:  "Exact round-million amount",
		})
	}

	if avg30d > 0 && txn.Amount > 10*avg30d {
		hits = append(hits, PatternHit{
			Name:          PatternUnusualAmount,
			Contribution:  15,
			AlertRequired: true,
			Severity:      models.SeverityMedium,
			Description:   "Amount exceeds 10x the customer's 30-day average",
		})
	}

	return hits
}

// ClampScore saturates a risk score to the [0, 100] scale
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func inStructuringBand(amount float64) bool {
	return amount >= StructuringLowFactor*CTRThreshold && amount <= StructuringHighFactor*CTRThreshold
}
