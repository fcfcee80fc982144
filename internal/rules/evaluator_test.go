package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodetect/aml-engine/internal/models"
)

func testRule(conditions models.RuleConditions, weight float64) *models.Rule {
	return &models.Rule{
		RuleCode:   "TEST-001",
		RuleName:   "test rule",
		Conditions: conditions,
		Thresholds: models.FloatMap{},
		RiskWeight: weight,
	}
}

func testCustomer() *models.Customer {
	return &models.Customer{
		CustomerID:   "CUST-001",
		RiskCategory: models.RiskCategoryLow,
	}
}

func testTxn(amount float64) *models.Transaction {
	return &models.Transaction{
		Amount:          amount,
		TransactionDate: time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateAmountThreshold(t *testing.T) {
	rule := testRule(models.RuleConditions{AmountThreshold: true}, 1.0)

	eval := Evaluate(rule, testTxn(1_000_000), testCustomer(), Activity{})
	require.True(t, eval.Fired())
	assert.Equal(t, 20.0, eval.Contribution)
	assert.True(t, eval.AlertRequired)
	assert.Contains(t, eval.Triggered, ConditionAmountThreshold)

	eval = Evaluate(rule, testTxn(999_999.99), testCustomer(), Activity{})
	assert.False(t, eval.Fired())
	assert.Zero(t, eval.Contribution)
}

func TestEvaluateAmountThresholdCustom(t *testing.T) {
	rule := testRule(models.RuleConditions{AmountThreshold: true}, 1.5)
	rule.Thresholds = models.FloatMap{"amount": 2_000_000}

	eval := Evaluate(rule, testTxn(1_500_000), testCustomer(), Activity{})
	assert.False(t, eval.Fired())

	eval = Evaluate(rule, testTxn(2_000_000), testCustomer(), Activity{})
	require.True(t, eval.Fired())
	assert.Equal(t, 30.0, eval.Contribution)
	assert.Equal(t, 2_000_000.0, eval.ThresholdValues["amount"])
}

func TestEvaluateVelocityByCount(t *testing.T) {
	rule := testRule(models.RuleConditions{VelocityCheck: true}, 1.0)

	// 50 prior transactions in the last 24 hours trips the count limit
	eval := Evaluate(rule, testTxn(10_000), testCustomer(), Activity{Count24h: 50, Total24h: 500_000})
	require.True(t, eval.Fired())
	assert.Equal(t, 15.0, eval.Contribution)
	assert.True(t, eval.AlertRequired)

	eval = Evaluate(rule, testTxn(10_000), testCustomer(), Activity{Count24h: 49, Total24h: 500_000})
	assert.False(t, eval.Fired())
}

func TestEvaluateVelocityByTotal(t *testing.T) {
	rule := testRule(models.RuleConditions{VelocityCheck: true}, 1.0)

	eval := Evaluate(rule, testTxn(10_000), testCustomer(), Activity{Count24h: 3, Total24h: 10_000_000})
	require.True(t, eval.Fired())
	assert.Contains(t, eval.Triggered, ConditionVelocityCheck)
}

func TestEvaluateStructuring(t *testing.T) {
	rule := testRule(models.RuleConditions{StructuringDetection: true}, 1.0)

	// Two prior near-threshold transactions plus the current one, all in the
	// 4.0M-4.95M band, summing above 5M
	activity := Activity{NearThresholdCount: 2, NearThresholdTotal: 9_700_000}
	eval := Evaluate(rule, testTxn(4_900_000), testCustomer(), activity)
	require.True(t, eval.Fired())
	assert.Equal(t, 25.0, eval.Contribution)
	assert.True(t, eval.AlertRequired)
	assert.Equal(t, 3, eval.ThresholdValues["structuring_count"])

	// Only two deposits in the band: below the minimum count
	eval = Evaluate(rule, testTxn(4_900_000), testCustomer(), Activity{NearThresholdCount: 1, NearThresholdTotal: 4_800_000})
	assert.False(t, eval.Fired())
}

func TestEvaluateStructuringBandEdges(t *testing.T) {
	assert.True(t, inStructuringBand(4_000_000))
	assert.True(t, inStructuringBand(4_800_000))
	assert.True(t, inStructuringBand(4_950_000))
	assert.False(t, inStructuringBand(3_999_999))
	assert.False(t, inStructuringBand(4_950_001))
	assert.False(t, inStructuringBand(5_000_000))
}

func TestEvaluateStructuringCurrentOutsideBand(t *testing.T) {
	rule := testRule(models.RuleConditions{StructuringDetection: true}, 1.0)

	// Current transaction is outside the band, so only prior activity counts
	activity := Activity{NearThresholdCount: 3, NearThresholdTotal: 13_500_000}
	eval := Evaluate(rule, testTxn(100_000), testCustomer(), activity)
	require.True(t, eval.Fired())

	activity = Activity{NearThresholdCount: 2, NearThresholdTotal: 9_000_000}
	eval = Evaluate(rule, testTxn(100_000), testCustomer(), activity)
	assert.False(t, eval.Fired())
}

func TestEvaluateCrossBorder(t *testing.T) {
	rule := testRule(models.RuleConditions{CrossBorder: true, HighRiskCountry: true}, 1.0)

	txn := testTxn(200_000)
	txn.CrossBorder = true
	txn.BeneficiaryCountry = "GB"

	eval := Evaluate(rule, txn, testCustomer(), Activity{})
	require.True(t, eval.Fired())
	assert.Equal(t, 10.0, eval.Contribution)
	assert.False(t, eval.AlertRequired)

	txn.BeneficiaryCountry = "IR"
	eval = Evaluate(rule, txn, testCustomer(), Activity{})
	require.True(t, eval.Fired())
	assert.Equal(t, 30.0, eval.Contribution)
	assert.True(t, eval.AlertRequired)
	assert.Contains(t, eval.Triggered, ConditionHighRiskCountry)
}

func TestEvaluateDomesticNotCrossBorder(t *testing.T) {
	rule := testRule(models.RuleConditions{CrossBorder: true, HighRiskCountry: true}, 1.0)

	txn := testTxn(200_000)
	txn.CrossBorder = false

	eval := Evaluate(rule, txn, testCustomer(), Activity{})
	assert.False(t, eval.Fired())
}

func TestEvaluateCashMonitoring(t *testing.T) {
	rule := testRule(models.RuleConditions{CashMonitoring: true}, 1.5)

	txn := testTxn(500_000)
	txn.CashTransaction = true

	eval := Evaluate(rule, txn, testCustomer(), Activity{})
	require.True(t, eval.Fired())
	assert.Equal(t, 22.5, eval.Contribution)

	// Same amount through a transfer does not count
	txn.CashTransaction = false
	eval = Evaluate(rule, txn, testCustomer(), Activity{})
	assert.False(t, eval.Fired())
}

func TestEvaluateCustomerRiskAndPEP(t *testing.T) {
	rule := testRule(models.RuleConditions{CustomerRisk: true, PEPMonitoring: true}, 2.0)

	customer := testCustomer()
	customer.RiskCategory = models.RiskCategoryHigh
	customer.PEPStatus = true

	eval := Evaluate(rule, testTxn(50_000), customer, Activity{})
	require.True(t, eval.Fired())
	// high-risk 2x10 plus PEP 2x15, counted once despite both condition flags
	assert.Equal(t, 50.0, eval.Contribution)
	assert.True(t, eval.AlertRequired)

	counted := 0
	for _, name := range eval.Triggered {
		if name == ConditionPEPMonitoring {
			counted++
		}
	}
	assert.Equal(t, 1, counted)
}

func TestEvaluatePEPMonitoringAlone(t *testing.T) {
	rule := testRule(models.RuleConditions{PEPMonitoring: true}, 1.0)

	customer := testCustomer()
	customer.PEPStatus = true

	eval := Evaluate(rule, testTxn(50_000), customer, Activity{})
	require.True(t, eval.Fired())
	assert.Equal(t, 15.0, eval.Contribution)
}

func TestIsSanctionedCountry(t *testing.T) {
	for _, code := range []string{"AF", "IR", "KP", "SY"} {
		assert.True(t, IsSanctionedCountry(code), code)
	}
	assert.False(t, IsSanctionedCountry("NG"))
	assert.False(t, IsSanctionedCountry("US"))
	assert.False(t, IsSanctionedCountry(""))
}

func TestDetectPatternsUnusualTime(t *testing.T) {
	txn := testTxn(50_000)
	txn.TransactionDate = time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)

	hits := DetectPatterns(txn, 0)
	require.Len(t, hits, 1)
	assert.Equal(t, PatternUnusualTime, hits[0].Name)
	assert.Equal(t, 5.0, hits[0].Contribution)
	assert.False(t, hits[0].AlertRequired)

	txn.TransactionDate = time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC)
	hits = DetectPatterns(txn, 0)
	require.Len(t, hits, 1)

	txn.TransactionDate = time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	hits = DetectPatterns(txn, 0)
	assert.Empty(t, hits)
}

func TestDetectPatternsRoundAmount(t *testing.T) {
	hits := DetectPatterns(testTxn(2_000_000), 0)
	require.Len(t, hits, 1)
	assert.Equal(t, PatternRoundAmount, hits[0].Name)
	assert.Equal(t, 8.0, hits[0].Contribution)

	// Round thousands below a million do not count
	assert.Empty(t, DetectPatterns(testTxn(500_000), 0))
	assert.Empty(t, DetectPatterns(testTxn(2_000_001), 0))
}

func TestDetectPatternsUnusualAmount(t *testing.T) {
	hits := DetectPatterns(testTxn(600_000), 50_000)
	require.Len(t, hits, 1)
	assert.Equal(t, PatternUnusualAmount, hits[0].Name)
	assert.Equal(t, 15.0, hits[0].Contribution)
	assert.True(t, hits[0].AlertRequired)

	// Exactly 10x is not over the line
	assert.Empty(t, DetectPatterns(testTxn(500_000), 50_000))

	// No history, no baseline to compare against
	assert.Empty(t, DetectPatterns(testTxn(600_000), 0))
}

func TestClampScore(t *testing.T) {
	assert.Equal(t, 0.0, ClampScore(-5))
	assert.Equal(t, 0.0, ClampScore(0))
	assert.Equal(t, 42.5, ClampScore(42.5))
	assert.Equal(t, 100.0, ClampScore(100))
	assert.Equal(t, 100.0, ClampScore(137))
}
