package rules

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/prodetect/aml-engine/internal/models"
)

const backtestRowCap = 1000

// HistorySource supplies the historical transactions and per-customer
// aggregates a backtest replays against.
type HistorySource interface {
	GetHistorical(ctx context.Context, since time.Time, txTypes, channels []string, limit int) ([]*models.Transaction, error)
	WindowStats(ctx context.Context, customerID uuid.UUID, since, until time.Time) (int, float64, error)
	NearThresholdStats(ctx context.Context, customerID uuid.UUID, lo, hi float64, since, until time.Time) (int, float64, error)
}

// CustomerSource resolves the customers joined to historical transactions
type CustomerSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// BacktestResult carries the quality metrics of one rule replay. Rates are
// fractions in [0, 1].
type BacktestResult struct {
	PeriodDays            int     `json:"period_days"`
	TransactionsEvaluated int     `json:"transactions_evaluated"`
	Triggers              int     `json:"triggers"`
	TruePositives         int     `json:"true_positives"`
	FalsePositives        int     `json:"false_positives"`
	TriggerRate           float64 `json:"trigger_rate"`
	FalsePositiveRate     float64 `json:"false_positive_rate"`
	Precision             float64 `json:"precision"`
	Effectiveness         float64 `json:"effectiveness"`
}

// AsJSONB renders the result for the rule's test_results column
func (r *BacktestResult) AsJSONB() models.JSONB {
	return models.JSONB{
		"period_days":            r.PeriodDays,
		"transactions_evaluated": r.TransactionsEvaluated,
		"triggers":               r.Triggers,
		"true_positives":         r.TruePositives,
		"false_positives":        r.FalsePositives,
		"trigger_rate":           r.TriggerRate,
		"false_positive_rate":    r.FalsePositiveRate,
		"precision":              r.Precision,
		"effectiveness":          r.Effectiveness,
	}
}

// Backtester replays rules against stored history. A trigger on a
// transaction that was already marked suspicious counts as a true positive;
// any other trigger is a false positive.
type Backtester struct {
	history   HistorySource
	customers CustomerSource
}

// NewBacktester creates a backtester
func NewBacktester(history HistorySource, customers CustomerSource) *Backtester {
	return &Backtester{history: history, customers: customers}
}

// Run evaluates the rule against up to 1000 recent transactions within the
// rule's scope filters. Each transaction's activity windows are computed
// relative to its own timestamp so old rows replay the way they would have
// evaluated live.
func (b *Backtester) Run(ctx context.Context, rule *models.Rule, periodDays int) (*BacktestResult, error) {
	since := time.Now().UTC().AddDate(0, 0, -periodDays)

	transactions, err := b.history.GetHistorical(ctx, since, rule.TransactionTypes, rule.Channels, backtestRowCap)
	if err != nil {
		return nil, err
	}

	result := &BacktestResult{PeriodDays: periodDays}
	customerCache := make(map[uuid.UUID]*models.Customer)

	for _, txn := range transactions {
		customer, ok := customerCache[txn.CustomerID]
		if !ok {
			customer, err = b.customers.GetByID(ctx, txn.CustomerID)
			if err != nil {
				return nil, err
			}
			customerCache[txn.CustomerID] = customer
		}

		if !inSegmentScope(rule, customer) {
			continue
		}
		result.TransactionsEvaluated++

		activity, err := b.activityAt(ctx, txn)
		if err != nil {
			return nil, err
		}

		eval := Evaluate(rule, txn, customer, activity)
		if !eval.Fired() {
			continue
		}

		result.Triggers++
		if txn.IsSuspicious {
			result.TruePositives++
		} else {
			result.FalsePositives++
		}
	}

	if result.TransactionsEvaluated > 0 {
		result.TriggerRate = float64(result.Triggers) / float64(result.TransactionsEvaluated)
	}
	if result.Triggers > 0 {
		result.FalsePositiveRate = float64(result.FalsePositives) / float64(result.Triggers)
		result.Precision = float64(result.TruePositives) / float64(result.Triggers)
	}
	result.Effectiveness = result.Precision * (1 - result.FalsePositiveRate)

	return result, nil
}

// activityAt rebuilds the customer's activity windows as they stood when the
// historical transaction arrived. The stored row itself is backed out of the
// window aggregates since live evaluation sees only prior history.
func (b *Backtester) activityAt(ctx context.Context, txn *models.Transaction) (Activity, error) {
	var activity Activity
	until := txn.TransactionDate

	count24, total24, err := b.history.WindowStats(ctx, txn.CustomerID, until.Add(-24*time.Hour), until)
	if err != nil {
		return activity, err
	}
	if count24 > 0 {
		count24--
		total24 -= txn.Amount
	}
	activity.Count24h = count24
	activity.Total24h = total24

	lo := StructuringLowFactor * CTRThreshold
	hi := StructuringHighFactor * CTRThreshold
	nearCount, nearTotal, err := b.history.NearThresholdStats(ctx, txn.CustomerID, lo, hi, until.Add(-24*time.Hour), until)
	if err != nil {
		return activity, err
	}
	if inStructuringBand(txn.Amount) && nearCount > 0 {
		nearCount--
		nearTotal -= txn.Amount
	}
	activity.NearThresholdCount = nearCount
	activity.NearThresholdTotal = nearTotal

	count30, total30, err := b.history.WindowStats(ctx, txn.CustomerID, until.AddDate(0, 0, -30), until)
	if err != nil {
		return activity, err
	}
	if count30 > 1 {
		activity.AverageAmount30d = (total30 - txn.Amount) / float64(count30-1)
	}

	return activity, nil
}

func inSegmentScope(rule *models.Rule, customer *models.Customer) bool {
	if len(rule.CustomerSegments) == 0 {
		return true
	}
	for _, segment := range rule.CustomerSegments {
		if segment == customer.RiskCategory {
			return true
		}
	}
	return false
}
