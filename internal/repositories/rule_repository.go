package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/prodetect/aml-engine/internal/models"
)

var (
	ErrRuleNotFound      = errors.New("rule not found")
	ErrDuplicateRuleCode = errors.New("rule code already exists")
)

const ruleColumns = `
	id, rule_code, rule_name, rule_type, category, description,
	conditions, thresholds, applies_to, customer_segments, transaction_types, channels,
	risk_weight, severity_level, alert_priority, status, version,
	effective_date, expiry_date, false_positive_rate, effectiveness_score,
	last_tested, test_results, total_triggers, true_positives, false_positives,
	alerts_generated, tuning_required, created_by, created_at, updated_at`

// RuleRepository handles monitoring rule database operations
type RuleRepository struct {
	db *Database
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *Database) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create creates a new rule in draft state
func (r *RuleRepository) Create(ctx context.Context, rule *models.Rule) error {
	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23,
			$24, $25, $26, $27, $28, $29, $30, $31)
	`

	rule.ID = uuid.New()
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt

	conditionsBytes, _ := rule.Conditions.Value()
	thresholdsBytes, _ := rule.Thresholds.Value()
	testResultsBytes, _ := rule.TestResults.Value()

	_, err := r.db.Pool.Exec(ctx, query,
		rule.ID, rule.RuleCode, rule.RuleName, rule.RuleType, rule.Category, rule.Description,
		conditionsBytes, thresholdsBytes, rule.AppliesTo,
		pq.Array(rule.CustomerSegments), pq.Array(rule.TransactionTypes), pq.Array(rule.Channels),
		rule.RiskWeight, rule.SeverityLevel, rule.AlertPriority, rule.Status, rule.Version,
		rule.EffectiveDate, rule.ExpiryDate, rule.FalsePositiveRate, rule.EffectivenessScore,
		rule.LastTested, testResultsBytes, rule.TotalTriggers, rule.TruePositives, rule.FalsePositives,
		rule.AlertsGenerated, rule.TuningRequired, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt,
	)

	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateRuleCode
		}
		return err
	}

	return nil
}

// GetByID retrieves a rule by ID
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = $1`

	row := r.db.Pool.QueryRow(ctx, query, id)
	return scanRuleRow(row)
}

// GetByCode retrieves a rule by its unique rule code
func (r *RuleRepository) GetByCode(ctx context.Context, code string) (*models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_code = $1`

	row := r.db.Pool.QueryRow(ctx, query, code)
	return scanRuleRow(row)
}

// Update writes back a rule with an optimistic-concurrency check on updated_at
func (r *RuleRepository) Update(ctx context.Context, rule *models.Rule) error {
	query := `
		UPDATE rules SET
			rule_name = $3, category = $4, description = $5,
			conditions = $6, thresholds = $7, applies_to = $8,
			customer_segments = $9, transaction_types = $10, channels = $11,
			risk_weight = $12, severity_level = $13, alert_priority = $14,
			status = $15, version = $16, effective_date = $17, expiry_date = $18,
			false_positive_rate = $19, effectiveness_score = $20,
			last_tested = $21, test_results = $22, tuning_required = $23,
			updated_at = $24
		WHERE id = $1 AND updated_at = $2
	`

	expected := rule.UpdatedAt
	rule.UpdatedAt = time.Now().UTC()

	conditionsBytes, _ := rule.Conditions.Value()
	thresholdsBytes, _ := rule.Thresholds.Value()
	testResultsBytes, _ := rule.TestResults.Value()

	result, err := r.db.Pool.Exec(ctx, query,
		rule.ID, expected,
		rule.RuleName, rule.Category, rule.Description,
		conditionsBytes, thresholdsBytes, rule.AppliesTo,
		pq.Array(rule.CustomerSegments), pq.Array(rule.TransactionTypes), pq.Array(rule.Channels),
		rule.RiskWeight, rule.SeverityLevel, rule.AlertPriority,
		rule.Status, rule.Version, rule.EffectiveDate, rule.ExpiryDate,
		rule.FalsePositiveRate, rule.EffectivenessScore,
		rule.LastTested, testResultsBytes, rule.TuningRequired,
		rule.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1)`, rule.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrRuleNotFound
		}
		return ErrStaleWrite
	}

	return nil
}

// ListActive retrieves active rules of the given type
func (r *RuleRepository) ListActive(ctx context.Context, ruleType string) ([]*models.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE status = $1 AND ($2 = '' OR rule_type = $2)
		ORDER BY alert_priority ASC, rule_code ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, models.RuleStatusActive, ruleType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRules(rows)
}

// List retrieves rules filtered by status and type
func (r *RuleRepository) List(ctx context.Context, status, ruleType string, limit int) ([]*models.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE ($1 = '' OR status = $1) AND ($2 = '' OR rule_type = $2)
		ORDER BY rule_code ASC
		LIMIT $3
	`

	rows, err := r.db.Pool.Query(ctx, query, status, ruleType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRules(rows)
}

// bumpCountersTx increments a rule's trigger counters within a transaction
func (r *RuleRepository) bumpCountersTx(ctx context.Context, tx pgx.Tx, ruleID uuid.UUID, triggers, alerts int) error {
	query := `
		UPDATE rules
		SET total_triggers = total_triggers + $2,
			alerts_generated = alerts_generated + $3
		WHERE id = $1
	`

	_, err := tx.Exec(ctx, query, ruleID, triggers, alerts)
	return err
}

func scanRules(rows pgx.Rows) ([]*models.Rule, error) {
	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRuleRow(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func scanRuleRow(row pgx.Row) (*models.Rule, error) {
	rule := &models.Rule{}
	var conditionsBytes, thresholdsBytes, testResultsBytes []byte

	err := row.Scan(
		&rule.ID, &rule.RuleCode, &rule.RuleName, &rule.RuleType, &rule.Category, &rule.Description,
		&conditionsBytes, &thresholdsBytes, &rule.AppliesTo,
		pq.Array(&rule.CustomerSegments), pq.Array(&rule.TransactionTypes), pq.Array(&rule.Channels),
		&rule.RiskWeight, &rule.SeverityLevel, &rule.AlertPriority, &rule.Status, &rule.Version,
		&rule.EffectiveDate, &rule.ExpiryDate, &rule.FalsePositiveRate, &rule.EffectivenessScore,
		&rule.LastTested, &testResultsBytes, &rule.TotalTriggers, &rule.TruePositives, &rule.FalsePositives,
		&rule.AlertsGenerated, &rule.TuningRequired, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}

	rule.Conditions.Scan(conditionsBytes)
	rule.Thresholds.Scan(thresholdsBytes)
	rule.TestResults.Scan(testResultsBytes)
	return rule, nil
}
