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
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction reference")
)

const transactionColumns = `
	id, reference_number, external_reference, transaction_type, transaction_method,
	channel, currency, amount, customer_id, account_number,
	beneficiary_name, beneficiary_account, beneficiary_bank, beneficiary_country,
	transaction_date, value_date, processing_date, status,
	risk_score, risk_flags, is_suspicious, structuring_indicator, velocity_flag,
	amount_threshold_flag, unusual_pattern_flag, above_ctr_threshold, cross_border,
	cash_transaction, created_at, updated_at`

// TransactionRepository handles transaction database operations
type TransactionRepository struct {
	db *Database
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// insertTx inserts a transaction within an existing database transaction.
// Used by the monitoring commit so the row lands atomically with its alerts.
func (r *TransactionRepository) insertTx(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30)
	`

	flagsBytes, _ := t.RiskFlags.Value()

	_, err := tx.Exec(ctx, query,
		t.ID, t.ReferenceNumber, t.ExternalReference, t.TransactionType, t.TransactionMethod,
		t.Channel, t.Currency, t.Amount, t.CustomerID, t.AccountNumber,
		t.BeneficiaryName, t.BeneficiaryAccount, t.BeneficiaryBank, t.BeneficiaryCountry,
		t.TransactionDate, t.ValueDate, t.ProcessingDate, t.Status,
		t.RiskScore, flagsBytes, t.IsSuspicious, t.StructuringIndicator, t.VelocityFlag,
		t.AmountThresholdFlag, t.UnusualPatternFlag, t.AboveCTRThreshold, t.CrossBorder,
		t.CashTransaction, t.CreatedAt, t.UpdatedAt,
	)

	if err != nil && isDuplicateKeyError(err) {
		return ErrDuplicateTransaction
	}
	return err
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	row := r.db.Pool.QueryRow(ctx, query, id)
	return scanTransactionRow(row)
}

// GetByReference retrieves a transaction by its reference number
func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference_number = $1`

	row := r.db.Pool.QueryRow(ctx, query, reference)
	return scanTransactionRow(row)
}

// GetByIDs retrieves a set of transactions by primary key
func (r *TransactionRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = ANY($1)
		ORDER BY transaction_date ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// WindowStats returns the count and total amount of a customer's transactions
// in the (since, until] window. Backtests pass historical bounds.
func (r *TransactionRepository) WindowStats(ctx context.Context, customerID uuid.UUID, since, until time.Time) (int, float64, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE customer_id = $1 AND transaction_date > $2 AND transaction_date <= $3
	`

	var count int
	var total float64
	if err := r.db.Pool.QueryRow(ctx, query, customerID, since, until).Scan(&count, &total); err != nil {
		return 0, 0, err
	}
	return count, total, nil
}

// NearThresholdStats returns count and total of transactions with amount in
// [lo, hi] for the structuring detector's rolling window.
func (r *TransactionRepository) NearThresholdStats(ctx context.Context, customerID uuid.UUID, lo, hi float64, since, until time.Time) (int, float64, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE customer_id = $1
		AND amount >= $2 AND amount <= $3
		AND transaction_date > $4 AND transaction_date <= $5
	`

	var count int
	var total float64
	if err := r.db.Pool.QueryRow(ctx, query, customerID, lo, hi, since, until).Scan(&count, &total); err != nil {
		return 0, 0, err
	}
	return count, total, nil
}

// AverageAmount returns the customer's average transaction amount in a window
func (r *TransactionRepository) AverageAmount(ctx context.Context, customerID uuid.UUID, since, until time.Time) (float64, error) {
	query := `
		SELECT COALESCE(AVG(amount), 0)
		FROM transactions
		WHERE customer_id = $1 AND transaction_date > $2 AND transaction_date <= $3
	`

	var avg float64
	if err := r.db.Pool.QueryRow(ctx, query, customerID, since, until).Scan(&avg); err != nil {
		return 0, err
	}
	return avg, nil
}

// ActivitySummary aggregates a customer's behaviour for risk reassessment
type ActivitySummary struct {
	Count     int
	Total     float64
	CashCount int
}

// GetActivitySummary aggregates count, volume, and cash usage in a window
func (r *TransactionRepository) GetActivitySummary(ctx context.Context, customerID uuid.UUID, since time.Time) (*ActivitySummary, error) {
	query := `
		SELECT COUNT(*),
			COALESCE(SUM(amount), 0),
			COUNT(*) FILTER (WHERE cash_transaction)
		FROM transactions
		WHERE customer_id = $1 AND transaction_date >= $2
	`

	summary := &ActivitySummary{}
	if err := r.db.Pool.QueryRow(ctx, query, customerID, since).Scan(&summary.Count, &summary.Total, &summary.CashCount); err != nil {
		return nil, err
	}
	return summary, nil
}

// GetSuspicious retrieves suspicious transactions over a recent window
func (r *TransactionRepository) GetSuspicious(ctx context.Context, since time.Time, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE is_suspicious = true AND transaction_date >= $1
		ORDER BY transaction_date DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// GetByCustomer retrieves a customer's transactions, optionally bounded
func (r *TransactionRepository) GetByCustomer(ctx context.Context, customerID uuid.UUID, from, to *time.Time, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE customer_id = $1
		AND ($2::timestamptz IS NULL OR transaction_date >= $2)
		AND ($3::timestamptz IS NULL OR transaction_date <= $3)
		ORDER BY transaction_date DESC
		LIMIT $4
	`

	rows, err := r.db.Pool.Query(ctx, query, customerID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// GetCTREligible retrieves above-threshold transactions for CTR preparation
func (r *TransactionRepository) GetCTREligible(ctx context.Context, customerID uuid.UUID, ids []uuid.UUID, from, to *time.Time) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE customer_id = $1
		AND above_ctr_threshold = true
		AND (cardinality($2::uuid[]) = 0 OR id = ANY($2))
		AND ($3::timestamptz IS NULL OR transaction_date >= $3)
		AND ($4::timestamptz IS NULL OR transaction_date <= $4)
		ORDER BY transaction_date ASC
	`

	if ids == nil {
		ids = []uuid.UUID{}
	}

	rows, err := r.db.Pool.Query(ctx, query, customerID, ids, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// GetHistorical retrieves recent transactions for rule back-testing, newest
// first, bounded by limit and the rule's type/channel scope.
func (r *TransactionRepository) GetHistorical(ctx context.Context, since time.Time, txTypes, channels []string, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE transaction_date >= $1
		AND (cardinality($2::text[]) = 0 OR transaction_type = ANY($2))
		AND (cardinality($3::text[]) = 0 OR channel = ANY($3))
		ORDER BY transaction_date DESC
		LIMIT $4
	`

	if txTypes == nil {
		txTypes = []string{}
	}
	if channels == nil {
		channels = []string{}
	}

	rows, err := r.db.Pool.Query(ctx, query, since, pq.Array(txTypes), pq.Array(channels), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

func (r *TransactionRepository) scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var transactions []*models.Transaction
	for rows.Next() {
		t, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	return transactions, nil
}

func scanTransactionRow(row pgx.Row) (*models.Transaction, error) {
	t := &models.Transaction{}
	var flagsBytes []byte

	err := row.Scan(
		&t.ID, &t.ReferenceNumber, &t.ExternalReference, &t.TransactionType, &t.TransactionMethod,
		&t.Channel, &t.Currency, &t.Amount, &t.CustomerID, &t.AccountNumber,
		&t.BeneficiaryName, &t.BeneficiaryAccount, &t.BeneficiaryBank, &t.BeneficiaryCountry,
		&t.TransactionDate, &t.ValueDate, &t.ProcessingDate, &t.Status,
		&t.RiskScore, &flagsBytes, &t.IsSuspicious, &t.StructuringIndicator, &t.VelocityFlag,
		&t.AmountThresholdFlag, &t.UnusualPatternFlag, &t.AboveCTRThreshold, &t.CrossBorder,
		&t.CashTransaction, &t.CreatedAt, &t.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}

	t.RiskFlags.Scan(flagsBytes)
	return t, nil
}
