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
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrDuplicateCustomer = errors.New("customer already exists")
)

const customerColumns = `
	id, customer_id, first_name, last_name, email, phone, date_of_birth,
	nationality, bvn, nin, kyc_status, kyc_level, address,
	risk_score, risk_category, pep_status, sanctions_checked, last_risk_assessment,
	account_numbers, account_types, account_opening_date, customer_since,
	is_blacklisted, requires_enhanced_dd, created_at, updated_at`

// CustomerRepository handles customer database operations
type CustomerRepository struct {
	db *Database
}

// NewCustomerRepository creates a new customer repository
func NewCustomerRepository(db *Database) *CustomerRepository {
	return &CustomerRepository{db: db}
}

// Create creates a new customer
func (r *CustomerRepository) Create(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`

	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	c.CustomerSince = c.CreatedAt

	_, err := r.db.Pool.Exec(ctx, query,
		c.ID, c.CustomerID, c.FirstName, c.LastName, c.Email, c.Phone, c.DateOfBirth,
		c.Nationality, c.BVN, c.NIN, c.KYCStatus, c.KYCLevel, c.Address,
		c.RiskScore, c.RiskCategory, c.PEPStatus, c.SanctionsChecked, c.LastRiskAssessment,
		pq.Array(c.AccountNumbers), pq.Array(c.AccountTypes), c.AccountOpeningDate, c.CustomerSince,
		c.IsBlacklisted, c.RequiresEnhancedDD, c.CreatedAt, c.UpdatedAt,
	)

	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateCustomer
		}
		return err
	}

	return nil
}

// GetByID retrieves a customer by primary key
func (r *CustomerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	row := r.db.Pool.QueryRow(ctx, query, id)
	return r.scanCustomer(row)
}

// GetByCustomerID retrieves a customer by the internal customer identifier
func (r *CustomerRepository) GetByCustomerID(ctx context.Context, customerID string) (*models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE customer_id = $1`

	row := r.db.Pool.QueryRow(ctx, query, customerID)
	return r.scanCustomer(row)
}

// Update writes back a customer with an optimistic-concurrency check on
// updated_at. Returns ErrStaleWrite when the row changed since it was read.
func (r *CustomerRepository) Update(ctx context.Context, c *models.Customer) error {
	query := `
		UPDATE customers SET
			first_name = $3, last_name = $4, email = $5, phone = $6,
			nationality = $7, kyc_status = $8, kyc_level = $9, address = $10,
			risk_score = $11, risk_category = $12, pep_status = $13,
			sanctions_checked = $14, last_risk_assessment = $15,
			account_numbers = $16, account_types = $17,
			is_blacklisted = $18, requires_enhanced_dd = $19, updated_at = $20
		WHERE id = $1 AND updated_at = $2
	`

	expected := c.UpdatedAt
	c.UpdatedAt = time.Now().UTC()

	result, err := r.db.Pool.Exec(ctx, query,
		c.ID, expected,
		c.FirstName, c.LastName, c.Email, c.Phone,
		c.Nationality, c.KYCStatus, c.KYCLevel, c.Address,
		c.RiskScore, c.RiskCategory, c.PEPStatus,
		c.SanctionsChecked, c.LastRiskAssessment,
		pq.Array(c.AccountNumbers), pq.Array(c.AccountTypes),
		c.IsBlacklisted, c.RequiresEnhancedDD, c.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM customers WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrCustomerNotFound
		}
		return ErrStaleWrite
	}

	return nil
}

// GetHighRisk retrieves the highest-scored customers
func (r *CustomerRepository) GetHighRisk(ctx context.Context, limit int) ([]*models.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE risk_category = $1
		ORDER BY risk_score DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, models.RiskCategoryHigh, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		c, err := r.scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}

	return customers, nil
}

// List retrieves customers with pagination
func (r *CustomerRepository) List(ctx context.Context, page, pageSize int) ([]*models.Customer, int, error) {
	offset := (page - 1) * pageSize

	countQuery := `SELECT COUNT(*) FROM customers`
	var total int
	if err := r.db.Pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + customerColumns + `
		FROM customers
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		c, err := r.scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		customers = append(customers, c)
	}

	return customers, total, nil
}

func (r *CustomerRepository) scanCustomer(row pgx.Row) (*models.Customer, error) {
	c := &models.Customer{}

	err := row.Scan(
		&c.ID, &c.CustomerID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.DateOfBirth,
		&c.Nationality, &c.BVN, &c.NIN, &c.KYCStatus, &c.KYCLevel, &c.Address,
		&c.RiskScore, &c.RiskCategory, &c.PEPStatus, &c.SanctionsChecked, &c.LastRiskAssessment,
		pq.Array(&c.AccountNumbers), pq.Array(&c.AccountTypes), &c.AccountOpeningDate, &c.CustomerSince,
		&c.IsBlacklisted, &c.RequiresEnhancedDD, &c.CreatedAt, &c.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}

	return c, nil
}
