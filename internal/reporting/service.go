package reporting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
)

var (
	ErrNotApproved            = errors.New("report has not been approved for filing")
	ErrNoEligibleTransactions = errors.New("no transactions above the CTR threshold")
)

// ReportStore is the persistence contract the service needs
type ReportStore interface {
	Create(ctx context.Context, report *models.Report, entry *models.AuditLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Report, error)
	Update(ctx context.Context, report *models.Report) error
	FileWithCaseMirror(ctx context.Context, report *models.Report, entry *models.AuditLog) error
	Pending(ctx context.Context, reportType string, limit int) ([]*models.Report, error)
	Filed(ctx context.Context, since time.Time, limit int) ([]*models.Report, error)
	Statistics(ctx context.Context, from, to time.Time) (*repositories.ReportStatistics, error)
}

// CaseSource loads the case a report is built from
type CaseSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Case, error)
}

// CustomerSource loads the report subject
type CustomerSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

// TransactionSource loads the transactions a report covers
type TransactionSource interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Transaction, error)
	GetCTREligible(ctx context.Context, customerID uuid.UUID, ids []uuid.UUID, from, to *time.Time) ([]*models.Transaction, error)
}

// Service builds, reviews, and files regulatory reports
type Service struct {
	store          ReportStore
	cases          CaseSource
	customers      CustomerSource
	transactions   TransactionSource
	auditSink      audit.Sink
	institution    string
	retentionYears int
}

// NewService creates a reporting service
func NewService(store ReportStore, cases CaseSource, customers CustomerSource, transactions TransactionSource, auditSink audit.Sink, institution string, retentionYears int) *Service {
	return &Service{
		store:          store,
		cases:          cases,
		customers:      customers,
		transactions:   transactions,
		auditSink:      auditSink,
		institution:    institution,
		retentionYears: retentionYears,
	}
}

// CreateSTR drafts a suspicious transaction report from a case. The report
// snapshots the subject at creation time and marks the case as requiring an
// STR filing.
func (s *Service) CreateSTR(ctx context.Context, actor audit.Actor, caseID uuid.UUID, narrative, activityType, activityDescription string, timeline []map[string]interface{}, from, to *time.Time) (*models.Report, error) {
	kase, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	customer, err := s.customers.GetByID(ctx, kase.CustomerID)
	if err != nil {
		return nil, err
	}

	txnIDs, err := parseUUIDs(kase.TransactionIDs)
	if err != nil {
		return nil, fmt.Errorf("case %s has malformed transaction ids: %w", kase.CaseNumber, err)
	}
	transactions, err := s.transactions.GetByIDs(ctx, txnIDs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	report := &models.Report{
		ID:                  uuid.New(),
		ReportType:          models.ReportTypeSTR,
		CaseID:              &kase.ID,
		CustomerID:          customer.ID,
		TransactionIDs:      kase.TransactionIDs,
		AlertIDs:            kase.AlertIDs,
		Narrative:           narrative,
		ActivityType:        activityType,
		ActivityDescription: activityDescription,
		ActivityTimeline:    timeline,
		SubjectInformation:  subjectSnapshot(customer),
		EvidenceSummary:     evidenceSummary(kase, transactions),
		TotalAmount:         sumAmounts(transactions),
		Currency:            "NGN",
		PeriodFrom:          from,
		PeriodTo:            to,
		Status:              models.ReportStatusDraft,
		PreparedBy:          actor.Email,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	entry := s.creationEntry(actor, report, fmt.Sprintf("Drafted STR for case %s", kase.CaseNumber))
	if err := s.store.Create(ctx, report, entry); err != nil {
		return nil, err
	}

	log.Info().
		Str("report_number", report.ReportNumber).
		Str("case_number", kase.CaseNumber).
		Float64("total_amount", report.TotalAmount).
		Msg("STR drafted")

	return report, nil
}

// CreateCTR drafts a currency transaction report covering the customer's
// above-threshold transactions in the period.
func (s *Service) CreateCTR(ctx context.Context, actor audit.Actor, customerID uuid.UUID, transactionIDs []uuid.UUID, from, to *time.Time) (*models.Report, error) {
	customer, err := s.customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.transactions.GetCTREligible(ctx, customerID, transactionIDs, from, to)
	if err != nil {
		return nil, err
	}
	if len(transactions) == 0 {
		return nil, ErrNoEligibleTransactions
	}

	now := time.Now().UTC()
	report := &models.Report{
		ID:                 uuid.New(),
		ReportType:         models.ReportTypeCTR,
		CustomerID:         customer.ID,
		SubjectInformation: subjectSnapshot(customer),
		TotalAmount:        sumAmounts(transactions),
		Currency:           "NGN",
		PeriodFrom:         from,
		PeriodTo:           to,
		Status:             models.ReportStatusDraft,
		PreparedBy:         actor.Email,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for _, txn := range transactions {
		report.TransactionIDs = append(report.TransactionIDs, txn.ID.String())
	}

	entry := s.creationEntry(actor, report, fmt.Sprintf("Drafted CTR for customer %s covering %d transaction(s)", customer.CustomerID, len(transactions)))
	if err := s.store.Create(ctx, report, entry); err != nil {
		return nil, err
	}

	return report, nil
}

// Review records the QA outcome. Approval moves the report to approved;
// rejection sends it back to review.
func (s *Service) Review(ctx context.Context, actor audit.Actor, reportID uuid.UUID, notes string, approved bool) (*models.Report, error) {
	report, err := s.store.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	report.QAApproved = approved
	report.ReviewedBy = actor.Email
	report.ReviewNotes = notes
	if approved {
		report.Status = models.ReportStatusApproved
		report.ApprovedBy = actor.Email
	} else {
		report.Status = models.ReportStatusReview
	}

	if err := s.store.Update(ctx, report); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryReporting, "report_reviewed", audit.ActionUpdate,
		actor, "report", report.ID.String(),
		fmt.Sprintf("Reviewed report %s: approved=%t", report.ReportNumber, approved))
	entry.NewValues = models.JSONB{"status": report.Status, "qa_approved": approved}
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return report, nil
}

// File submits an approved report to the NFIU. The export envelope is
// generated and stored on the report; for STRs the filing reference and
// date are mirrored onto the originating case.
func (s *Service) File(ctx context.Context, actor audit.Actor, reportID uuid.UUID, method string) (*models.Report, error) {
	report, err := s.store.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	if !report.QAApproved {
		return nil, ErrNotApproved
	}

	now := time.Now().UTC()
	report.Status = models.ReportStatusFiled
	report.Filed = true
	report.FilingDate = &now
	report.FilingReference = fmt.Sprintf("NFIU-%s-%s", now.Format("20060102"), shortHex())
	report.FilingMethod = method
	report.FiledBy = actor.Email
	report.ExportFormat = "JSON"
	report.ExportData = BuildNFIUEnvelope(report, s.institution)

	entry := audit.NewEntry(models.AuditCategoryReporting, "report_filed", audit.ActionFile,
		actor, "report", report.ID.String(),
		fmt.Sprintf("Filed report %s with reference %s via %s", report.ReportNumber, report.FilingReference, method))
	entry.Details = models.JSONB{"filing_reference": report.FilingReference, "method": method}
	entry.RegulatorySignificance = true
	audit.Finalize(entry, s.retentionYears)

	if err := s.store.FileWithCaseMirror(ctx, report, entry); err != nil {
		return nil, err
	}

	log.Info().
		Str("report_number", report.ReportNumber).
		Str("filing_reference", report.FilingReference).
		Msg("Report filed")

	return report, nil
}

// Statistics aggregates reporting activity over a period
func (s *Service) Statistics(ctx context.Context, from, to time.Time) (*repositories.ReportStatistics, error) {
	return s.store.Statistics(ctx, from, to)
}

// Get retrieves one report
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	return s.store.GetByID(ctx, id)
}

// Pending retrieves unfiled reports
func (s *Service) Pending(ctx context.Context, reportType string, limit int) ([]*models.Report, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.Pending(ctx, reportType, limit)
}

// Filed retrieves recently filed reports
func (s *Service) Filed(ctx context.Context, since time.Time, limit int) ([]*models.Report, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.Filed(ctx, since, limit)
}

func (s *Service) creationEntry(actor audit.Actor, report *models.Report, description string) *models.AuditLog {
	entry := audit.NewEntry(models.AuditCategoryReporting, "report_created", audit.ActionCreate,
		actor, "report", "", description)
	entry.Details = models.JSONB{"report_type": report.ReportType, "total_amount": report.TotalAmount}
	entry.RegulatorySignificance = true
	audit.Finalize(entry, s.retentionYears)
	return entry
}

// subjectSnapshot flattens the customer into the report's immutable subject
// record. Later customer edits never change a filed report.
func subjectSnapshot(c *models.Customer) models.JSONB {
	return models.JSONB{
		"customer_id":   c.CustomerID,
		"full_name":     strings.TrimSpace(c.FirstName + " " + c.LastName),
		"email":         c.Email,
		"phone":         c.Phone,
		"nationality":   c.Nationality,
		"bvn":           c.BVN,
		"nin":           c.NIN,
		"address":       c.Address,
		"kyc_status":    c.KYCStatus,
		"kyc_level":     c.KYCLevel,
		"risk_score":    c.RiskScore,
		"risk_category": c.RiskCategory,
		"pep_status":    c.PEPStatus,
		"accounts":      c.AccountNumbers,
	}
}

// evidenceSummary condenses the investigation record into the report. The
// full artefacts stay on the case; the report carries enough for a reviewer
// to judge completeness without opening it.
func evidenceSummary(kase *models.Case, transactions []*models.Transaction) models.JSONB {
	evidenceKeys := make([]string, 0, len(kase.EvidenceCollected))
	for key := range kase.EvidenceCollected {
		evidenceKeys = append(evidenceKeys, key)
	}
	sort.Strings(evidenceKeys)

	return models.JSONB{
		"case_number":          kase.CaseNumber,
		"evidence_items":       evidenceKeys,
		"interviews_conducted": len(kase.InterviewsConducted),
		"investigation_notes":  len(kase.InvestigationNotes),
		"findings":             kase.Findings,
		"transaction_count":    len(transactions),
		"transaction_total":    sumAmounts(transactions),
	}
}

// sumAmounts totals transaction amounts with decimal arithmetic so large
// naira values do not accumulate float error.
func sumAmounts(transactions []*models.Transaction) float64 {
	sum := decimal.Zero
	for _, txn := range transactions {
		sum = sum.Add(decimal.NewFromFloat(txn.Amount))
	}
	total, _ := sum.Float64()
	return total
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func shortHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
