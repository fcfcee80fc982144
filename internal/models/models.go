package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents a system user
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Customer represents a bank customer subject to AML monitoring
type Customer struct {
	ID                 uuid.UUID  `json:"id"`
	CustomerID         string     `json:"customer_id"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Email              string     `json:"email"`
	Phone              string     `json:"phone"`
	DateOfBirth        *time.Time `json:"date_of_birth,omitempty"`
	Nationality        string     `json:"nationality"`
	BVN                string     `json:"bvn"`
	NIN                string     `json:"nin"`
	KYCStatus          string     `json:"kyc_status"` // pending, verified, rejected
	KYCLevel           string     `json:"kyc_level"`  // tier1, tier2, tier3
	Address            string     `json:"address"`
	RiskScore          float64    `json:"risk_score"`
	RiskCategory       string     `json:"risk_category"` // low, medium, high
	PEPStatus          bool       `json:"pep_status"`
	SanctionsChecked   bool       `json:"sanctions_checked"`
	LastRiskAssessment *time.Time `json:"last_risk_assessment,omitempty"`
	AccountNumbers     []string   `json:"account_numbers"`
	AccountTypes       []string   `json:"account_types"`
	AccountOpeningDate *time.Time `json:"account_opening_date,omitempty"`
	CustomerSince      time.Time  `json:"customer_since"`
	IsBlacklisted      bool       `json:"is_blacklisted"`
	RequiresEnhancedDD bool       `json:"requires_enhanced_dd"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// KYCStatus enum values
const (
	KYCStatusPending  = "pending"
	KYCStatusVerified = "verified"
	KYCStatusRejected = "rejected"
)

// KYCLevel enum values
const (
	KYCLevelTier1 = "tier1"
	KYCLevelTier2 = "tier2"
	KYCLevelTier3 = "tier3"
)

// RiskCategory enum values
const (
	RiskCategoryLow    = "low"
	RiskCategoryMedium = "medium"
	RiskCategoryHigh   = "high"
)

// Transaction represents a monitored financial transaction
type Transaction struct {
	ID                   uuid.UUID  `json:"id"`
	ReferenceNumber      string     `json:"reference_number"`
	ExternalReference    string     `json:"external_reference"`
	TransactionType      string     `json:"transaction_type"`
	TransactionMethod    string     `json:"transaction_method"`
	Channel              string     `json:"channel"`
	Currency             string     `json:"currency"`
	Amount               float64    `json:"amount"`
	CustomerID           uuid.UUID  `json:"customer_id"`
	AccountNumber        string     `json:"account_number"`
	BeneficiaryName      string     `json:"beneficiary_name,omitempty"`
	BeneficiaryAccount   string     `json:"beneficiary_account,omitempty"`
	BeneficiaryBank      string     `json:"beneficiary_bank,omitempty"`
	BeneficiaryCountry   string     `json:"beneficiary_country,omitempty"`
	TransactionDate      time.Time  `json:"transaction_date"`
	ValueDate            *time.Time `json:"value_date,omitempty"`
	ProcessingDate       *time.Time `json:"processing_date,omitempty"`
	Status               string     `json:"status"` // pending, completed, failed, cancelled, reversed
	RiskScore            float64    `json:"risk_score"`
	RiskFlags            BoolMap    `json:"risk_flags"`
	IsSuspicious         bool       `json:"is_suspicious"`
	StructuringIndicator bool       `json:"structuring_indicator"`
	VelocityFlag         bool       `json:"velocity_flag"`
	AmountThresholdFlag  bool       `json:"amount_threshold_flag"`
	UnusualPatternFlag   bool       `json:"unusual_pattern_flag"`
	AboveCTRThreshold    bool       `json:"above_ctr_threshold"`
	CrossBorder          bool       `json:"cross_border"`
	CashTransaction      bool       `json:"cash_transaction"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TransactionStatus enum values
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusCancelled = "cancelled"
	TransactionStatusReversed  = "reversed"
)

// Rule represents a configurable monitoring rule
type Rule struct {
	ID                 uuid.UUID      `json:"id"`
	RuleCode           string         `json:"rule_code"`
	RuleName           string         `json:"rule_name"`
	RuleType           string         `json:"rule_type"`
	Category           string         `json:"category"`
	Description        string         `json:"description"`
	Conditions         RuleConditions `json:"conditions"`
	Thresholds         FloatMap       `json:"thresholds"`
	AppliesTo          string         `json:"applies_to"`
	CustomerSegments   []string       `json:"customer_segments"`
	TransactionTypes   []string       `json:"transaction_types"`
	Channels           []string       `json:"channels"`
	RiskWeight         float64        `json:"risk_weight"`
	SeverityLevel      string         `json:"severity_level"`
	AlertPriority      int            `json:"alert_priority"`
	Status             string         `json:"status"` // draft, testing, active, inactive, deprecated
	Version            string         `json:"version"`
	EffectiveDate      *time.Time     `json:"effective_date,omitempty"`
	ExpiryDate         *time.Time     `json:"expiry_date,omitempty"`
	FalsePositiveRate  float64        `json:"false_positive_rate"`
	EffectivenessScore float64        `json:"effectiveness_score"`
	LastTested         *time.Time     `json:"last_tested,omitempty"`
	TestResults        JSONB          `json:"test_results,omitempty"`
	TotalTriggers      int            `json:"total_triggers"`
	TruePositives      int            `json:"true_positives"`
	FalsePositives     int            `json:"false_positives"`
	AlertsGenerated    int            `json:"alerts_generated"`
	TuningRequired     bool           `json:"tuning_required"`
	CreatedBy          string         `json:"created_by"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// RuleStatus enum values
const (
	RuleStatusDraft      = "draft"
	RuleStatusTesting    = "testing"
	RuleStatusActive     = "active"
	RuleStatusInactive   = "inactive"
	RuleStatusDeprecated = "deprecated"
)

// RuleTypeTransactionMonitoring marks rules evaluated by the monitoring engine
const RuleTypeTransactionMonitoring = "transaction_monitoring"

// RuleConditions models the known monitoring predicates as typed flags.
// Keys that are not part of the fixed predicate set round-trip through Extra
// so rules authored with additional markers are not silently rewritten.
type RuleConditions struct {
	AmountThreshold      bool
	VelocityCheck        bool
	StructuringDetection bool
	CrossBorder          bool
	CashMonitoring       bool
	CustomerRisk         bool
	PEPMonitoring        bool
	HighRiskCountry      bool
	Extra                map[string]interface{}
}

var knownConditionKeys = []string{
	"amount_threshold",
	"velocity_check",
	"structuring_detection",
	"cross_border",
	"cash_monitoring",
	"customer_risk",
	"pep_monitoring",
	"high_risk_country",
}

func (c RuleConditions) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(c.Extra)+8)
	for k, v := range c.Extra {
		out[k] = v
	}
	out["amount_threshold"] = c.AmountThreshold
	out["velocity_check"] = c.VelocityCheck
	out["structuring_detection"] = c.StructuringDetection
	out["cross_border"] = c.CrossBorder
	out["cash_monitoring"] = c.CashMonitoring
	out["customer_risk"] = c.CustomerRisk
	out["pep_monitoring"] = c.PEPMonitoring
	out["high_risk_country"] = c.HighRiskCountry
	return json.Marshal(out)
}

func (c *RuleConditions) UnmarshalJSON(data []byte) error {
	raw := make(map[string]interface{})
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	boolAt := func(key string) bool {
		v, ok := raw[key].(bool)
		return ok && v
	}
	c.AmountThreshold = boolAt("amount_threshold")
	c.VelocityCheck = boolAt("velocity_check")
	c.StructuringDetection = boolAt("structuring_detection")
	c.CrossBorder = boolAt("cross_border")
	c.CashMonitoring = boolAt("cash_monitoring")
	c.CustomerRisk = boolAt("customer_risk")
	c.PEPMonitoring = boolAt("pep_monitoring")
	c.HighRiskCountry = boolAt("high_risk_country")
	for _, key := range knownConditionKeys {
		delete(raw, key)
	}
	if len(raw) > 0 {
		c.Extra = raw
	} else {
		c.Extra = nil
	}
	return nil
}

func (c RuleConditions) Value() ([]byte, error) {
	return c.MarshalJSON()
}

func (c *RuleConditions) Scan(value interface{}) error {
	if value == nil {
		*c = RuleConditions{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return c.UnmarshalJSON(bytes)
}

// Alert represents a monitoring alert raised against a customer
type Alert struct {
	ID                     uuid.UUID  `json:"id"`
	AlertID                string     `json:"alert_id"`
	CustomerID             uuid.UUID  `json:"customer_id"`
	TransactionID          *uuid.UUID `json:"transaction_id,omitempty"`
	RuleID                 *uuid.UUID `json:"rule_id,omitempty"`
	Title                  string     `json:"title"`
	Description            string     `json:"description"`
	Severity               string     `json:"severity"`
	Priority               int        `json:"priority"`
	RiskScore              float64    `json:"risk_score"`
	RiskFactors            []string   `json:"risk_factors"`
	TriggeredRules         []string   `json:"triggered_rules"`
	ThresholdValues        JSONB      `json:"threshold_values,omitempty"`
	Status                 string     `json:"status"` // open, investigating, escalated, closed, false_positive
	AssignedTo             string     `json:"assigned_to,omitempty"`
	InvestigationNotes     []string   `json:"investigation_notes,omitempty"`
	CaseID                 *uuid.UUID `json:"case_id,omitempty"`
	EscalationLevel        int        `json:"escalation_level"`
	TriggeredAt            time.Time  `json:"triggered_at"`
	AcknowledgedAt         *time.Time `json:"acknowledged_at,omitempty"`
	InvestigatedAt         *time.Time `json:"investigated_at,omitempty"`
	ResolvedAt             *time.Time `json:"resolved_at,omitempty"`
	Resolution             string     `json:"resolution,omitempty"`
	ResolvedBy             string     `json:"resolved_by,omitempty"`
	ResolutionNotes        string     `json:"resolution_notes,omitempty"`
	SLADeadline            *time.Time `json:"sla_deadline,omitempty"`
	SLABreached            bool       `json:"sla_breached"`
	RegulatorySignificance bool       `json:"regulatory_significance"`
	DetectionMethod        string     `json:"detection_method"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// AlertStatus enum values
const (
	AlertStatusOpen          = "open"
	AlertStatusInvestigating = "investigating"
	AlertStatusEscalated     = "escalated"
	AlertStatusClosed        = "closed"
	AlertStatusFalsePositive = "false_positive"
)

// Severity enum values
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// DetectionMethod enum values
const (
	DetectionRuleBased    = "rule_based"
	DetectionMLModel      = "ml_model"
	DetectionManual       = "manual"
	DetectionExternalFeed = "external_feed"
)

// Case represents an investigation case built from one or more alerts
type Case struct {
	ID                     uuid.UUID  `json:"id"`
	CaseNumber             string     `json:"case_number"`
	CaseType               string     `json:"case_type"`
	Category               string     `json:"category"`
	Title                  string     `json:"title"`
	Description            string     `json:"description"`
	Priority               int        `json:"priority"`
	RiskLevel              string     `json:"risk_level"`
	CustomerID             uuid.UUID  `json:"customer_id"`
	RelatedCustomers       []string   `json:"related_customers"`
	AlertIDs               []string   `json:"alert_ids"`
	TransactionIDs         []string   `json:"transaction_ids"`
	Status                 string     `json:"status"` // open, investigating, pending_review, escalated, closed
	InvestigationStage     string     `json:"investigation_stage"`
	AssignedTo             string     `json:"assigned_to,omitempty"`
	Reviewer               string     `json:"reviewer,omitempty"`
	Approver               string     `json:"approver,omitempty"`
	TeamMembers            []string   `json:"team_members,omitempty"`
	SLADeadline            *time.Time `json:"sla_deadline,omitempty"`
	SLAExtended            bool       `json:"sla_extended"`
	SLABreached            bool       `json:"sla_breached"`
	EvidenceCollected      JSONB      `json:"evidence_collected,omitempty"`
	InterviewsConducted    JSONBList  `json:"interviews_conducted,omitempty"`
	ExternalInquiries      JSONBList  `json:"external_inquiries,omitempty"`
	InvestigationNotes     []string   `json:"investigation_notes,omitempty"`
	Findings               string     `json:"findings,omitempty"`
	Decision               string     `json:"decision,omitempty"`
	RecommendedActions     []string   `json:"recommended_actions,omitempty"`
	STRRequired            bool       `json:"str_required"`
	STRFiled               bool       `json:"str_filed"`
	STRReference           string     `json:"str_reference,omitempty"`
	STRFilingDate          *time.Time `json:"str_filing_date,omitempty"`
	CTRRequired            bool       `json:"ctr_required"`
	CTRFiled               bool       `json:"ctr_filed"`
	QAReviewed             bool       `json:"qa_reviewed"`
	QAApproved             bool       `json:"qa_approved"`
	InvestigationStartedAt *time.Time `json:"investigation_started_at,omitempty"`
	ReviewStartedAt        *time.Time `json:"review_started_at,omitempty"`
	ClosedAt               *time.Time `json:"closed_at,omitempty"`
	ClosedBy               string     `json:"closed_by,omitempty"`
	ClosureReason          string     `json:"closure_reason,omitempty"`
	CreatedBy              string     `json:"created_by"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// CaseStatus enum values
const (
	CaseStatusOpen          = "open"
	CaseStatusInvestigating = "investigating"
	CaseStatusPendingReview = "pending_review"
	CaseStatusEscalated     = "escalated"
	CaseStatusClosed        = "closed"
)

// Case types with shortened regulatory SLAs
const (
	CaseTypeSanctionsInvestigation = "sanctions_investigation"
	CaseTypeTerrorismFinancing     = "terrorism_financing"
)

// Report represents a regulator-facing STR/CTR/SAR report
type Report struct {
	ID                  uuid.UUID  `json:"id"`
	ReportNumber        string     `json:"report_number"`
	ReportType          string     `json:"report_type"` // STR, CTR, SAR
	CaseID              *uuid.UUID `json:"case_id,omitempty"`
	CustomerID          uuid.UUID  `json:"customer_id"`
	TransactionIDs      []string   `json:"transaction_ids"`
	AlertIDs            []string   `json:"alert_ids,omitempty"`
	Narrative           string     `json:"narrative"`
	ActivityType        string     `json:"activity_type,omitempty"`
	ActivityDescription string     `json:"activity_description,omitempty"`
	ActivityTimeline    JSONBList  `json:"activity_timeline,omitempty"`
	SubjectInformation  JSONB      `json:"subject_information"`
	EvidenceSummary     JSONB      `json:"evidence_summary,omitempty"`
	TotalAmount         float64    `json:"total_amount"`
	Currency            string     `json:"currency"`
	PeriodFrom          *time.Time `json:"period_from,omitempty"`
	PeriodTo            *time.Time `json:"period_to,omitempty"`
	Status              string     `json:"status"` // draft, review, approved, filed, acknowledged
	QAApproved          bool       `json:"qa_approved"`
	LegalReviewed       bool       `json:"legal_reviewed"`
	ReviewedBy          string     `json:"reviewed_by,omitempty"`
	ReviewNotes         string     `json:"review_notes,omitempty"`
	Filed               bool       `json:"filed"`
	FilingDate          *time.Time `json:"filing_date,omitempty"`
	FilingReference     string     `json:"filing_reference,omitempty"`
	FilingMethod        string     `json:"filing_method,omitempty"`
	FiledBy             string     `json:"filed_by,omitempty"`
	AuthorityReference  string     `json:"authority_reference,omitempty"`
	AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
	ExportFormat        string     `json:"export_format,omitempty"` // XML, PDF, JSON
	ExportData          JSONB      `json:"export_data,omitempty"`
	PreparedBy          string     `json:"prepared_by"`
	ApprovedBy          string     `json:"approved_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ReportType enum values
const (
	ReportTypeSTR = "STR"
	ReportTypeCTR = "CTR"
	ReportTypeSAR = "SAR"
)

// ReportStatus enum values
const (
	ReportStatusDraft        = "draft"
	ReportStatusReview       = "review"
	ReportStatusApproved     = "approved"
	ReportStatusFiled        = "filed"
	ReportStatusAcknowledged = "acknowledged"
)

// AuditLog represents an append-only audit trail entry
type AuditLog struct {
	ID                     uuid.UUID  `json:"id"`
	EventID                string     `json:"event_id"`
	EventType              string     `json:"event_type"`
	EventCategory          string     `json:"event_category"`
	UserID                 string     `json:"user_id,omitempty"`
	UserEmail              string     `json:"user_email,omitempty"`
	UserRole               string     `json:"user_role,omitempty"`
	ImpersonatedBy         string     `json:"impersonated_by,omitempty"`
	Action                 string     `json:"action"`
	ResourceType           string     `json:"resource_type"`
	ResourceID             string     `json:"resource_id"`
	Description            string     `json:"description"`
	Details                JSONB      `json:"details,omitempty"`
	IPAddress              string     `json:"ip_address,omitempty"`
	UserAgent              string     `json:"user_agent,omitempty"`
	SessionID              string     `json:"session_id,omitempty"`
	RequestID              string     `json:"request_id,omitempty"`
	CorrelationID          string     `json:"correlation_id,omitempty"`
	OldValues              JSONB      `json:"old_values,omitempty"`
	NewValues              JSONB      `json:"new_values,omitempty"`
	ChangedFields          []string   `json:"changed_fields,omitempty"`
	RiskScore              float64    `json:"risk_score"`
	SuspiciousActivity     bool       `json:"suspicious_activity"`
	RegulatorySignificance bool       `json:"regulatory_significance"`
	RetentionPeriodYears   int        `json:"retention_period_years"`
	DataClassification     string     `json:"data_classification,omitempty"`
	Reviewed               bool       `json:"reviewed"`
	ReviewedBy             string     `json:"reviewed_by,omitempty"`
	ReviewDate             *time.Time `json:"review_date,omitempty"`
	ReviewNotes            string     `json:"review_notes,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

// AuditCategory enum values
const (
	AuditCategoryAuthentication        = "authentication"
	AuditCategoryTransactionMonitoring = "transaction_monitoring"
	AuditCategoryCustomerManagement    = "customer_management"
	AuditCategoryCaseManagement        = "case_management"
	AuditCategoryReporting             = "reporting"
	AuditCategoryRulesManagement       = "rules_management"
	AuditCategoryAuditManagement       = "audit_management"
	AuditCategorySystem                = "system"
)

// ScreeningResult is the contract returned by the external sanctions boundary
type ScreeningResult struct {
	SanctionsHit    bool     `json:"sanctions_hit"`
	PEPHit          bool     `json:"pep_hit"`
	WatchlistHit    bool     `json:"watchlist_hit"`
	ConfidenceScore float64  `json:"confidence_score"`
	SourcesChecked  []string `json:"sources_checked"`
}

// AnyHit reports whether any screening source matched
func (s ScreeningResult) AnyHit() bool {
	return s.SanctionsHit || s.PEPHit || s.WatchlistHit
}

// TransactionEvent is the event published to the ingestion streams
type TransactionEvent struct {
	CustomerID         string    `json:"customer_id"`
	AccountNumber      string    `json:"account_number"`
	Amount             float64   `json:"amount"`
	Currency           string    `json:"currency"`
	TransactionType    string    `json:"transaction_type"`
	TransactionMethod  string    `json:"transaction_method"`
	Channel            string    `json:"channel"`
	BeneficiaryName    string    `json:"beneficiary_name,omitempty"`
	BeneficiaryAccount string    `json:"beneficiary_account,omitempty"`
	BeneficiaryBank    string    `json:"beneficiary_bank,omitempty"`
	BeneficiaryCountry string    `json:"beneficiary_country,omitempty"`
	TransactionDate    time.Time `json:"transaction_date"`
	ExternalReference  string    `json:"external_reference,omitempty"`
	RetryCount         int       `json:"retry_count"`
}

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// BoolMap stores keyed boolean indicators in a JSONB column
type BoolMap map[string]bool

func (m BoolMap) Value() ([]byte, error) {
	return json.Marshal(m)
}

func (m *BoolMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// FloatMap stores keyed numeric thresholds in a JSONB column
type FloatMap map[string]float64

func (m FloatMap) Value() ([]byte, error) {
	return json.Marshal(m)
}

func (m *FloatMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// GetOrDefault returns the keyed threshold, or fallback when unset
func (m FloatMap) GetOrDefault(key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

// JSONBList stores an append-only list of objects in a JSONB column
type JSONBList []map[string]interface{}

func (l JSONBList) Value() ([]byte, error) {
	return json.Marshal(l)
}

func (l *JSONBList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// Pagination represents pagination parameters
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}
