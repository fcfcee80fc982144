package cases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/internal/audit"
	"github.com/prodetect/aml-engine/internal/models"
)

var (
	ErrNoAlerts      = errors.New("no alerts supplied")
	ErrAlertsMissing = errors.New("one or more alerts not found")
)

// slaHoursByPriority maps case priority to the closure deadline in hours
var slaHoursByPriority = map[int]int{
	1: 4,
	2: 24,
	3: 72,
	4: 168,
	5: 336,
}

// CaseStore is the persistence contract the workflow needs
type CaseStore interface {
	CreateWithAlertLinks(ctx context.Context, kase *models.Case, alertIDs []uuid.UUID, entry *models.AuditLog) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Case, error)
	Update(ctx context.Context, c *models.Case) error
	CloseWithAlertFanout(ctx context.Context, c *models.Case, entry *models.AuditLog) error
	GetAssigned(ctx context.Context, assignee, status string, limit int) ([]*models.Case, error)
	OverdueUnclosed(ctx context.Context, now time.Time) ([]*models.Case, error)
	List(ctx context.Context, status string, page, pageSize int) ([]*models.Case, int, error)
}

// AlertSource loads the alerts a case is built from
type AlertSource interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Alert, error)
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*models.Alert, error)
}

// Service drives the investigation case lifecycle
type Service struct {
	store          CaseStore
	alerts         AlertSource
	auditSink      audit.Sink
	retentionYears int
}

// NewService creates a case workflow service
func NewService(store CaseStore, alerts AlertSource, auditSink audit.Sink, retentionYears int) *Service {
	return &Service{
		store:          store,
		alerts:         alerts,
		auditSink:      auditSink,
		retentionYears: retentionYears,
	}
}

// CreateFromAlerts opens a case over a set of alerts. The first distinct
// customer becomes the primary subject; the rest are recorded as related.
// The case, its number, the alert escalations, and the audit entry commit
// atomically.
func (s *Service) CreateFromAlerts(ctx context.Context, actor audit.Actor, alertIDs []uuid.UUID, caseType, title, description string, priority int) (*models.Case, error) {
	if len(alertIDs) == 0 {
		return nil, ErrNoAlerts
	}

	alerts, err := s.alerts.GetByIDs(ctx, alertIDs)
	if err != nil {
		return nil, err
	}
	if len(alerts) != len(alertIDs) {
		return nil, ErrAlertsMissing
	}

	now := time.Now().UTC()
	kase := &models.Case{
		ID:                 uuid.New(),
		CaseType:           caseType,
		Category:           "aml_investigation",
		Title:              title,
		Description:        description,
		Priority:           priority,
		Status:             models.CaseStatusOpen,
		InvestigationStage: "initial_review",
		AssignedTo:         actor.Email,
		CreatedBy:          actor.Email,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var maxScore float64
	seen := make(map[uuid.UUID]bool)
	for _, alert := range alerts {
		kase.AlertIDs = append(kase.AlertIDs, alert.ID.String())
		if alert.TransactionID != nil {
			kase.TransactionIDs = append(kase.TransactionIDs, alert.TransactionID.String())
		}
		if alert.RiskScore > maxScore {
			maxScore = alert.RiskScore
		}
		if !seen[alert.CustomerID] {
			seen[alert.CustomerID] = true
			if kase.CustomerID == uuid.Nil {
				kase.CustomerID = alert.CustomerID
			} else {
				kase.RelatedCustomers = append(kase.RelatedCustomers, alert.CustomerID.String())
			}
		}
	}

	kase.RiskLevel = riskLevel(maxScore, len(alerts))
	deadline := now.Add(slaDuration(priority, caseType))
	kase.SLADeadline = &deadline

	entry := audit.NewEntry(models.AuditCategoryCaseManagement, "case_created", audit.ActionCreate,
		actor, "case", "",
		fmt.Sprintf("Opened %s case from %d alert(s)", caseType, len(alerts)))
	entry.Details = models.JSONB{"alert_count": len(alerts), "risk_level": kase.RiskLevel, "priority": priority}
	entry.RegulatorySignificance = true
	audit.Finalize(entry, s.retentionYears)

	if err := s.store.CreateWithAlertLinks(ctx, kase, alertIDs, entry); err != nil {
		return nil, err
	}

	log.Info().
		Str("case_number", kase.CaseNumber).
		Str("risk_level", kase.RiskLevel).
		Int("alerts", len(alerts)).
		Msg("Case created")

	return kase, nil
}

// Assign hands a case to an investigator
func (s *Service) Assign(ctx context.Context, actor audit.Actor, caseID uuid.UUID, assignee, notes string) (*models.Case, error) {
	kase, err := s.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	previous := kase.AssignedTo
	kase.AssignedTo = assignee
	appendNote(kase, actor, fmt.Sprintf("Reassigned from %s to %s. %s", previous, assignee, notes))

	if err := s.store.Update(ctx, kase); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryCaseManagement, "case_assigned", audit.ActionUpdate,
		actor, "case", kase.ID.String(),
		fmt.Sprintf("Assigned case %s to %s", kase.CaseNumber, assignee))
	entry.OldValues = models.JSONB{"assigned_to": previous}
	entry.NewValues = models.JSONB{"assigned_to": assignee}
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return kase, nil
}

// UpdateStatus transitions the case workflow, stamping the stage timestamp
// on first entry to investigating, pending_review, or closed.
func (s *Service) UpdateStatus(ctx context.Context, actor audit.Actor, caseID uuid.UUID, newStatus, notes string) (*models.Case, error) {
	kase, err := s.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	previous := kase.Status
	now := time.Now().UTC()
	kase.Status = newStatus

	switch newStatus {
	case models.CaseStatusInvestigating:
		if kase.InvestigationStartedAt == nil {
			kase.InvestigationStartedAt = &now
		}
	case models.CaseStatusPendingReview:
		if kase.ReviewStartedAt == nil {
			kase.ReviewStartedAt = &now
		}
	case models.CaseStatusClosed:
		if kase.ClosedAt == nil {
			kase.ClosedAt = &now
			kase.ClosedBy = actor.Email
		}
	}

	if notes != "" {
		appendNote(kase, actor, notes)
	}

	if err := s.store.Update(ctx, kase); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryCaseManagement, "case_status_changed", audit.ActionUpdate,
		actor, "case", kase.ID.String(),
		fmt.Sprintf("Case %s moved from %s to %s", kase.CaseNumber, previous, newStatus))
	entry.OldValues = models.JSONB{"status": previous}
	entry.NewValues = models.JSONB{"status": newStatus}
	entry.ChangedFields = []string{"status"}
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return kase, nil
}

// AddEvidence attaches a keyed evidence artefact with actor and timestamp
func (s *Service) AddEvidence(ctx context.Context, actor audit.Actor, caseID uuid.UUID, key string, evidence map[string]interface{}) (*models.Case, error) {
	kase, err := s.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if kase.EvidenceCollected == nil {
		kase.EvidenceCollected = models.JSONB{}
	}
	evidence["collected_by"] = actor.Email
	evidence["collected_at"] = time.Now().UTC().Format(time.RFC3339)
	kase.EvidenceCollected[key] = evidence

	if err := s.store.Update(ctx, kase); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryCaseManagement, "evidence_added", audit.ActionUpdate,
		actor, "case", kase.ID.String(),
		fmt.Sprintf("Added evidence %q to case %s", key, kase.CaseNumber))
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return kase, nil
}

// ConductInterview appends an interview record to the case
func (s *Service) ConductInterview(ctx context.Context, actor audit.Actor, caseID uuid.UUID, interview map[string]interface{}) (*models.Case, error) {
	kase, err := s.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	interview["conducted_by"] = actor.Email
	interview["conducted_at"] = time.Now().UTC().Format(time.RFC3339)
	kase.InterviewsConducted = append(kase.InterviewsConducted, interview)

	if err := s.store.Update(ctx, kase); err != nil {
		return nil, err
	}

	entry := audit.NewEntry(models.AuditCategoryCaseManagement, "interview_conducted", audit.ActionUpdate,
		actor, "case", kase.ID.String(),
		fmt.Sprintf("Recorded interview on case %s", kase.CaseNumber))
	if err := s.auditSink.Emit(ctx, entry); err != nil {
		return nil, err
	}

	return kase, nil
}

// Close finalises a case and propagates the decision to every linked alert.
// Re-closing an already-closed case is a no-op yielding the same state.
func (s *Service) Close(ctx context.Context, actor audit.Actor, caseID uuid.UUID, reason, notes, decision string, actions []string) (*models.Case, error) {
	kase, err := s.store.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if kase.Status == models.CaseStatusClosed {
		return kase, nil
	}

	now := time.Now().UTC()
	kase.Status = models.CaseStatusClosed
	kase.Decision = decision
	kase.Findings = notes
	kase.RecommendedActions = actions
	kase.ClosedAt = &now
	kase.ClosedBy = actor.Email
	kase.ClosureReason = reason
	if decision == "file_str" {
		kase.STRRequired = true
	}

	entry := audit.NewEntry(models.AuditCategoryCaseManagement, "case_closed", audit.ActionClose,
		actor, "case", kase.ID.String(),
		fmt.Sprintf("Closed case %s with decision %q", kase.CaseNumber, decision))
	entry.Details = models.JSONB{"reason": reason, "decision": decision}
	entry.RegulatorySignificance = true
	audit.Finalize(entry, s.retentionYears)

	if err := s.store.CloseWithAlertFanout(ctx, kase, entry); err != nil {
		return nil, err
	}

	log.Info().
		Str("case_number", kase.CaseNumber).
		Str("decision", decision).
		Msg("Case closed")

	return kase, nil
}

// OverdueScan flags unclosed cases past their SLA deadline. Already-flagged
// cases are not selected again, so repeated scans converge.
func (s *Service) OverdueScan(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	overdue, err := s.store.OverdueUnclosed(ctx, now)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, kase := range overdue {
		kase.SLABreached = true
		if err := s.store.Update(ctx, kase); err != nil {
			log.Error().Err(err).Str("case_number", kase.CaseNumber).Msg("Failed to flag SLA breach")
			continue
		}
		flagged++

		entry := audit.NewEntry(models.AuditCategorySystem, "sla_breached", audit.ActionUpdate,
			audit.SystemActor, "case", kase.ID.String(),
			fmt.Sprintf("Case %s breached its SLA deadline", kase.CaseNumber))
		entry.RegulatorySignificance = true
		if err := s.auditSink.Emit(ctx, entry); err != nil {
			return flagged, err
		}
	}

	return flagged, nil
}

// Get retrieves a case
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	return s.store.GetByID(ctx, id)
}

// GetAssigned retrieves an investigator's caseload
func (s *Service) GetAssigned(ctx context.Context, assignee, status string, limit int) ([]*models.Case, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.GetAssigned(ctx, assignee, status, limit)
}

// riskLevel derives the case risk level from the strongest alert and the
// alert count.
func riskLevel(maxScore float64, alertCount int) string {
	switch {
	case maxScore >= 80 || alertCount >= 5:
		return models.SeverityCritical
	case maxScore >= 60 || alertCount >= 3:
		return models.SeverityHigh
	case maxScore >= 40 || alertCount >= 2:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// slaDuration computes the closure deadline. Sanctions and terrorism cases
// run on half the normal clock with a four-hour floor.
func slaDuration(priority int, caseType string) time.Duration {
	hours, ok := slaHoursByPriority[priority]
	if !ok {
		hours = slaHoursByPriority[3]
	}

	if caseType == models.CaseTypeSanctionsInvestigation || caseType == models.CaseTypeTerrorismFinancing {
		hours /= 2
		if hours < 4 {
			hours = 4
		}
	}

	return time.Duration(hours) * time.Hour
}

func appendNote(kase *models.Case, actor audit.Actor, note string) {
	stamped := fmt.Sprintf("[%s] %s: %s", time.Now().UTC().Format(time.RFC3339), actor.Email, note)
	kase.InvestigationNotes = append(kase.InvestigationNotes, stamped)
}
