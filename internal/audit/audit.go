package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prodetect/aml-engine/internal/models"
	"github.com/prodetect/aml-engine/internal/repositories"
)

// Actions recorded in the audit trail. The forensics queries key on these
// strings, so they are fixed here rather than free-form per call site.
const (
	ActionLogin       = "login"
	ActionLoginFailed = "login_failed"
	ActionLogout      = "logout"
	ActionCreate      = "create"
	ActionUpdate      = "update"
	ActionView        = "view"
	ActionSearch      = "search"
	ActionExport      = "export"
	ActionEscalate    = "escalate"
	ActionClose       = "close"
	ActionFile        = "file"
	ActionScreen      = "screen"
	ActionProcess     = "process"
)

// Actor identifies the authenticated principal behind an audited action.
// Identities come from the external identity provider; the audit trail only
// records what it was handed.
type Actor struct {
	ID    string
	Email string
	Role  string
}

// SystemActor is used for events the platform generates on its own, such as
// stream-driven transaction processing and scheduled scans.
var SystemActor = Actor{ID: "system", Email: "system@prodetect.internal", Role: "system"}

// RequestMeta carries per-request correlation fields into audit entries
type RequestMeta struct {
	IPAddress     string
	UserAgent     string
	SessionID     string
	RequestID     string
	CorrelationID string
}

// Sink accepts audit entries for persistence. Services depend on this
// interface so tests can capture emitted entries in memory.
type Sink interface {
	Emit(ctx context.Context, entry *models.AuditLog) error
}

// Recorder is the PostgreSQL-backed Sink
type Recorder struct {
	repo           *repositories.AuditRepository
	retentionYears int
}

// NewRecorder creates a recorder writing to the audit repository
func NewRecorder(repo *repositories.AuditRepository, retentionYears int) *Recorder {
	return &Recorder{repo: repo, retentionYears: retentionYears}
}

// Emit persists one audit entry
func (r *Recorder) Emit(ctx context.Context, entry *models.AuditLog) error {
	Finalize(entry, r.retentionYears)

	if err := r.repo.Create(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("event_type", entry.EventType).
			Str("resource_type", entry.ResourceType).
			Msg("Failed to persist audit entry")
		return err
	}
	return nil
}

// Finalize fills the generated fields of an entry before it is persisted.
// Multi-write repository methods call this directly since their entries
// bypass the recorder and commit inside the business transaction.
func Finalize(entry *models.AuditLog, retentionYears int) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.EventID == "" {
		entry.EventID = newEventID(entry.CreatedAt)
	}
	if entry.RetentionPeriodYears == 0 {
		entry.RetentionPeriodYears = retentionYears
	}
}

// NewEntry builds an audit entry with the actor and classification filled in
func NewEntry(category, eventType, action string, actor Actor, resourceType, resourceID, description string) *models.AuditLog {
	return &models.AuditLog{
		EventType:     eventType,
		EventCategory: category,
		UserID:        actor.ID,
		UserEmail:     actor.Email,
		UserRole:      actor.Role,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		Description:   description,
	}
}

// WithMeta attaches request correlation fields to an entry
func WithMeta(entry *models.AuditLog, meta RequestMeta) *models.AuditLog {
	entry.IPAddress = meta.IPAddress
	entry.UserAgent = meta.UserAgent
	entry.SessionID = meta.SessionID
	entry.RequestID = meta.RequestID
	entry.CorrelationID = meta.CorrelationID
	return entry
}

func newEventID(at time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("AUD-%s-%s", at.Format("20060102"), suffix)
}
