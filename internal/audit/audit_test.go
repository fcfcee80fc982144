package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prodetect/aml-engine/internal/models"
)

func TestNewEntryCarriesActor(t *testing.T) {
	actor := Actor{ID: "u-1", Email: "analyst@prodetect.ng", Role: "analyst"}

	entry := NewEntry(models.AuditCategoryCaseManagement, "case_created", ActionCreate,
		actor, "case", "abc", "Opened a case")

	assert.Equal(t, "case_created", entry.EventType)
	assert.Equal(t, models.AuditCategoryCaseManagement, entry.EventCategory)
	assert.Equal(t, "u-1", entry.UserID)
	assert.Equal(t, "analyst@prodetect.ng", entry.UserEmail)
	assert.Equal(t, ActionCreate, entry.Action)
	assert.Equal(t, "case", entry.ResourceType)
	assert.Equal(t, "abc", entry.ResourceID)
}

func TestFinalizeGeneratesFields(t *testing.T) {
	entry := &models.AuditLog{}
	Finalize(entry, 5)

	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, 5, entry.RetentionPeriodYears)

	datePart := entry.CreatedAt.Format("20060102")
	require.True(t, strings.HasPrefix(entry.EventID, "AUD-"+datePart+"-"))
	assert.Len(t, entry.EventID, len("AUD--")+len(datePart)+8)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	at := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	entry := &models.AuditLog{
		ID:                   uuid.New(),
		EventID:              "AUD-20250401-deadbeef",
		CreatedAt:            at,
		RetentionPeriodYears: 7,
	}

	Finalize(entry, 5)

	assert.Equal(t, "AUD-20250401-deadbeef", entry.EventID)
	assert.Equal(t, at, entry.CreatedAt)
	assert.Equal(t, 7, entry.RetentionPeriodYears)
}

func TestWithMeta(t *testing.T) {
	entry := &models.AuditLog{}
	WithMeta(entry, RequestMeta{
		IPAddress: "10.0.0.1",
		UserAgent: "curl/8.0",
		RequestID: "req-1",
	})

	assert.Equal(t, "10.0.0.1", entry.IPAddress)
	assert.Equal(t, "curl/8.0", entry.UserAgent)
	assert.Equal(t, "req-1", entry.RequestID)
}
