package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/prodetect/aml-engine/internal/models"
)

// BuildNFIUEnvelope renders the regulator's filing payload for a report.
// The shape follows the NFIU electronic submission format; amounts are
// serialised as fixed two-decimal strings so the envelope round-trips
// identically regardless of when it is generated.
func BuildNFIUEnvelope(report *models.Report, institution string) models.JSONB {
	var filingDate string
	if report.FilingDate != nil {
		filingDate = report.FilingDate.UTC().Format(time.RFC3339)
	}

	return models.JSONB{
		"report_header": map[string]interface{}{
			"report_number":       report.ReportNumber,
			"report_type":         report.ReportType,
			"filing_institution":  institution,
			"filing_date":         filingDate,
			"reporting_period": map[string]interface{}{
				"from": formatPeriod(report.PeriodFrom),
				"to":   formatPeriod(report.PeriodTo),
			},
		},
		"subject_information": map[string]interface{}(report.SubjectInformation),
		"transaction_details": map[string]interface{}{
			"transaction_count": len(report.TransactionIDs),
			"total_amount":      decimal.NewFromFloat(report.TotalAmount).StringFixed(2),
			"currency":          report.Currency,
		},
		"narrative": report.Narrative,
		"suspicious_activity": map[string]interface{}{
			"type":        report.ActivityType,
			"description": report.ActivityDescription,
		},
		"supporting_evidence": map[string]interface{}(report.EvidenceSummary),
		"compliance_officer": map[string]interface{}{
			"prepared_by": report.PreparedBy,
			"reviewed_by": report.ReviewedBy,
			"approved_by": report.ApprovedBy,
		},
	}
}

func formatPeriod(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
