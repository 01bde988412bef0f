package repository

import (
	"time"

	"github.com/smallbiznis/seatbill/internal/seat/domain"
	"gorm.io/gorm"
)

// Each predicate mirrors one rule of domain.Classify. A grace window only
// counts when both ends are set.
const (
	inGraceSQL = `(grace_period_start IS NOT NULL AND grace_period_end IS NOT NULL
		AND grace_period_start <= ? AND grace_period_end >= ?)`
	outsideGraceSQL = `(grace_period_start IS NULL OR grace_period_end IS NULL
		OR grace_period_start > ? OR grace_period_end < ?)`
	workingSQL    = `(contractual_status = ? AND declared_long_leave = ?)`
	notWorkingSQL = `(contractual_status <> ? OR declared_long_leave = ?)`
)

// ApplyClassification narrows stmt to seats classified as c at now.
func ApplyClassification(stmt *gorm.DB, c domain.Classification, now time.Time) *gorm.DB {
	switch c {
	case domain.GracePeriod:
		return stmt.Where(inGraceSQL, now, now)
	case domain.Billable:
		return stmt.Where(outsideGraceSQL, now, now).
			Where(workingSQL, domain.ContractualActive, false)
	case domain.NonBillable:
		return stmt.Where(outsideGraceSQL, now, now).
			Where(notWorkingSQL, domain.ContractualActive, true)
	default:
		return stmt
	}
}
