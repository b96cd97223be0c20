// Package risk derives a student's churn-risk classification from attendance
// history and ledger payment status. Evaluate is a pure function so callers
// can recompute synchronously inside the transaction that mutated attendance.
package risk

import (
	"sort"
	"time"

	"github.com/linguaops/lingua-ops-api/internal/models"
)

// Record is one attendance observation used as classifier input.
type Record struct {
	Date   time.Time
	Status models.AttendanceStatus
}

// Snapshot is the derived attendance state written back to the student row.
type Snapshot struct {
	AttendanceRate      float64
	TotalClasses        int
	ClassesAttended     int
	ConsecutiveAbsences int
	LastClassDate       *time.Time
	LastAbsenceDate     *time.Time
	ChurnRisk           models.ChurnRisk
}

// Evaluate classifies churn risk from attendance records and the student's
// current payment status. Rule order matters: the absence-streak rule wins
// over the payment-aware rules, so 80% attendance with 3 consecutive
// absences is HIGH, not MEDIUM.
func Evaluate(records []Record, paymentStatus models.PaymentStatus) Snapshot {
	snap := Snapshot{ChurnRisk: models.ChurnRiskLow}

	ordered := make([]Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Date.After(ordered[j].Date)
	})

	snap.TotalClasses = len(ordered)
	for _, rec := range ordered {
		if rec.Status.Attended() {
			snap.ClassesAttended++
		}
	}
	if snap.TotalClasses > 0 {
		snap.AttendanceRate = float64(snap.ClassesAttended) / float64(snap.TotalClasses) * 100
		last := ordered[0].Date
		snap.LastClassDate = &last
	}

	// Current streak from the most recent class, not a lifetime count.
	for _, rec := range ordered {
		if rec.Status != models.AttendanceStatusAbsent {
			break
		}
		snap.ConsecutiveAbsences++
	}

	for _, rec := range ordered {
		if rec.Status == models.AttendanceStatusAbsent {
			d := rec.Date
			snap.LastAbsenceDate = &d
			break
		}
	}

	switch {
	case snap.AttendanceRate < 50 || snap.ConsecutiveAbsences >= 3:
		snap.ChurnRisk = models.ChurnRiskHigh
	case snap.AttendanceRate < 75 && paymentStatus == models.PaymentStatusOverdue:
		snap.ChurnRisk = models.ChurnRiskMedium
	case snap.AttendanceRate < 75 || snap.ConsecutiveAbsences >= 2:
		snap.ChurnRisk = models.ChurnRiskMedium
	default:
		snap.ChurnRisk = models.ChurnRiskLow
	}

	return snap
}
