package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaops/lingua-ops-api/internal/models"
)

var studentTestColumns = []string{
	"id", "full_name", "email", "phone", "level", "batch", "batch_timing", "referral_source",
	"enrollment_date", "active", "original_price", "discount_applied", "final_price", "currency",
	"total_paid", "total_paid_eur", "balance", "eur_equivalent", "exchange_rate_used", "payment_status",
	"attendance_rate", "total_classes", "classes_attended", "consecutive_absences", "last_absence_date",
	"churn_risk", "relationship_depth", "last_outreach_call", "created_at", "updated_at",
}

func addStudentRow(rows *sqlmock.Rows, id string) *sqlmock.Rows {
	now := time.Now().UTC()
	return rows.AddRow(
		id, "Ana Silva", "ana@example.com", "123", "B1", "spring-a", "morning", "instagram",
		now.AddDate(0, 0, -40), true, "1000", "0", "1000", "EUR",
		"400", "400", "600", "1000", nil, "PARTIAL",
		80.0, 10, 8, 1, nil,
		"MEDIUM", 2, nil, now, now,
	)
}

func TestStudentRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := addStudentRow(sqlmock.NewRows(studentTestColumns), "s1")
	mock.ExpectQuery("FROM students ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM students").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	students, total, err := repo.List(context.Background(), models.StudentFilter{})
	require.NoError(t, err)
	assert.Len(t, students, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "600", students[0].Balance.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := addStudentRow(sqlmock.NewRows(studentTestColumns), "s1")
	mock.ExpectQuery("FROM students WHERE churn_risk = \\$1 AND payment_status = \\$2").
		WithArgs(models.ChurnRiskHigh, models.PaymentStatusOverdue).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM students WHERE").
		WithArgs(models.ChurnRiskHigh, models.PaymentStatusOverdue).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, total, err := repo.List(context.Background(), models.StudentFilter{
		ChurnRisk:     models.ChurnRiskHigh,
		PaymentStatus: models.PaymentStatusOverdue,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryUpdateLedgerTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE students SET total_paid").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	student := &models.Student{ID: "s1", PaymentStatus: models.PaymentStatusPartial}
	require.NoError(t, repo.UpdateLedgerTx(context.Background(), tx, student))
	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryCountByChurnRisk(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"churn_risk", "count"}).
		AddRow("HIGH", 3).
		AddRow("LOW", 12)
	mock.ExpectQuery("SELECT churn_risk, COUNT\\(\\*\\)").
		WillReturnRows(rows)

	counts, err := repo.CountByChurnRisk(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, models.ChurnRiskHigh, counts[0].ChurnRisk)
	assert.Equal(t, 3, counts[0].Count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
