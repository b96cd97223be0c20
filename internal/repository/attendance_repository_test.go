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

func TestAttendanceRepositoryUpsertTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	returned := sqlmock.NewRows([]string{"id", "student_id", "date", "status", "notes", "created_at", "updated_at"}).
		AddRow("a1", "s1", date, "ABSENT", nil, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO attendance").
		WillReturnRows(returned)
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	stored, err := repo.UpsertTx(context.Background(), tx, &models.Attendance{
		StudentID: "s1",
		Date:      date,
		Status:    models.AttendanceStatusAbsent,
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.ID)
	assert.Equal(t, models.AttendanceStatusAbsent, stored.Status)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryListByStudentTx(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "date", "status", "notes", "created_at", "updated_at"}).
		AddRow("a2", "s1", now, "ABSENT", nil, now, now).
		AddRow("a1", "s1", now.AddDate(0, 0, -1), "PRESENT", nil, now, now)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM attendance WHERE student_id = \\$1 ORDER BY date DESC").
		WithArgs("s1").
		WillReturnRows(rows)
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	records, err := repo.ListByStudentTx(context.Background(), tx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, models.AttendanceStatusAbsent, records[0].Status)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}
