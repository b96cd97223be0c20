package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaops/lingua-ops-api/internal/models"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
)

type attendanceRepoMock struct {
	history  map[string][]models.Attendance
	record   *models.Attendance
	upserted []models.Attendance
	deleted  []string
}

func (m *attendanceRepoMock) UpsertTx(_ context.Context, _ *sqlx.Tx, record *models.Attendance) (*models.Attendance, error) {
	record.ID = "att-new"
	m.upserted = append(m.upserted, *record)
	if m.history == nil {
		m.history = make(map[string][]models.Attendance)
	}
	m.history[record.StudentID] = append(m.history[record.StudentID], *record)
	clone := *record
	return &clone, nil
}

func (m *attendanceRepoMock) DeleteTx(_ context.Context, _ *sqlx.Tx, id string) error {
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *attendanceRepoMock) FindByID(_ context.Context, id string) (*models.Attendance, error) {
	if m.record == nil || m.record.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *m.record
	return &clone, nil
}

func (m *attendanceRepoMock) ListByStudentTx(_ context.Context, _ *sqlx.Tx, studentID string) ([]models.Attendance, error) {
	return m.history[studentID], nil
}

func (m *attendanceRepoMock) List(_ context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	records := m.history[filter.StudentID]
	return records, len(records), nil
}

type riskStudentMock struct {
	students map[string]*models.Student
	updated  []models.Student
}

func (m *riskStudentMock) FindByIDTx(_ context.Context, _ *sqlx.Tx, id string) (*models.Student, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *student
	return &clone, nil
}

func (m *riskStudentMock) UpdateRiskTx(_ context.Context, _ *sqlx.Tx, student *models.Student) error {
	m.updated = append(m.updated, *student)
	return nil
}

func absentStreakHistory(studentID string, streak, attended, total int) []models.Attendance {
	records := make([]models.Attendance, 0, total)
	day := testNow
	for i := 0; i < streak; i++ {
		records = append(records, models.Attendance{StudentID: studentID, Date: day, Status: models.AttendanceStatusAbsent})
		day = day.AddDate(0, 0, -1)
	}
	for i := 0; i < attended; i++ {
		records = append(records, models.Attendance{StudentID: studentID, Date: day, Status: models.AttendanceStatusPresent})
		day = day.AddDate(0, 0, -1)
	}
	for len(records) < total {
		records = append(records, models.Attendance{StudentID: studentID, Date: day, Status: models.AttendanceStatusAbsent})
		day = day.AddDate(0, 0, -1)
	}
	return records
}

func newAttendanceService(db *sqlx.DB, attendance *attendanceRepoMock, students *riskStudentMock) *AttendanceService {
	return NewAttendanceService(AttendanceServiceParams{
		Tx:         db,
		Attendance: attendance,
		Students:   students,
		Now:        func() time.Time { return testNow },
	})
}

func TestMarkEscalatesToHighRisk(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	// 4-absence streak with 2 attended out of 10 classes: both the streak
	// rule and the rate rule fire.
	attendance := &attendanceRepoMock{
		history: map[string][]models.Attendance{
			"s1": absentStreakHistory("s1", 4, 2, 10),
		},
	}
	students := &riskStudentMock{students: map[string]*models.Student{"s1": ledgerStudent(10)}}
	svc := newAttendanceService(db, attendance, students)

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		StudentID: "s1",
		Date:      testNow.AddDate(0, 0, 1),
		Status:    "ABSENT",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ChurnRiskHigh, result.Student.ChurnRisk)
	assert.Equal(t, 5, result.Student.ConsecutiveAbsences)
	assert.InDelta(t, 18.18, result.Student.AttendanceRate, 0.01)
	require.Len(t, students.updated, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPresentKeepsLowRisk(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	attendance := &attendanceRepoMock{}
	students := &riskStudentMock{students: map[string]*models.Student{"s1": ledgerStudent(10)}}
	svc := newAttendanceService(db, attendance, students)

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		StudentID: "s1",
		Date:      testNow,
		Status:    "present",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ChurnRiskLow, result.Student.ChurnRisk)
	assert.Equal(t, 1, result.Student.TotalClasses)
	assert.Equal(t, 1, result.Student.ClassesAttended)
	require.Len(t, attendance.upserted, 1)
	assert.Equal(t, models.AttendanceStatusPresent, attendance.upserted[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRejectsUnknownStatus(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()
	svc := newAttendanceService(db, &attendanceRepoMock{}, &riskStudentMock{})

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		StudentID: "s1",
		Date:      testNow,
		Status:    "SLEEPING",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestMarkUnknownStudentReturnsNotFound(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()
	svc := newAttendanceService(db, &attendanceRepoMock{}, &riskStudentMock{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Mark(context.Background(), MarkAttendanceRequest{
		StudentID: "ghost",
		Date:      testNow,
		Status:    "PRESENT",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkMarkRecomputesOncePerStudent(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	other := ledgerStudent(10)
	other.ID = "s2"
	attendance := &attendanceRepoMock{}
	students := &riskStudentMock{students: map[string]*models.Student{
		"s1": ledgerStudent(10),
		"s2": other,
	}}
	svc := newAttendanceService(db, attendance, students)

	mock.ExpectBegin()
	mock.ExpectCommit()

	stored, err := svc.BulkMark(context.Background(), BulkMarkAttendanceRequest{
		Records: []MarkAttendanceRequest{
			{StudentID: "s1", Date: testNow.AddDate(0, 0, -1), Status: "PRESENT"},
			{StudentID: "s1", Date: testNow, Status: "ABSENT"},
			{StudentID: "s2", Date: testNow, Status: "LATE"},
		},
	})
	require.NoError(t, err)

	assert.Len(t, stored, 3)
	// one risk write per distinct student, not per record
	require.Len(t, students.updated, 2)
	assert.Equal(t, "s1", students.updated[0].ID)
	assert.Equal(t, "s2", students.updated[1].ID)
	assert.Equal(t, 1, students.updated[0].ConsecutiveAbsences)
	assert.Equal(t, 0, students.updated[1].ConsecutiveAbsences)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAttendanceRefreshesRisk(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	attendance := &attendanceRepoMock{
		record: &models.Attendance{ID: "att-1", StudentID: "s1", Date: testNow, Status: models.AttendanceStatusAbsent},
	}
	students := &riskStudentMock{students: map[string]*models.Student{"s1": ledgerStudent(10)}}
	svc := newAttendanceService(db, attendance, students)

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.Delete(context.Background(), "att-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"att-1"}, attendance.deleted)
	require.Len(t, students.updated, 1)
	assert.Equal(t, 0, result.Student.TotalClasses)
	assert.NoError(t, mock.ExpectationsWereMet())
}
