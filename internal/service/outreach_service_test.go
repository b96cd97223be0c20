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

type outreachRepoMock struct {
	call        *models.OutreachCall
	candidates  []models.CallCandidate
	openCalls   map[string]bool
	created     []models.OutreachCall
	completed   []models.OutreachCall
	scheduled   []models.CallStatus
	completeErr error
}

func (m *outreachRepoMock) FindByID(_ context.Context, id string) (*models.OutreachCall, error) {
	if m.call == nil || m.call.ID != id {
		return nil, sql.ErrNoRows
	}
	clone := *m.call
	return &clone, nil
}

func (m *outreachRepoMock) Create(_ context.Context, call *models.OutreachCall) error {
	call.ID = "call-new"
	m.created = append(m.created, *call)
	return nil
}

func (m *outreachRepoMock) CreateTx(_ context.Context, _ *sqlx.Tx, call *models.OutreachCall) error {
	call.ID = "call-followup"
	m.created = append(m.created, *call)
	return nil
}

func (m *outreachRepoMock) CompleteTx(_ context.Context, _ *sqlx.Tx, call *models.OutreachCall) error {
	if m.completeErr != nil {
		return m.completeErr
	}
	m.completed = append(m.completed, *call)
	return nil
}

func (m *outreachRepoMock) UpdateSchedule(_ context.Context, _ string, status models.CallStatus, _ time.Time) error {
	m.scheduled = append(m.scheduled, status)
	return nil
}

func (m *outreachRepoMock) List(context.Context, models.CallFilter) ([]models.OutreachCall, int, error) {
	return nil, 0, nil
}

func (m *outreachRepoMock) Candidates(context.Context, time.Time) ([]models.CallCandidate, error) {
	return m.candidates, nil
}

func (m *outreachRepoMock) HasOpenCall(_ context.Context, studentID string) (bool, error) {
	return m.openCalls[studentID], nil
}

type outreachStudentMock struct {
	students map[string]*models.Student
	depths   map[string]int
}

func (m *outreachStudentMock) FindByIDTx(_ context.Context, _ *sqlx.Tx, id string) (*models.Student, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *student
	return &clone, nil
}

func (m *outreachStudentMock) UpdateOutreachTx(_ context.Context, _ *sqlx.Tx, id string, depth int, _ time.Time) error {
	if m.depths == nil {
		m.depths = make(map[string]int)
	}
	m.depths[id] = depth
	return nil
}

func newOutreachService(db *sqlx.DB, calls *outreachRepoMock, students *outreachStudentMock) *OutreachService {
	return NewOutreachService(OutreachServiceParams{
		Tx:               db,
		Calls:            calls,
		Students:         students,
		StaleContactDays: 30,
		Now:              func() time.Time { return testNow },
	})
}

func TestCallListPrioritisesRiskiest(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()

	calls := &outreachRepoMock{candidates: []models.CallCandidate{
		{StudentID: "low", ChurnRisk: models.ChurnRiskLow, AttendanceRate: 85, PaymentStatus: models.PaymentStatusPartial},
		{StudentID: "high", ChurnRisk: models.ChurnRiskHigh, ConsecutiveAbsences: 4, AttendanceRate: 30, PaymentStatus: models.PaymentStatusOverdue},
		{StudentID: "medium", ChurnRisk: models.ChurnRiskMedium, ConsecutiveAbsences: 2, AttendanceRate: 68, PaymentStatus: models.PaymentStatusPaid},
	}}
	svc := newOutreachService(db, calls, &outreachStudentMock{})

	list, err := svc.CallList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)

	assert.Equal(t, "high", list[0].StudentID)
	assert.Equal(t, "medium", list[1].StudentID)
	assert.Equal(t, "low", list[2].StudentID)

	assert.Equal(t, models.CallPriorityHigh, list[0].Priority)
	assert.Equal(t, models.CallTypeUrgent, list[0].CallType)
	assert.Equal(t, models.CallPriorityMedium, list[1].Priority)
	assert.Equal(t, models.CallTypeAttendance, list[1].CallType)
	assert.Equal(t, models.CallPriorityLow, list[2].Priority)
	assert.Equal(t, models.CallTypeCheckIn, list[2].CallType)
	assert.NotEmpty(t, list[0].Reasons)
}

func TestCallListOverduePaymentGetsPaymentType(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()

	calls := &outreachRepoMock{candidates: []models.CallCandidate{
		{StudentID: "s1", ChurnRisk: models.ChurnRiskLow, AttendanceRate: 90, PaymentStatus: models.PaymentStatusOverdue},
	}}
	svc := newOutreachService(db, calls, &outreachStudentMock{})

	list, err := svc.CallList(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.CallPriorityMedium, list[0].Priority)
	assert.Equal(t, models.CallTypePayment, list[0].CallType)
}

func TestGenerateCallsSkipsStudentsWithOpenCalls(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()

	calls := &outreachRepoMock{
		candidates: []models.CallCandidate{
			{StudentID: "s1", ChurnRisk: models.ChurnRiskHigh, AttendanceRate: 40},
			{StudentID: "s2", ChurnRisk: models.ChurnRiskMedium, ConsecutiveAbsences: 2, AttendanceRate: 60},
		},
		openCalls: map[string]bool{"s2": true},
	}
	svc := newOutreachService(db, calls, &outreachStudentMock{})

	result, err := svc.GenerateCalls(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, calls.created, 1)
	assert.Equal(t, "s1", calls.created[0].StudentID)
	assert.Equal(t, models.CallStatusPending, calls.created[0].Status)

	require.Len(t, result.Events, 1)
	assert.Equal(t, models.EventCallListGenerated, result.Events[0].Type)
}

func TestCompleteCallNegativeSentimentSchedulesHighPriorityFollowUp(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	calls := &outreachRepoMock{call: &models.OutreachCall{
		ID:        "c1",
		StudentID: "s1",
		Status:    models.CallStatusPending,
	}}
	students := &outreachStudentMock{students: map[string]*models.Student{"s1": ledgerStudent(10)}}
	svc := newOutreachService(db, calls, students)

	mock.ExpectBegin()
	mock.ExpectCommit()

	next := testNow.AddDate(0, 0, 7)
	result, err := svc.CompleteCall(context.Background(), "c1", CompleteCallRequest{
		Sentiment:    "VERY_NEGATIVE",
		NextCallDate: &next,
		ScheduleNext: true,
	})
	require.NoError(t, err)

	assert.Equal(t, models.CallStatusCompleted, result.Call.Status)
	require.NotNil(t, result.FollowUp)
	assert.Equal(t, models.CallPriorityHigh, result.FollowUp.Priority)
	assert.Equal(t, models.CallTypeOnboarding, result.FollowUp.CallType)
	assert.Equal(t, 1, students.depths["s1"])

	require.Len(t, result.Events, 1)
	assert.Equal(t, models.EventFollowUpScheduled, result.Events[0].Type)
	assert.Equal(t, "call.completed", result.Audit.Action)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteCallMilestoneFollowUpType(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	student := ledgerStudent(10)
	student.RelationshipDepth = 4
	calls := &outreachRepoMock{call: &models.OutreachCall{
		ID:        "c1",
		StudentID: "s1",
		Status:    models.CallStatusSnoozed,
	}}
	students := &outreachStudentMock{students: map[string]*models.Student{"s1": student}}
	svc := newOutreachService(db, calls, students)

	mock.ExpectBegin()
	mock.ExpectCommit()

	next := testNow.AddDate(0, 0, 14)
	result, err := svc.CompleteCall(context.Background(), "c1", CompleteCallRequest{
		Sentiment:    "positive",
		NextCallDate: &next,
		ScheduleNext: true,
	})
	require.NoError(t, err)

	require.NotNil(t, result.FollowUp)
	assert.Equal(t, models.CallPriorityLow, result.FollowUp.Priority)
	assert.Equal(t, models.CallTypeMilestone, result.FollowUp.CallType)
	assert.Equal(t, 5, students.depths["s1"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteCallAlreadyCompletedFails(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	done := testNow.AddDate(0, 0, -1)
	calls := &outreachRepoMock{call: &models.OutreachCall{
		ID:          "c1",
		StudentID:   "s1",
		Status:      models.CallStatusCompleted,
		CompletedAt: &done,
	}}
	svc := newOutreachService(db, calls, &outreachStudentMock{})

	_, err := svc.CompleteCall(context.Background(), "c1", CompleteCallRequest{Sentiment: "NEUTRAL"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrCallAlreadyCompleted)

	assert.Empty(t, calls.completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteCallRacingCompletionFails(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	// The call looks open when loaded but the store refuses the update,
	// as happens when another writer completed it in between.
	calls := &outreachRepoMock{
		call: &models.OutreachCall{
			ID:        "c1",
			StudentID: "s1",
			Status:    models.CallStatusPending,
		},
		completeErr: sql.ErrNoRows,
	}
	students := &outreachStudentMock{students: map[string]*models.Student{"s1": ledgerStudent(10)}}
	svc := newOutreachService(db, calls, students)

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.CompleteCall(context.Background(), "c1", CompleteCallRequest{Sentiment: "NEUTRAL"})
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrCallAlreadyCompleted)

	assert.Empty(t, calls.completed)
	assert.Empty(t, students.depths)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteCallWithoutNextDateSkipsFollowUp(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	calls := &outreachRepoMock{call: &models.OutreachCall{
		ID:        "c1",
		StudentID: "s1",
		Status:    models.CallStatusPending,
	}}
	students := &outreachStudentMock{students: map[string]*models.Student{"s1": ledgerStudent(10)}}
	svc := newOutreachService(db, calls, students)

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.CompleteCall(context.Background(), "c1", CompleteCallRequest{
		Sentiment:    "NEUTRAL",
		ScheduleNext: true,
	})
	require.NoError(t, err)
	assert.Nil(t, result.FollowUp)
	assert.Empty(t, result.Events)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnoozeCompletedCallRejected(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()

	calls := &outreachRepoMock{call: &models.OutreachCall{
		ID:     "c1",
		Status: models.CallStatusCompleted,
	}}
	svc := newOutreachService(db, calls, &outreachStudentMock{})

	_, err := svc.Snooze(context.Background(), "c1", testNow.AddDate(0, 0, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrCallAlreadyCompleted)
	assert.Empty(t, calls.scheduled)
}

func TestSnoozeAndResumeTogglePendingState(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()

	calls := &outreachRepoMock{call: &models.OutreachCall{
		ID:     "c1",
		Status: models.CallStatusPending,
	}}
	svc := newOutreachService(db, calls, &outreachStudentMock{})

	snoozed, err := svc.Snooze(context.Background(), "c1", testNow.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusSnoozed, snoozed.Status)

	calls.call.Status = models.CallStatusSnoozed
	resumed, err := svc.Resume(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, models.CallStatusPending, resumed.Status)
	assert.Equal(t, []models.CallStatus{models.CallStatusSnoozed, models.CallStatusPending}, calls.scheduled)
}
