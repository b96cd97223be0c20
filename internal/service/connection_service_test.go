package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaops/lingua-ops-api/internal/models"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
)

type connectionRepoMock struct {
	existing map[string]bool
	peers    []models.Student
	forward  *models.StudentConnection
	mirror   *models.StudentConnection
}

func (m *connectionRepoMock) Exists(_ context.Context, studentID, connectedStudentID string) (bool, error) {
	return m.existing[studentID+":"+connectedStudentID], nil
}

func (m *connectionRepoMock) CreatePairTx(_ context.Context, _ *sqlx.Tx, forward, mirror *models.StudentConnection) error {
	forward.ID = "conn-f"
	mirror.ID = "conn-m"
	m.forward = forward
	m.mirror = mirror
	return nil
}

func (m *connectionRepoMock) ListByStudent(context.Context, string) ([]models.StudentConnection, error) {
	return nil, nil
}

func (m *connectionRepoMock) CandidatePeers(context.Context, string, string) ([]models.Student, error) {
	return m.peers, nil
}

type studentFinderMock struct {
	students map[string]*models.Student
}

func (m *studentFinderMock) FindByID(_ context.Context, id string) (*models.Student, error) {
	student, ok := m.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *student
	return &clone, nil
}

func matchTarget() *models.Student {
	s := ledgerStudent(10)
	s.Level = "B1"
	s.Batch = "2026-spring"
	s.BatchTiming = "morning"
	s.ReferralSource = "instagram"
	s.AttendanceRate = 80
	return s
}

func peer(id, level, timing, referral string, rate float64, enrolledDaysAgo int) models.Student {
	p := *ledgerStudent(enrolledDaysAgo)
	p.ID = id
	p.Level = level
	p.Batch = "2026-autumn"
	p.BatchTiming = timing
	p.ReferralSource = referral
	p.AttendanceRate = rate
	return p
}

func newConnectionService(db *sqlx.DB, connections *connectionRepoMock, students *studentFinderMock) *ConnectionService {
	return NewConnectionService(ConnectionServiceParams{
		Tx:          db,
		Connections: connections,
		Students:    students,
	})
}

func TestSuggestScoresAndOrdersPeers(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()

	target := matchTarget()
	connections := &connectionRepoMock{peers: []models.Student{
		// same level, close rate, close enrollment, same referral, different
		// timing: 10+5+8+3+4 = 30
		peer("best", "B1", "evening", "instagram", 78, 5),
		// adjacent level, distant rate, old enrollment: 5 only
		peer("weak", "B2", "morning", "friend", 40, 200),
		// two levels away, filtered out entirely
		peer("far", "C2", "evening", "instagram", 80, 5),
	}}
	students := &studentFinderMock{students: map[string]*models.Student{"s1": target}}
	svc := newConnectionService(db, connections, students)

	suggestions, err := svc.Suggest(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, suggestions, 2)

	assert.Equal(t, "best", suggestions[0].Student.ID)
	assert.Equal(t, 30, suggestions[0].Score)
	assert.Equal(t, "weak", suggestions[1].Student.ID)
	assert.Equal(t, 5, suggestions[1].Score)
	assert.NotEmpty(t, suggestions[0].Reason)
}

func TestSuggestTruncatesToLimit(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()

	target := matchTarget()
	var peers []models.Student
	for _, id := range []string{"p1", "p2", "p3"} {
		peers = append(peers, peer(id, "B1", "evening", "instagram", 78, 5))
	}
	connections := &connectionRepoMock{peers: peers}
	students := &studentFinderMock{students: map[string]*models.Student{"s1": target}}
	svc := NewConnectionService(ConnectionServiceParams{
		Tx:              db,
		Connections:     connections,
		Students:        students,
		SuggestionLimit: 2,
	})

	suggestions, err := svc.Suggest(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)
}

func TestCreateWritesMirroredPair(t *testing.T) {
	db, mock, cleanup := newServiceTx(t)
	defer cleanup()

	target := matchTarget()
	other := peer("s2", "B1", "evening", "instagram", 78, 5)
	connections := &connectionRepoMock{}
	students := &studentFinderMock{students: map[string]*models.Student{"s1": target, "s2": &other}}
	svc := newConnectionService(db, connections, students)

	mock.ExpectBegin()
	mock.ExpectCommit()

	created, err := svc.Create(context.Background(), "s1", "s2", "study buddies")
	require.NoError(t, err)

	assert.Equal(t, "s1", created.StudentID)
	assert.Equal(t, "s2", created.ConnectedStudentID)
	require.NotNil(t, connections.mirror)
	assert.Equal(t, "s2", connections.mirror.StudentID)
	assert.Equal(t, "s1", connections.mirror.ConnectedStudentID)
	assert.Equal(t, "study buddies", connections.mirror.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateDuplicateConnectionRejected(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()

	target := matchTarget()
	other := peer("s2", "B1", "evening", "instagram", 78, 5)
	connections := &connectionRepoMock{existing: map[string]bool{"s1:s2": true}}
	students := &studentFinderMock{students: map[string]*models.Student{"s1": target, "s2": &other}}
	svc := newConnectionService(db, connections, students)

	_, err := svc.Create(context.Background(), "s1", "s2", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrDuplicateConnection)
	assert.Nil(t, connections.forward)
}

func TestCreateSelfConnectionRejected(t *testing.T) {
	db, _, cleanup := newServiceTx(t)
	defer cleanup()
	svc := newConnectionService(db, &connectionRepoMock{}, &studentFinderMock{})

	_, err := svc.Create(context.Background(), "s1", "s1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestSuggestionReasonStablePerPair(t *testing.T) {
	a := matchTarget()
	b := peer("s2", "B1", "evening", "instagram", 78, 5)

	first := suggestionReason(a, &b)
	second := suggestionReason(a, &b)
	assert.Equal(t, first, second)

	// pair hash is direction-independent, the level rendered is the caller's
	b.Level = a.Level
	swapped := suggestionReason(&b, a)
	assert.Equal(t, first, swapped)
}
