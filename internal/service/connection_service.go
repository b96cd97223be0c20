package service

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/linguaops/lingua-ops-api/internal/models"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
)

type connectionRepository interface {
	Exists(ctx context.Context, studentID, connectedStudentID string) (bool, error)
	CreatePairTx(ctx context.Context, tx *sqlx.Tx, forward, mirror *models.StudentConnection) error
	ListByStudent(ctx context.Context, studentID string) ([]models.StudentConnection, error)
	CandidatePeers(ctx context.Context, studentID, batch string) ([]models.Student, error)
}

type studentFinder interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

// cefrLevels orders CEFR levels so "within one level" is a distance check.
var cefrLevels = map[string]int{
	"A1": 0, "A2": 1, "B1": 2, "B2": 3, "C1": 4, "C2": 5,
}

// suggestionTemplates phrase an introduction. The template is picked by a
// stable hash of the student pair, so the same pair always reads the same.
var suggestionTemplates = []string{
	"Both at %s level with similar class engagement",
	"Study partners: matching %s level and schedules that complement",
	"%s-level peers who joined around the same time",
}

// ConnectionService scores and creates peer introductions between students.
type ConnectionService struct {
	tx              txProvider
	connections     connectionRepository
	students        studentFinder
	metrics         *MetricsService
	logger          *zap.Logger
	suggestionLimit int
}

// ConnectionServiceParams groups constructor dependencies.
type ConnectionServiceParams struct {
	Tx              txProvider
	Connections     connectionRepository
	Students        studentFinder
	Metrics         *MetricsService
	Logger          *zap.Logger
	SuggestionLimit int
}

// NewConnectionService constructs ConnectionService.
func NewConnectionService(params ConnectionServiceParams) *ConnectionService {
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.SuggestionLimit <= 0 {
		params.SuggestionLimit = 5
	}
	return &ConnectionService{
		tx:              params.Tx,
		connections:     params.Connections,
		students:        params.Students,
		metrics:         params.Metrics,
		logger:          params.Logger,
		suggestionLimit: params.SuggestionLimit,
	}
}

// Suggest returns the top candidate peers for a student, best match first.
func (s *ConnectionService) Suggest(ctx context.Context, studentID string) ([]models.ConnectionSuggestion, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	peers, err := s.connections.CandidatePeers(ctx, student.ID, student.Batch)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load candidate peers")
	}

	suggestions := make([]models.ConnectionSuggestion, 0, len(peers))
	for _, peer := range peers {
		if !levelsWithinOne(student.Level, peer.Level) {
			continue
		}
		suggestions = append(suggestions, models.ConnectionSuggestion{
			Student: peer,
			Score:   matchScore(student, &peer),
			Reason:  suggestionReason(student, &peer),
		})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if len(suggestions) > s.suggestionLimit {
		suggestions = suggestions[:s.suggestionLimit]
	}
	return suggestions, nil
}

// Create introduces two students by writing both edge directions atomically.
func (s *ConnectionService) Create(ctx context.Context, studentID, connectedStudentID, reason string) (*models.StudentConnection, error) {
	if studentID == connectedStudentID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "cannot connect a student to themselves")
	}
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	peer, err := s.students.FindByID(ctx, connectedStudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "connected student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load connected student")
	}

	exists, err := s.connections.Exists(ctx, studentID, connectedStudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing connection")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrDuplicateConnection, "")
	}

	if reason == "" {
		reason = suggestionReason(student, peer)
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	forward := &models.StudentConnection{
		StudentID:          studentID,
		ConnectedStudentID: connectedStudentID,
		Reason:             reason,
	}
	mirror := &models.StudentConnection{
		StudentID:          connectedStudentID,
		ConnectedStudentID: studentID,
		Reason:             reason,
	}
	if err = s.connections.CreatePairTx(ctx, tx, forward, mirror); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create connection pair")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit connection")
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordConnectionCreated()
	}
	s.logger.Info("students introduced",
		zap.String("student_id", studentID),
		zap.String("connected_student_id", connectedStudentID),
	)
	return forward, nil
}

// ListByStudent returns a student's connections.
func (s *ConnectionService) ListByStudent(ctx context.Context, studentID string) ([]models.StudentConnection, error) {
	connections, err := s.connections.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list connections")
	}
	return connections, nil
}

func levelsWithinOne(a, b string) bool {
	la, okA := cefrLevels[a]
	lb, okB := cefrLevels[b]
	if !okA || !okB {
		return false
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return diff <= 1
}

// matchScore rates how well two students fit as study peers.
func matchScore(a, b *models.Student) int {
	score := 0
	if a.Level == b.Level {
		score += 10
	} else {
		score += 5
	}
	rateDiff := a.AttendanceRate - b.AttendanceRate
	if rateDiff < 0 {
		rateDiff = -rateDiff
	}
	if rateDiff < 10 {
		score += 5
	}
	enrollDiff := a.EnrollmentDate.Sub(b.EnrollmentDate)
	if enrollDiff < 0 {
		enrollDiff = -enrollDiff
	}
	if enrollDiff < 30*24*time.Hour {
		score += 8
	}
	if a.ReferralSource != "" && a.ReferralSource == b.ReferralSource {
		score += 3
	}
	if a.BatchTiming != b.BatchTiming {
		score += 4
	}
	return score
}

// suggestionReason renders the introduction text for a pair deterministically.
func suggestionReason(a, b *models.Student) string {
	h := fnv.New32a()
	if a.ID < b.ID {
		h.Write([]byte(a.ID + ":" + b.ID))
	} else {
		h.Write([]byte(b.ID + ":" + a.ID))
	}
	template := suggestionTemplates[int(h.Sum32())%len(suggestionTemplates)]
	return fmt.Sprintf(template, a.Level)
}
