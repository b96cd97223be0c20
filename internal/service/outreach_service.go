package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/linguaops/lingua-ops-api/internal/models"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
)

type outreachRepository interface {
	FindByID(ctx context.Context, id string) (*models.OutreachCall, error)
	Create(ctx context.Context, call *models.OutreachCall) error
	CreateTx(ctx context.Context, tx *sqlx.Tx, call *models.OutreachCall) error
	CompleteTx(ctx context.Context, tx *sqlx.Tx, call *models.OutreachCall) error
	UpdateSchedule(ctx context.Context, id string, status models.CallStatus, scheduledDate time.Time) error
	List(ctx context.Context, filter models.CallFilter) ([]models.OutreachCall, int, error)
	Candidates(ctx context.Context, staleBefore time.Time) ([]models.CallCandidate, error)
	HasOpenCall(ctx context.Context, studentID string) (bool, error)
}

type studentOutreachRepository interface {
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error)
	UpdateOutreachTx(ctx context.Context, tx *sqlx.Tx, id string, relationshipDepth int, lastOutreachCall time.Time) error
}

// CompleteCallRequest closes out a retention call.
type CompleteCallRequest struct {
	DurationMinutes *int       `json:"duration_minutes"`
	Notes           *string    `json:"notes"`
	Sentiment       string     `json:"sentiment" validate:"required,call_sentiment"`
	NextCallDate    *time.Time `json:"next_call_date"`
	ScheduleNext    bool       `json:"schedule_next"`
	Actor           string     `json:"-"`
}

// CompleteCallResult reports the closed call, any follow-up created with it,
// and the events the caller should hand to the notification layer.
type CompleteCallResult struct {
	Call     *models.OutreachCall   `json:"call"`
	FollowUp *models.OutreachCall   `json:"follow_up,omitempty"`
	Events   []models.OutreachEvent `json:"events,omitempty"`
	Audit    models.AuditRecord     `json:"audit"`
}

// SweepResult reports a call-generation sweep.
type SweepResult struct {
	Created int                    `json:"created"`
	Skipped int                    `json:"skipped"`
	Events  []models.OutreachEvent `json:"events,omitempty"`
}

// OutreachService generates, prioritises and completes retention calls.
type OutreachService struct {
	tx               txProvider
	calls            outreachRepository
	students         studentOutreachRepository
	cache            *CacheService
	metrics          *MetricsService
	validator        *validator.Validate
	logger           *zap.Logger
	staleContactDays int
	callListTTL      time.Duration
	now              func() time.Time
}

// OutreachServiceParams groups constructor dependencies.
type OutreachServiceParams struct {
	Tx               txProvider
	Calls            outreachRepository
	Students         studentOutreachRepository
	Cache            *CacheService
	Metrics          *MetricsService
	Validator        *validator.Validate
	Logger           *zap.Logger
	StaleContactDays int
	CallListTTL      time.Duration
	Now              func() time.Time
}

// NewOutreachService constructs OutreachService.
func NewOutreachService(params OutreachServiceParams) *OutreachService {
	if params.Validator == nil {
		params.Validator = validator.New()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.StaleContactDays <= 0 {
		params.StaleContactDays = 30
	}
	if params.CallListTTL <= 0 {
		params.CallListTTL = 5 * time.Minute
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	svc := &OutreachService{
		tx:               params.Tx,
		calls:            params.Calls,
		students:         params.Students,
		cache:            params.Cache,
		metrics:          params.Metrics,
		validator:        params.Validator,
		logger:           params.Logger,
		staleContactDays: params.StaleContactDays,
		callListTTL:      params.CallListTTL,
		now:              params.Now,
	}
	svc.validator.RegisterValidation("call_sentiment", func(fl validator.FieldLevel) bool {
		return models.Sentiment(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// CallList builds today's prioritised list of students to call.
func (s *OutreachService) CallList(ctx context.Context) ([]models.CallCandidate, error) {
	cacheKey := "retention:calllist:" + s.now().Format("2006-01-02")
	var cached []models.CallCandidate
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return cached, nil
	}

	staleBefore := s.now().AddDate(0, 0, -s.staleContactDays)
	candidates, err := s.calls.Candidates(ctx, staleBefore)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select call candidates")
	}

	for i := range candidates {
		classifyCandidate(&candidates[i], staleBefore)
	}
	sortCallList(candidates)

	if s.cache.Enabled() {
		_ = s.cache.Set(ctx, cacheKey, candidates, s.callListTTL)
	}
	return candidates, nil
}

// GenerateCalls materialises pending calls for every candidate that does not
// already have an open one. The background sweep runs this daily.
func (s *OutreachService) GenerateCalls(ctx context.Context) (*SweepResult, error) {
	staleBefore := s.now().AddDate(0, 0, -s.staleContactDays)
	candidates, err := s.calls.Candidates(ctx, staleBefore)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to select call candidates")
	}

	result := &SweepResult{}
	for i := range candidates {
		candidate := &candidates[i]
		open, err := s.calls.HasOpenCall(ctx, candidate.StudentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check open calls")
		}
		if open {
			result.Skipped++
			continue
		}

		classifyCandidate(candidate, staleBefore)
		call := &models.OutreachCall{
			StudentID:     candidate.StudentID,
			ScheduledDate: s.now(),
			Priority:      candidate.Priority,
			Status:        models.CallStatusPending,
			CallType:      candidate.CallType,
			Reason:        strings.Join(candidate.Reasons, "; "),
		}
		if err := s.calls.Create(ctx, call); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create outreach call")
		}
		result.Created++
	}

	if result.Created > 0 {
		result.Events = append(result.Events, models.OutreachEvent{
			Type:       models.EventCallListGenerated,
			Payload:    map[string]any{"created": result.Created, "skipped": result.Skipped},
			OccurredAt: s.now(),
		})
		if s.cache.Enabled() {
			_ = s.cache.Invalidate(ctx, "retention:calllist:*")
		}
	}
	s.logger.Info("outreach sweep finished",
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// Snooze defers a pending call to a later date.
func (s *OutreachService) Snooze(ctx context.Context, callID string, until time.Time) (*models.OutreachCall, error) {
	call, err := s.loadOpenCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.calls.UpdateSchedule(ctx, callID, models.CallStatusSnoozed, until); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to snooze call")
	}
	call.Status = models.CallStatusSnoozed
	call.ScheduledDate = until
	return call, nil
}

// Resume moves a snoozed call back to pending, scheduled now.
func (s *OutreachService) Resume(ctx context.Context, callID string) (*models.OutreachCall, error) {
	call, err := s.loadOpenCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	scheduled := s.now()
	if err := s.calls.UpdateSchedule(ctx, callID, models.CallStatusPending, scheduled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resume call")
	}
	call.Status = models.CallStatusPending
	call.ScheduledDate = scheduled
	return call, nil
}

// CompleteCall closes a call, deepens the relationship counter and optionally
// schedules a sentiment-driven follow-up, all in one transaction.
func (s *OutreachService) CompleteCall(ctx context.Context, callID string, req CompleteCallRequest) (*CompleteCallResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload")
	}

	call, err := s.calls.FindByID(ctx, callID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "outreach call not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load call")
	}
	if call.Status == models.CallStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrCallAlreadyCompleted, "")
	}

	sentiment := models.Sentiment(strings.ToUpper(req.Sentiment))
	completedAt := s.now()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	student, err := s.students.FindByIDTx(ctx, tx, call.StudentID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		return nil, err
	}

	call.Status = models.CallStatusCompleted
	call.Sentiment = &sentiment
	call.DurationMinutes = req.DurationMinutes
	call.Notes = req.Notes
	call.CompletedAt = &completedAt
	call.NextCallDate = req.NextCallDate
	if err = s.calls.CompleteTx(ctx, tx, call); err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrCallAlreadyCompleted, "")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete call")
		return nil, err
	}

	depth := student.RelationshipDepth + 1
	if err = s.students.UpdateOutreachTx(ctx, tx, student.ID, depth, completedAt); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update relationship depth")
		return nil, err
	}
	student.RelationshipDepth = depth
	student.LastOutreachCall = &completedAt

	result := &CompleteCallResult{Call: call}
	if req.ScheduleNext && req.NextCallDate != nil {
		followUp := &models.OutreachCall{
			StudentID:     student.ID,
			ScheduledDate: *req.NextCallDate,
			Priority:      followUpPriority(sentiment),
			Status:        models.CallStatusPending,
			CallType:      followUpType(depth),
			Reason:        fmt.Sprintf("follow-up after %s call", strings.ToLower(string(sentiment))),
		}
		if err = s.calls.CreateTx(ctx, tx, followUp); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule follow-up")
			return nil, err
		}
		result.FollowUp = followUp
		result.Events = append(result.Events, models.OutreachEvent{
			Type:       models.EventFollowUpScheduled,
			StudentID:  student.ID,
			CallID:     followUp.ID,
			Payload:    map[string]any{"scheduled_date": followUp.ScheduledDate, "priority": followUp.Priority},
			OccurredAt: completedAt,
		})
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit call completion")
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordCallCompleted(string(sentiment))
		if result.FollowUp != nil {
			s.metrics.RecordFollowUpScheduled()
		}
	}
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "retention:*")
	}

	actor := req.Actor
	if actor == "" {
		actor = "system"
	}
	result.Audit = models.AuditRecord{
		Actor:       actor,
		Action:      "call.completed",
		EntityType:  "outreach_call",
		EntityID:    call.ID,
		StudentID:   student.ID,
		AfterStatus: string(models.CallStatusCompleted),
		At:          completedAt,
	}
	return result, nil
}

// List returns calls matching the filter.
func (s *OutreachService) List(ctx context.Context, filter models.CallFilter) ([]models.OutreachCall, int, error) {
	calls, total, err := s.calls.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list calls")
	}
	return calls, total, nil
}

func (s *OutreachService) loadOpenCall(ctx context.Context, callID string) (*models.OutreachCall, error) {
	call, err := s.calls.FindByID(ctx, callID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "outreach call not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load call")
	}
	if call.Status == models.CallStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrCallAlreadyCompleted, "completed calls cannot be rescheduled")
	}
	return call, nil
}

// classifyCandidate derives priority, call type and human-readable reasons
// from the candidate's scoring inputs.
func classifyCandidate(c *models.CallCandidate, staleBefore time.Time) {
	urgent := c.ChurnRisk == models.ChurnRiskHigh || c.ConsecutiveAbsences >= 3

	switch {
	case urgent:
		c.Priority = models.CallPriorityHigh
	case c.ConsecutiveAbsences >= 2 || c.PaymentStatus == models.PaymentStatusOverdue || c.AttendanceRate < 50:
		c.Priority = models.CallPriorityMedium
	default:
		c.Priority = models.CallPriorityLow
	}

	switch {
	case urgent:
		c.CallType = models.CallTypeUrgent
	case c.PaymentStatus == models.PaymentStatusOverdue:
		c.CallType = models.CallTypePayment
	case c.ConsecutiveAbsences >= 2:
		c.CallType = models.CallTypeAttendance
	default:
		c.CallType = models.CallTypeCheckIn
	}

	c.Reasons = c.Reasons[:0]
	if c.ChurnRisk == models.ChurnRiskHigh {
		c.Reasons = append(c.Reasons, "high churn risk")
	}
	if c.ConsecutiveAbsences >= 2 {
		c.Reasons = append(c.Reasons, fmt.Sprintf("%d consecutive absences", c.ConsecutiveAbsences))
	}
	if c.PaymentStatus == models.PaymentStatusOverdue || c.PaymentStatus == models.PaymentStatusPending || c.PaymentStatus == models.PaymentStatusPartial {
		c.Reasons = append(c.Reasons, "payment "+strings.ToLower(string(c.PaymentStatus)))
	}
	if c.AttendanceRate < 70 {
		c.Reasons = append(c.Reasons, fmt.Sprintf("attendance %.1f%%", c.AttendanceRate))
	}
	if c.LastOutreachCall == nil {
		c.Reasons = append(c.Reasons, "never contacted")
	} else if c.LastOutreachCall.Before(staleBefore) {
		c.Reasons = append(c.Reasons, "no recent contact")
	}
}

// sortCallList orders a day's list: riskiest first, then longest absence
// streak, then lowest attendance.
func sortCallList(candidates []models.CallCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ChurnRisk.Rank() != b.ChurnRisk.Rank() {
			return a.ChurnRisk.Rank() > b.ChurnRisk.Rank()
		}
		if a.ConsecutiveAbsences != b.ConsecutiveAbsences {
			return a.ConsecutiveAbsences > b.ConsecutiveAbsences
		}
		return a.AttendanceRate < b.AttendanceRate
	})
}

func followUpPriority(sentiment models.Sentiment) models.CallPriority {
	switch {
	case sentiment.Negative():
		return models.CallPriorityHigh
	case sentiment.Positive():
		return models.CallPriorityLow
	default:
		return models.CallPriorityMedium
	}
}

func followUpType(relationshipDepth int) models.CallType {
	switch {
	case relationshipDepth <= 2:
		return models.CallTypeOnboarding
	case relationshipDepth%5 == 0:
		return models.CallTypeMilestone
	default:
		return models.CallTypeCheckIn
	}
}
