package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/linguaops/lingua-ops-api/internal/models"
	"github.com/linguaops/lingua-ops-api/internal/risk"
	appErrors "github.com/linguaops/lingua-ops-api/pkg/errors"
)

type attendanceRepository interface {
	UpsertTx(ctx context.Context, tx *sqlx.Tx, record *models.Attendance) (*models.Attendance, error)
	DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) error
	FindByID(ctx context.Context, id string) (*models.Attendance, error)
	ListByStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.Attendance, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error)
}

type studentRiskRepository interface {
	FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error)
	UpdateRiskTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error
}

// MarkAttendanceRequest records one (student, date) observation.
type MarkAttendanceRequest struct {
	StudentID string    `json:"student_id" validate:"required"`
	Date      time.Time `json:"date" validate:"required"`
	Status    string    `json:"status" validate:"required,attendance_status"`
	Notes     *string   `json:"notes"`
}

// BulkMarkAttendanceRequest records a batch, typically one class session.
type BulkMarkAttendanceRequest struct {
	Records []MarkAttendanceRequest `json:"records" validate:"required,min=1,dive"`
}

// AttendanceResult reports the stored record and the refreshed student risk.
type AttendanceResult struct {
	Record  *models.Attendance `json:"record,omitempty"`
	Student *models.Student    `json:"student"`
}

// AttendanceService records attendance and recomputes churn risk in the same
// transaction, so risk state never lags the attendance history.
type AttendanceService struct {
	tx         txProvider
	attendance attendanceRepository
	students   studentRiskRepository
	cache      *CacheService
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// AttendanceServiceParams groups constructor dependencies.
type AttendanceServiceParams struct {
	Tx         txProvider
	Attendance attendanceRepository
	Students   studentRiskRepository
	Cache      *CacheService
	Validator  *validator.Validate
	Logger     *zap.Logger
	Now        func() time.Time
}

// NewAttendanceService constructs AttendanceService.
func NewAttendanceService(params AttendanceServiceParams) *AttendanceService {
	if params.Validator == nil {
		params.Validator = validator.New()
	}
	if params.Logger == nil {
		params.Logger = zap.NewNop()
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	svc := &AttendanceService{
		tx:         params.Tx,
		attendance: params.Attendance,
		students:   params.Students,
		cache:      params.Cache,
		validator:  params.Validator,
		logger:     params.Logger,
		now:        params.Now,
	}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// Mark upserts one attendance record and refreshes the student's risk state.
func (s *AttendanceService) Mark(ctx context.Context, req MarkAttendanceRequest) (*AttendanceResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
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

	student, err := s.students.FindByIDTx(ctx, tx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			err = appErrors.Clone(appErrors.ErrNotFound, "student not found")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		return nil, err
	}

	record := &models.Attendance{
		StudentID: req.StudentID,
		Date:      req.Date,
		Status:    models.AttendanceStatus(strings.ToUpper(req.Status)),
		Notes:     req.Notes,
	}
	stored, err := s.attendance.UpsertTx(ctx, tx, record)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance")
		return nil, err
	}

	if err = s.refreshRiskTx(ctx, tx, student); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit attendance")
		return nil, err
	}
	s.invalidate(ctx)

	return &AttendanceResult{Record: stored, Student: student}, nil
}

// BulkMark stores a batch of records in one transaction. Risk is recomputed
// once per distinct student, after all of that student's records are stored.
func (s *AttendanceService) BulkMark(ctx context.Context, req BulkMarkAttendanceRequest) ([]models.Attendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance batch")
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

	students := make(map[string]*models.Student)
	var order []string
	stored := make([]models.Attendance, 0, len(req.Records))

	for _, item := range req.Records {
		if _, seen := students[item.StudentID]; !seen {
			var student *models.Student
			student, err = s.students.FindByIDTx(ctx, tx, item.StudentID)
			if err != nil {
				if err == sql.ErrNoRows {
					err = appErrors.Clone(appErrors.ErrNotFound, "student not found: "+item.StudentID)
					return nil, err
				}
				err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
				return nil, err
			}
			students[item.StudentID] = student
			order = append(order, item.StudentID)
		}

		record := &models.Attendance{
			StudentID: item.StudentID,
			Date:      item.Date,
			Status:    models.AttendanceStatus(strings.ToUpper(item.Status)),
			Notes:     item.Notes,
		}
		var saved *models.Attendance
		saved, err = s.attendance.UpsertTx(ctx, tx, record)
		if err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance")
			return nil, err
		}
		stored = append(stored, *saved)
	}

	for _, studentID := range order {
		if err = s.refreshRiskTx(ctx, tx, students[studentID]); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit attendance batch")
		return nil, err
	}
	s.invalidate(ctx)

	return stored, nil
}

// Delete removes an attendance record and refreshes the student's risk state.
func (s *AttendanceService) Delete(ctx context.Context, id string) (*AttendanceResult, error) {
	record, err := s.attendance.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance")
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

	student, err := s.students.FindByIDTx(ctx, tx, record.StudentID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
		return nil, err
	}

	if err = s.attendance.DeleteTx(ctx, tx, id); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete attendance")
		return nil, err
	}

	if err = s.refreshRiskTx(ctx, tx, student); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit attendance deletion")
		return nil, err
	}
	s.invalidate(ctx)

	return &AttendanceResult{Student: student}, nil
}

// History lists attendance records for reporting.
func (s *AttendanceService) History(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	records, total, err := s.attendance.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, total, nil
}

// refreshRiskTx re-derives the attendance snapshot and churn risk from the
// full history and writes it to the student row, inside the caller's tx.
func (s *AttendanceService) refreshRiskTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	history, err := s.attendance.ListByStudentTx(ctx, tx, student.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}

	records := make([]risk.Record, len(history))
	for i, rec := range history {
		records[i] = risk.Record{Date: rec.Date, Status: rec.Status}
	}
	snap := risk.Evaluate(records, student.PaymentStatus)

	previous := student.ChurnRisk
	student.AttendanceRate = snap.AttendanceRate
	student.TotalClasses = snap.TotalClasses
	student.ClassesAttended = snap.ClassesAttended
	student.ConsecutiveAbsences = snap.ConsecutiveAbsences
	student.LastAbsenceDate = snap.LastAbsenceDate
	student.ChurnRisk = snap.ChurnRisk

	if err := s.students.UpdateRiskTx(ctx, tx, student); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write risk state")
	}

	if previous != snap.ChurnRisk {
		s.logger.Info("churn risk changed",
			zap.String("student_id", student.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(snap.ChurnRisk)),
		)
	}
	return nil
}

func (s *AttendanceService) invalidate(ctx context.Context) {
	if s.cache.Enabled() {
		_ = s.cache.Invalidate(ctx, "retention:*")
	}
}
