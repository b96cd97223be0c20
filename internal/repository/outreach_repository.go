package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/linguaops/lingua-ops-api/internal/models"
)

// OutreachRepository handles persistence of retention calls.
type OutreachRepository struct {
	db *sqlx.DB
}

// NewOutreachRepository constructs the repository.
func NewOutreachRepository(db *sqlx.DB) *OutreachRepository {
	return &OutreachRepository{db: db}
}

const callColumns = `id, student_id, scheduled_date, priority, status, call_type, reason,
sentiment, duration_minutes, notes, completed_at, next_call_date, created_at, updated_at`

// FindByID returns a call by ID.
func (r *OutreachRepository) FindByID(ctx context.Context, id string) (*models.OutreachCall, error) {
	query := fmt.Sprintf("SELECT %s FROM outreach_calls WHERE id = $1", callColumns)
	var call models.OutreachCall
	if err := r.db.GetContext(ctx, &call, query, id); err != nil {
		return nil, err
	}
	return &call, nil
}

// Create inserts a pending call.
func (r *OutreachRepository) Create(ctx context.Context, call *models.OutreachCall) error {
	now := time.Now().UTC()
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now
	}
	call.UpdatedAt = now
	const query = `INSERT INTO outreach_calls (id, student_id, scheduled_date, priority, status, call_type, reason,
        sentiment, duration_minutes, notes, completed_at, next_call_date, created_at, updated_at)
        VALUES (:id, :student_id, :scheduled_date, :priority, :status, :call_type, :reason,
        :sentiment, :duration_minutes, :notes, :completed_at, :next_call_date, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, call); err != nil {
		return fmt.Errorf("create outreach call: %w", err)
	}
	return nil
}

// CreateTx inserts a call within the enclosing transaction (follow-ups share
// the completion transaction).
func (r *OutreachRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, call *models.OutreachCall) error {
	now := time.Now().UTC()
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = now
	}
	call.UpdatedAt = now
	const query = `INSERT INTO outreach_calls (id, student_id, scheduled_date, priority, status, call_type, reason,
        sentiment, duration_minutes, notes, completed_at, next_call_date, created_at, updated_at)
        VALUES (:id, :student_id, :scheduled_date, :priority, :status, :call_type, :reason,
        :sentiment, :duration_minutes, :notes, :completed_at, :next_call_date, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, call); err != nil {
		return fmt.Errorf("create outreach call: %w", err)
	}
	return nil
}

// CompleteTx stamps completion metadata within the enclosing transaction.
// COMPLETED is terminal: the guard makes the store refuse a second completion,
// reported as sql.ErrNoRows.
func (r *OutreachRepository) CompleteTx(ctx context.Context, tx *sqlx.Tx, call *models.OutreachCall) error {
	call.UpdatedAt = time.Now().UTC()
	const query = `UPDATE outreach_calls SET status = :status, sentiment = :sentiment,
        duration_minutes = :duration_minutes, notes = :notes, completed_at = :completed_at,
        next_call_date = :next_call_date, updated_at = :updated_at
        WHERE id = :id AND status <> 'COMPLETED'`
	res, err := tx.NamedExecContext(ctx, query, call)
	if err != nil {
		return fmt.Errorf("complete outreach call: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateSchedule moves a call between PENDING and SNOOZED.
func (r *OutreachRepository) UpdateSchedule(ctx context.Context, id string, status models.CallStatus, scheduledDate time.Time) error {
	const query = `UPDATE outreach_calls SET status = $2, scheduled_date = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, scheduledDate, time.Now().UTC()); err != nil {
		return fmt.Errorf("update outreach schedule: %w", err)
	}
	return nil
}

// List returns calls filtered by the provided criteria.
func (r *OutreachRepository) List(ctx context.Context, filter models.CallFilter) ([]models.OutreachCall, int, error) {
	base := "FROM outreach_calls"
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, *filter.Priority)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY scheduled_date DESC LIMIT %d OFFSET %d",
		callColumns, base+clause, size, offset)

	var calls []models.OutreachCall
	if err := r.db.SelectContext(ctx, &calls, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list outreach calls: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count outreach calls: %w", err)
	}
	return calls, total, nil
}

// Candidates selects active students needing outreach: high churn risk,
// absence streaks, money owed, low attendance, or no contact since the
// stale-contact cutoff.
func (r *OutreachRepository) Candidates(ctx context.Context, staleBefore time.Time) ([]models.CallCandidate, error) {
	const query = `SELECT id, full_name, churn_risk, consecutive_absences, attendance_rate, payment_status, last_outreach_call
        FROM students
        WHERE active = TRUE AND (
            churn_risk = $1
            OR consecutive_absences >= 2
            OR payment_status IN ($2, $3, $4)
            OR attendance_rate < 70
            OR last_outreach_call IS NULL
            OR last_outreach_call < $5
        )`
	var candidates []models.CallCandidate
	err := r.db.SelectContext(ctx, &candidates, query,
		models.ChurnRiskHigh,
		models.PaymentStatusPending, models.PaymentStatusOverdue, models.PaymentStatusPartial,
		staleBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("select outreach candidates: %w", err)
	}
	return candidates, nil
}

// HasOpenCall reports whether a student already has a PENDING or SNOOZED
// call, so the sweep does not stack duplicates.
func (r *OutreachRepository) HasOpenCall(ctx context.Context, studentID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM outreach_calls WHERE student_id = $1 AND status IN ($2, $3))`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, models.CallStatusPending, models.CallStatusSnoozed); err != nil {
		return false, fmt.Errorf("check open call: %w", err)
	}
	return exists, nil
}
