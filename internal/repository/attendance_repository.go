package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/linguaops/lingua-ops-api/internal/models"
)

// AttendanceRepository handles persistence of attendance records. Mutations
// are tx-scoped so the risk recompute they trigger shares the transaction.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `id, student_id, date, status, notes, created_at, updated_at`

// UpsertTx inserts or updates the (student, date) record within the
// enclosing transaction.
func (r *AttendanceRepository) UpsertTx(ctx context.Context, tx *sqlx.Tx, record *models.Attendance) (*models.Attendance, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO attendance (id, student_id, date, status, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (student_id, date)
DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at
RETURNING id, student_id, date, status, notes, created_at, updated_at`
	var stored models.Attendance
	if err := tx.GetContext(ctx, &stored, query, record.ID, record.StudentID, record.Date, record.Status, record.Notes, record.CreatedAt, record.UpdatedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance: %w", err)
	}
	return &stored, nil
}

// DeleteTx removes an attendance record within the enclosing transaction.
func (r *AttendanceRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	const query = `DELETE FROM attendance WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete attendance: %w", err)
	}
	return nil
}

// FindByID returns an attendance record by ID.
func (r *AttendanceRepository) FindByID(ctx context.Context, id string) (*models.Attendance, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance WHERE id = $1", attendanceColumns)
	var record models.Attendance
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByStudentTx returns all of a student's records ordered by date
// descending, read inside the recompute transaction.
func (r *AttendanceRepository) ListByStudentTx(ctx context.Context, tx *sqlx.Tx, studentID string) ([]models.Attendance, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance WHERE student_id = $1 ORDER BY date DESC", attendanceColumns)
	var records []models.Attendance
	if err := tx.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list attendance in tx: %w", err)
	}
	return records, nil
}

// List returns attendance records filtered by the provided criteria.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	base := "FROM attendance"
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
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY date DESC LIMIT %d OFFSET %d",
		attendanceColumns, base+clause, size, offset)

	var records []models.Attendance
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return records, total, nil
}
