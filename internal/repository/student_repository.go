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

// StudentRepository handles persistence of the student aggregate.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, full_name, email, phone, level, batch, batch_timing, referral_source,
enrollment_date, active, original_price, discount_applied, final_price, currency,
total_paid, total_paid_eur, balance, eur_equivalent, exchange_rate_used, payment_status,
attendance_rate, total_classes, classes_attended, consecutive_absences, last_absence_date,
churn_risk, relationship_depth, last_outreach_call, created_at, updated_at`

// prefixedStudentColumns qualifies the student column list with a table alias.
func prefixedStudentColumns(alias string) string {
	cols := strings.Split(studentColumns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

// List returns students filtered by the provided criteria.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := "FROM students"
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(full_name ILIKE $%d OR email ILIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.ChurnRisk != "" {
		conditions = append(conditions, fmt.Sprintf("churn_risk = $%d", len(args)+1))
		args = append(args, filter.ChurnRisk)
	}
	if filter.PaymentStatus != "" {
		conditions = append(conditions, fmt.Sprintf("payment_status = $%d", len(args)+1))
		args = append(args, filter.PaymentStatus)
	}
	if filter.Batch != "" {
		conditions = append(conditions, fmt.Sprintf("batch = $%d", len(args)+1))
		args = append(args, filter.Batch)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"full_name":       "full_name",
		"enrollment_date": "enrollment_date",
		"balance":         "balance",
		"attendance_rate": "attendance_rate",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d",
		studentColumns, base+clause, orderBy, order, size, offset)

	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := "SELECT COUNT(*) " + base + clause
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a student by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1", studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByIDTx loads a student inside a transaction with a row lock so
// concurrent ledger recomputes serialise per student.
func (r *StudentRepository) FindByIDTx(ctx context.Context, tx *sqlx.Tx, id string) (*models.Student, error) {
	query := fmt.Sprintf("SELECT %s FROM students WHERE id = $1 FOR UPDATE", studentColumns)
	var student models.Student
	if err := tx.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// CreateTx persists a new student within the enclosing transaction.
func (r *StudentRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	now := time.Now().UTC()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, full_name, email, phone, level, batch, batch_timing, referral_source,
        enrollment_date, active, original_price, discount_applied, final_price, currency,
        total_paid, total_paid_eur, balance, eur_equivalent, exchange_rate_used, payment_status,
        attendance_rate, total_classes, classes_attended, consecutive_absences, last_absence_date,
        churn_risk, relationship_depth, last_outreach_call, created_at, updated_at)
        VALUES (:id, :full_name, :email, :phone, :level, :batch, :batch_timing, :referral_source,
        :enrollment_date, :active, :original_price, :discount_applied, :final_price, :currency,
        :total_paid, :total_paid_eur, :balance, :eur_equivalent, :exchange_rate_used, :payment_status,
        :attendance_rate, :total_classes, :classes_attended, :consecutive_absences, :last_absence_date,
        :churn_risk, :relationship_depth, :last_outreach_call, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateProfile updates identity and pricing-independent profile fields.
func (r *StudentRepository) UpdateProfile(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET full_name = :full_name, email = :email, phone = :phone,
        level = :level, batch = :batch, batch_timing = :batch_timing, referral_source = :referral_source,
        active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student profile: %w", err)
	}
	return nil
}

// UpdateLedgerTx writes the payment-derived fields within a transaction.
func (r *StudentRepository) UpdateLedgerTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET total_paid = :total_paid, total_paid_eur = :total_paid_eur,
        balance = :balance, eur_equivalent = :eur_equivalent, exchange_rate_used = :exchange_rate_used,
        payment_status = :payment_status, updated_at = :updated_at WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student ledger: %w", err)
	}
	return nil
}

// UpdateRiskTx writes the attendance-derived fields within a transaction.
func (r *StudentRepository) UpdateRiskTx(ctx context.Context, tx *sqlx.Tx, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET attendance_rate = :attendance_rate, total_classes = :total_classes,
        classes_attended = :classes_attended, consecutive_absences = :consecutive_absences,
        last_absence_date = :last_absence_date, churn_risk = :churn_risk, updated_at = :updated_at
        WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student risk: %w", err)
	}
	return nil
}

// UpdateOutreachTx bumps relationship depth and last contact timestamp.
func (r *StudentRepository) UpdateOutreachTx(ctx context.Context, tx *sqlx.Tx, id string, relationshipDepth int, lastOutreachCall time.Time) error {
	const query = `UPDATE students SET relationship_depth = $2, last_outreach_call = $3, updated_at = $4 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, relationshipDepth, lastOutreachCall, time.Now().UTC()); err != nil {
		return fmt.Errorf("update student outreach: %w", err)
	}
	return nil
}

// SetActive toggles the active flag.
func (r *StudentRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE students SET active = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active, time.Now().UTC()); err != nil {
		return fmt.Errorf("set student active: %w", err)
	}
	return nil
}

// Delete removes a student row. The service layer refuses deletion while
// payments exist; the FK constraints back that up.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM students WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	return nil
}

// CountByChurnRisk aggregates active students per churn-risk bucket.
func (r *StudentRepository) CountByChurnRisk(ctx context.Context) ([]models.RiskCount, error) {
	const query = `SELECT churn_risk, COUNT(*) AS count FROM students WHERE active = TRUE GROUP BY churn_risk`
	var rows []models.RiskCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count by churn risk: %w", err)
	}
	return rows, nil
}

// CountByPaymentStatus aggregates active students per ledger status.
func (r *StudentRepository) CountByPaymentStatus(ctx context.Context) ([]models.PaymentStatusCount, error) {
	const query = `SELECT payment_status, COUNT(*) AS count FROM students WHERE active = TRUE GROUP BY payment_status`
	var rows []models.PaymentStatusCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count by payment status: %w", err)
	}
	return rows, nil
}

// OutstandingByCurrency sums positive balances per currency for active students.
func (r *StudentRepository) OutstandingByCurrency(ctx context.Context) ([]models.CurrencyBalance, error) {
	const query = `SELECT currency, COALESCE(SUM(balance), 0) AS total FROM students
        WHERE active = TRUE AND balance > 0 GROUP BY currency`
	var rows []models.CurrencyBalance
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("outstanding by currency: %w", err)
	}
	return rows, nil
}

// AtRisk returns the highest-risk active students for the dashboard.
func (r *StudentRepository) AtRisk(ctx context.Context, limit int) ([]models.Student, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`SELECT %s FROM students WHERE active = TRUE AND churn_risk = $1
        ORDER BY consecutive_absences DESC, attendance_rate ASC LIMIT %d`, studentColumns, limit)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, models.ChurnRiskHigh); err != nil {
		return nil, fmt.Errorf("list at-risk students: %w", err)
	}
	return students, nil
}

// AverageAttendanceRate returns the mean attendance rate across active students.
func (r *StudentRepository) AverageAttendanceRate(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(AVG(attendance_rate), 0) FROM students WHERE active = TRUE`
	var avg float64
	if err := r.db.GetContext(ctx, &avg, query); err != nil {
		return 0, fmt.Errorf("average attendance rate: %w", err)
	}
	return avg, nil
}
